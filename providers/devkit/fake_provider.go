package devkit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-outreach/core"
)

// FakeMailboxProvider is an in-memory MailboxProvider for tests.
type FakeMailboxProvider struct {
	ProviderID string
	TTL        time.Duration
	Now        func() time.Time
	// RenewErr, when set, is returned from Renew.
	RenewErr error

	mu        sync.Mutex
	seq       int
	active    map[string]core.MailboxSubscribeRequest
	Renewals  int
	Cancelled []string
}

func NewFakeMailboxProvider(id string) *FakeMailboxProvider {
	return &FakeMailboxProvider{
		ProviderID: id,
		TTL:        time.Hour,
		active:     map[string]core.MailboxSubscribeRequest{},
	}
}

func (f *FakeMailboxProvider) ID() string { return f.ProviderID }

func (f *FakeMailboxProvider) Subscribe(_ context.Context, req core.MailboxSubscribeRequest) (core.MailboxSubscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		f.active = map[string]core.MailboxSubscribeRequest{}
	}
	f.seq++
	id := fmt.Sprintf("%s-sub-%d", f.ProviderID, f.seq)
	f.active[id] = req
	return core.MailboxSubscriptionResult{RemoteSubscriptionID: id, ExpiresAt: f.expiry()}, nil
}

func (f *FakeMailboxProvider) Renew(_ context.Context, subscription core.MailboxSubscription) (core.MailboxSubscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RenewErr != nil {
		return core.MailboxSubscriptionResult{}, f.RenewErr
	}
	if _, ok := f.active[subscription.RemoteSubscriptionID]; !ok {
		return core.MailboxSubscriptionResult{}, fmt.Errorf("devkit: unknown subscription %q", subscription.RemoteSubscriptionID)
	}
	f.Renewals++
	return core.MailboxSubscriptionResult{RemoteSubscriptionID: subscription.RemoteSubscriptionID, ExpiresAt: f.expiry()}, nil
}

func (f *FakeMailboxProvider) Cancel(_ context.Context, subscription core.MailboxSubscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, subscription.RemoteSubscriptionID)
	f.Cancelled = append(f.Cancelled, subscription.RemoteSubscriptionID)
	return nil
}

// Active reports how many subscriptions have not been cancelled.
func (f *FakeMailboxProvider) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.active)
}

func (f *FakeMailboxProvider) expiry() time.Time {
	now := time.Now().UTC()
	if f.Now != nil {
		now = f.Now()
	}
	return now.Add(f.TTL)
}

var _ core.MailboxProvider = (*FakeMailboxProvider)(nil)
