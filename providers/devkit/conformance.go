package devkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-outreach/core"
)

// ValidateMailboxProviderConformance drives one subscribe, renew and cancel
// cycle against provider and checks the results core relies on.
func ValidateMailboxProviderConformance(
	ctx context.Context,
	provider core.MailboxProvider,
	request core.MailboxSubscribeRequest,
	now time.Time,
) error {
	if provider == nil {
		return fmt.Errorf("devkit: mailbox provider is required")
	}
	if strings.TrimSpace(provider.ID()) == "" {
		return fmt.Errorf("devkit: mailbox provider id is required")
	}

	subscribed, err := provider.Subscribe(ctx, request)
	if err != nil {
		return fmt.Errorf("devkit: subscribe: %w", err)
	}
	if strings.TrimSpace(subscribed.RemoteSubscriptionID) == "" {
		return fmt.Errorf("devkit: subscribe must return a remote subscription id")
	}
	if !subscribed.ExpiresAt.After(now) {
		return fmt.Errorf("devkit: subscribe expiry %s is not after %s", subscribed.ExpiresAt, now)
	}

	subscription := core.MailboxSubscription{
		ID:                   "devkit_subscription",
		TenantID:             request.TenantID,
		Provider:             provider.ID(),
		MailboxAddress:       request.MailboxAddress,
		RemoteSubscriptionID: subscribed.RemoteSubscriptionID,
		CallbackURL:          request.CallbackURL,
		Status:               core.SubscriptionStatusActive,
		ExpiresAt:            subscribed.ExpiresAt,
		Metadata:             subscribed.Metadata,
	}
	renewed, err := provider.Renew(ctx, subscription)
	if err != nil {
		return fmt.Errorf("devkit: renew: %w", err)
	}
	if strings.TrimSpace(renewed.RemoteSubscriptionID) == "" {
		return fmt.Errorf("devkit: renew must return a remote subscription id")
	}
	if !renewed.ExpiresAt.After(now) {
		return fmt.Errorf("devkit: renew expiry %s is not after %s", renewed.ExpiresAt, now)
	}

	subscription.RemoteSubscriptionID = renewed.RemoteSubscriptionID
	subscription.ExpiresAt = renewed.ExpiresAt
	if err := provider.Cancel(ctx, subscription); err != nil {
		return fmt.Errorf("devkit: cancel: %w", err)
	}
	return nil
}

// ValidateInboundMessageStoreConformance checks that Reserve collapses a
// redelivered (provider, provider_message_id) pair onto the first row.
func ValidateInboundMessageStoreConformance(
	ctx context.Context,
	store core.InboundMessageStore,
	msg core.InboundMessage,
) error {
	if store == nil {
		return fmt.Errorf("devkit: inbound message store is required")
	}
	first, created, err := store.Reserve(ctx, msg)
	if err != nil {
		return err
	}
	if !created || strings.TrimSpace(first.ID) == "" {
		return fmt.Errorf("devkit: first reserve should create a row")
	}
	second, created, err := store.Reserve(ctx, msg)
	if err != nil {
		return err
	}
	if created {
		return fmt.Errorf("devkit: second reserve should not create a row")
	}
	if second.ID != first.ID {
		return fmt.Errorf("devkit: redelivery returned %q, want %q", second.ID, first.ID)
	}
	loaded, err := store.Get(ctx, first.ID)
	if err != nil {
		return err
	}
	if loaded.ProviderMessageID != msg.ProviderMessageID {
		return fmt.Errorf("devkit: stored provider message id %q, want %q", loaded.ProviderMessageID, msg.ProviderMessageID)
	}
	return nil
}
