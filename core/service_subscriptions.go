package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type SubscribeMailboxRequest struct {
	TenantID       string
	Provider       string
	MailboxAddress string
	CallbackURL    string
	Metadata       map[string]any
}

func (r SubscribeMailboxRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.TenantID) == "":
		return badInput("core: tenant id is required")
	case strings.TrimSpace(r.Provider) == "":
		return badInput("core: provider is required")
	case strings.TrimSpace(r.MailboxAddress) == "":
		return badInput("core: mailbox address is required")
	case strings.TrimSpace(r.CallbackURL) == "":
		return badInput("core: callback url is required")
	}
	return nil
}

// SubscribeMailbox registers a push subscription with the mail provider and
// stores it keyed by (tenant, provider, mailbox).
func (s *Service) SubscribeMailbox(ctx context.Context, req SubscribeMailboxRequest) (subscription MailboxSubscription, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"tenant_id": req.TenantID,
		"provider":  req.Provider,
	}
	defer func() {
		if subscription.ID != "" {
			fields["subscription_id"] = subscription.ID
		}
		s.observeOperation(ctx, startedAt, "subscribe_mailbox", err, fields)
	}()

	if s == nil || s.subscriptionStore == nil {
		return MailboxSubscription{}, s.mapError(fmt.Errorf("core: mailbox subscription store is required"))
	}
	if err = req.Validate(); err != nil {
		return MailboxSubscription{}, s.mapError(err)
	}
	provider, err := s.resolveProvider(req.Provider)
	if err != nil {
		return MailboxSubscription{}, err
	}

	mailbox := normalizeAddress(req.MailboxAddress)
	result, err := provider.Subscribe(ctx, MailboxSubscribeRequest{
		TenantID:       strings.TrimSpace(req.TenantID),
		MailboxAddress: mailbox,
		CallbackURL:    strings.TrimSpace(req.CallbackURL),
		Metadata:       copyAnyMap(req.Metadata),
	})
	if err != nil {
		return MailboxSubscription{}, s.mapError(err)
	}

	renewedAt := s.clock()
	subscription, err = s.subscriptionStore.Upsert(ctx, UpsertMailboxSubscriptionInput{
		TenantID:             strings.TrimSpace(req.TenantID),
		Provider:             providerKey(req.Provider),
		MailboxAddress:       mailbox,
		RemoteSubscriptionID: strings.TrimSpace(result.RemoteSubscriptionID),
		CallbackURL:          strings.TrimSpace(req.CallbackURL),
		Status:               SubscriptionStatusActive,
		ExpiresAt:            result.ExpiresAt.UTC(),
		LastRenewedAt:        &renewedAt,
		Metadata:             mergeAnyMap(req.Metadata, result.Metadata),
	})
	if err != nil {
		return MailboxSubscription{}, s.mapError(err)
	}
	return subscription, nil
}

// RenewMailboxSubscription renews one subscription now, falling back to a
// re-subscription the same way the periodic renewer does.
func (s *Service) RenewMailboxSubscription(ctx context.Context, subscriptionID string) (subscription MailboxSubscription, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"subscription_id": subscriptionID}
	defer func() {
		if subscription.Provider != "" {
			fields["provider"] = subscription.Provider
		}
		s.observeOperation(ctx, startedAt, "renew_mailbox_subscription", err, fields)
	}()

	if s == nil || s.subscriptionStore == nil {
		return MailboxSubscription{}, s.mapError(fmt.Errorf("core: mailbox subscription store is required"))
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return MailboxSubscription{}, s.mapError(badInput("core: subscription id is required"))
	}
	existing, err := s.subscriptionStore.Get(ctx, subscriptionID)
	if err != nil {
		return MailboxSubscription{}, s.mapError(err)
	}
	renewer, err := s.NewSubscriptionRenewer(SubscriptionRenewerConfig{MaxAttempts: 1})
	if err != nil {
		return MailboxSubscription{}, err
	}
	subscription, err = renewer.RenewOne(ctx, existing)
	if err != nil {
		return subscription, s.mapError(err)
	}
	return subscription, nil
}

// CancelMailboxSubscription cancels the provider subscription and marks the
// row cancelled. A provider failure leaves the row errored.
func (s *Service) CancelMailboxSubscription(ctx context.Context, subscriptionID string, reason string) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"subscription_id": subscriptionID}
	defer func() {
		s.observeOperation(ctx, startedAt, "cancel_mailbox_subscription", err, fields)
	}()

	if s == nil || s.subscriptionStore == nil {
		return s.mapError(fmt.Errorf("core: mailbox subscription store is required"))
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return s.mapError(badInput("core: subscription id is required"))
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled"
	}

	existing, err := s.subscriptionStore.Get(ctx, subscriptionID)
	if err != nil {
		return s.mapError(err)
	}
	fields["provider"] = existing.Provider
	fields["tenant_id"] = existing.TenantID

	provider, err := s.resolveProvider(existing.Provider)
	if err != nil {
		return err
	}
	if err = provider.Cancel(ctx, existing); err != nil {
		_ = s.subscriptionStore.UpdateState(ctx, existing.ID, SubscriptionStatusErrored, err.Error())
		return s.mapError(err)
	}
	if err = s.subscriptionStore.UpdateState(ctx, existing.ID, SubscriptionStatusCancelled, reason); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *Service) GetMailboxSubscription(ctx context.Context, subscriptionID string) (MailboxSubscription, error) {
	if s == nil || s.subscriptionStore == nil {
		return MailboxSubscription{}, s.mapError(fmt.Errorf("core: mailbox subscription store is required"))
	}
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return MailboxSubscription{}, s.mapError(badInput("core: subscription id is required"))
	}
	subscription, err := s.subscriptionStore.Get(ctx, subscriptionID)
	if err != nil {
		return MailboxSubscription{}, s.mapError(err)
	}
	return subscription, nil
}
