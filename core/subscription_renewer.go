package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/errgroup"
)

type renewalOutcome string

const (
	renewalRenewed      renewalOutcome = "renewed"
	renewalResubscribed renewalOutcome = "resubscribed"
	renewalErrored      renewalOutcome = "errored"
	renewalDeferred     renewalOutcome = "deferred"
)

// SubscriptionRenewer keeps provider push subscriptions alive. A failed
// renewal falls back to a full re-subscription before the row is marked
// errored, so a mailbox is not silently left unmonitored.
type SubscriptionRenewer struct {
	store    MailboxSubscriptionStore
	registry Registry
	breakers *TenantBreakers
	backoff  BackoffScheduler
	config   SubscriptionRenewerConfig
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time
}

type SubscriptionRenewerOption func(*SubscriptionRenewer)

func WithRenewerLogger(logger Logger) SubscriptionRenewerOption {
	return func(r *SubscriptionRenewer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithRenewerMetrics(recorder MetricsRecorder) SubscriptionRenewerOption {
	return func(r *SubscriptionRenewer) {
		if recorder != nil {
			r.metrics = recorder
		}
	}
}

func WithRenewerClock(now func() time.Time) SubscriptionRenewerOption {
	return func(r *SubscriptionRenewer) {
		if now != nil {
			r.now = now
		}
	}
}

func WithRenewerBreakers(breakers *TenantBreakers) SubscriptionRenewerOption {
	return func(r *SubscriptionRenewer) {
		if breakers != nil {
			r.breakers = breakers
		}
	}
}

func WithRenewerBackoff(backoff BackoffScheduler) SubscriptionRenewerOption {
	return func(r *SubscriptionRenewer) {
		if backoff != nil {
			r.backoff = backoff
		}
	}
}

func NewSubscriptionRenewer(
	store MailboxSubscriptionStore,
	registry Registry,
	config SubscriptionRenewerConfig,
	opts ...SubscriptionRenewerOption,
) (*SubscriptionRenewer, error) {
	if store == nil {
		return nil, fmt.Errorf("core: mailbox subscription store is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("core: provider registry is required")
	}
	defaults := DefaultSubscriptionRenewerConfig()
	if config.LeadTime <= 0 {
		config.LeadTime = defaults.LeadTime
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.ErroredRetryInterval <= 0 {
		config.ErroredRetryInterval = defaults.ErroredRetryInterval
	}

	renewer := &SubscriptionRenewer{
		store:    store,
		registry: registry,
		backoff:  ExponentialBackoffScheduler{Initial: config.InitialBackoff, Max: config.MaxBackoff},
		config:   config,
		metrics:  NopMetricsRecorder{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(renewer)
		}
	}
	renewer.logger = glog.Ensure(renewer.logger)
	if renewer.breakers == nil {
		renewer.breakers = NewTenantBreakers(DefaultTenantBreakerConfig(), renewer.logger)
	}
	return renewer, nil
}

func (s *Service) NewSubscriptionRenewer(config SubscriptionRenewerConfig, opts ...SubscriptionRenewerOption) (*SubscriptionRenewer, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	base := []SubscriptionRenewerOption{
		WithRenewerLogger(s.logger),
		WithRenewerMetrics(s.metricsRecorder),
		WithRenewerClock(s.clock),
	}
	renewer, err := NewSubscriptionRenewer(s.subscriptionStore, s.registry, config, append(base, opts...)...)
	if err != nil {
		return nil, s.mapError(err)
	}
	return renewer, nil
}

// RenewDue renews every subscription that expires within the lead time and
// retries errored ones whose last attempt is older than ErroredRetryInterval.
// Per-subscription failures are recorded on the row and counted; only store
// errors from listing or persisting are returned.
func (r *SubscriptionRenewer) RenewDue(ctx context.Context) (RenewalStats, error) {
	if r == nil || r.store == nil {
		return RenewalStats{}, fmt.Errorf("core: subscription renewer is not configured")
	}
	now := r.now()
	due, err := r.store.ListExpiring(ctx, now.Add(r.config.LeadTime), r.config.BatchSize)
	if err != nil {
		return RenewalStats{}, err
	}
	errored, err := r.store.ListErrored(ctx, now.Add(-r.config.ErroredRetryInterval), r.config.BatchSize)
	if err != nil {
		return RenewalStats{}, err
	}
	stats := RenewalStats{}
	seen := make(map[string]struct{}, len(due))
	for _, subscription := range due {
		seen[subscription.ID] = struct{}{}
	}
	for _, subscription := range errored {
		if _, ok := seen[subscription.ID]; ok {
			continue
		}
		seen[subscription.ID] = struct{}{}
		due = append(due, subscription)
		stats.Retried++
	}
	stats.Scanned = len(due)
	if len(due) == 0 {
		return stats, nil
	}

	var (
		mu       sync.Mutex
		renewErr error
		group    errgroup.Group
	)
	group.SetLimit(r.config.Workers)
	for _, subscription := range due {
		subscription := subscription
		group.Go(func() error {
			_, outcome, err := r.renew(ctx, subscription)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case renewalRenewed:
				stats.Renewed++
			case renewalResubscribed:
				stats.Resubscribed++
			case renewalErrored:
				stats.Errored++
			case renewalDeferred:
				stats.Deferred++
			}
			renewErr = joinErrors(renewErr, err)
			return nil
		})
	}
	_ = group.Wait()
	return stats, renewErr
}

// RenewOne renews a single subscription. It returns the provider error when
// both renewal and re-subscription failed.
func (r *SubscriptionRenewer) RenewOne(ctx context.Context, subscription MailboxSubscription) (MailboxSubscription, error) {
	if r == nil || r.store == nil {
		return MailboxSubscription{}, fmt.Errorf("core: subscription renewer is not configured")
	}
	updated, outcome, err := r.renew(ctx, subscription)
	if err != nil {
		return MailboxSubscription{}, err
	}
	if outcome == renewalErrored || outcome == renewalDeferred {
		return updated, subscriptionRenewalError(subscription, updated.LastError)
	}
	return updated, nil
}

// renew returns a non-nil error only for store failures; provider failures
// are reflected in the outcome and the stored row.
func (r *SubscriptionRenewer) renew(ctx context.Context, subscription MailboxSubscription) (MailboxSubscription, renewalOutcome, error) {
	startedAt := time.Now()
	provider, ok := r.registry.Get(subscription.Provider)
	if !ok {
		cause := providerNotFoundError(subscription.Provider)
		return r.markErrored(ctx, subscription, startedAt, cause)
	}

	var renewed MailboxSubscriptionResult
	_, renewErr := retryWithBackoff(ctx, r.config.MaxAttempts, r.backoff, func(ctx context.Context, _ int) error {
		return r.call(ctx, subscription.TenantID, func(callCtx context.Context) error {
			result, err := provider.Renew(callCtx, subscription)
			if err == nil {
				renewed = result
			}
			return err
		})
	})
	if renewErr == nil {
		updated, err := r.persistActive(ctx, subscription, renewed)
		r.record(ctx, subscription, renewalRenewed, startedAt, err)
		if err != nil {
			return MailboxSubscription{}, renewalErrored, err
		}
		return updated, renewalRenewed, nil
	}
	if errors.Is(renewErr, ErrTenantCircuitOpen) {
		r.record(ctx, subscription, renewalDeferred, startedAt, renewErr)
		subscription.LastError = renewErr.Error()
		return subscription, renewalDeferred, nil
	}

	logWithLevel(ctx, r.logger, "warn", "subscription renewal failed, re-subscribing", map[string]any{
		"subscription_id": subscription.ID,
		"tenant_id":       subscription.TenantID,
		"provider":        subscription.Provider,
		"error":           renewErr.Error(),
	})

	cancelErr := r.call(ctx, subscription.TenantID, func(callCtx context.Context) error {
		return provider.Cancel(callCtx, subscription)
	})
	if cancelErr != nil {
		logWithLevel(ctx, r.logger, "debug", "cancel before re-subscribe failed", map[string]any{
			"subscription_id": subscription.ID,
			"error":           cancelErr.Error(),
		})
	}

	var subscribed MailboxSubscriptionResult
	_, subscribeErr := retryWithBackoff(ctx, r.config.MaxAttempts, r.backoff, func(ctx context.Context, _ int) error {
		return r.call(ctx, subscription.TenantID, func(callCtx context.Context) error {
			result, err := provider.Subscribe(callCtx, MailboxSubscribeRequest{
				TenantID:       subscription.TenantID,
				MailboxAddress: subscription.MailboxAddress,
				CallbackURL:    subscription.CallbackURL,
				Metadata:       copyAnyMap(subscription.Metadata),
			})
			if err == nil {
				subscribed = result
			}
			return err
		})
	})
	if subscribeErr != nil {
		return r.markErrored(ctx, subscription, startedAt, joinErrors(renewErr, subscribeErr))
	}
	updated, err := r.persistActive(ctx, subscription, subscribed)
	r.record(ctx, subscription, renewalResubscribed, startedAt, err)
	if err != nil {
		return MailboxSubscription{}, renewalErrored, err
	}
	return updated, renewalResubscribed, nil
}

func (r *SubscriptionRenewer) call(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	return r.breakers.Execute(ctx, tenantID, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
		defer cancel()
		return fn(callCtx)
	})
}

func (r *SubscriptionRenewer) persistActive(ctx context.Context, existing MailboxSubscription, result MailboxSubscriptionResult) (MailboxSubscription, error) {
	remoteID := strings.TrimSpace(result.RemoteSubscriptionID)
	if remoteID == "" {
		remoteID = existing.RemoteSubscriptionID
	}
	expiresAt := result.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = existing.ExpiresAt
	}
	renewedAt := r.now()
	return r.store.Upsert(ctx, UpsertMailboxSubscriptionInput{
		TenantID:             existing.TenantID,
		Provider:             existing.Provider,
		MailboxAddress:       existing.MailboxAddress,
		RemoteSubscriptionID: remoteID,
		CallbackURL:          existing.CallbackURL,
		Status:               SubscriptionStatusActive,
		ExpiresAt:            expiresAt.UTC(),
		LastRenewedAt:        &renewedAt,
		Metadata:             mergeAnyMap(existing.Metadata, result.Metadata),
	})
}

func (r *SubscriptionRenewer) markErrored(ctx context.Context, subscription MailboxSubscription, startedAt time.Time, cause error) (MailboxSubscription, renewalOutcome, error) {
	r.record(ctx, subscription, renewalErrored, startedAt, cause)
	if err := r.store.UpdateState(ctx, subscription.ID, SubscriptionStatusErrored, cause.Error()); err != nil {
		return MailboxSubscription{}, renewalErrored, err
	}
	subscription.Status = SubscriptionStatusErrored
	subscription.LastError = cause.Error()
	return subscription, renewalErrored, nil
}

func (r *SubscriptionRenewer) record(ctx context.Context, subscription MailboxSubscription, outcome renewalOutcome, startedAt time.Time, err error) {
	tags := map[string]string{
		"provider": subscription.Provider,
		"outcome":  string(outcome),
	}
	if tenant := strings.TrimSpace(subscription.TenantID); tenant != "" {
		tags["tenant_id"] = tenant
	}
	r.metrics.IncCounter(ctx, "outreach.renew_subscription.total", 1, tags)
	r.metrics.ObserveHistogram(ctx, "outreach.renew_subscription.duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	fields := map[string]any{
		"subscription_id": subscription.ID,
		"tenant_id":       subscription.TenantID,
		"provider":        subscription.Provider,
		"outcome":         string(outcome),
	}
	if err == nil {
		logWithLevel(ctx, r.logger, "info", "subscription renewed", fields)
		return
	}
	fields["error"] = err.Error()
	level := "warn"
	if outcome == renewalErrored {
		level = "error"
	}
	logWithLevel(ctx, r.logger, level, "subscription renewal did not complete", fields)
}

func providerNotFoundError(providerID string) *goerrors.Error {
	return goerrors.New(
		fmt.Sprintf("provider %q is not registered", providerID),
		goerrors.CategoryNotFound,
	).
		WithCode(http.StatusNotFound).
		WithTextCode(ErrorProviderNotFound).
		WithMetadata(map[string]any{"provider": providerID})
}

func subscriptionRenewalError(subscription MailboxSubscription, reason string) *goerrors.Error {
	if strings.TrimSpace(reason) == "" {
		reason = "renewal failed"
	}
	return goerrors.New(
		fmt.Sprintf("core: subscription %s could not be renewed: %s", subscription.ID, reason),
		goerrors.CategoryExternal,
	).
		WithCode(http.StatusBadGateway).
		WithTextCode(ErrorSubscriptionRenewal).
		WithMetadata(map[string]any{
			"subscription_id": subscription.ID,
			"provider":        subscription.Provider,
		})
}
