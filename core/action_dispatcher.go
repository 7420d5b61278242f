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

type dispatchOutcome string

const (
	dispatchCompleted dispatchOutcome = "completed"
	dispatchRetried   dispatchOutcome = "retried"
	dispatchFailed    dispatchOutcome = "failed"
	dispatchDeferred  dispatchOutcome = "deferred"
	dispatchLost      dispatchOutcome = "lost"
)

// ActionDispatcher claims due actions and runs them on a bounded worker pool.
// Each call is isolated by a per-tenant circuit breaker and a call timeout.
type ActionDispatcher struct {
	store     ScheduledActionStore
	executors map[ActionType]ActionExecutor
	breakers  *TenantBreakers
	backoff   BackoffScheduler
	config    ActionDispatcherConfig
	logger    Logger
	metrics   MetricsRecorder
	now       func() time.Time
}

type ActionDispatcherOption func(*ActionDispatcher)

func WithActionExecutor(actionType ActionType, executor ActionExecutor) ActionDispatcherOption {
	return func(d *ActionDispatcher) {
		if executor == nil {
			return
		}
		d.executors[actionType] = executor
	}
}

func WithDispatcherLogger(logger Logger) ActionDispatcherOption {
	return func(d *ActionDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithDispatcherMetrics(recorder MetricsRecorder) ActionDispatcherOption {
	return func(d *ActionDispatcher) {
		if recorder != nil {
			d.metrics = recorder
		}
	}
}

func WithDispatcherClock(now func() time.Time) ActionDispatcherOption {
	return func(d *ActionDispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

func WithDispatcherBreakers(breakers *TenantBreakers) ActionDispatcherOption {
	return func(d *ActionDispatcher) {
		if breakers != nil {
			d.breakers = breakers
		}
	}
}

func NewActionDispatcher(
	store ScheduledActionStore,
	config ActionDispatcherConfig,
	opts ...ActionDispatcherOption,
) (*ActionDispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("core: scheduled action store is required")
	}
	defaults := DefaultActionDispatcherConfig()
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
	if config.ClaimLease <= 0 {
		config.ClaimLease = defaults.ClaimLease
	}

	dispatcher := &ActionDispatcher{
		store:     store,
		executors: make(map[ActionType]ActionExecutor),
		backoff:   ExponentialBackoffScheduler{Initial: config.InitialBackoff, Max: config.MaxBackoff},
		config:    config,
		metrics:   NopMetricsRecorder{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}
	dispatcher.logger = glog.Ensure(dispatcher.logger)
	if dispatcher.breakers == nil {
		dispatcher.breakers = NewTenantBreakers(config.Breaker, dispatcher.logger)
	}
	return dispatcher, nil
}

// NewActionDispatcher builds a dispatcher over the service action store that
// shares the service logger, metrics and clock.
func (s *Service) NewActionDispatcher(config ActionDispatcherConfig, opts ...ActionDispatcherOption) (*ActionDispatcher, error) {
	if s == nil {
		return nil, fmt.Errorf("core: service is nil")
	}
	base := []ActionDispatcherOption{
		WithDispatcherLogger(s.logger),
		WithDispatcherMetrics(s.metricsRecorder),
		WithDispatcherClock(s.clock),
	}
	dispatcher, err := NewActionDispatcher(s.actionStore, config, append(base, opts...)...)
	if err != nil {
		return nil, s.mapError(err)
	}
	return dispatcher, nil
}

// RunOnce releases stale claims and then dispatches one batch.
func (d *ActionDispatcher) RunOnce(ctx context.Context) (DispatchStats, error) {
	released, releaseErr := d.ReleaseStale(ctx)
	stats, err := d.DispatchDue(ctx, 0)
	stats.Released = released
	return stats, joinErrors(releaseErr, err)
}

// ReleaseStale returns processing actions whose claim outlived the lease to
// pending, so a crashed worker does not strand them.
func (d *ActionDispatcher) ReleaseStale(ctx context.Context) (int, error) {
	if d == nil || d.store == nil {
		return 0, fmt.Errorf("core: action dispatcher is not configured")
	}
	released, err := d.store.ReleaseStale(ctx, d.now().Add(-d.config.ClaimLease))
	if err != nil {
		return 0, err
	}
	if released > 0 {
		logWithLevel(ctx, d.logger, "warn", "released stale action claims", map[string]any{
			"released":    released,
			"claim_lease": d.config.ClaimLease.String(),
		})
	}
	return released, nil
}

// DispatchDue claims up to batchSize due actions and executes them. Executor
// failures are recorded on the actions and reflected in the stats; only store
// errors are returned.
func (d *ActionDispatcher) DispatchDue(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("core: action dispatcher is not configured")
	}
	limit := batchSize
	if limit <= 0 {
		limit = d.config.BatchSize
	}
	claimed, err := d.store.ClaimDue(ctx, d.now(), limit)
	if err != nil {
		return DispatchStats{}, err
	}

	stats := DispatchStats{Claimed: len(claimed)}
	if len(claimed) == 0 {
		return stats, nil
	}

	var (
		mu          sync.Mutex
		dispatchErr error
		group       errgroup.Group
	)
	group.SetLimit(d.config.Workers)
	for _, action := range claimed {
		action := action
		group.Go(func() error {
			outcome, err := d.dispatchOne(ctx, action)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case dispatchCompleted:
				stats.Completed++
			case dispatchRetried:
				stats.Retried++
			case dispatchFailed:
				stats.Failed++
			case dispatchDeferred:
				stats.Deferred++
			case dispatchLost:
				stats.Lost++
			}
			dispatchErr = joinErrors(dispatchErr, err)
			return nil
		})
	}
	_ = group.Wait()
	return stats, dispatchErr
}

func (d *ActionDispatcher) dispatchOne(ctx context.Context, action ScheduledAction) (dispatchOutcome, error) {
	startedAt := time.Now()
	claim := action.Claim()
	executor, ok := d.executors[action.ActionType]
	if !ok {
		cause := executorUnavailableError(action.ActionType)
		d.record(ctx, action, dispatchFailed, startedAt, cause)
		return d.settle(ctx, action, dispatchFailed, d.store.Fail(ctx, claim, cause))
	}

	execErr := d.breakers.Execute(ctx, action.TenantID, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, d.config.CallTimeout)
		defer cancel()
		return executor.Execute(callCtx, action)
	})
	now := d.now()
	if execErr == nil {
		d.record(ctx, action, dispatchCompleted, startedAt, nil)
		return d.settle(ctx, action, dispatchCompleted, d.store.Complete(ctx, claim, now))
	}

	if errors.Is(execErr, ErrTenantCircuitOpen) {
		d.record(ctx, action, dispatchDeferred, startedAt, execErr)
		return d.settle(ctx, action, dispatchDeferred, d.store.Defer(ctx, claim, now.Add(d.breakers.Config().OpenTimeout), execErr.Error()))
	}

	attempts := action.AttemptCount + 1
	if isPermanentError(execErr) || attempts >= d.config.MaxAttempts {
		failure := DispatchFailedError(action, execErr)
		d.record(ctx, action, dispatchFailed, startedAt, failure)
		return d.settle(ctx, action, dispatchFailed, d.store.Fail(ctx, claim, failure))
	}
	d.record(ctx, action, dispatchRetried, startedAt, execErr)
	return d.settle(ctx, action, dispatchRetried, d.store.Retry(ctx, claim, execErr, now.Add(d.backoff.NextDelay(attempts))))
}

// settle turns a lost claim into its own outcome. The worker now holding the
// action decides its state, so the late result is dropped.
func (d *ActionDispatcher) settle(ctx context.Context, action ScheduledAction, outcome dispatchOutcome, err error) (dispatchOutcome, error) {
	if errors.Is(err, ErrClaimLost) {
		logWithLevel(ctx, d.logger, "warn", "action claim lost before finish", map[string]any{
			"action_id":     action.ID,
			"action_type":   string(action.ActionType),
			"tenant_id":     action.TenantID,
			"dropped":       string(outcome),
			"attempt_count": action.AttemptCount,
		})
		return dispatchLost, nil
	}
	return outcome, err
}

func (d *ActionDispatcher) record(ctx context.Context, action ScheduledAction, outcome dispatchOutcome, startedAt time.Time, err error) {
	tags := map[string]string{
		"action_type": string(action.ActionType),
		"outcome":     string(outcome),
	}
	if tenant := strings.TrimSpace(action.TenantID); tenant != "" {
		tags["tenant_id"] = tenant
	}
	d.metrics.IncCounter(ctx, "outreach.dispatch_action.total", 1, tags)
	d.metrics.ObserveHistogram(ctx, "outreach.dispatch_action.duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	fields := map[string]any{
		"action_id":     action.ID,
		"action_type":   string(action.ActionType),
		"tenant_id":     action.TenantID,
		"attempt_count": action.AttemptCount,
		"outcome":       string(outcome),
	}
	if err == nil {
		logWithLevel(ctx, d.logger, "debug", "action dispatched", fields)
		return
	}
	fields["error"] = err.Error()
	level := "warn"
	if outcome == dispatchFailed {
		level = "error"
	}
	logWithLevel(ctx, d.logger, level, "action dispatch did not complete", fields)
}

func executorUnavailableError(actionType ActionType) *goerrors.Error {
	return goerrors.New(
		fmt.Sprintf("core: no executor registered for action type %q", actionType),
		goerrors.CategoryInternal,
	).
		WithCode(http.StatusNotImplemented).
		WithTextCode(ErrorExecutorUnavailable).
		WithMetadata(map[string]any{"action_type": string(actionType)})
}
