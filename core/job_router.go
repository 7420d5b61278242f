package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

const (
	JobIDDispatchActions     = "outreach.actions.dispatch"
	JobIDReleaseStaleActions = "outreach.actions.release_stale"
	JobIDRenewSubscriptions  = "outreach.subscriptions.renew"
)

// JobRouter runs dispatch and renewal work delivered as queue jobs.
type JobRouter struct {
	dispatcher *ActionDispatcher
	renewer    *SubscriptionRenewer
	hook       JobWorkerHook
	backoff    BackoffScheduler
	logger     Logger
}

type JobRouterOption func(*JobRouter)

func WithJobWorkerHook(hook JobWorkerHook) JobRouterOption {
	return func(r *JobRouter) {
		r.hook = hook
	}
}

func WithJobRouterLogger(logger Logger) JobRouterOption {
	return func(r *JobRouter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithJobRouterBackoff(backoff BackoffScheduler) JobRouterOption {
	return func(r *JobRouter) {
		if backoff != nil {
			r.backoff = backoff
		}
	}
}

func NewJobRouter(dispatcher *ActionDispatcher, renewer *SubscriptionRenewer, opts ...JobRouterOption) *JobRouter {
	router := &JobRouter{
		dispatcher: dispatcher,
		renewer:    renewer,
		backoff:    ExponentialBackoffScheduler{Initial: time.Second, Max: time.Minute},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(router)
		}
	}
	router.logger = glog.Ensure(router.logger)
	return router
}

func (r *JobRouter) JobIDs() []string {
	ids := make([]string, 0, 3)
	if r != nil && r.dispatcher != nil {
		ids = append(ids, JobIDDispatchActions, JobIDReleaseStaleActions)
	}
	if r != nil && r.renewer != nil {
		ids = append(ids, JobIDRenewSubscriptions)
	}
	return ids
}

func (r *JobRouter) Handle(ctx context.Context, msg *JobExecutionMessage) error {
	if r == nil {
		return fmt.Errorf("core: job router is nil")
	}
	if msg == nil {
		return badInput("core: job message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case JobIDDispatchActions:
		if r.dispatcher == nil {
			return executorUnavailableError(ActionType(msg.JobID))
		}
		stats, err := r.dispatcher.DispatchDue(ctx, intParameter(msg.Parameters, "batch_size"))
		logWithLevel(ctx, r.logger, "info", "dispatch job finished", map[string]any{
			"claimed":   stats.Claimed,
			"completed": stats.Completed,
			"retried":   stats.Retried,
			"failed":    stats.Failed,
			"deferred":  stats.Deferred,
			"lost":      stats.Lost,
		})
		return err
	case JobIDReleaseStaleActions:
		if r.dispatcher == nil {
			return executorUnavailableError(ActionType(msg.JobID))
		}
		_, err := r.dispatcher.ReleaseStale(ctx)
		return err
	case JobIDRenewSubscriptions:
		if r.renewer == nil {
			return executorUnavailableError(ActionType(msg.JobID))
		}
		stats, err := r.renewer.RenewDue(ctx)
		logWithLevel(ctx, r.logger, "info", "renewal job finished", map[string]any{
			"scanned":      stats.Scanned,
			"renewed":      stats.Renewed,
			"resubscribed": stats.Resubscribed,
			"errored":      stats.Errored,
			"deferred":     stats.Deferred,
			"retried":      stats.Retried,
		})
		return err
	default:
		return badInput("core: unsupported job id %q", msg.JobID)
	}
}

// Process dequeues one delivery and acks or nacks it. Permanent failures are
// dead-lettered; anything else is requeued with backoff.
func (r *JobRouter) Process(ctx context.Context, dequeuer JobDequeuer) error {
	if r == nil || dequeuer == nil {
		return fmt.Errorf("core: job router requires a dequeuer")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}

	event := JobWorkerEvent{Message: delivery.Message(), Attempt: 1, StartedAt: time.Now().UTC()}
	r.onStart(ctx, event)
	handleErr := r.Handle(ctx, event.Message)
	event.Duration = time.Since(event.StartedAt)

	if handleErr == nil {
		r.onSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	event.Err = handleErr
	if isPermanentError(handleErr) {
		r.onFailure(ctx, event)
		return delivery.Nack(ctx, JobNackOptions{DeadLetter: true, Reason: handleErr.Error()})
	}
	event.Delay = r.backoff.NextDelay(event.Attempt)
	r.onRetry(ctx, event)
	return delivery.Nack(ctx, JobNackOptions{Requeue: true, Delay: event.Delay, Reason: handleErr.Error()})
}

func (r *JobRouter) onStart(ctx context.Context, event JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnStart(ctx, event)
	}
}

func (r *JobRouter) onSuccess(ctx context.Context, event JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnSuccess(ctx, event)
	}
}

func (r *JobRouter) onFailure(ctx context.Context, event JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnFailure(ctx, event)
	}
}

func (r *JobRouter) onRetry(ctx context.Context, event JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnRetry(ctx, event)
	}
}

func intParameter(params map[string]any, key string) int {
	raw, ok := params[key]
	if !ok {
		return 0
	}
	switch typed := raw.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err == nil {
			return parsed
		}
	}
	return 0
}
