package query

import (
	"context"
	"time"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/schedule"
)

type ThreadReader interface {
	GetThread(ctx context.Context, threadID string) (core.EmailThread, error)
}

type ActionReader interface {
	GetAction(ctx context.Context, actionID string) (core.ScheduledAction, error)
}

type ReplyEventReader interface {
	ListReplyEvents(ctx context.Context, filter core.ReplyEventFilter) ([]core.ReplyEvent, int, error)
}

type SubscriptionReader interface {
	GetMailboxSubscription(ctx context.Context, subscriptionID string) (core.MailboxSubscription, error)
}

// ScheduleResolver is implemented by *schedule.Resolver.
type ScheduleResolver interface {
	ValidateSpec(spec schedule.Spec) error
	Explain(ctx context.Context, spec schedule.Spec, baseTime time.Time) schedule.Resolution
}

type ReplyEventPage struct {
	Events []core.ReplyEvent
	Total  int
	Limit  int
	Offset int
}

type GetThreadQuery struct {
	reader ThreadReader
}

func NewGetThreadQuery(reader ThreadReader) *GetThreadQuery {
	return &GetThreadQuery{reader: reader}
}

func (q *GetThreadQuery) Query(ctx context.Context, msg GetThreadMessage) (core.EmailThread, error) {
	if q == nil || q.reader == nil {
		return core.EmailThread{}, queryDependencyError("query: thread reader is required")
	}
	return q.reader.GetThread(ctx, msg.ThreadID)
}

type GetActionQuery struct {
	reader ActionReader
}

func NewGetActionQuery(reader ActionReader) *GetActionQuery {
	return &GetActionQuery{reader: reader}
}

func (q *GetActionQuery) Query(ctx context.Context, msg GetActionMessage) (core.ScheduledAction, error) {
	if q == nil || q.reader == nil {
		return core.ScheduledAction{}, queryDependencyError("query: action reader is required")
	}
	return q.reader.GetAction(ctx, msg.ActionID)
}

type ListReplyEventsQuery struct {
	reader ReplyEventReader
}

func NewListReplyEventsQuery(reader ReplyEventReader) *ListReplyEventsQuery {
	return &ListReplyEventsQuery{reader: reader}
}

func (q *ListReplyEventsQuery) Query(ctx context.Context, msg ListReplyEventsMessage) (ReplyEventPage, error) {
	if q == nil || q.reader == nil {
		return ReplyEventPage{}, queryDependencyError("query: reply event reader is required")
	}
	events, total, err := q.reader.ListReplyEvents(ctx, msg.Filter)
	if err != nil {
		return ReplyEventPage{}, err
	}
	return ReplyEventPage{
		Events: events,
		Total:  total,
		Limit:  msg.Filter.Limit,
		Offset: msg.Filter.Offset,
	}, nil
}

type GetMailboxSubscriptionQuery struct {
	reader SubscriptionReader
}

func NewGetMailboxSubscriptionQuery(reader SubscriptionReader) *GetMailboxSubscriptionQuery {
	return &GetMailboxSubscriptionQuery{reader: reader}
}

func (q *GetMailboxSubscriptionQuery) Query(
	ctx context.Context,
	msg GetMailboxSubscriptionMessage,
) (core.MailboxSubscription, error) {
	if q == nil || q.reader == nil {
		return core.MailboxSubscription{}, queryDependencyError("query: subscription reader is required")
	}
	return q.reader.GetMailboxSubscription(ctx, msg.SubscriptionID)
}

type ResolveScheduleQuery struct {
	resolver ScheduleResolver
	now      func() time.Time
}

func NewResolveScheduleQuery(resolver ScheduleResolver) *ResolveScheduleQuery {
	return &ResolveScheduleQuery{
		resolver: resolver,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Query validates strictly before resolving, so an invalid spec is reported
// instead of silently degrading to the base time.
func (q *ResolveScheduleQuery) Query(ctx context.Context, msg ResolveScheduleMessage) (schedule.Resolution, error) {
	if q == nil || q.resolver == nil {
		return schedule.Resolution{}, queryDependencyError("query: schedule resolver is required")
	}
	if err := q.resolver.ValidateSpec(msg.Spec); err != nil {
		return schedule.Resolution{}, err
	}
	base := msg.BaseTime
	if base.IsZero() {
		base = q.now()
	}
	return q.resolver.Explain(ctx, msg.Spec, base.UTC()), nil
}
