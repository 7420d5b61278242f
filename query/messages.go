package query

import (
	"strings"
	"time"

	"github.com/goliatone/go-outreach/core"
)

const (
	TypeGetThread              = "outreach.query.thread.get"
	TypeGetAction              = "outreach.query.action.get"
	TypeListReplyEvents        = "outreach.query.reply_events.list"
	TypeGetMailboxSubscription = "outreach.query.subscription.get"
	TypeResolveSchedule        = "outreach.query.schedule.resolve"
)

const MaxReplyEventPageSize = 500

type GetThreadMessage struct {
	ThreadID string
}

func (GetThreadMessage) Type() string { return TypeGetThread }

func (m GetThreadMessage) Validate() error {
	return requireID("thread_id", m.ThreadID)
}

type GetActionMessage struct {
	ActionID string
}

func (GetActionMessage) Type() string { return TypeGetAction }

func (m GetActionMessage) Validate() error {
	return requireID("action_id", m.ActionID)
}

type ListReplyEventsMessage struct {
	Filter core.ReplyEventFilter
}

func (ListReplyEventsMessage) Type() string { return TypeListReplyEvents }

func (m ListReplyEventsMessage) Validate() error {
	if m.Filter.Limit < 0 || m.Filter.Limit > MaxReplyEventPageSize {
		return queryValidationError("limit", "limit must be between 0 and 500")
	}
	if m.Filter.Offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	return nil
}

type GetMailboxSubscriptionMessage struct {
	SubscriptionID string
}

func (GetMailboxSubscriptionMessage) Type() string { return TypeGetMailboxSubscription }

func (m GetMailboxSubscriptionMessage) Validate() error {
	return requireID("subscription_id", m.SubscriptionID)
}

// ResolveScheduleMessage previews the send time of a schedule spec without
// persisting anything. A zero BaseTime means now.
type ResolveScheduleMessage struct {
	Spec     core.ScheduleSpec
	BaseTime time.Time
}

func (ResolveScheduleMessage) Type() string { return TypeResolveSchedule }

func (m ResolveScheduleMessage) Validate() error {
	if strings.TrimSpace(m.Spec.Delay) == "" {
		return queryValidationError("delay", "delay is required")
	}
	return nil
}

func requireID(field string, value string) error {
	if strings.TrimSpace(value) == "" {
		return queryValidationError(field, strings.ReplaceAll(field, "_", " ")+" is required")
	}
	return nil
}
