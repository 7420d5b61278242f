package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/schedule"
)

var (
	_ gocmd.Querier[GetThreadMessage, core.EmailThread]                      = (*GetThreadQuery)(nil)
	_ gocmd.Querier[GetActionMessage, core.ScheduledAction]                  = (*GetActionQuery)(nil)
	_ gocmd.Querier[ListReplyEventsMessage, ReplyEventPage]                  = (*ListReplyEventsQuery)(nil)
	_ gocmd.Querier[GetMailboxSubscriptionMessage, core.MailboxSubscription] = (*GetMailboxSubscriptionQuery)(nil)
	_ gocmd.Querier[ResolveScheduleMessage, schedule.Resolution]             = (*ResolveScheduleQuery)(nil)

	_ ThreadReader       = (*core.Service)(nil)
	_ ActionReader       = (*core.Service)(nil)
	_ ReplyEventReader   = (*core.Service)(nil)
	_ SubscriptionReader = (*core.Service)(nil)
	_ ScheduleResolver   = (*schedule.Resolver)(nil)
)
