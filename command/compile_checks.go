package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-outreach/core"
)

var (
	_ gocmd.Commander[CreateThreadMessage]          = (*CreateThreadCommand)(nil)
	_ gocmd.Commander[DeactivateThreadMessage]      = (*DeactivateThreadCommand)(nil)
	_ gocmd.Commander[QueueOutboundMessage]         = (*QueueOutboundCommand)(nil)
	_ gocmd.Commander[MarkOutboundSentMessage]      = (*MarkOutboundSentCommand)(nil)
	_ gocmd.Commander[MarkOutboundFailedMessage]    = (*MarkOutboundFailedCommand)(nil)
	_ gocmd.Commander[CancelOutboundMessage]        = (*CancelOutboundCommand)(nil)
	_ gocmd.Commander[ScheduleActionMessage]        = (*ScheduleActionCommand)(nil)
	_ gocmd.Commander[CancelActionMessage]          = (*CancelActionCommand)(nil)
	_ gocmd.Commander[DispatchDueActionsMessage]    = (*DispatchDueActionsCommand)(nil)
	_ gocmd.Commander[ProcessInboundMessage]        = (*ProcessInboundCommand)(nil)
	_ gocmd.Commander[SubscribeMailboxMessage]      = (*SubscribeMailboxCommand)(nil)
	_ gocmd.Commander[RenewSubscriptionMessage]     = (*RenewSubscriptionCommand)(nil)
	_ gocmd.Commander[RenewDueSubscriptionsMessage] = (*RenewDueSubscriptionsCommand)(nil)
	_ gocmd.Commander[CancelSubscriptionMessage]    = (*CancelSubscriptionCommand)(nil)

	_ MutatingService        = (*core.Service)(nil)
	_ DueActionDispatcher    = (*core.ActionDispatcher)(nil)
	_ DueSubscriptionRenewer = (*core.SubscriptionRenewer)(nil)
)
