package command

import (
	"strings"

	"github.com/goliatone/go-outreach/core"
)

const (
	TypeCreateThread          = "outreach.command.thread.create"
	TypeDeactivateThread      = "outreach.command.thread.deactivate"
	TypeQueueOutbound         = "outreach.command.outbound.queue"
	TypeMarkOutboundSent      = "outreach.command.outbound.mark_sent"
	TypeMarkOutboundFailed    = "outreach.command.outbound.mark_failed"
	TypeCancelOutbound        = "outreach.command.outbound.cancel"
	TypeScheduleAction        = "outreach.command.action.schedule"
	TypeCancelAction          = "outreach.command.action.cancel"
	TypeDispatchDueActions    = "outreach.command.action.dispatch_due"
	TypeProcessInbound        = "outreach.command.inbound.process"
	TypeSubscribeMailbox      = "outreach.command.subscription.subscribe"
	TypeRenewSubscription     = "outreach.command.subscription.renew"
	TypeRenewDueSubscriptions = "outreach.command.subscription.renew_due"
	TypeCancelSubscription    = "outreach.command.subscription.cancel"
)

type CreateThreadMessage struct {
	Request core.CreateEmailThreadRequest
}

func (CreateThreadMessage) Type() string { return TypeCreateThread }

func (m CreateThreadMessage) Validate() error {
	return commandWrapValidation(m.Request.Validate(), "command: invalid create thread request")
}

type DeactivateThreadMessage struct {
	ThreadID string
}

func (DeactivateThreadMessage) Type() string { return TypeDeactivateThread }

func (m DeactivateThreadMessage) Validate() error {
	return requireID("thread_id", m.ThreadID)
}

type QueueOutboundMessage struct {
	Request core.QueueOutboundRequest
}

func (QueueOutboundMessage) Type() string { return TypeQueueOutbound }

func (m QueueOutboundMessage) Validate() error {
	return commandWrapValidation(m.Request.Validate(), "command: invalid queue outbound request")
}

type MarkOutboundSentMessage struct {
	Request core.MarkOutboundSentRequest
}

func (MarkOutboundSentMessage) Type() string { return TypeMarkOutboundSent }

func (m MarkOutboundSentMessage) Validate() error {
	return requireID("outbound_message_id", m.Request.OutboundMessageID)
}

type MarkOutboundFailedMessage struct {
	OutboundMessageID string
}

func (MarkOutboundFailedMessage) Type() string { return TypeMarkOutboundFailed }

func (m MarkOutboundFailedMessage) Validate() error {
	return requireID("outbound_message_id", m.OutboundMessageID)
}

type CancelOutboundMessage struct {
	OutboundMessageID string
}

func (CancelOutboundMessage) Type() string { return TypeCancelOutbound }

func (m CancelOutboundMessage) Validate() error {
	return requireID("outbound_message_id", m.OutboundMessageID)
}

type ScheduleActionMessage struct {
	Request core.ScheduleActionRequest
}

func (ScheduleActionMessage) Type() string { return TypeScheduleAction }

func (m ScheduleActionMessage) Validate() error {
	return commandWrapValidation(m.Request.Validate(), "command: invalid schedule action request")
}

type CancelActionMessage struct {
	ActionID string
}

func (CancelActionMessage) Type() string { return TypeCancelAction }

func (m CancelActionMessage) Validate() error {
	return requireID("action_id", m.ActionID)
}

type DispatchDueActionsMessage struct{}

func (DispatchDueActionsMessage) Type() string { return TypeDispatchDueActions }

func (DispatchDueActionsMessage) Validate() error { return nil }

type ProcessInboundMessage struct {
	Email core.InboundEmail
}

func (ProcessInboundMessage) Type() string { return TypeProcessInbound }

func (m ProcessInboundMessage) Validate() error {
	if strings.TrimSpace(m.Email.Provider) == "" {
		return commandValidationError("provider", "provider is required")
	}
	return nil
}

type SubscribeMailboxMessage struct {
	Request core.SubscribeMailboxRequest
}

func (SubscribeMailboxMessage) Type() string { return TypeSubscribeMailbox }

func (m SubscribeMailboxMessage) Validate() error {
	return commandWrapValidation(m.Request.Validate(), "command: invalid subscribe mailbox request")
}

type RenewSubscriptionMessage struct {
	SubscriptionID string
}

func (RenewSubscriptionMessage) Type() string { return TypeRenewSubscription }

func (m RenewSubscriptionMessage) Validate() error {
	return requireID("subscription_id", m.SubscriptionID)
}

type RenewDueSubscriptionsMessage struct{}

func (RenewDueSubscriptionsMessage) Type() string { return TypeRenewDueSubscriptions }

func (RenewDueSubscriptionsMessage) Validate() error { return nil }

type CancelSubscriptionMessage struct {
	SubscriptionID string
	Reason         string
}

func (CancelSubscriptionMessage) Type() string { return TypeCancelSubscription }

func (m CancelSubscriptionMessage) Validate() error {
	return requireID("subscription_id", m.SubscriptionID)
}

func requireID(field string, value string) error {
	if strings.TrimSpace(value) == "" {
		return commandValidationError(field, strings.ReplaceAll(field, "_", " ")+" is required")
	}
	return nil
}
