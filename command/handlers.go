package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-outreach/core"
)

type MutatingService interface {
	CreateEmailThread(ctx context.Context, req core.CreateEmailThreadRequest) (string, error)
	DeactivateThread(ctx context.Context, threadID string) error
	QueueOutbound(ctx context.Context, req core.QueueOutboundRequest) (core.OutboundMessage, bool, error)
	MarkOutboundSent(ctx context.Context, req core.MarkOutboundSentRequest) (core.OutboundMessage, string, error)
	MarkOutboundFailed(ctx context.Context, outboundMessageID string) error
	CancelOutbound(ctx context.Context, outboundMessageID string) error
	ScheduleAction(ctx context.Context, req core.ScheduleActionRequest) (core.ScheduledAction, error)
	CancelAction(ctx context.Context, actionID string) error
	ProcessInbound(ctx context.Context, email core.InboundEmail) (core.InboundOutcome, error)
	SubscribeMailbox(ctx context.Context, req core.SubscribeMailboxRequest) (core.MailboxSubscription, error)
	RenewMailboxSubscription(ctx context.Context, subscriptionID string) (core.MailboxSubscription, error)
	CancelMailboxSubscription(ctx context.Context, subscriptionID string, reason string) error
}

// DueActionDispatcher is implemented by *core.ActionDispatcher.
type DueActionDispatcher interface {
	RunOnce(ctx context.Context) (core.DispatchStats, error)
}

// DueSubscriptionRenewer is implemented by *core.SubscriptionRenewer.
type DueSubscriptionRenewer interface {
	RenewDue(ctx context.Context) (core.RenewalStats, error)
}

type QueueOutboundResult struct {
	Message core.OutboundMessage
	Created bool
}

type MarkOutboundSentResult struct {
	Message  core.OutboundMessage
	ThreadID string
}

type CreateThreadCommand struct {
	service MutatingService
}

func NewCreateThreadCommand(service MutatingService) *CreateThreadCommand {
	return &CreateThreadCommand{service: service}
}

func (c *CreateThreadCommand) Execute(ctx context.Context, msg CreateThreadMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: thread service is required")
	}
	threadID, err := c.service.CreateEmailThread(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, threadID)
	return nil
}

type DeactivateThreadCommand struct {
	service MutatingService
}

func NewDeactivateThreadCommand(service MutatingService) *DeactivateThreadCommand {
	return &DeactivateThreadCommand{service: service}
}

func (c *DeactivateThreadCommand) Execute(ctx context.Context, msg DeactivateThreadMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: thread service is required")
	}
	return c.service.DeactivateThread(ctx, msg.ThreadID)
}

type QueueOutboundCommand struct {
	service MutatingService
}

func NewQueueOutboundCommand(service MutatingService) *QueueOutboundCommand {
	return &QueueOutboundCommand{service: service}
}

func (c *QueueOutboundCommand) Execute(ctx context.Context, msg QueueOutboundMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: outbound service is required")
	}
	out, created, err := c.service.QueueOutbound(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, QueueOutboundResult{Message: out, Created: created})
	return nil
}

type MarkOutboundSentCommand struct {
	service MutatingService
}

func NewMarkOutboundSentCommand(service MutatingService) *MarkOutboundSentCommand {
	return &MarkOutboundSentCommand{service: service}
}

func (c *MarkOutboundSentCommand) Execute(ctx context.Context, msg MarkOutboundSentMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: outbound service is required")
	}
	out, threadID, err := c.service.MarkOutboundSent(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, MarkOutboundSentResult{Message: out, ThreadID: threadID})
	return nil
}

type MarkOutboundFailedCommand struct {
	service MutatingService
}

func NewMarkOutboundFailedCommand(service MutatingService) *MarkOutboundFailedCommand {
	return &MarkOutboundFailedCommand{service: service}
}

func (c *MarkOutboundFailedCommand) Execute(ctx context.Context, msg MarkOutboundFailedMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: outbound service is required")
	}
	return c.service.MarkOutboundFailed(ctx, msg.OutboundMessageID)
}

type CancelOutboundCommand struct {
	service MutatingService
}

func NewCancelOutboundCommand(service MutatingService) *CancelOutboundCommand {
	return &CancelOutboundCommand{service: service}
}

func (c *CancelOutboundCommand) Execute(ctx context.Context, msg CancelOutboundMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: outbound service is required")
	}
	return c.service.CancelOutbound(ctx, msg.OutboundMessageID)
}

type ScheduleActionCommand struct {
	service MutatingService
}

func NewScheduleActionCommand(service MutatingService) *ScheduleActionCommand {
	return &ScheduleActionCommand{service: service}
}

func (c *ScheduleActionCommand) Execute(ctx context.Context, msg ScheduleActionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: action service is required")
	}
	out, err := c.service.ScheduleAction(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CancelActionCommand struct {
	service MutatingService
}

func NewCancelActionCommand(service MutatingService) *CancelActionCommand {
	return &CancelActionCommand{service: service}
}

func (c *CancelActionCommand) Execute(ctx context.Context, msg CancelActionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: action service is required")
	}
	return c.service.CancelAction(ctx, msg.ActionID)
}

type DispatchDueActionsCommand struct {
	dispatcher DueActionDispatcher
}

func NewDispatchDueActionsCommand(dispatcher DueActionDispatcher) *DispatchDueActionsCommand {
	return &DispatchDueActionsCommand{dispatcher: dispatcher}
}

func (c *DispatchDueActionsCommand) Execute(ctx context.Context, _ DispatchDueActionsMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: action dispatcher is required")
	}
	stats, err := c.dispatcher.RunOnce(ctx)
	storeResult(ctx, stats)
	return err
}

type ProcessInboundCommand struct {
	service MutatingService
}

func NewProcessInboundCommand(service MutatingService) *ProcessInboundCommand {
	return &ProcessInboundCommand{service: service}
}

func (c *ProcessInboundCommand) Execute(ctx context.Context, msg ProcessInboundMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: inbound service is required")
	}
	out, err := c.service.ProcessInbound(ctx, msg.Email)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SubscribeMailboxCommand struct {
	service MutatingService
}

func NewSubscribeMailboxCommand(service MutatingService) *SubscribeMailboxCommand {
	return &SubscribeMailboxCommand{service: service}
}

func (c *SubscribeMailboxCommand) Execute(ctx context.Context, msg SubscribeMailboxMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscription service is required")
	}
	out, err := c.service.SubscribeMailbox(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RenewSubscriptionCommand struct {
	service MutatingService
}

func NewRenewSubscriptionCommand(service MutatingService) *RenewSubscriptionCommand {
	return &RenewSubscriptionCommand{service: service}
}

func (c *RenewSubscriptionCommand) Execute(ctx context.Context, msg RenewSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscription service is required")
	}
	out, err := c.service.RenewMailboxSubscription(ctx, msg.SubscriptionID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RenewDueSubscriptionsCommand struct {
	renewer DueSubscriptionRenewer
}

func NewRenewDueSubscriptionsCommand(renewer DueSubscriptionRenewer) *RenewDueSubscriptionsCommand {
	return &RenewDueSubscriptionsCommand{renewer: renewer}
}

func (c *RenewDueSubscriptionsCommand) Execute(ctx context.Context, _ RenewDueSubscriptionsMessage) error {
	if c == nil || c.renewer == nil {
		return commandDependencyError("command: subscription renewer is required")
	}
	stats, err := c.renewer.RenewDue(ctx)
	storeResult(ctx, stats)
	return err
}

type CancelSubscriptionCommand struct {
	service MutatingService
}

func NewCancelSubscriptionCommand(service MutatingService) *CancelSubscriptionCommand {
	return &CancelSubscriptionCommand{service: service}
}

func (c *CancelSubscriptionCommand) Execute(ctx context.Context, msg CancelSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscription service is required")
	}
	return c.service.CancelMailboxSubscription(ctx, msg.SubscriptionID, msg.Reason)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
