package outreach

import (
	"fmt"

	outreachcommand "github.com/goliatone/go-outreach/command"
	outreachquery "github.com/goliatone/go-outreach/query"
)

type CommandQueryService interface {
	outreachcommand.MutatingService
	outreachquery.ThreadReader
	outreachquery.ActionReader
	outreachquery.ReplyEventReader
	outreachquery.SubscriptionReader
}

type Commands struct {
	CreateThread          *outreachcommand.CreateThreadCommand
	DeactivateThread      *outreachcommand.DeactivateThreadCommand
	QueueOutbound         *outreachcommand.QueueOutboundCommand
	MarkOutboundSent      *outreachcommand.MarkOutboundSentCommand
	MarkOutboundFailed    *outreachcommand.MarkOutboundFailedCommand
	CancelOutbound        *outreachcommand.CancelOutboundCommand
	ScheduleAction        *outreachcommand.ScheduleActionCommand
	CancelAction          *outreachcommand.CancelActionCommand
	ProcessInbound        *outreachcommand.ProcessInboundCommand
	SubscribeMailbox      *outreachcommand.SubscribeMailboxCommand
	RenewSubscription     *outreachcommand.RenewSubscriptionCommand
	CancelSubscription    *outreachcommand.CancelSubscriptionCommand
	DispatchDueActions    *outreachcommand.DispatchDueActionsCommand
	RenewDueSubscriptions *outreachcommand.RenewDueSubscriptionsCommand
}

type Queries struct {
	GetThread              *outreachquery.GetThreadQuery
	GetAction              *outreachquery.GetActionQuery
	ListReplyEvents        *outreachquery.ListReplyEventsQuery
	GetMailboxSubscription *outreachquery.GetMailboxSubscriptionQuery
	ResolveSchedule        *outreachquery.ResolveScheduleQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	dispatcher outreachcommand.DueActionDispatcher
	renewer    outreachcommand.DueSubscriptionRenewer
	resolver   outreachquery.ScheduleResolver
}

// WithDispatcher enables the DispatchDueActions command.
func WithDispatcher(dispatcher outreachcommand.DueActionDispatcher) FacadeOption {
	return func(options *facadeOptions) {
		options.dispatcher = dispatcher
	}
}

// WithRenewer enables the RenewDueSubscriptions command.
func WithRenewer(renewer outreachcommand.DueSubscriptionRenewer) FacadeOption {
	return func(options *facadeOptions) {
		options.renewer = renewer
	}
}

func WithScheduleResolver(resolver outreachquery.ScheduleResolver) FacadeOption {
	return func(options *facadeOptions) {
		options.resolver = resolver
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("outreach: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.resolver == nil {
		cfg.resolver = resolveScheduleResolver(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		CreateThread:       outreachcommand.NewCreateThreadCommand(service),
		DeactivateThread:   outreachcommand.NewDeactivateThreadCommand(service),
		QueueOutbound:      outreachcommand.NewQueueOutboundCommand(service),
		MarkOutboundSent:   outreachcommand.NewMarkOutboundSentCommand(service),
		MarkOutboundFailed: outreachcommand.NewMarkOutboundFailedCommand(service),
		CancelOutbound:     outreachcommand.NewCancelOutboundCommand(service),
		ScheduleAction:     outreachcommand.NewScheduleActionCommand(service),
		CancelAction:       outreachcommand.NewCancelActionCommand(service),
		ProcessInbound:     outreachcommand.NewProcessInboundCommand(service),
		SubscribeMailbox:   outreachcommand.NewSubscribeMailboxCommand(service),
		RenewSubscription:  outreachcommand.NewRenewSubscriptionCommand(service),
		CancelSubscription: outreachcommand.NewCancelSubscriptionCommand(service),
	}
	if cfg.dispatcher != nil {
		facade.commands.DispatchDueActions = outreachcommand.NewDispatchDueActionsCommand(cfg.dispatcher)
	}
	if cfg.renewer != nil {
		facade.commands.RenewDueSubscriptions = outreachcommand.NewRenewDueSubscriptionsCommand(cfg.renewer)
	}
	facade.queries = Queries{
		GetThread:              outreachquery.NewGetThreadQuery(service),
		GetAction:              outreachquery.NewGetActionQuery(service),
		ListReplyEvents:        outreachquery.NewListReplyEventsQuery(service),
		GetMailboxSubscription: outreachquery.NewGetMailboxSubscriptionQuery(service),
	}
	if cfg.resolver != nil {
		facade.queries.ResolveSchedule = outreachquery.NewResolveScheduleQuery(cfg.resolver)
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// resolveScheduleResolver picks up the resolver a *core.Service was built with.
func resolveScheduleResolver(service CommandQueryService) outreachquery.ScheduleResolver {
	if svc, ok := service.(*Service); ok && svc != nil {
		if resolver := svc.Resolver(); resolver != nil {
			return resolver
		}
	}
	return nil
}
