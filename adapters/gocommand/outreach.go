package gocommand

import (
	"fmt"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	outreachcommand "github.com/goliatone/go-outreach/command"
	"github.com/goliatone/go-outreach/query"
)

// OutreachReader is the read surface backing the query handlers.
type OutreachReader interface {
	query.ThreadReader
	query.ActionReader
	query.ReplyEventReader
	query.SubscriptionReader
}

// OutreachHandlers collects the dependencies for every outreach command and
// query. Nil dispatcher or renewer skips the matching batch commands.
type OutreachHandlers struct {
	Service    outreachcommand.MutatingService
	Reader     OutreachReader
	Resolver   query.ScheduleResolver
	Dispatcher outreachcommand.DueActionDispatcher
	Renewer    outreachcommand.DueSubscriptionRenewer
}

// Subscriptions groups dispatcher subscriptions so callers can tear them
// down together.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterOutreach registers and subscribes all outreach commands and
// queries. On failure every subscription made so far is removed.
func RegisterOutreach(adapter *RegistryAdapter, handlers OutreachHandlers) (Subscriptions, error) {
	if handlers.Service == nil {
		return nil, fmt.Errorf("gocommand: outreach service is required")
	}
	if handlers.Reader == nil {
		return nil, fmt.Errorf("gocommand: outreach reader is required")
	}

	subs := Subscriptions{}
	register := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	svc := handlers.Service
	steps := []func() error{
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewCreateThreadCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewDeactivateThreadCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewQueueOutboundCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewMarkOutboundSentCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewMarkOutboundFailedCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewCancelOutboundCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewScheduleActionCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewCancelActionCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewProcessInboundCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewSubscribeMailboxCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewRenewSubscriptionCommand(svc))) },
		func() error { return register(RegisterAndSubscribe(adapter, outreachcommand.NewCancelSubscriptionCommand(svc))) },
		func() error {
			return register(RegisterAndSubscribeQuery(adapter, query.NewGetThreadQuery(handlers.Reader)))
		},
		func() error {
			return register(RegisterAndSubscribeQuery(adapter, query.NewGetActionQuery(handlers.Reader)))
		},
		func() error {
			return register(RegisterAndSubscribeQuery(adapter, query.NewListReplyEventsQuery(handlers.Reader)))
		},
		func() error {
			return register(RegisterAndSubscribeQuery(adapter, query.NewGetMailboxSubscriptionQuery(handlers.Reader)))
		},
	}
	if handlers.Resolver != nil {
		steps = append(steps, func() error {
			return register(RegisterAndSubscribeQuery(adapter, query.NewResolveScheduleQuery(handlers.Resolver)))
		})
	}
	if handlers.Dispatcher != nil {
		steps = append(steps, func() error {
			return register(RegisterAndSubscribe(adapter, outreachcommand.NewDispatchDueActionsCommand(handlers.Dispatcher)))
		})
	}
	if handlers.Renewer != nil {
		steps = append(steps, func() error {
			return register(RegisterAndSubscribe(adapter, outreachcommand.NewRenewDueSubscriptionsCommand(handlers.Renewer)))
		})
	}

	for _, step := range steps {
		if err := step(); err != nil {
			subs.Unsubscribe()
			return nil, err
		}
	}
	return subs, nil
}
