package outreach

import (
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/schedule"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies
type Registry = core.Registry
type MailboxProvider = core.MailboxProvider
type MetricsRecorder = core.MetricsRecorder
type ReplyEventSink = core.ReplyEventSink
type MatchStrategy = core.MatchStrategy

type ScheduleSpec = core.ScheduleSpec
type QuietHours = core.QuietHours
type Resolution = schedule.Resolution

type QueueOutboundRequest = core.QueueOutboundRequest
type MarkOutboundSentRequest = core.MarkOutboundSentRequest
type ScheduleActionRequest = core.ScheduleActionRequest
type SubscribeMailboxRequest = core.SubscribeMailboxRequest
type InboundEmail = core.InboundEmail
type InboundOutcome = core.InboundOutcome

type ActionDispatcher = core.ActionDispatcher
type ActionDispatcherConfig = core.ActionDispatcherConfig
type SubscriptionRenewer = core.SubscriptionRenewer
type SubscriptionRenewerConfig = core.SubscriptionRenewerConfig
type TenantBreakers = core.TenantBreakers
type TenantBreakerConfig = core.TenantBreakerConfig

var (
	WithLogger                   = core.WithLogger
	WithLoggerProvider           = core.WithLoggerProvider
	WithMetricsRecorder          = core.WithMetricsRecorder
	WithErrorFactory             = core.WithErrorFactory
	WithErrorMapper              = core.WithErrorMapper
	WithPersistenceClient        = core.WithPersistenceClient
	WithRepositoryFactory        = core.WithRepositoryFactory
	WithConfigProvider           = core.WithConfigProvider
	WithOptionsResolver          = core.WithOptionsResolver
	WithZoneDB                   = core.WithZoneDB
	WithRegistry                 = core.WithRegistry
	WithThreadStore              = core.WithThreadStore
	WithInboundMessageStore      = core.WithInboundMessageStore
	WithOutboundMessageStore     = core.WithOutboundMessageStore
	WithScheduledActionStore     = core.WithScheduledActionStore
	WithReplyEventLog            = core.WithReplyEventLog
	WithMailboxSubscriptionStore = core.WithMailboxSubscriptionStore
	WithReplyEventSink           = core.WithReplyEventSink
	WithMatchStrategies          = core.WithMatchStrategies
	WithClock                    = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
