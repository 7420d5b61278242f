package core

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-outreach/schedule"
)

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	zoneDB            schedule.ZoneDB
	resolver          *schedule.Resolver
	matcher           *ReplyMatcher
	registry          Registry
	threadStore       ThreadStore
	inboundStore      InboundMessageStore
	outboundStore     OutboundMessageStore
	actionStore       ScheduledActionStore
	replyEventLog     ReplyEventLog
	subscriptionStore MailboxSubscriptionStore
	replySinks        []ReplyEventSink
	now               func() time.Time
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorFactory      ErrorFactory
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	ZoneDB            schedule.ZoneDB
	Resolver          *schedule.Resolver
	Matcher           *ReplyMatcher
	Registry          Registry
	ThreadStore       ThreadStore
	InboundStore      InboundMessageStore
	OutboundStore     OutboundMessageStore
	ActionStore       ScheduledActionStore
	ReplyEventLog     ReplyEventLog
	SubscriptionStore MailboxSubscriptionStore
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("outreach", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("outreach"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.zoneDB == nil {
		builder.zoneDB = schedule.DefaultZoneDB()
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if err := builder.resolveStores(); err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	resolver := schedule.NewResolver(
		schedule.WithZoneDB(builder.zoneDB),
		schedule.WithLogger(logger),
		schedule.WithDefaultTimezone(finalConfig.DefaultTimezone),
		schedule.WithUTCFallback(finalConfig.Schedule.UTCFallback),
	)

	strategies := builder.matchStrategies
	if len(strategies) == 0 {
		strategies = DefaultMatchStrategies(finalConfig.Matching)
	}
	matcher := NewReplyMatcher(MatchLookups{
		Threads:  builder.threadStore,
		Inbound:  builder.inboundStore,
		Outbound: builder.outboundStore,
	}, logger, strategies...)

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorFactory:      builder.errorFactory,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		zoneDB:            builder.zoneDB,
		resolver:          resolver,
		matcher:           matcher,
		registry:          builder.registry,
		threadStore:       builder.threadStore,
		inboundStore:      builder.inboundStore,
		outboundStore:     builder.outboundStore,
		actionStore:       builder.actionStore,
		replyEventLog:     builder.replyEventLog,
		subscriptionStore: builder.subscriptionStore,
		replySinks:        append([]ReplyEventSink(nil), builder.replySinks...),
		now:               builder.now,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

// resolveStores fills unset stores from the repository factory.
func (b *serviceBuilder) resolveStores() error {
	if b.repositoryFactory == nil {
		return nil
	}
	var provider StoreProvider
	switch factory := b.repositoryFactory.(type) {
	case RepositoryStoreFactory:
		built, err := factory.BuildStores(b.persistenceClient)
		if err != nil {
			return err
		}
		provider = built
	case StoreProvider:
		provider = factory
	default:
		return fmt.Errorf("core: unsupported repository factory %T", b.repositoryFactory)
	}
	if provider == nil {
		return nil
	}
	if b.threadStore == nil {
		b.threadStore = provider.ThreadStore()
	}
	if b.inboundStore == nil {
		b.inboundStore = provider.InboundMessageStore()
	}
	if b.outboundStore == nil {
		b.outboundStore = provider.OutboundMessageStore()
	}
	if b.actionStore == nil {
		b.actionStore = provider.ScheduledActionStore()
	}
	if b.replyEventLog == nil {
		b.replyEventLog = provider.ReplyEventLog()
	}
	if b.subscriptionStore == nil {
		b.subscriptionStore = provider.MailboxSubscriptionStore()
	}
	return nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorFactory:      s.errorFactory,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		ZoneDB:            s.zoneDB,
		Resolver:          s.resolver,
		Matcher:           s.matcher,
		Registry:          s.registry,
		ThreadStore:       s.threadStore,
		InboundStore:      s.inboundStore,
		OutboundStore:     s.outboundStore,
		ActionStore:       s.actionStore,
		ReplyEventLog:     s.replyEventLog,
		SubscriptionStore: s.subscriptionStore,
	}
}

// Resolver exposes the schedule resolver configured for this service.
func (s *Service) Resolver() *schedule.Resolver {
	if s == nil {
		return nil
	}
	return s.resolver
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) clock() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

func (s *Service) resolveProvider(providerID string) (MailboxProvider, error) {
	if s != nil && s.registry != nil {
		if provider, ok := s.registry.Get(providerID); ok {
			return provider, nil
		}
	}
	return nil, providerNotFoundError(providerID)
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func mergeAnyMap(base map[string]any, overlay map[string]any) map[string]any {
	out := copyAnyMap(base)
	for key, value := range overlay {
		out[key] = value
	}
	return out
}
