package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"

	"github.com/goliatone/go-outreach/schedule"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
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
	registry          Registry
	threadStore       ThreadStore
	inboundStore      InboundMessageStore
	outboundStore     OutboundMessageStore
	actionStore       ScheduledActionStore
	replyEventLog     ReplyEventLog
	subscriptionStore MailboxSubscriptionStore
	replySinks        []ReplyEventSink
	matchStrategies   []MatchStrategy
	now               func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

// WithRepositoryFactory accepts a RepositoryStoreFactory or a StoreProvider.
func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithZoneDB(zones schedule.ZoneDB) Option {
	return func(b *serviceBuilder) {
		b.zoneDB = zones
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithThreadStore(store ThreadStore) Option {
	return func(b *serviceBuilder) {
		b.threadStore = store
	}
}

func WithInboundMessageStore(store InboundMessageStore) Option {
	return func(b *serviceBuilder) {
		b.inboundStore = store
	}
}

func WithOutboundMessageStore(store OutboundMessageStore) Option {
	return func(b *serviceBuilder) {
		b.outboundStore = store
	}
}

func WithScheduledActionStore(store ScheduledActionStore) Option {
	return func(b *serviceBuilder) {
		b.actionStore = store
	}
}

func WithReplyEventLog(log ReplyEventLog) Option {
	return func(b *serviceBuilder) {
		b.replyEventLog = log
	}
}

func WithMailboxSubscriptionStore(store MailboxSubscriptionStore) Option {
	return func(b *serviceBuilder) {
		b.subscriptionStore = store
	}
}

func WithReplyEventSink(sink ReplyEventSink) Option {
	return func(b *serviceBuilder) {
		if sink != nil {
			b.replySinks = append(b.replySinks, sink)
		}
	}
}

// WithMatchStrategies replaces the default matching cascade.
func WithMatchStrategies(strategies ...MatchStrategy) Option {
	return func(b *serviceBuilder) {
		b.matchStrategies = append([]MatchStrategy(nil), strategies...)
	}
}

// WithClock overrides the time source; tests use it to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("outreach", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		zoneDB:          schedule.DefaultZoneDB(),
		registry:        NewProviderRegistry(),
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, true),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// configToLayerMap drops zero values from the runtime layer so they do not
// mask lower layers. The loaded layer already carries defaults, so it is kept
// whole; booleans that default to true are disabled through config only.
func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	if includeZero || strings.TrimSpace(cfg.DefaultTimezone) != "" {
		layer["default_timezone"] = cfg.DefaultTimezone
	}

	scheduleLayer := map[string]any{}
	if includeZero || cfg.Schedule.StrictValidation {
		scheduleLayer["strict_validation"] = cfg.Schedule.StrictValidation
	}
	if includeZero || cfg.Schedule.UTCFallback {
		scheduleLayer["utc_fallback"] = cfg.Schedule.UTCFallback
	}
	if len(scheduleLayer) > 0 {
		layer["schedule"] = scheduleLayer
	}

	matchingLayer := map[string]any{}
	if includeZero || cfg.Matching.SubjectScanLimit > 0 {
		matchingLayer["subject_scan_limit"] = cfg.Matching.SubjectScanLimit
	}
	if includeZero || cfg.Matching.DisableSubjectFallback {
		matchingLayer["disable_subject_fallback"] = cfg.Matching.DisableSubjectFallback
	}
	if len(matchingLayer) > 0 {
		layer["matching"] = matchingLayer
	}
	return layer
}
