package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	outreach "github.com/goliatone/go-outreach"
	"github.com/goliatone/go-outreach/adapters/gologger"
	"github.com/goliatone/go-outreach/auth"
	outreachprometheus "github.com/goliatone/go-outreach/adapters/prometheus"
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/providers/google/gmail"
	"github.com/goliatone/go-outreach/providers/microsoft/graph"
	sqlstore "github.com/goliatone/go-outreach/store/sql"
	"github.com/goliatone/go-outreach/transport"
	"github.com/goliatone/go-outreach/webhooks"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var migrateFirst bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher, subscription renewer and webhook endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts.settings, migrateFirst)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "Apply migrations before starting")
	return cmd
}

func serve(ctx context.Context, settings Settings, migrateFirst bool) error {
	logger := gologger.NewZerologLogger(os.Stdout, "outreachd", settings.Log.Level)
	loggers := gologger.NewZerologProvider(logger)

	client, dialect, err := openDatabase(settings.Database)
	if err != nil {
		return err
	}
	defer client.Close()
	if migrateFirst {
		if _, err := migrate(ctx, client, dialect); err != nil {
			return err
		}
	}
	opts, err := factoryOptions(settings.Database)
	if err != nil {
		return err
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, opts...)
	if err != nil {
		return err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := outreachprometheus.NewRecorder(metrics)

	registry := core.NewProviderRegistry()
	if err := registerProviders(registry, settings); err != nil {
		return err
	}

	svc, err := outreach.NewService(outreach.Config{},
		outreach.WithConfigProvider(core.NewCfgxConfigProvider(core.StaticRawConfigLoader{Values: settings.Outreach})),
		outreach.WithRepositoryFactory(factory),
		outreach.WithLoggerProvider(loggers),
		outreach.WithMetricsRecorder(recorder),
		outreach.WithRegistry(registry),
	)
	if err != nil {
		return err
	}

	dispatcher, err := newDispatcher(svc, settings)
	if err != nil {
		return err
	}
	renewer, err := svc.NewSubscriptionRenewer(outreach.SubscriptionRenewerConfig{
		LeadTime:             settings.Renewal.LeadTime,
		Workers:              settings.Renewal.Workers,
		ErroredRetryInterval: settings.Renewal.ErroredRetry,
	})
	if err != nil {
		return err
	}
	runner, err := core.NewPeriodicRunner(gologger.Resolve("runner", loggers, nil).Logger, core.OutreachTasks(dispatcher, renewer, core.PeriodicSchedules{
		Dispatch:     settings.Schedules.Dispatch,
		ReleaseStale: settings.Schedules.ReleaseStale,
		Renew:        settings.Schedules.Renew,
	})...)
	if err != nil {
		return err
	}

	router, err := newRouter(svc, settings, metrics, loggers)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              settings.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := runner.Start(ctx); err != nil {
		return err
	}
	defer runner.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("outreachd listening", "addr", settings.Server.Addr, "dialect", dialect)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := settings.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info("outreachd shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return recorder.Err()
}

func newDispatcher(svc *outreach.Service, settings Settings) (*outreach.ActionDispatcher, error) {
	options := []core.ActionDispatcherOption{}
	if settings.Actions.ForwardURL != "" {
		forwarder, err := transport.NewActionForwarder(settings.Actions.ForwardURL, settings.Actions.Token, nil)
		if err != nil {
			return nil, err
		}
		for _, actionType := range []core.ActionType{
			core.ActionSendEmail,
			core.ActionSendSMS,
			core.ActionFollowUp,
			core.ActionAdvanceStep,
			core.ActionStopSequence,
		} {
			options = append(options, core.WithActionExecutor(actionType, forwarder))
		}
	}
	return svc.NewActionDispatcher(outreach.ActionDispatcherConfig{
		BatchSize:   settings.Dispatch.BatchSize,
		Workers:     settings.Dispatch.Workers,
		MaxAttempts: settings.Dispatch.MaxAttempts,
	}, options...)
}

func registerProviders(registry core.Registry, settings Settings) error {
	if settings.Gmail.TopicName != "" {
		tokens, err := gmailTokenSource(settings.Gmail)
		if err != nil {
			return err
		}
		provider, err := gmail.New(gmail.Config{
			TopicName:   settings.Gmail.TopicName,
			LabelIDs:    settings.Gmail.LabelIDs,
			TokenSource: tokens,
		})
		if err != nil {
			return err
		}
		if err := registry.Register(provider); err != nil {
			return err
		}
	}
	if settings.Graph.Enabled {
		tokens, err := graphTokenSource(settings.Graph)
		if err != nil {
			return err
		}
		provider, err := graph.New(graph.Config{TokenSource: tokens})
		if err != nil {
			return err
		}
		if err := registry.Register(provider); err != nil {
			return err
		}
	}
	return nil
}

func newRouter(svc *outreach.Service, settings Settings, metrics *prometheus.Registry, loggers *gologger.ZerologProvider) (*mux.Router, error) {
	hooks := outreach.NewExtensionHooks()
	templates := []webhooks.ProviderWebhookTemplate{}
	if settings.Webhooks.MIMESecret != "" {
		templates = append(templates, outreach.MIMEWebhook("mime", settings.Webhooks.MIMESecret))
	}
	if settings.Webhooks.JSONToken != "" {
		templates = append(templates, outreach.JSONWebhook("json", "", settings.Webhooks.JSONToken))
	}
	if len(templates) > 0 {
		if err := hooks.RegisterWebhookPack(outreach.WebhookTemplatePack{Name: "builtin", Templates: templates}); err != nil {
			return nil, err
		}
	}

	handlerOpts := []webhooks.HandlerOption{webhooks.WithHandlerLogger(gologger.Resolve("webhooks", loggers, nil).Logger)}
	if settings.Server.MaxBodyBytes > 0 {
		handlerOpts = append(handlerOpts, webhooks.WithMaxBodyBytes(settings.Server.MaxBodyBytes))
	}
	handler := webhooks.NewHandler(handlerOpts...)
	if err := hooks.MountWebhooks(handler, svc); err != nil {
		return nil, err
	}

	router := mux.NewRouter()
	handler.Mount(router)
	router.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return router, nil
}

func gmailTokenSource(settings GmailSettings) (transport.TokenSource, error) {
	if settings.KeyFile == "" {
		return staticToken(settings.Token), nil
	}
	keyPEM, err := os.ReadFile(settings.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read gmail key file: %w", err)
	}
	source, err := auth.NewServiceAccount(auth.ServiceAccountConfig{
		Email:         settings.ServiceAccountEmail,
		PrivateKeyPEM: keyPEM,
		KeyID:         settings.KeyID,
	})
	if err != nil {
		return nil, err
	}
	return source.TokenSource(), nil
}

func graphTokenSource(settings GraphSettings) (transport.TokenSource, error) {
	if settings.ClientID == "" {
		return staticToken(settings.Token), nil
	}
	source, err := auth.NewClientCredentials(auth.ClientCredentialsConfig{
		TokenURL:     settings.TokenURL,
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
	})
	if err != nil {
		return nil, err
	}
	return source.TokenSource(), nil
}

func staticToken(token string) transport.TokenSource {
	return func(context.Context, string, string) (string, error) {
		if token == "" {
			return "", fmt.Errorf("provider token is not configured")
		}
		return token, nil
	}
}
