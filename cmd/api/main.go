package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"archie-core-connections-layer/internal/application"
	"archie-core-connections-layer/internal/config"
	"archie-core-connections-layer/internal/infrastructure/activity"
	"archie-core-connections-layer/internal/infrastructure/analytics"
	"archie-core-connections-layer/internal/infrastructure/api"
	"archie-core-connections-layer/internal/infrastructure/encryption"
	"archie-core-connections-layer/internal/infrastructure/lock"
	"archie-core-connections-layer/internal/infrastructure/metrics"
	"archie-core-connections-layer/internal/infrastructure/provider"
	"archie-core-connections-layer/internal/infrastructure/pubsub"
	"archie-core-connections-layer/internal/infrastructure/synctrigger"
	"archie-core-connections-layer/internal/infrastructure/telemetry"
	"archie-core-connections-layer/internal/ports"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, dotenv, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := newLogger(cfg)
	if !dotenv {
		logger.Warn().Msg(".env file not found, using process environment")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server stopped with error")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	var out io.Writer = os.Stdout
	if cfg.LogPretty {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", cfg.ServiceName).Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i].Close())
		}
	}()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, shutdownTracing(flushCtx))
	}()

	repos, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closers = append(closers, repos)

	codec, err := encryption.NewCodec(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize credential encryption: %w", err)
	}
	if !codec.Enabled() {
		logger.Warn().Msg("ENCRYPTION_KEY not set, credentials are stored in plaintext")
	}

	registry, err := provider.NewRegistry(cfg.ProvidersFile)
	if err != nil {
		return fmt.Errorf("failed to load provider templates: %w", err)
	}

	promMetrics := metrics.NewPrometheus()
	events := pubsub.NewConnectionPubSub(logger)
	parser := application.NewCredentialParser()
	tokenClient := &http.Client{Timeout: cfg.RefreshTimeout}

	// Optional collaborators stay nil interfaces when not configured
	var (
		syncTrigger ports.SyncTrigger
		sink        ports.AnalyticsSink
		refreshLock ports.RefreshLock
	)

	if cfg.RedisURL != "" {
		opt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		trigger := synctrigger.NewAsynqTrigger(opt, cfg.SyncQueue, cfg.SyncInitialDelay, logger)
		closers = append(closers, trigger)
		syncTrigger = trigger
	}

	if cfg.RefreshDistributedLock {
		redisOpt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(redisOpt)
		closers = append(closers, client)
		refreshLock = lock.NewRedisRefreshLock(client, cfg.RefreshLockTTL, logger)
		logger.Info().Dur("ttl", cfg.RefreshLockTTL).Msg("Distributed refresh lock enabled")
	}

	if cfg.PostHogAPIKey != "" {
		posthogSink, err := analytics.NewPostHogSink(cfg.PostHogAPIKey, cfg.PostHogEndpoint, logger)
		if err != nil {
			return err
		}
		closers = append(closers, posthogSink)
		sink = posthogSink
	}

	environments := application.NewEnvironmentService(repos.environments, logger)
	configs := application.NewProviderConfigService(repos.providerConfigs, codec, registry, logger)
	connections := application.NewConnectionService(repos.connections, repos.providerConfigs, repos.environments, codec, parser,
		application.ConnectionCollaborators{Sync: syncTrigger, Analytics: sink, Events: events}, logger)
	refresher := application.NewRefreshCoordinator(connections, configs, registry,
		provider.NewRefresherRegistry(tokenClient, logger), parser,
		application.RefreshCollaborators{
			Introspector: provider.NewIntrospectors(tokenClient, logger),
			Activity:     activity.NewLogger(repos.activities, logger),
			Events:       events,
			Metrics:      promMetrics,
			Lock:         refreshLock,
		}, cfg.RefreshTimeout, logger)
	credentials := application.NewCredentialsService(connections, refresher, sink, logger)
	proxy := application.NewProxyService(credentials, configs, registry, &http.Client{Timeout: cfg.ProxyTimeout},
		application.RetryPolicy{
			MaxRetries:        cfg.ProxyMaxRetries,
			BaseDelay:         cfg.ProxyRetryBaseDelay,
			MaxDelay:          cfg.ProxyRetryMaxDelay,
			RetryableStatuses: cfg.ProxyRetryStatuses,
		}, promMetrics, logger)

	if cfg.DefaultEnvironmentName != "" {
		env, err := environments.EnsureDefault(ctx, cfg.DefaultEnvironmentName, cfg.DefaultEnvironmentSecretKey)
		if err != nil {
			return fmt.Errorf("failed to bootstrap default environment: %w", err)
		}
		logger.Info().Int64("environmentId", env.ID).Str("environment", env.Name).Msg("Default environment ready")
	}

	router := api.NewRouter(api.Services{
		Environments:    environments,
		Connections:     connections,
		Credentials:     credentials,
		ProviderConfigs: configs,
		Proxy:           proxy,
		Providers:       registry,
		Events:          events,
	}, api.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsHandler: promMetrics.Handler(),
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("Starting API server")
		logger.Info().Msg("Swagger documentation available at http://localhost:" + cfg.Port + "/swagger/index.html")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
