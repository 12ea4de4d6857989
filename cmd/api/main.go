package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/chatdesk-backend/api/routes"
	"github.com/angelmondragon/chatdesk-backend/internal/assignments"
	"github.com/angelmondragon/chatdesk-backend/internal/connections"
	"github.com/angelmondragon/chatdesk-backend/internal/distribution"
	"github.com/angelmondragon/chatdesk-backend/internal/pipeline"
	"github.com/angelmondragon/chatdesk-backend/internal/webhooks"
	"github.com/angelmondragon/chatdesk-backend/internal/workspaces"
	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/db"
	"github.com/angelmondragon/chatdesk-backend/pkg/idempotency"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
	"github.com/angelmondragon/chatdesk-backend/pkg/migrate"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox"
	"github.com/angelmondragon/chatdesk-backend/pkg/providers"
	"github.com/angelmondragon/chatdesk-backend/pkg/redis"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	domainMetrics := metrics.NewDomain(registry)

	services, forwarder, err := buildServices(cfg, logg, dbClient, redisClient, domainMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, registry, services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	logg.Info(ctx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "graceful shutdown failed", err)
	}
	// in-flight automation deliveries finish on their own timeouts
	forwarder.Wait()
	logg.Info(ctx, "api server stopped")
}

func buildServices(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	domainMetrics *metrics.Domain,
) (routes.Services, *webhooks.HTTPForwarder, error) {
	conn := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(conn), logg)
	workspaceRepo := workspaces.NewRepository(conn)

	connectionRegistry, err := connections.NewRegistry(
		connections.NewRepository(conn),
		cfg.Webhook.RegistryCacheSize,
		cfg.Webhook.RegistryCacheTTL,
	)
	if err != nil {
		return routes.Services{}, nil, err
	}
	connectionSvc, err := connections.NewService(connections.ServiceParams{
		Repository:        connections.NewRepository(conn),
		TransactionRunner: dbClient,
		Outbox:            outboxSvc,
		Registry:          connectionRegistry,
		Logger:            logg,
	})
	if err != nil {
		return routes.Services{}, nil, err
	}

	assignmentSvc, err := assignments.NewService(assignments.ServiceParams{
		Repository:        assignments.NewRepository(conn),
		TransactionRunner: dbClient,
		Outbox:            outboxSvc,
		Metrics:           domainMetrics,
		Logger:            logg,
	})
	if err != nil {
		return routes.Services{}, nil, err
	}

	distributionSvc, err := distribution.NewService(distribution.ServiceParams{
		Repository:  distribution.NewRepository(conn),
		Assignments: assignmentSvc,
		Metrics:     domainMetrics,
		Logger:      logg,
	})
	if err != nil {
		return routes.Services{}, nil, err
	}

	pipelineSvc, err := pipeline.NewService(pipeline.ServiceParams{
		Repository:        pipeline.NewRepository(conn),
		Workspaces:        workspaceRepo,
		TransactionRunner: dbClient,
		Outbox:            outboxSvc,
		Metrics:           domainMetrics,
		Logger:            logg,
	})
	if err != nil {
		return routes.Services{}, nil, err
	}

	configurer, err := webhooks.NewConfigurer(webhooks.ConfigurerParams{
		Connections: connectionSvc,
		Providers:   providers.NewRegistry(cfg.Providers),
		CallbackURL: cfg.Webhook.CallbackURL,
		Logger:      logg,
	})
	if err != nil {
		return routes.Services{}, nil, err
	}

	dedupe, err := idempotency.NewManager(redisClient, cfg.Webhook.DedupeTTL)
	if err != nil {
		return routes.Services{}, nil, err
	}

	forwarder := webhooks.NewHTTPForwarder(webhooks.HTTPForwarderParams{
		Timeout:     cfg.Webhook.ForwardTimeout,
		Concurrency: cfg.Webhook.ForwardConcurrency,
		Logger:      logg,
		Metrics:     domainMetrics,
	})

	ingest, err := webhooks.NewService(webhooks.ServiceParams{
		Connections: connectionRegistry,
		SyncStatus:  connectionSvc,
		Workspaces:  workspaceRepo,
		Forwarder:   forwarder,
		Dedupe:      dedupe,
		Metrics:     domainMetrics,
		Logger:      logg,
	})
	if err != nil {
		return routes.Services{}, nil, err
	}

	return routes.Services{
		Webhooks:     ingest,
		Configurer:   configurer,
		Assignments:  assignmentSvc,
		Distribution: distributionSvc,
		Pipeline:     pipelineSvc,
	}, forwarder, nil
}
