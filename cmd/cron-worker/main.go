package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/chatdesk-backend/internal/cron"
	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/db"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
	"github.com/angelmondragon/chatdesk-backend/pkg/migrate"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox"
	"github.com/angelmondragon/chatdesk-backend/pkg/redis"
)

const serviceName = "chatdesk-cron-worker"

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit non-zero if any job failed")
	only := flag.String("job", "", "comma separated job names to run (default: all)")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "config load failed", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "once": *once})

	if err := run(ctx, cfg, logg, *once, splitNames(*only)); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker exited with error", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker stopped")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, once bool, only []string) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	dlqRepo := outbox.NewDLQRepository(dbClient.DB())
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Outbox:        outbox.NewRepository(dbClient.DB()),
		DLQ:           dlqRepo,
		Metrics:       cronMetrics,
		RetentionDays: cfg.Cron.OutboxRetentionDays,
		DLQDays:       cfg.Cron.DLQRetentionDays,
	})
	if err != nil {
		return err
	}

	dlqReport, err := cron.NewDLQReportJob(logg, dlqRepo, cronMetrics)
	if err != nil {
		return err
	}

	registry, err := cron.NewRegistry(retention, dlqReport)
	if err != nil {
		return err
	}
	if registry, err = registry.Only(only...); err != nil {
		return err
	}

	locker, err := cron.NewRedisLocker(redisClient, redisClient.Key("cron", envOrLocal(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		return err
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locker:   locker,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return err
	}

	logg.Info(logg.WithField(ctx, "interval", cfg.Cron.Interval.String()), "cron worker started")
	if once {
		return service.RunOnce(ctx)
	}
	return service.Run(ctx)
}

func splitNames(raw string) []string {
	var names []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
