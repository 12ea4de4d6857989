package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/chatdesk-backend/pkg/amqp"
	"github.com/angelmondragon/chatdesk-backend/pkg/config"
	"github.com/angelmondragon/chatdesk-backend/pkg/db"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
	"github.com/angelmondragon/chatdesk-backend/pkg/migrate"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox"
	"github.com/angelmondragon/chatdesk-backend/pkg/outbox/registry"
	"github.com/angelmondragon/chatdesk-backend/pkg/pubsub"
)

const serviceName = "chatdesk-outbox-publisher"

func main() {
	once := flag.Bool("once", false, "publish until the outbox is empty, then exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{ServiceName: serviceName}).Error(context.Background(), "config load failed", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "outbox-publisher"

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "once": *once})

	if err := run(ctx, cfg, logg, *once); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "outbox publisher exited with error", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher stopped")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, once bool) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}

	broker, closeBroker, err := newTransport(ctx, cfg, logg)
	if err != nil {
		return fmt.Errorf("broker transport: %w", err)
	}
	defer func() {
		if err := closeBroker(); err != nil {
			logg.Error(ctx, "error closing broker transport", err)
		}
	}()

	service, err := NewService(ServiceParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Transport:     broker,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: outbox.NewDLQRepository(dbClient.DB()),
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return err
	}

	ctx = logg.WithField(ctx, "transport", broker.Name())
	if once {
		batches, err := service.Drain(ctx)
		logg.Info(logg.WithField(ctx, "batches", batches), "outbox drained")
		return err
	}
	logg.Info(ctx, "outbox publisher started")
	return service.Run(ctx)
}

// newTransport picks the broker named by CHATDESK_OUTBOX_TRANSPORT.
func newTransport(ctx context.Context, cfg *config.Config, logg *logger.Logger) (transport, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Outbox.Transport)) {
	case "", config.OutboxTransportPubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, nil, err
		}
		return newPubSubTransport(client), client.Close, nil
	case config.OutboxTransportAMQP:
		pub, err := amqp.NewPublisher(ctx, cfg.AMQP, logg)
		if err != nil {
			return nil, nil, err
		}
		return newAMQPTransport(pub), pub.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown outbox transport %q", cfg.Outbox.Transport)
	}
}
