package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
)

const (
	outboxRetentionDays = 14
	dlqRetentionDays    = 90
	outboxRetentionName = "outbox-retention"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedOutboxPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams configures the outbox cleanup job. Zero retention
// values fall back to the package defaults.
type OutboxRetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Outbox        publishedOutboxPruner
	DLQ           deadLetterPruner
	Metrics       *metrics.CronJobMetrics
	RetentionDays int
	DLQDays       int
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = outboxRetentionDays
	}
	dlqDays := params.DLQDays
	if dlqDays <= 0 {
		dlqDays = dlqRetentionDays
	}
	return &outboxRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		outbox:    params.Outbox,
		dlq:       params.DLQ,
		metrics:   params.Metrics,
		retention: retention,
		dlqDays:   dlqDays,
		now:       time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	outbox    publishedOutboxPruner
	dlq       deadLetterPruner
	metrics   *metrics.CronJobMetrics
	retention int
	dlqDays   int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return outboxRetentionName }

// Run prunes published outbox rows and old dead letters in separate
// transactions so one table failing does not block the other.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	outboxCutoff := now.Add(-time.Duration(j.retention) * 24 * time.Hour)
	dlqCutoff := now.Add(-time.Duration(j.dlqDays) * 24 * time.Hour)

	var published, deadLetters int64
	var errs error

	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.outbox.DeletePublishedBefore(tx, outboxCutoff)
		published = rows
		return err
	})
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("prune outbox_events: %w", err))
	} else {
		j.metrics.RowsDeleted(outboxRetentionName, "outbox_events", published)
	}

	if j.dlq != nil {
		err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
			rows, err := j.dlq.DeleteFailedBefore(tx, dlqCutoff)
			deadLetters = rows
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("prune outbox_dlq: %w", err))
		} else {
			j.metrics.RowsDeleted(outboxRetentionName, "outbox_dlq", deadLetters)
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"outbox_cutoff":     outboxCutoff,
		"dlq_cutoff":        dlqCutoff,
		"published_deleted": published,
		"dlq_deleted":       deadLetters,
	})
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return errs
}
