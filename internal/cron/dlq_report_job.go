package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
)

const dlqReportName = "outbox-dlq-report"

type deadLetterCounter interface {
	CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error)
}

// NewDLQReportJob publishes the dead letter backlog as a gauge and warns
// while it is non-empty.
func NewDLQReportJob(logg *logger.Logger, dlq deadLetterCounter, m *metrics.CronJobMetrics) (Job, error) {
	if dlq == nil {
		return nil, errors.New("dlq repository required")
	}
	return &dlqReportJob{logg: logg, dlq: dlq, metrics: m}, nil
}

type dlqReportJob struct {
	logg    *logger.Logger
	dlq     deadLetterCounter
	metrics *metrics.CronJobMetrics
}

func (j *dlqReportJob) Name() string { return dlqReportName }

func (j *dlqReportJob) Run(ctx context.Context) error {
	counts, err := j.dlq.CountByReason(ctx)
	if err != nil {
		return fmt.Errorf("count outbox_dlq: %w", err)
	}

	fields := make(map[string]any, len(counts)+1)
	var total int64
	// Known reasons are always reported so a drained backlog resets to zero.
	for _, reason := range []enums.OutboxDLQErrorReason{enums.OutboxDLQReasonMaxAttempts, enums.OutboxDLQReasonNonRetryable} {
		j.metrics.DLQBacklog(string(reason), counts[reason])
	}
	for reason, n := range counts {
		fields[string(reason)] = n
		total += n
	}
	fields["total"] = total

	logCtx := j.logg.WithFields(ctx, fields)
	if total > 0 {
		j.logg.Warn(logCtx, "outbox dead letters awaiting review")
		return nil
	}
	j.logg.Debug(logCtx, "outbox dead letter queue empty")
	return nil
}
