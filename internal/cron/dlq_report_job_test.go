package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/chatdesk-backend/pkg/enums"
	"github.com/angelmondragon/chatdesk-backend/pkg/logger"
	"github.com/angelmondragon/chatdesk-backend/pkg/metrics"
)

type fakeDLQCounter struct {
	counts map[enums.OutboxDLQErrorReason]int64
	err    error
}

func (f fakeDLQCounter) CountByReason(context.Context) (map[enums.OutboxDLQErrorReason]int64, error) {
	return f.counts, f.err
}

func TestDLQReportJobSetsBacklogGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	job, err := NewDLQReportJob(logg, fakeDLQCounter{counts: map[enums.OutboxDLQErrorReason]int64{
		enums.OutboxDLQReasonNonRetryable: 3,
	}}, metrics.NewCronJobMetrics(reg))
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Contains(t, buf.String(), "outbox dead letters awaiting review")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	backlog := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "chatdesk_cron_outbox_dlq_backlog" {
			continue
		}
		for _, m := range mf.GetMetric() {
			backlog[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"max_attempts": 0, "non_retryable": 3}, backlog)
}

func TestDLQReportJobWrapsCountError(t *testing.T) {
	job, err := NewDLQReportJob(logger.Nop(), fakeDLQCounter{err: errors.New("db gone")}, nil)
	require.NoError(t, err)
	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count outbox_dlq")
}

func TestNewDLQReportJobRequiresRepository(t *testing.T) {
	_, err := NewDLQReportJob(logger.Nop(), nil, nil)
	require.Error(t, err)
}
