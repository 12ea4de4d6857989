package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics tracks maintenance job runs per job name.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	rows     *prometheus.CounterVec
	backlog  *prometheus.GaugeVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "cron",
		Name:      "job_duration_seconds",
		Help:      "Duration of maintenance jobs.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cron",
		Name:      "job_runs_total",
		Help:      "Maintenance job executions by outcome.",
	}, []string{"job", "outcome"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cron",
		Name:      "rows_deleted_total",
		Help:      "Rows removed by retention jobs, by table.",
	}, []string{"job", "table"})
	backlog := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cron",
		Name:      "outbox_dlq_backlog",
		Help:      "Dead letters on file at the last report, by reason.",
	}, []string{"reason"})
	reg.MustRegister(duration, runs, rows, backlog)
	return &CronJobMetrics{duration: duration, runs: runs, rows: rows, backlog: backlog}
}

func (c *CronJobMetrics) ObserveDuration(job string, took time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	c.duration.WithLabelValues(normalizeLabel(job)).Observe(took.Seconds())
}

func (c *CronJobMetrics) IncSuccess(job string) {
	c.incRun(job, OutcomeSuccess)
}

func (c *CronJobMetrics) IncFailure(job string) {
	c.incRun(job, OutcomeFailure)
}

// IncSkipped counts runs abandoned because another worker held the job lock.
func (c *CronJobMetrics) IncSkipped(job string) {
	c.incRun(job, OutcomeSkipped)
}

// RowsDeleted adds n to the per-table deletion counter. Zero is ignored.
func (c *CronJobMetrics) RowsDeleted(job, table string, n int64) {
	if c == nil || c.rows == nil || n <= 0 {
		return
	}
	c.rows.WithLabelValues(normalizeLabel(job), normalizeLabel(table)).Add(float64(n))
}

func (c *CronJobMetrics) incRun(job, outcome string) {
	if c == nil || c.runs == nil {
		return
	}
	c.runs.WithLabelValues(normalizeLabel(job), outcome).Inc()
}

func (c *CronJobMetrics) DLQBacklog(reason string, n int64) {
	if c == nil || c.backlog == nil {
		return
	}
	c.backlog.WithLabelValues(normalizeLabel(reason)).Set(float64(n))
}
