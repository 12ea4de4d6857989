package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatdesk"

// Outcome labels shared by the counters below.
const (
	OutcomeAccepted  = "accepted"
	OutcomeRejected  = "rejected"
	OutcomeUnknown   = "unknown_instance"
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDropped   = "dropped"
	OutcomeClaimed   = "claimed"
	OutcomeLost      = "lost"
	OutcomeNotOpen   = "not_open"
	OutcomeSkipped   = "skipped"
	OutcomeDuplicate = "duplicate"
)

// Domain groups the counters emitted by the request path. A nil *Domain and
// a Domain built from a nil registerer are both no-ops.
type Domain struct {
	webhookEvents    *prometheus.CounterVec
	webhookForwards  *prometheus.CounterVec
	forwardDuration  prometheus.Histogram
	assignmentClaims *prometheus.CounterVec
	distributions    *prometheus.CounterVec
	pipelineCards    *prometheus.CounterVec
}

// NewDomain registers the domain metrics on the provided registerer.
func NewDomain(reg prometheus.Registerer) *Domain {
	if reg == nil {
		return &Domain{}
	}
	d := &Domain{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Provider callbacks received, by canonical event type and outcome.",
		}, []string{"provider", "event_type", "outcome"}),
		webhookForwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_forward_total",
			Help:      "Normalized events forwarded to workspace automation endpoints.",
		}, []string{"outcome"}),
		forwardDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_forward_duration_seconds",
			Help:      "Latency of automation webhook deliveries.",
			Buckets:   prometheus.DefBuckets,
		}),
		assignmentClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignment_claims_total",
			Help:      "Conversation claim attempts by outcome.",
		}, []string{"outcome"}),
		distributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "distribution_total",
			Help:      "Queue distribution decisions.",
		}, []string{"action", "distribution_type"}),
		pipelineCards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_cards_total",
			Help:      "EnsureCard results by action.",
		}, []string{"action"}),
	}
	reg.MustRegister(
		d.webhookEvents,
		d.webhookForwards,
		d.forwardDuration,
		d.assignmentClaims,
		d.distributions,
		d.pipelineCards,
	)
	return d
}

func (d *Domain) WebhookEvent(provider, eventType, outcome string) {
	if d == nil || d.webhookEvents == nil {
		return
	}
	d.webhookEvents.WithLabelValues(normalizeLabel(provider), normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// WebhookForward records one delivery attempt and its latency.
func (d *Domain) WebhookForward(outcome string, took time.Duration) {
	if d == nil || d.webhookForwards == nil {
		return
	}
	d.webhookForwards.WithLabelValues(normalizeLabel(outcome)).Inc()
	if took > 0 {
		d.forwardDuration.Observe(took.Seconds())
	}
}

func (d *Domain) AssignmentClaim(outcome string) {
	if d == nil || d.assignmentClaims == nil {
		return
	}
	d.assignmentClaims.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (d *Domain) Distribution(action, distributionType string) {
	if d == nil || d.distributions == nil {
		return
	}
	d.distributions.WithLabelValues(normalizeLabel(action), normalizeLabel(distributionType)).Inc()
}

func (d *Domain) PipelineCard(action string) {
	if d == nil || d.pipelineCards == nil {
		return
	}
	d.pipelineCards.WithLabelValues(normalizeLabel(action)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
