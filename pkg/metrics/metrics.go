// Package metrics records internal instrumentation for the proxy core.
// There is no /metrics scrape endpoint here by design: this package only
// registers collectors against a Prometheus registry; the binary driver
// does not mount an HTTP handler for it either.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder exposes counters and histograms for every proxy-service
// decision path: policy decisions, approval outcomes, rate-limiter wait,
// stream duration, and upstream timeouts.
type Recorder struct {
	decisionsTotal     *prometheus.CounterVec
	policyEvaluations  prometheus.Counter
	approvalOutcomes   *prometheus.CounterVec
	approvalWait       prometheus.Histogram
	rateLimiterWait    prometheus.Histogram
	streamDuration     *prometheus.HistogramVec
	upstreamTimeouts   *prometheus.CounterVec
}

// NewRecorder registers all collectors against prometheus.DefaultRegisterer
// and returns a Recorder ready to use.
func NewRecorder() *Recorder {
	return NewRecorderWith(prometheus.DefaultRegisterer)
}

// NewRecorderWith registers against a caller-supplied registerer — tests
// use their own prometheus.NewRegistry() so repeated construction doesn't
// panic on duplicate metric names against the global default registry.
func NewRecorderWith(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		decisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thoughtgate_policy_decisions_total",
				Help: "Total number of policy decisions by kind",
			},
			[]string{"decision"}, // forward | approve | reject
		),
		policyEvaluations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "thoughtgate_policy_evaluations_total",
				Help: "Total number of policy engine evaluations",
			},
		),
		approvalOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thoughtgate_approval_outcomes_total",
				Help: "Terminal approval ticket outcomes by state",
			},
			[]string{"state"}, // granted | denied | expired | cancelled
		),
		approvalWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "thoughtgate_approval_wait_seconds",
				Help:    "Time a request spent suspended awaiting an approval verdict",
				Buckets: prometheus.DefBuckets,
			},
		),
		rateLimiterWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "thoughtgate_rate_limiter_wait_seconds",
				Help:    "Time an approval submission spent waiting for a rate-limiter token",
				Buckets: prometheus.DefBuckets,
			},
		),
		streamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "thoughtgate_stream_duration_seconds",
				Help:    "Duration of a forwarded response stream",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"}, // completed | chunk_timeout | total_timeout | transport_error
		),
		upstreamTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "thoughtgate_upstream_timeouts_total",
				Help: "Upstream timeouts by deadline kind",
			},
			[]string{"deadline"}, // chunk | total
		),
	}
}

func (r *Recorder) ObserveDecision(decision string) {
	r.decisionsTotal.WithLabelValues(decision).Inc()
	r.policyEvaluations.Inc()
}

func (r *Recorder) ObserveApprovalOutcome(state string, wait time.Duration) {
	r.approvalOutcomes.WithLabelValues(state).Inc()
	r.approvalWait.Observe(wait.Seconds())
}

func (r *Recorder) ObserveRateLimiterWait(wait time.Duration) {
	r.rateLimiterWait.Observe(wait.Seconds())
}

func (r *Recorder) ObserveStream(outcome string, duration time.Duration) {
	r.streamDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (r *Recorder) ObserveUpstreamTimeout(deadline string) {
	r.upstreamTimeouts.WithLabelValues(deadline).Inc()
}
