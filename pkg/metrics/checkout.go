package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records stage transitions and terminal outcomes for
// checkout transaction sessions.
type CheckoutMetrics struct {
	transitions   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	outcomes      *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout metrics on the provided registerer.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_stage_transitions_total",
		Help: "Stage transitions of checkout sessions.",
	}, []string{"from", "to"})
	stageDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_stage_duration_seconds",
		Help:    "Time spent in each checkout stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outcomes_total",
		Help: "Terminal checkout outcomes by error code.",
	}, []string{"outcome", "code"})
	reg.MustRegister(transitions, stageDuration, outcomes)
	return &CheckoutMetrics{
		transitions:   transitions,
		stageDuration: stageDuration,
		outcomes:      outcomes,
	}
}

// ObserveTransition counts a stage transition.
func (c *CheckoutMetrics) ObserveTransition(from, to string) {
	if c == nil || c.transitions == nil {
		return
	}
	c.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// ObserveStageDuration records how long a stage was occupied.
func (c *CheckoutMetrics) ObserveStageDuration(stage string, duration time.Duration) {
	if c == nil || c.stageDuration == nil {
		return
	}
	c.stageDuration.WithLabelValues(normalizeLabel(stage)).Observe(duration.Seconds())
}

// ObserveOutcome counts a terminal outcome; code is empty on success.
func (c *CheckoutMetrics) ObserveOutcome(outcome, code string) {
	if c == nil || c.outcomes == nil {
		return
	}
	if code == "" {
		code = "none"
	}
	c.outcomes.WithLabelValues(normalizeLabel(outcome), code).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
