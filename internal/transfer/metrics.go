package transfer

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts transition outcomes.
type Metrics struct {
	transitions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics registers transfer collectors against registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stocktransfer_transfer_transitions_total",
		Help: "Transfer transitions partitioned by event and outcome.",
	}, []string{"event", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stocktransfer_transfer_transition_duration_seconds",
		Help:    "Duration of transfer transitions including lock waits.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event"})
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(transitions, duration)
	return &Metrics{transitions: transitions, duration: duration}
}

func (m *Metrics) observe(ev Event, res Result, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(ev), outcome(res, err)).Inc()
	m.duration.WithLabelValues(string(ev)).Observe(took.Seconds())
}

func outcome(res Result, err error) string {
	switch {
	case err == nil && res.AlreadyProcessed:
		return "already_processed"
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrMissingBranchConfiguration):
		return "missing_branch_configuration"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrStoreFailure):
		return "store_failure"
	}
	return "error"
}
