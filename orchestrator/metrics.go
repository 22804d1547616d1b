package orchestrator

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report loop activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	actions   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	abandoned *prometheus.CounterVec
	inFlight  prometheus.Gauge
}

// MustNewMetrics constructs Metrics registered with reg, reusing collectors
// that are already registered under the same name. Any other registration
// error panics. Tests should pass a fresh prometheus.NewRegistry().
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "obsmesh",
			Subsystem: "loop",
			Name:      "actions_total",
			Help:      "Actions completed, by kind and status.",
		}, []string{"kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "obsmesh",
			Subsystem: "loop",
			Name:      "action_duration_seconds",
			Help:      "Time from submission to outcome, by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		abandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "obsmesh",
			Subsystem: "loop",
			Name:      "actions_abandoned_total",
			Help:      "Actions whose executor did not report within the grace period.",
		}, []string{"kind"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "obsmesh",
			Subsystem: "loop",
			Name:      "actions_in_flight",
			Help:      "Actions submitted but not yet reported.",
		}),
	}

	m.actions = register(reg, m.actions)
	m.duration = register(reg, m.duration)
	m.abandoned = register(reg, m.abandoned)
	m.inFlight = register(reg, m.inFlight)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Outcome status labels.
const (
	statusOK      = "ok"
	statusFailed  = "failed"
	statusInvalid = "invalid"
)

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) finished(out Outcome) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	status := statusOK
	switch {
	case out.Err != nil:
		status = statusInvalid
	case out.Observation.Failed():
		status = statusFailed
	}
	m.actions.WithLabelValues(string(out.Kind), status).Inc()
	m.duration.WithLabelValues(string(out.Kind)).Observe(out.Duration.Seconds())
}

func (m *Metrics) abandon(kind string) {
	if m == nil {
		return
	}
	m.abandoned.WithLabelValues(kind).Inc()
}

