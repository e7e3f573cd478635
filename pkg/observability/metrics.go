package observability

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/canopy/pkg/domain"
)

// Metrics holds the run collectors.
type Metrics struct {
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
	attempts *prometheus.CounterVec
	probes   *prometheus.CounterVec
	stages   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil
// registerer means prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canopy_suite_outcomes_total",
				Help: "Terminal suite outcomes by status",
			},
			[]string{"stage", "service", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "canopy_suite_duration_seconds",
				Help:    "Wall time of suites including retries",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
			},
			[]string{"stage", "service"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canopy_suite_attempts_total",
				Help: "Suite attempts, failed ones included",
			},
			[]string{"stage", "service", "result"},
		),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canopy_probe_status_total",
				Help: "Health probe results by classification",
			},
			[]string{"service", "policy", "code", "classification"},
		),
		stages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "canopy_stage_results_total",
				Help: "Stage Graph nodes by result",
			},
			[]string{"stage", "category", "succeeded"},
		),
	}
	for _, c := range []prometheus.Collector{m.outcomes, m.duration, m.attempts, m.probes, m.stages} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns lifecycle hooks that record suite and stage metrics.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnAttemptFailed: func(_ context.Context, e *domain.SuiteEvent) {
			m.attempts.WithLabelValues(e.StageID, e.Service, "failed").Inc()
		},
		OnSuiteFinish: func(_ context.Context, e *domain.SuiteEvent) {
			if e.Outcome == nil {
				return
			}
			o := e.Outcome
			m.outcomes.WithLabelValues(e.StageID, e.Service, string(o.Status)).Inc()
			if o.Attempts > 0 {
				m.duration.WithLabelValues(e.StageID, e.Service).Observe(o.Duration.Seconds())
				// The last attempt decided the outcome; earlier ones were reported as failed.
				m.attempts.WithLabelValues(e.StageID, e.Service, string(o.Status)).Inc()
			}
		},
		OnStageFinish: func(_ context.Context, e *domain.StageEvent) {
			m.stages.WithLabelValues(e.StageID, string(e.Category), strconv.FormatBool(e.Succeeded)).Inc()
		},
	}
}

// ObserveProbe records a probe result. It matches probe.WithObserver.
func (m *Metrics) ObserveProbe(res domain.ProbeResult) {
	m.probes.WithLabelValues(res.Service, res.Policy, strconv.Itoa(res.HTTPStatus), string(res.Classification)).Inc()
}
