// Package metrics provides Prometheus instrumentation for the fault core.
// All methods are safe on a nil *Metrics so components can run without
// instrumentation.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	kerr "github.com/StricklySoft/stricklysoft-faultcore/pkg/errors"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "faultcore"

// Metrics holds the fault core collectors.
type Metrics struct {
	// Retry attempts by operation and outcome (success, retry, fail)
	RetryAttempts *prometheus.CounterVec

	// Retry loops that gave up after their attempt budget
	RetryExhausted *prometheus.CounterVec

	// Allocation outcomes by the strategy that resolved them
	FallbackOutcome *prometheus.CounterVec

	// Classified errors by decision and subsystem
	Decisions *prometheus.CounterVec

	// Handoff attempts by final state (handoff_complete, hard_halt)
	HandoffOutcome *prometheus.CounterVec

	// Duration of the AttemptingHandoff phase
	HandoffLatency prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default Prometheus registerer. Collectors already registered under
// the same names, such as by an earlier core in the same process, are
// reused, so every Metrics built against one registry shares its series.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error
	if m.RetryAttempts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_attempts_total",
		Help:      "Attempts made by the retry orchestrator by operation and outcome",
	}, []string{"operation", "outcome"})); err != nil {
		return nil, err
	}
	if m.RetryExhausted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retry_exhausted_total",
		Help:      "Retry loops that used up their attempt budget",
	}, []string{"operation"})); err != nil {
		return nil, err
	}
	if m.FallbackOutcome, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "allocation_outcomes_total",
		Help:      "Allocation requests by the strategy that resolved them",
	}, []string{"strategy"})); err != nil {
		return nil, err
	}
	if m.Decisions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "error_decisions_total",
		Help:      "Classified kernel errors by recovery decision and subsystem",
	}, []string{"decision", "subsystem"})); err != nil {
		return nil, err
	}
	if m.HandoffOutcome, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handoff_outcomes_total",
		Help:      "Crash containment attempts by final state",
	}, []string{"state"})); err != nil {
		return nil, err
	}
	if m.HandoffLatency, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "handoff_duration_seconds",
		Help:      "Duration of the attempting-handoff phase",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, or returns the collector of the same type that
// already holds its descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		if existing, ok := dup.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	var zero C
	return zero, kerr.Wrap(err, kerr.CodeInvalidParam, "metrics: failed to register collector")
}

// ObserveAttempt records one retry attempt outcome.
func (m *Metrics) ObserveAttempt(op, outcome string) {
	if m != nil {
		m.RetryAttempts.WithLabelValues(op, outcome).Inc()
	}
}

// IncrementExhausted records a retry loop that gave up.
func (m *Metrics) IncrementExhausted(op string) {
	if m != nil {
		m.RetryExhausted.WithLabelValues(op).Inc()
	}
}

// IncrementFallback records the strategy that resolved an allocation.
func (m *Metrics) IncrementFallback(strategy string) {
	if m != nil {
		m.FallbackOutcome.WithLabelValues(strategy).Inc()
	}
}

// IncrementDecision records a classified error.
func (m *Metrics) IncrementDecision(decision, subsystem string) {
	if m != nil {
		m.Decisions.WithLabelValues(decision, subsystem).Inc()
	}
}

// ObserveHandoff records the final state and duration of a handoff attempt.
func (m *Metrics) ObserveHandoff(state string, d time.Duration) {
	if m != nil {
		m.HandoffOutcome.WithLabelValues(state).Inc()
		m.HandoffLatency.Observe(d.Seconds())
	}
}
