// Package telemetry records dispatch and handler metrics and opens the
// tracing spans around adapter calls.
package telemetry

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every collector.
const Namespace = "procflow"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the Prometheus collectors of one process. A nil *Metrics
// records nothing.
type Metrics struct {
	mu sync.Mutex

	operationsTotal   *prometheus.CounterVec
	fallbacksTotal    *prometheus.CounterVec
	taskNotFoundTotal *prometheus.CounterVec
	operationSeconds  *prometheus.HistogramVec
	invocationsTotal  *prometheus.CounterVec
	invocationSeconds *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(subsystem, name, help string, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		},
		labels,
	)
}

// NewMetrics creates the collectors. A nil registerer means the default one.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:        registerer,
		operationsTotal:   newCounterVec("dispatch", "adapter_calls_total", "Adapter calls made by the dispatcher", []string{"aggregate", "operation", "adapter", "outcome"}),
		fallbacksTotal:    newCounterVec("dispatch", "fallbacks_total", "Operations that succeeded on an adapter other than the first of the chain", []string{"aggregate", "operation"}),
		taskNotFoundTotal: newCounterVec("dispatch", "rejected_total", "Operations rejected by every adapter of the chain", []string{"aggregate", "operation"}),
		operationSeconds:  newHistogramVec("dispatch", "operation_duration_seconds", "Duration of dispatcher operations", []string{"aggregate", "operation"}),
		invocationsTotal:  newCounterVec("handler", "invocations_total", "Task handler invocations", []string{"handler", "outcome"}),
		invocationSeconds: newHistogramVec("handler", "invocation_duration_seconds", "Duration of task handler invocations including binding", []string{"handler"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.operationsTotal,
		m.fallbacksTotal,
		m.taskNotFoundTotal,
		m.operationSeconds,
		m.invocationsTotal,
		m.invocationSeconds,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// AdapterCall records one adapter call.
func (m *Metrics) AdapterCall(aggregate, operation, adapter string, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(aggregate, operation, adapter, outcome(err)).Inc()
}

// Operation records a finished dispatcher operation. fallback is set when an
// adapter other than the first one answered.
func (m *Metrics) Operation(aggregate, operation string, took time.Duration, fallback, rejected bool) {
	if m == nil {
		return
	}
	m.operationSeconds.WithLabelValues(aggregate, operation).Observe(took.Seconds())
	if fallback {
		m.fallbacksTotal.WithLabelValues(aggregate, operation).Inc()
	}
	if rejected {
		m.taskNotFoundTotal.WithLabelValues(aggregate, operation).Inc()
	}
}

// Invocation records a task handler call.
func (m *Metrics) Invocation(handler string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.invocationsTotal.WithLabelValues(handler, outcome(err)).Inc()
	m.invocationSeconds.WithLabelValues(handler).Observe(took.Seconds())
}

// Reset clears every collector.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.operationsTotal.Reset()
	m.fallbacksTotal.Reset()
	m.taskNotFoundTotal.Reset()
	m.operationSeconds.Reset()
	m.invocationsTotal.Reset()
	m.invocationSeconds.Reset()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
