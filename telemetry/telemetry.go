// Package telemetry captures counters emitted by the retry and bootstrap
// paths. Implementations must be cheap because hooks run inline with the
// retry loop.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector receives events from the executor and registries.
type Collector interface {
	// IncReconnect counts a successful client replacement.
	IncReconnect()
	// IncRetry counts a retried attempt of the named operation.
	IncRetry(operation string)
	// IncExhausted counts an operation that failed after its full budget.
	IncExhausted(operation string)
	// IncLockWait counts one wait-step spent on the bootstrap lock.
	IncLockWait(database string)
}

type noopCollector struct{}

// Noop returns a collector that discards all events.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncReconnect()       {}
func (noopCollector) IncRetry(string)     {}
func (noopCollector) IncExhausted(string) {}
func (noopCollector) IncLockWait(string)  {}

// PrometheusCollector exposes the counters via Prometheus.
type PrometheusCollector struct {
	reconnects prometheus.Counter
	retries    *prometheus.CounterVec
	exhausted  *prometheus.CounterVec
	lockWaits  *prometheus.CounterVec
}

// NewPrometheusCollector registers the counters with reg, reusing
// collectors that are already registered.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	reconnects := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mongoward_reconnects_total",
		Help: "Number of successful client reconnects.",
	})
	if err := reg.Register(reconnects); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		reconnects = already.ExistingCollector.(prometheus.Counter)
	}

	retries, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "mongoward_retries_total",
		Help: "Number of retried operation attempts.",
	}, []string{"operation"})
	if err != nil {
		return nil, err
	}

	exhausted, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "mongoward_exhausted_total",
		Help: "Number of operations that failed after the full retry budget.",
	}, []string{"operation"})
	if err != nil {
		return nil, err
	}

	lockWaits, err := registerCounterVec(reg, prometheus.CounterOpts{
		Name: "mongoward_lock_waits_total",
		Help: "Number of wait steps spent on the bootstrap lock.",
	}, []string{"database"})
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		reconnects: reconnects,
		retries:    retries,
		exhausted:  exhausted,
		lockWaits:  lockWaits,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	vec := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(vec); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return vec, nil
}

// IncReconnect counts a successful client replacement.
func (c *PrometheusCollector) IncReconnect() {
	c.reconnects.Inc()
}

// IncRetry counts a retried attempt of the named operation.
func (c *PrometheusCollector) IncRetry(operation string) {
	c.retries.WithLabelValues(operation).Inc()
}

// IncExhausted counts an operation that failed after its full budget.
func (c *PrometheusCollector) IncExhausted(operation string) {
	c.exhausted.WithLabelValues(operation).Inc()
}

// IncLockWait counts one wait-step spent on the bootstrap lock.
func (c *PrometheusCollector) IncLockWait(database string) {
	c.lockWaits.WithLabelValues(database).Inc()
}
