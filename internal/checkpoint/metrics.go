// internal/checkpoint/metrics.go
package checkpoint

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records tracking and rollback activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	captureLatency   *prometheus.HistogramVec
	rollbackLatency  *prometheus.HistogramVec
	operations       *prometheus.CounterVec
	captureFailures  *prometheus.CounterVec
	rollbackFailures prometheus.Counter
	pending          prometheus.Gauge
}

// NewMetrics registers the tracker metrics on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Labels: tool (Read, Edit, MultiEdit, Write, Bash), phase (invoked, completed)
		captureLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rewind",
			Subsystem: "tracker",
			Name:      "capture_duration_seconds",
			Help:      "Time spent capturing file content per tool signal",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"tool", "phase"}),

		// Labels: status (success, failed)
		rollbackLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rewind",
			Subsystem: "tracker",
			Name:      "rollback_duration_seconds",
			Help:      "Time spent rolling back one change unit",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"status"}),

		// Labels: kind
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewind",
			Subsystem: "tracker",
			Name:      "operations_total",
			Help:      "Tracked operations by kind",
		}, []string{"kind"}),

		// Labels: tool
		captureFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewind",
			Subsystem: "tracker",
			Name:      "capture_failures_total",
			Help:      "Captures that failed and left an operation untracked",
		}, []string{"tool"}),

		rollbackFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rewind",
			Subsystem: "tracker",
			Name:      "rollback_failures_total",
			Help:      "Operations whose reversal failed",
		}),

		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rewind",
			Subsystem: "tracker",
			Name:      "pending_captures",
			Help:      "Invocations waiting for their completion signal",
		}),
	}
}

func (m *Metrics) observeCapture(tool ToolKind, phase string, start time.Time) {
	if m == nil {
		return
	}
	m.captureLatency.WithLabelValues(tool.String(), phase).Observe(time.Since(start).Seconds())
}

func (m *Metrics) observeRollback(failed bool, start time.Time) {
	if m == nil {
		return
	}
	status := "success"
	if failed {
		status = "failed"
	}
	m.rollbackLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) operationTracked(kind OperationKind) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) captureFailed(tool ToolKind) {
	if m == nil {
		return
	}
	m.captureFailures.WithLabelValues(tool.String()).Inc()
}

func (m *Metrics) rollbackFailed(n int) {
	if m == nil {
		return
	}
	m.rollbackFailures.Add(float64(n))
}

func (m *Metrics) pendingDelta(delta int) {
	if m == nil {
		return
	}
	m.pending.Add(float64(delta))
}
