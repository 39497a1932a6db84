package extensions

import (
	"sync/atomic"
	"time"

	"github.com/arbor-go/arbor"
)

// Metrics collects simple counters and aggregate execution durations. It can
// be registered alongside LoggingExtension on the same scope.
type Metrics struct {
	arbor.BaseExtension

	resolves       atomic.Int64
	resolvesFailed atomic.Int64
	execs          atomic.Int64
	execsFailed    atomic.Int64
	totalExecTime  atomic.Int64 // nanoseconds
}

// MetricsSnapshot is an immutable snapshot of Metrics.
type MetricsSnapshot struct {
	Resolves       int64
	ResolvesFailed int64
	Execs          int64
	ExecsFailed    int64
	AvgExecTime    time.Duration
}

// NewMetrics creates a metrics-collecting extension.
func NewMetrics() *Metrics {
	return &Metrics{BaseExtension: arbor.NewBaseExtension("metrics")}
}

func (m *Metrics) WrapResolve(next func() (any, error), ev *arbor.ResolveEvent) (any, error) {
	v, err := next()
	m.resolves.Add(1)
	if err != nil {
		m.resolvesFailed.Add(1)
	}
	return v, err
}

func (m *Metrics) WrapExec(next func() (any, error), ev *arbor.ExecEvent) (any, error) {
	start := time.Now()
	v, err := next()
	m.execs.Add(1)
	if err != nil {
		m.execsFailed.Add(1)
	} else {
		// Only successful executions feed the average duration.
		m.totalExecTime.Add(time.Since(start).Nanoseconds())
	}
	return v, err
}

// Snapshot returns a snapshot of the current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	execs := m.execs.Load()
	failed := m.execsFailed.Load()
	totalNs := m.totalExecTime.Load()

	var avg time.Duration
	if ok := execs - failed; ok > 0 {
		avg = time.Duration(totalNs / ok)
	}

	return MetricsSnapshot{
		Resolves:       m.resolves.Load(),
		ResolvesFailed: m.resolvesFailed.Load(),
		Execs:          execs,
		ExecsFailed:    failed,
		AvgExecTime:    avg,
	}
}
