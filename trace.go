package arbor

import (
	"context"
	"errors"
	"time"

	"github.com/arbor-go/arbor/internal/trace"
)

// Execution trace statuses.
const (
	TraceSuccess   = "success"
	TraceFailed    = "failed"
	TraceCancelled = "cancelled"
)

// TraceRecord is one closed execution context as seen by a trace bundle.
type TraceRecord struct {
	ID       string
	ParentID string // empty for roots
	Name     string
	Status   string
	Error    string
	Start    time.Time
	End      time.Time
}

// traceExtension records every settled execution into a trace store. It is
// installed by the trace bundles.
type traceExtension struct {
	BaseExtension
	store trace.Store
}

func newTraceExtension(store trace.Store) *traceExtension {
	return &traceExtension{
		BaseExtension: NewBaseExtension("trace"),
		store:         store,
	}
}

func (t *traceExtension) WrapExec(next func() (any, error), ev *ExecEvent) (any, error) {
	start := time.Now()
	v, err := next()

	// Root contexts never execute through the extension chain, so executions
	// directly under a root become trace roots.
	parentID := ev.Ctx.ParentID()
	if p := ev.Ctx.Parent(); p != nil && p.Parent() == nil {
		parentID = ""
	}

	rec := trace.Record{
		ID:       ev.Ctx.ID(),
		ParentID: parentID,
		Name:     ev.Name,
		Status:   TraceSuccess,
		Start:    start,
		End:      time.Now(),
	}
	if err != nil {
		rec.Status = TraceFailed
		rec.Error = err.Error()
		// The hook runs inside the exec chain, so cancellation may still be
		// the raw context error at this point.
		var cancelled *CancelledError
		var timedOut *TimeoutError
		if errors.As(err, &cancelled) || errors.As(err, &timedOut) ||
			errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			rec.Status = TraceCancelled
		}
	}
	// A full trace sink must not fail the execution it observes.
	_ = t.store.Append(rec)
	return v, err
}

// TraceReader queries the records a trace bundle collected.
type TraceReader struct {
	store trace.Store
}

// Roots returns every recorded root execution in close order.
func (r *TraceReader) Roots() ([]TraceRecord, error) {
	recs, err := r.store.Roots()
	if err != nil {
		return nil, err
	}
	return convertRecords(recs), nil
}

// Children returns the direct children of the given execution in close
// order.
func (r *TraceReader) Children(id string) ([]TraceRecord, error) {
	recs, err := r.store.Children(id)
	if err != nil {
		return nil, err
	}
	return convertRecords(recs), nil
}

// Get returns one recorded execution.
func (r *TraceReader) Get(id string) (TraceRecord, error) {
	rec, err := r.store.Get(id)
	if err != nil {
		return TraceRecord{}, err
	}
	return TraceRecord(rec), nil
}

func convertRecords(recs []trace.Record) []TraceRecord {
	out := make([]TraceRecord, len(recs))
	for i, rec := range recs {
		out[i] = TraceRecord(rec)
	}
	return out
}
