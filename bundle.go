package arbor

import (
	"database/sql"

	"github.com/arbor-go/arbor/internal/persistence"
	"github.com/arbor-go/arbor/internal/trace"
)

// TraceBundle wires together a Scope and a trace store: every execution run
// under the scope is recorded and can be read back through Trace.
type TraceBundle struct {
	Scope *Scope
	Trace *TraceReader

	// store is kept unexported; it is primarily useful for internal
	// inspection and tests. The public API focuses on Scope and Trace.
	store trace.Store
}

// NewMemoryTraceBundle constructs a Scope whose executions are traced into a
// bounded in-memory store. Suitable for development, tests, and debugging.
func NewMemoryTraceBundle(opts ...ScopeOption) *TraceBundle {
	store := trace.NewMemoryStore(0)
	opts = append(opts, WithExtensions(newTraceExtension(store)))
	return &TraceBundle{
		Scope: NewScope(opts...),
		Trace: &TraceReader{store: store},
		store: store,
	}
}

// NewSQLiteTraceBundle constructs a Scope whose executions are traced into
// the provided SQLite database. The schema is created on first use.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:arbor.db?_journal=WAL")
//	bundle, err := arbor.NewSQLiteTraceBundle(db)
//	// run flows against bundle.Scope, inspect them via bundle.Trace
func NewSQLiteTraceBundle(db *sql.DB, opts ...ScopeOption) (*TraceBundle, error) {
	store, err := persistence.NewSQLiteTraceStore(db)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithExtensions(newTraceExtension(store)))
	return &TraceBundle{
		Scope: NewScope(opts...),
		Trace: &TraceReader{store: store},
		store: store,
	}, nil
}
