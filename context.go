package arbor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// CloseResult carries the settle outcome of an execution into its cleanups.
type CloseResult struct {
	// Value is the execution's output when it succeeded.
	Value any
	// Err is the execution's failure, nil on success.
	Err error
}

// CloseFunc is a cleanup registered with OnClose. Returned errors are
// collected and surfaced from the root context's Close; they never mask the
// execution's own outcome.
type CloseFunc func(CloseResult) error

// ExecutionContext is one node of the per-invocation execution tree. Roots
// come from Scope.CreateContext and are closed by the caller; every other
// context is created by an Exec call and closes automatically when that call
// settles.
//
// Each context owns an isolated data map, a LIFO cleanup stack, and a
// cancellation context derived from its parent's: cancelling a parent
// cancels all descendants, never the reverse.
type ExecutionContext struct {
	id     string
	name   string
	scope  *Scope
	parent *ExecutionContext
	root   *ExecutionContext
	ctx    context.Context
	cancel context.CancelFunc
	input  any

	// tags holds the values passed at the Exec call; declTags holds the
	// executed flow's declaration-time tags. Both are immutable after
	// creation.
	tags     []Tagged
	declTags []Tagged

	mu        sync.Mutex
	data      map[any]any
	cleanups  []CloseFunc
	closed    bool
	resources map[string]any

	resFlights singleflight.Group

	// Root-only state.
	errMu            sync.Mutex
	closeErrs        []error
	journalMu        sync.Mutex
	journal          map[journalKey]journalEntry
	journalDiscarded bool
	journalFlights   singleflight.Group
}

type execOptions struct {
	name    string
	tags    []Tagged
	timeout time.Duration
	base    context.Context
}

// ExecOption configures a single Exec call or a root context.
type ExecOption func(*execOptions)

// WithName overrides the child context's diagnostic name. The default is the
// flow's name.
func WithName(name string) ExecOption {
	return func(o *execOptions) { o.name = name }
}

// WithCallTags binds tags for this call only. Call tags rank highest in
// lookup precedence.
func WithCallTags(tags ...Tagged) ExecOption {
	return func(o *execOptions) { o.tags = append(o.tags, tags...) }
}

// WithTimeout cancels the child's subtree after d. The parent and siblings
// are unaffected.
func WithTimeout(d time.Duration) ExecOption {
	return func(o *execOptions) { o.timeout = d }
}

// WithBaseContext sets the context.Context a root context derives its
// cancellation from. Ignored on non-root Exec calls, whose cancellation
// always chains to the parent.
func WithBaseContext(ctx context.Context) ExecOption {
	return func(o *execOptions) { o.base = ctx }
}

func applyExecOptions(opts []ExecOption) execOptions {
	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CreateContext creates a root execution context. The caller owns it and
// must Close it; everything executed beneath it closes automatically.
func (s *Scope) CreateContext(opts ...ExecOption) *ExecutionContext {
	o := applyExecOptions(opts)
	base := o.base
	if base == nil {
		base = context.Background()
	}
	var ctx context.Context
	var cancel context.CancelFunc
	if o.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, o.timeout)
	} else {
		ctx, cancel = context.WithCancel(base)
	}
	name := o.name
	if name == "" {
		name = "root"
	}
	e := &ExecutionContext{
		id:     uuid.NewString(),
		name:   name,
		scope:  s,
		ctx:    ctx,
		cancel: cancel,
		tags:   o.tags,
	}
	e.root = e
	return e
}

// newChild builds the context for one Exec call. The child's cancellation
// derives from the parent's, so a parent cancel reaches every descendant
// while the child's own timeout stays local.
func (e *ExecutionContext) newChild(name string, o execOptions, declTags []Tagged, input any) (*ExecutionContext, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, &ClosedContextError{ContextID: e.id}
	}
	if err := e.ctx.Err(); err != nil {
		return nil, cancellationError(e.id, err)
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if o.timeout > 0 {
		ctx, cancel = context.WithTimeout(e.ctx, o.timeout)
	} else {
		ctx, cancel = context.WithCancel(e.ctx)
	}
	return &ExecutionContext{
		id:       uuid.NewString(),
		name:     name,
		scope:    e.scope,
		parent:   e,
		root:     e.root,
		ctx:      ctx,
		cancel:   cancel,
		tags:     o.tags,
		declTags: declTags,
		input:    input,
	}, nil
}

func cancellationError(contextID string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{ContextID: contextID, Cause: err}
	}
	return &CancelledError{ContextID: contextID, Cause: err}
}

// ID returns the context's unique id.
func (e *ExecutionContext) ID() string { return e.id }

// Name returns the context's diagnostic name.
func (e *ExecutionContext) Name() string { return e.name }

// Parent returns the parent context, nil for roots.
func (e *ExecutionContext) Parent() *ExecutionContext { return e.parent }

// ParentID returns the parent's id, empty for roots.
func (e *ExecutionContext) ParentID() string {
	if e.parent == nil {
		return ""
	}
	return e.parent.id
}

// Scope returns the scope this execution tree belongs to.
func (e *ExecutionContext) Scope() *Scope { return e.scope }

// Context returns the cancellation context chained to the parent's.
func (e *ExecutionContext) Context() context.Context { return e.ctx }

// Input returns the parsed input this context was executed with.
func (e *ExecutionContext) Input() any { return e.input }

// Closed reports whether the context has closed.
func (e *ExecutionContext) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Set stores a value in this context's own data map. Data is isolated:
// children never observe it through Get, only through Lookup.
func (e *ExecutionContext) Set(key, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.data == nil {
		e.data = make(map[any]any)
	}
	e.data[key] = value
}

// Get reads from this context's own data map.
func (e *ExecutionContext) Get(key any) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.data[key]
	return v, ok
}

// Lookup reads from this context's data map, then from each ancestor's.
func (e *ExecutionContext) Lookup(key any) (any, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if v, ok := cur.Get(key); ok {
			return v, true
		}
	}
	return nil, false
}

// OnClose pushes a cleanup onto the context's LIFO stack. It runs when the
// context closes, with the settle result.
func (e *ExecutionContext) OnClose(fn CloseFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return &ClosedContextError{ContextID: e.id}
	}
	e.cleanups = append(e.cleanups, fn)
	return nil
}

// Close closes a root context: cleanups run LIFO, the cancellation context
// is released, and every cleanup error collected across the whole chain is
// returned joined. Close is idempotent. Non-root contexts close
// automatically and reject direct Close calls.
func (e *ExecutionContext) Close() error {
	if e.parent != nil {
		return fmt.Errorf("arbor: context %q is not a root; it closes when its call settles", e.name)
	}
	e.closeWith(CloseResult{})
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return errors.Join(e.closeErrs...)
}

// closeWith settles the context: cleanups run in LIFO order with the close
// result, cleanup errors escalate to the root, the journal (roots only) is
// discarded, and the cancellation registration on the parent is released.
func (e *ExecutionContext) closeWith(res CloseResult) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cleanups := e.cleanups
	e.cleanups = nil
	e.resources = nil
	e.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](res); err != nil {
			e.root.recordCloseErr(&CleanupError{Owner: e.name, Cause: err})
		}
	}

	if e == e.root {
		e.journalMu.Lock()
		e.journal = nil
		e.journalDiscarded = true
		e.journalMu.Unlock()
	}

	e.cancel()
}

func (e *ExecutionContext) recordCloseErr(err error) {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	e.closeErrs = append(e.closeErrs, err)
}

// Tag lookup precedence on a context: call tags, ancestors' call tags, scope
// tags, then the executed flow's declared tags.
func (e *ExecutionContext) findTagRaw(key anyTag) (any, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if v, ok := findInTagged(cur.tags, key); ok {
			return v, true
		}
	}
	if v, ok := e.scope.findTagRaw(key); ok {
		return v, true
	}
	return findInTagged(e.declTags, key)
}

func (e *ExecutionContext) collectTagRaw(key anyTag) []any {
	var out []any
	for cur := e; cur != nil; cur = cur.parent {
		out = collectInTagged(out, cur.tags, key)
	}
	out = append(out, e.scope.collectTagRaw(key)...)
	return collectInTagged(out, e.declTags, key)
}

func (e *ExecutionContext) getResource(id string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.resources[id]
	return v, ok
}

func (e *ExecutionContext) putResource(id string, v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resources == nil {
		e.resources = make(map[string]any)
	}
	e.resources[id] = v
}
