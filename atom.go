package arbor

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var nodeSeq atomic.Uint64

func nextNodeID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, nodeSeq.Add(1))
}

// AnyAtom is the type-erased view of an Atom, usable in dependency specs.
type AnyAtom interface {
	nodeName() string
	nodeID() string
	nodeDeps() []DepEntry
	invokeAtom(rc *ResolveCtx, deps Deps) (any, error)
}

// Atom is a long-lived singleton unit of work. A scope resolves an atom at
// most once (single-flight) and caches the outcome, success or failure,
// until Release, Invalidate, or Dispose.
type Atom[T any] struct {
	name    string
	id      string
	deps    []DepEntry
	tags    []Tagged
	factory func(*ResolveCtx, Deps) (T, error)
}

// NewAtom declares an atom with the given diagnostic name and factory. The
// factory runs inside the scope's extension resolve chain, after the
// declared dependencies resolve depth-first.
func NewAtom[T any](name string, factory func(*ResolveCtx, Deps) (T, error)) *Atom[T] {
	return &Atom[T]{
		name:    name,
		id:      nextNodeID("atom"),
		factory: factory,
	}
}

// WithDeps declares the atom's dependency spec. Only atom, atom list, and
// controller entries are legal at scope level; tag queries and resources
// belong to flows.
func (a *Atom[T]) WithDeps(entries ...DepEntry) *Atom[T] {
	a.deps = append(a.deps, entries...)
	return a
}

// WithTags attaches declaration-time tags, the lowest-precedence tier of tag
// lookup.
func (a *Atom[T]) WithTags(tags ...Tagged) *Atom[T] {
	a.tags = append(a.tags, tags...)
	return a
}

// Name returns the atom's diagnostic name.
func (a *Atom[T]) Name() string { return a.name }

func (a *Atom[T]) nodeName() string     { return a.name }
func (a *Atom[T]) nodeID() string       { return a.id }
func (a *Atom[T]) nodeDeps() []DepEntry { return a.deps }

func (a *Atom[T]) invokeAtom(rc *ResolveCtx, deps Deps) (any, error) {
	return a.factory(rc, deps)
}

func (a *Atom[T]) findTagRaw(key anyTag) (any, bool) {
	return findInTagged(a.tags, key)
}

func (a *Atom[T]) collectTagRaw(key anyTag) []any {
	return collectInTagged(nil, a.tags, key)
}

// ResolveCtx is handed to atom and resource factories. It gives access to
// the owning scope and collects cleanup registrations.
type ResolveCtx struct {
	scope *Scope
	name  string
	chain []string

	mu       sync.Mutex
	cleanups []func() error
}

// Scope returns the scope driving this resolution.
func (rc *ResolveCtx) Scope() *Scope { return rc.scope }

// Chain returns the dependency chain that led to this factory, outermost
// first. Useful for diagnostics.
func (rc *ResolveCtx) Chain() []string {
	out := make([]string, len(rc.chain))
	copy(out, rc.chain)
	return out
}

// OnCleanup registers a cleanup for the value under construction. Cleanups
// run in reverse registration order when the value is released, invalidated,
// or its owner is disposed or closed.
func (rc *ResolveCtx) OnCleanup(fn func() error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cleanups = append(rc.cleanups, fn)
}

func (rc *ResolveCtx) takeCleanups() []func() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := rc.cleanups
	rc.cleanups = nil
	return out
}

// Controller is a lifecycle handle for an atom bound to a scope. It resolves
// lazily and never caches anything itself.
type Controller[T any] struct {
	scope *Scope
	atom  *Atom[T]
}

// ControllerFor binds a controller to the given scope and atom.
func ControllerFor[T any](s *Scope, a *Atom[T]) *Controller[T] {
	return &Controller[T]{scope: s, atom: a}
}

// Get resolves the atom, reusing the cached value when present.
func (c *Controller[T]) Get() (T, error) {
	return Resolve(c.scope, c.atom)
}

// Peek returns the cached value without triggering resolution.
func (c *Controller[T]) Peek() (T, bool) {
	raw, ok := c.scope.peek(c.atom)
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := raw.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return v, true
}

// Release runs the atom's cleanups and marks it unresolved.
func (c *Controller[T]) Release() error {
	return Release(c.scope, c.atom)
}

// Invalidate re-resolves the atom and notifies watchers after the new value
// settles.
func (c *Controller[T]) Invalidate() error {
	return Invalidate(c.scope, c.atom)
}

// IsCached reports whether the atom currently holds a resolved value.
func (c *Controller[T]) IsCached() bool {
	_, ok := c.scope.peek(c.atom)
	return ok
}
