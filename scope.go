package arbor

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrScopeDisposed is returned by operations issued against a disposed scope.
var ErrScopeDisposed = errors.New("arbor: scope disposed")

type atomState int

const (
	stateUnresolved atomState = iota
	stateResolving
	stateResolved
	stateFailed
)

type atomEntry struct {
	atom     AnyAtom
	state    atomState
	value    any
	err      error
	cleanups []func() error
}

type presetEntry struct {
	value   any
	atom    AnyAtom
	isValue bool
}

type watcher struct {
	fn func(any, error)
}

// Scope owns the atom cache, the preset table, the base tags, and the
// extension pipeline. Atoms resolve lazily and single-flight: concurrent
// resolutions of the same unresolved atom share one factory call, and the
// outcome, success or failure, stays cached until Release, Invalidate, or
// Dispose.
type Scope struct {
	mu         sync.Mutex
	entries    map[string]*atomEntry
	order      []string // atom ids in resolution completion order
	orderSeen  map[string]bool
	tags       []Tagged
	presets    map[string]presetEntry
	extensions []Extension
	watchers   map[string][]*watcher
	flights    singleflight.Group
	disposed   bool
}

// ScopeOption configures a scope at creation.
type ScopeOption func(*Scope)

// WithScopeTags attaches base tags to the scope. They rank below context
// tags and above declaration-time tags in lookup precedence.
func WithScopeTags(tags ...Tagged) ScopeOption {
	return func(s *Scope) {
		s.tags = append(s.tags, tags...)
	}
}

// WithExtensions registers extensions in the given order. The first
// registered extension wraps outermost around both resolution and execution.
func WithExtensions(exts ...Extension) ScopeOption {
	return func(s *Scope) {
		s.extensions = append(s.extensions, exts...)
	}
}

// Preset substitutes an atom's resolved value for tests and overrides.
type Preset struct {
	targetID string
	entry    presetEntry
}

// PresetValue makes the atom resolve to a fixed value; the factory and the
// extension resolve chain are bypassed.
func PresetValue[T any](a *Atom[T], v T) Preset {
	return Preset{targetID: a.nodeID(), entry: presetEntry{value: v, isValue: true}}
}

// PresetAtom makes the atom resolve through a substitute atom instead.
func PresetAtom[T any](a *Atom[T], substitute *Atom[T]) Preset {
	return Preset{targetID: a.nodeID(), entry: presetEntry{atom: substitute}}
}

// WithPresets installs presets on the scope.
func WithPresets(presets ...Preset) ScopeOption {
	return func(s *Scope) {
		for _, p := range presets {
			s.presets[p.targetID] = p.entry
		}
	}
}

// NewScope creates a scope and runs each extension's Init in registration
// order. An Init failure panics: a scope with a half-initialized pipeline is
// unusable.
func NewScope(opts ...ScopeOption) *Scope {
	s := &Scope{
		entries:   make(map[string]*atomEntry),
		orderSeen: make(map[string]bool),
		presets:   make(map[string]presetEntry),
		watchers:  make(map[string][]*watcher),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, ext := range s.extensions {
		if err := ext.Init(s); err != nil {
			panic(fmt.Sprintf("arbor: extension %q init failed: %v", ext.Name(), err))
		}
	}
	return s
}

// Resolve returns the atom's value, resolving it on first use. Concurrent
// calls for an unresolved atom share a single factory invocation. A cached
// failure is returned as-is; Invalidate forces a retry.
func Resolve[T any](s *Scope, a *Atom[T]) (T, error) {
	raw, err := s.resolveAny(a, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	v, ok := raw.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("arbor: atom %q resolved to %T, expected %T", a.name, raw, zero)
	}
	return v, nil
}

// Release runs the atom's cleanups in reverse registration order and marks
// it unresolved. Releasing an unresolved atom is a no-op.
func Release[T any](s *Scope, a *Atom[T]) error {
	return s.releaseAny(a)
}

// Invalidate re-invokes the atom's factory and notifies watchers once the
// new value settles. Cleanups of the previous value run first. A concurrent
// invalidation of an already-resolving atom coalesces onto the in-flight
// resolution.
func Invalidate[T any](s *Scope, a *Atom[T]) error {
	return s.invalidateAny(a)
}

// Watch registers fn to be notified after every invalidation of the atom
// settles. The returned func unsubscribes.
func Watch[T any](s *Scope, a *Atom[T], fn func(T, error)) func() {
	w := &watcher{fn: func(v any, err error) {
		if err != nil {
			var zero T
			fn(zero, err)
			return
		}
		tv, _ := v.(T)
		fn(tv, nil)
	}}
	id := a.nodeID()
	s.mu.Lock()
	s.watchers[id] = append(s.watchers[id], w)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		ws := s.watchers[id]
		for i, cur := range ws {
			if cur == w {
				s.watchers[id] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
	}
}

func (s *Scope) resolveAny(a AnyAtom, chain []string) (any, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrScopeDisposed
	}
	if e := s.entries[a.nodeID()]; e != nil {
		switch e.state {
		case stateResolved:
			v := e.value
			s.mu.Unlock()
			return v, nil
		case stateFailed:
			err := e.err
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()

	// The declared graph is static, so cycles are found by a pure walk
	// before any factory runs. Seed chains from flow deps, resource deps,
	// and invalidation carry one element, so the walk covers those entry
	// paths too; deeper chains are subgraphs already validated at the seed.
	if len(chain) <= 1 {
		if ce := s.checkCycle(a); ce != nil {
			return nil, ce
		}
	}

	chain = append(chain[:len(chain):len(chain)], a.nodeName())

	v, err, _ := s.flights.Do(a.nodeID(), func() (any, error) {
		return s.resolveEntry(a, chain)
	})
	return v, err
}

// resolveEntry runs under the atom's single-flight slot.
func (s *Scope) resolveEntry(a AnyAtom, chain []string) (any, error) {
	s.mu.Lock()
	e := s.entries[a.nodeID()]
	if e == nil {
		e = &atomEntry{atom: a}
		s.entries[a.nodeID()] = e
	}
	switch e.state {
	case stateResolved:
		v := e.value
		s.mu.Unlock()
		return v, nil
	case stateFailed:
		err := e.err
		s.mu.Unlock()
		return nil, err
	}
	e.state = stateResolving
	p, hasPreset := s.presets[a.nodeID()]
	s.mu.Unlock()

	if hasPreset {
		if p.isValue {
			s.settle(a, p.value, nil, nil)
			return p.value, nil
		}
		v, err := s.resolveAny(p.atom, chain)
		s.settle(a, v, err, nil)
		return v, err
	}

	deps, err := s.resolveDeps(a, chain)
	if err != nil {
		s.settle(a, nil, err, nil)
		return nil, err
	}

	rc := &ResolveCtx{scope: s, name: a.nodeName(), chain: chain}
	ev := &ResolveEvent{Kind: ResolveAtom, Name: a.nodeName(), Scope: s}
	v, err := s.wrapResolve(ev, func() (any, error) {
		return a.invokeAtom(rc, deps)
	})
	if err != nil {
		err = &FactoryError{Name: a.nodeName(), Chain: chain, Cause: err}
		s.settle(a, nil, err, nil)
		return nil, err
	}
	s.settle(a, v, nil, rc.takeCleanups())
	return v, nil
}

func (s *Scope) resolveDeps(a AnyAtom, chain []string) (Deps, error) {
	entries := a.nodeDeps()
	if len(entries) == 0 {
		return nil, nil
	}
	deps := make(Deps, len(entries))
	for _, d := range entries {
		switch d.kind {
		case depAtom:
			v, err := s.resolveAny(d.atom, chain)
			if err != nil {
				return nil, &DependencyError{Name: a.nodeName(), Key: d.key, Cause: err}
			}
			deps[d.key] = v
		case depAtomList:
			list := make([]any, 0, len(d.atoms))
			for _, dep := range d.atoms {
				v, err := s.resolveAny(dep, chain)
				if err != nil {
					return nil, &DependencyError{Name: a.nodeName(), Key: d.key, Cause: err}
				}
				list = append(list, v)
			}
			deps[d.key] = list
		case depController:
			deps[d.key] = d.mkController(s)
		default:
			return nil, &DependencyError{
				Name:  a.nodeName(),
				Key:   d.key,
				Cause: fmt.Errorf("%s dependencies are only available to flows", d.kind),
			}
		}
	}
	return deps, nil
}

func (s *Scope) settle(a AnyAtom, v any, err error, cleanups []func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[a.nodeID()]
	if e == nil {
		e = &atomEntry{atom: a}
		s.entries[a.nodeID()] = e
	}
	if err != nil {
		e.state, e.value, e.err, e.cleanups = stateFailed, nil, err, nil
		return
	}
	e.state, e.value, e.err, e.cleanups = stateResolved, v, nil, cleanups
	if !s.orderSeen[a.nodeID()] {
		s.orderSeen[a.nodeID()] = true
		s.order = append(s.order, a.nodeID())
	}
}

// checkCycle walks the declared dependency graph without invoking factories.
// Controller dependencies are lazy and do not participate; presets replace
// their target in the walk.
func (s *Scope) checkCycle(root AnyAtom) *CycleError {
	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int)
	var stack []string

	var visit func(a AnyAtom) *CycleError
	visit = func(a AnyAtom) *CycleError {
		if p, ok := s.presets[a.nodeID()]; ok {
			if p.isValue {
				return nil
			}
			a = p.atom
		}
		id := a.nodeID()
		switch color[id] {
		case black:
			return nil
		case gray:
			chain := append(append([]string{}, stack...), a.nodeName())
			return &CycleError{Chain: chain}
		}
		color[id] = gray
		stack = append(stack, a.nodeName())
		for _, d := range a.nodeDeps() {
			switch d.kind {
			case depAtom:
				if ce := visit(d.atom); ce != nil {
					return ce
				}
			case depAtomList:
				for _, dep := range d.atoms {
					if ce := visit(dep); ce != nil {
						return ce
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}
	return visit(root)
}

func (s *Scope) releaseAny(a AnyAtom) error {
	s.mu.Lock()
	e := s.entries[a.nodeID()]
	if e == nil || (e.state != stateResolved && e.state != stateFailed) {
		s.mu.Unlock()
		return nil
	}
	cleanups := e.cleanups
	e.state, e.value, e.err, e.cleanups = stateUnresolved, nil, nil, nil
	s.removeFromOrder(a.nodeID())
	s.mu.Unlock()

	return runCleanups(a.nodeName(), cleanups)
}

func (s *Scope) invalidateAny(a AnyAtom) error {
	id := a.nodeID()
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrScopeDisposed
	}
	s.mu.Unlock()

	// Invalidation re-enters resolution without going through resolveAny,
	// so the graph walk runs here as well.
	if ce := s.checkCycle(a); ce != nil {
		return ce
	}

	s.mu.Lock()
	e := s.entries[id]
	if e != nil && e.state == stateResolving {
		// Coalesce with the resolution already in flight. Watchers still
		// hear about the settle.
		s.mu.Unlock()
		v, err, _ := s.flights.Do(id, func() (any, error) {
			return s.resolveEntry(a, []string{a.nodeName()})
		})
		s.notifyWatchers(id, v, err)
		return err
	}
	var cleanups []func() error
	if e != nil {
		cleanups = e.cleanups
		e.state, e.value, e.err, e.cleanups = stateResolving, nil, nil, nil
	} else {
		s.entries[id] = &atomEntry{atom: a, state: stateResolving}
	}
	s.mu.Unlock()

	cleanupErr := runCleanups(a.nodeName(), cleanups)

	v, err, _ := s.flights.Do(id, func() (any, error) {
		return s.resolveEntry(a, []string{a.nodeName()})
	})
	s.notifyWatchers(id, v, err)
	return errors.Join(cleanupErr, err)
}

func (s *Scope) notifyWatchers(id string, v any, err error) {
	s.mu.Lock()
	ws := make([]*watcher, len(s.watchers[id]))
	copy(ws, s.watchers[id])
	s.mu.Unlock()
	for _, w := range ws {
		w.fn(v, err)
	}
}

func (s *Scope) peek(a AnyAtom) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[a.nodeID()]
	if e == nil || e.state != stateResolved {
		return nil, false
	}
	return e.value, true
}

func (s *Scope) removeFromOrder(id string) {
	if !s.orderSeen[id] {
		return
	}
	delete(s.orderSeen, id)
	for i, cur := range s.order {
		if cur == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
}

// Dispose releases every resolved atom in reverse resolution order, exactly
// once, then disposes extensions in reverse registration order. Dispose is
// idempotent.
func (s *Scope) Dispose() error {
	type pending struct {
		name     string
		cleanups []func() error
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	var toRelease []pending
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.entries[s.order[i]]
		if e == nil || (e.state != stateResolved && e.state != stateFailed) {
			continue
		}
		toRelease = append(toRelease, pending{name: e.atom.nodeName(), cleanups: e.cleanups})
		e.state, e.value, e.err, e.cleanups = stateUnresolved, nil, nil, nil
	}
	s.order = nil
	s.orderSeen = make(map[string]bool)
	exts := s.extensions
	s.mu.Unlock()

	var errs []error
	for _, p := range toRelease {
		if err := runCleanups(p.name, p.cleanups); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(exts) - 1; i >= 0; i-- {
		if err := exts[i].Dispose(s); err != nil {
			errs = append(errs, fmt.Errorf("arbor: disposing extension %q: %w", exts[i].Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scope) findTagRaw(key anyTag) (any, bool) {
	return findInTagged(s.tags, key)
}

func (s *Scope) collectTagRaw(key anyTag) []any {
	return collectInTagged(nil, s.tags, key)
}

func runCleanups(owner string, cleanups []func() error) error {
	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			errs = append(errs, &CleanupError{Owner: owner, Cause: err})
		}
	}
	return errors.Join(errs...)
}
