package arbor

import "fmt"

// AnyResource is the type-erased view of a Resource, usable in dependency
// specs.
type AnyResource interface {
	resName() string
	resID() string
	resDeps() []DepEntry
	invokeResource(rc *ResolveCtx, deps Deps) (any, error)
}

// Resource is a chain-scoped dependency: it is sought on the ancestor
// context chain and, on a miss, created and stored on the calling context.
// Every execution under that context then observes the same instance, and
// the instance's cleanups run when the owning context closes. Resources are
// never cached on the scope.
type Resource[T any] struct {
	name    string
	id      string
	deps    []DepEntry
	tags    []Tagged
	factory func(*ResolveCtx, Deps) (T, error)
}

// NewResource declares a resource with the given diagnostic name and
// factory.
func NewResource[T any](name string, factory func(*ResolveCtx, Deps) (T, error)) *Resource[T] {
	return &Resource[T]{
		name:    name,
		id:      nextNodeID("resource"),
		factory: factory,
	}
}

// WithDeps declares the resource's dependency spec. Atoms and controllers
// resolve through the scope; tag queries seek the owning context's chain.
func (r *Resource[T]) WithDeps(entries ...DepEntry) *Resource[T] {
	r.deps = append(r.deps, entries...)
	return r
}

// WithTags attaches declaration-time tags.
func (r *Resource[T]) WithTags(tags ...Tagged) *Resource[T] {
	r.tags = append(r.tags, tags...)
	return r
}

// Name returns the resource's diagnostic name.
func (r *Resource[T]) Name() string { return r.name }

func (r *Resource[T]) resName() string     { return r.name }
func (r *Resource[T]) resID() string       { return r.id }
func (r *Resource[T]) resDeps() []DepEntry { return r.deps }

func (r *Resource[T]) invokeResource(rc *ResolveCtx, deps Deps) (any, error) {
	return r.factory(rc, deps)
}

func (r *Resource[T]) findTagRaw(key anyTag) (any, bool) {
	return findInTagged(r.tags, key)
}

func (r *Resource[T]) collectTagRaw(key anyTag) []any {
	return collectInTagged(nil, r.tags, key)
}

// ResourceValue seeks an already-created resource instance on the context's
// ancestor chain without creating one.
func ResourceValue[T any](e *ExecutionContext, r *Resource[T]) (T, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if raw, ok := cur.getResource(r.id); ok {
			v, ok := raw.(T)
			return v, ok
		}
	}
	var zero T
	return zero, false
}

// resolveResource seeks the resource on owner's ancestor chain and creates
// it on owner on a miss. Creation is single-flight per owning context, so
// sibling executions racing for the same resource share one factory call;
// the first resolver wins and later siblings observe the same instance.
func resolveResource(owner *ExecutionContext, r AnyResource) (any, error) {
	for cur := owner; cur != nil; cur = cur.parent {
		if v, ok := cur.getResource(r.resID()); ok {
			return v, nil
		}
	}

	v, err, _ := owner.resFlights.Do(r.resID(), func() (any, error) {
		if v, ok := owner.getResource(r.resID()); ok {
			return v, nil
		}
		if owner.Closed() {
			return nil, &ClosedContextError{ContextID: owner.id}
		}

		deps, err := resolveResourceDeps(owner, r)
		if err != nil {
			return nil, err
		}

		rc := &ResolveCtx{scope: owner.scope, name: r.resName(), chain: []string{r.resName()}}
		ev := &ResolveEvent{Kind: ResolveResource, Name: r.resName(), Scope: owner.scope, Ctx: owner}
		v, err := owner.scope.wrapResolve(ev, func() (any, error) {
			return r.invokeResource(rc, deps)
		})
		if err != nil {
			return nil, &FactoryError{Name: r.resName(), Chain: []string{r.resName()}, Cause: err}
		}

		owner.putResource(r.resID(), v)
		// The instance lives for the owning context's lifetime: its cleanups
		// join the owner's LIFO stack.
		for _, fn := range rc.takeCleanups() {
			cleanup := fn
			if cerr := owner.OnClose(func(CloseResult) error { return cleanup() }); cerr != nil {
				return nil, cerr
			}
		}
		return v, nil
	})
	return v, err
}

func resolveResourceDeps(owner *ExecutionContext, r AnyResource) (Deps, error) {
	entries := r.resDeps()
	if len(entries) == 0 {
		return nil, nil
	}
	s := owner.scope
	deps := make(Deps, len(entries))
	for _, d := range entries {
		switch d.kind {
		case depAtom:
			v, err := s.resolveAny(d.atom, []string{r.resName()})
			if err != nil {
				return nil, &DependencyError{Name: r.resName(), Key: d.key, Cause: err}
			}
			deps[d.key] = v
		case depAtomList:
			list := make([]any, 0, len(d.atoms))
			for _, dep := range d.atoms {
				v, err := s.resolveAny(dep, []string{r.resName()})
				if err != nil {
					return nil, &DependencyError{Name: r.resName(), Key: d.key, Cause: err}
				}
				list = append(list, v)
			}
			deps[d.key] = list
		case depController:
			deps[d.key] = d.mkController(s)
		case depTag:
			raw, ok := owner.findTagRaw(d.tag)
			if !ok {
				def, has := d.tag.defaultRaw()
				if !has {
					return nil, &DependencyError{
						Name:  r.resName(),
						Key:   d.key,
						Cause: fmt.Errorf("%w: %q", ErrTagNotFound, d.tag.tagLabel()),
					}
				}
				deps[d.key] = def
				continue
			}
			v, err := d.tag.convertRaw(raw)
			if err != nil {
				return nil, &DependencyError{Name: r.resName(), Key: d.key, Cause: err}
			}
			deps[d.key] = v
		case depResource:
			v, err := resolveResource(owner, d.resource)
			if err != nil {
				return nil, &DependencyError{Name: r.resName(), Key: d.key, Cause: err}
			}
			deps[d.key] = v
		}
	}
	return deps, nil
}
