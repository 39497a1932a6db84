package arbor

// ResolveKind says what kind of node a resolve event concerns.
type ResolveKind string

const (
	// ResolveAtom marks the resolution of a scope-cached atom.
	ResolveAtom ResolveKind = "atom"
	// ResolveResource marks the creation of a chain-scoped resource.
	ResolveResource ResolveKind = "resource"
)

// ResolveEvent describes an atom resolution or resource creation about to
// run. For resources, Ctx is the owning execution context; for atoms it is
// nil.
type ResolveEvent struct {
	Kind  ResolveKind
	Name  string
	Scope *Scope
	Ctx   *ExecutionContext
}

// ExecEvent describes a flow or ad-hoc function execution about to run. Ctx
// is the freshly created child context.
type ExecEvent struct {
	Name string
	Ctx  *ExecutionContext
}

// Extension hooks cross-cutting behavior into a scope. Extensions register
// at scope creation and wrap both resolution and execution: the first
// registered extension is the outermost wrapper. A hook that does not call
// next short-circuits the operation, which is how caching and denial
// extensions work. Errors returned by hooks propagate as ordinary resolve or
// exec failures.
type Extension interface {
	// Name identifies the extension in diagnostics.
	Name() string

	// Init runs once at scope creation, in registration order.
	Init(s *Scope) error

	// WrapResolve intercepts atom resolution and resource creation.
	WrapResolve(next func() (any, error), ev *ResolveEvent) (any, error)

	// WrapExec intercepts flow and ad-hoc function execution.
	WrapExec(next func() (any, error), ev *ExecEvent) (any, error)

	// Dispose runs once at scope disposal, in reverse registration order.
	Dispose(s *Scope) error
}

// BaseExtension provides no-op defaults so extensions only implement the
// hooks they care about.
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a BaseExtension with the given name.
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e BaseExtension) Name() string { return e.name }

func (e BaseExtension) Init(*Scope) error { return nil }

func (e BaseExtension) WrapResolve(next func() (any, error), _ *ResolveEvent) (any, error) {
	return next()
}

func (e BaseExtension) WrapExec(next func() (any, error), _ *ExecEvent) (any, error) {
	return next()
}

func (e BaseExtension) Dispose(*Scope) error { return nil }

// wrapResolve composes the registered extensions around inner, first
// registered outermost. The chain is built iteratively so deep extension
// lists never recurse.
func (s *Scope) wrapResolve(ev *ResolveEvent, inner func() (any, error)) (any, error) {
	next := inner
	for i := len(s.extensions) - 1; i >= 0; i-- {
		ext := s.extensions[i]
		cur := next
		next = func() (any, error) { return ext.WrapResolve(cur, ev) }
	}
	return next()
}

func (s *Scope) wrapExec(ev *ExecEvent, inner func() (any, error)) (any, error) {
	next := inner
	for i := len(s.extensions) - 1; i >= 0; i-- {
		ext := s.extensions[i]
		cur := next
		next = func() (any, error) { return ext.WrapExec(cur, ev) }
	}
	return next()
}
