package arbor

import "fmt"

// Deps carries the resolved dependency values handed to a factory, keyed by
// the names declared in the dependency spec.
type Deps map[string]any

// Dep returns the dependency stored under key, asserted to T.
func Dep[T any](deps Deps, key string) (T, error) {
	raw, ok := deps[key]
	if !ok {
		var zero T
		return zero, fmt.Errorf("arbor: no dependency %q", key)
	}
	v, ok := raw.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("arbor: dependency %q is %T, not %T", key, raw, zero)
	}
	return v, nil
}

// MustDep is Dep but panics on a missing or mistyped dependency. Factories
// whose dependency specs are correct by construction use this form.
func MustDep[T any](deps Deps, key string) T {
	v, err := Dep[T](deps, key)
	if err != nil {
		panic(err)
	}
	return v
}

// DepList returns a list dependency stored under key with every element
// asserted to T.
func DepList[T any](deps Deps, key string) ([]T, error) {
	raw, err := Dep[[]any](deps, key)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for i, el := range raw {
		v, ok := el.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("arbor: dependency %q element %d is %T, not %T", key, i, el, zero)
		}
		out = append(out, v)
	}
	return out, nil
}

type depKind int

const (
	depAtom depKind = iota
	depAtomList
	depTag
	depResource
	depController
)

func (k depKind) String() string {
	switch k {
	case depAtom:
		return "atom"
	case depAtomList:
		return "atom list"
	case depTag:
		return "tag"
	case depResource:
		return "resource"
	case depController:
		return "controller"
	default:
		return "unknown"
	}
}

// DepEntry is one named entry of a dependency spec. A spec with no entries,
// one entry, a list entry, or several entries covers the none/single/list/map
// dependency shapes.
type DepEntry struct {
	key      string
	kind     depKind
	atom     AnyAtom
	atoms    []AnyAtom
	tag      anyTag
	resource AnyResource
	// mkController builds the injected controller handle lazily; it never
	// resolves the underlying atom.
	mkController func(*Scope) any
}

// UseAtom declares a scope-cached atom dependency.
func UseAtom(key string, a AnyAtom) DepEntry {
	return DepEntry{key: key, kind: depAtom, atom: a}
}

// UseAtoms declares a list dependency: every atom resolves and the factory
// receives the values as a []any in declaration order.
func UseAtoms(key string, atoms ...AnyAtom) DepEntry {
	return DepEntry{key: key, kind: depAtomList, atoms: atoms}
}

// UseTag declares a tag query dependency, sought on the executing context's
// ancestor chain with the usual precedence. A miss without a declared
// default fails the execution.
func UseTag[T any](key string, t *Tag[T]) DepEntry {
	return DepEntry{key: key, kind: depTag, tag: t}
}

// UseResource declares a chain-scoped resource dependency, sought on the
// ancestor chain and created on the calling context on a miss.
func UseResource(key string, r AnyResource) DepEntry {
	return DepEntry{key: key, kind: depResource, resource: r}
}

// UseController injects a Controller handle for the atom without resolving
// it. The factory decides when, or whether, to resolve.
func UseController[T any](key string, a *Atom[T]) DepEntry {
	return DepEntry{
		key:  key,
		kind: depController,
		atom: a,
		mkController: func(s *Scope) any {
			return &Controller[T]{scope: s, atom: a}
		},
	}
}
