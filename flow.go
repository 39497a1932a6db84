package arbor

import (
	"context"
	"errors"
	"fmt"
)

// Flow is a declarative, short-lived unit of work. Each execution gets its
// own child ExecutionContext; the optional input and output parsers bracket
// the factory exactly once per execution.
type Flow[In, Out any] struct {
	name     string
	deps     []DepEntry
	tags     []Tagged
	parseIn  func(any) (In, error)
	parseOut func(Out) (Out, error)
	run      func(*ExecutionContext, In, Deps) (Out, error)
}

// NewFlow declares a flow with the given diagnostic name and factory.
func NewFlow[In, Out any](name string, run func(*ExecutionContext, In, Deps) (Out, error)) *Flow[In, Out] {
	return &Flow[In, Out]{name: name, run: run}
}

// WithDeps declares the flow's dependency map. Atoms resolve through the
// scope, tag queries seek the ancestor chain starting at the new child,
// resources seek the chain and are created on the calling context on a miss,
// and controllers come from the scope without resolving.
func (f *Flow[In, Out]) WithDeps(entries ...DepEntry) *Flow[In, Out] {
	f.deps = append(f.deps, entries...)
	return f
}

// WithTags attaches declaration-time tags, the lowest-precedence tier of tag
// lookup.
func (f *Flow[In, Out]) WithTags(tags ...Tagged) *Flow[In, Out] {
	f.tags = append(f.tags, tags...)
	return f
}

// WithInputParser validates and converts the execution input. Failures
// surface as ParseError with phase "input".
func (f *Flow[In, Out]) WithInputParser(fn func(any) (In, error)) *Flow[In, Out] {
	f.parseIn = fn
	return f
}

// WithOutputParser validates the factory's output. Failures surface as
// ParseError with phase "output".
func (f *Flow[In, Out]) WithOutputParser(fn func(Out) (Out, error)) *Flow[In, Out] {
	f.parseOut = fn
	return f
}

// Name returns the flow's diagnostic name.
func (f *Flow[In, Out]) Name() string { return f.name }

func (f *Flow[In, Out]) findTagRaw(key anyTag) (any, bool) {
	return findInTagged(f.tags, key)
}

func (f *Flow[In, Out]) collectTagRaw(key anyTag) []any {
	return collectInTagged(nil, f.tags, key)
}

func (f *Flow[In, Out]) parseInput(raw any) (In, error) {
	if f.parseIn != nil {
		v, err := f.parseIn(raw)
		if err != nil {
			var zero In
			return zero, &ParseError{Phase: PhaseInput, Label: f.name, Cause: err}
		}
		return v, nil
	}
	var zero In
	if raw == nil {
		return zero, nil
	}
	v, ok := raw.(In)
	if !ok {
		return zero, &ParseError{
			Phase: PhaseInput,
			Label: f.name,
			Cause: fmt.Errorf("unexpected input type %T", raw),
		}
	}
	return v, nil
}

// Exec runs the flow in a fresh child context of parent. The child closes
// automatically when the call settles, success or error; the caller never
// closes it.
func Exec[In, Out any](parent *ExecutionContext, f *Flow[In, Out], input In, opts ...ExecOption) (Out, error) {
	return execFlow(parent, f, any(input), opts)
}

// ExecRaw is Exec for untyped input: the raw value goes through the flow's
// input parser, or a plain type assertion when no parser is declared.
func ExecRaw[In, Out any](parent *ExecutionContext, f *Flow[In, Out], rawInput any, opts ...ExecOption) (Out, error) {
	return execFlow(parent, f, rawInput, opts)
}

func execFlow[In, Out any](parent *ExecutionContext, f *Flow[In, Out], raw any, opts []ExecOption) (Out, error) {
	var zero Out
	o := applyExecOptions(opts)
	name := o.name
	if name == "" {
		name = f.name
	}

	// A closed or cancelled parent rejects the call before the input is
	// even looked at.
	if parent.Closed() {
		return zero, &ClosedContextError{ContextID: parent.id}
	}
	if cerr := parent.ctx.Err(); cerr != nil {
		return zero, cancellationError(parent.id, cerr)
	}

	in, err := f.parseInput(raw)
	if err != nil {
		return zero, err
	}

	child, err := parent.newChild(name, o, f.tags, in)
	if err != nil {
		return zero, err
	}

	deps, err := resolveFlowDeps(child, f.name, f.deps)
	if err != nil {
		child.closeWith(CloseResult{Err: err})
		return zero, err
	}
	if cerr := child.ctx.Err(); cerr != nil {
		err := cancellationError(child.id, cerr)
		child.closeWith(CloseResult{Err: err})
		return zero, err
	}

	ev := &ExecEvent{Name: name, Ctx: child}
	rawOut, err := child.scope.wrapExec(ev, func() (any, error) {
		return f.run(child, in, deps)
	})
	if err != nil {
		err = mapExecError(child, name, err)
		child.closeWith(CloseResult{Err: err})
		return zero, err
	}

	out, err := assertResult[Out](name, rawOut)
	if err == nil && f.parseOut != nil {
		parsed, perr := f.parseOut(out)
		if perr != nil {
			err = &ParseError{Phase: PhaseOutput, Label: f.name, Cause: perr}
		} else {
			out = parsed
		}
	}
	if err != nil {
		child.closeWith(CloseResult{Err: err})
		return zero, err
	}
	child.closeWith(CloseResult{Value: out})
	return out, nil
}

// ExecFunc runs an ad-hoc function in a fresh child context, with the same
// lifecycle and extension chain as a flow execution.
func ExecFunc[T any](parent *ExecutionContext, name string, fn func(*ExecutionContext) (T, error), opts ...ExecOption) (T, error) {
	var zero T
	o := applyExecOptions(opts)
	if o.name != "" {
		name = o.name
	}

	child, err := parent.newChild(name, o, nil, nil)
	if err != nil {
		return zero, err
	}

	ev := &ExecEvent{Name: name, Ctx: child}
	rawOut, err := child.scope.wrapExec(ev, func() (any, error) {
		return fn(child)
	})
	if err != nil {
		err = mapExecError(child, name, err)
		child.closeWith(CloseResult{Err: err})
		return zero, err
	}

	out, err := assertResult[T](name, rawOut)
	if err != nil {
		child.closeWith(CloseResult{Err: err})
		return zero, err
	}
	child.closeWith(CloseResult{Value: out})
	return out, nil
}

func resolveFlowDeps(child *ExecutionContext, flowName string, entries []DepEntry) (Deps, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	s := child.scope
	deps := make(Deps, len(entries))
	for _, d := range entries {
		switch d.kind {
		case depAtom:
			v, err := s.resolveAny(d.atom, []string{flowName})
			if err != nil {
				return nil, &DependencyError{Name: flowName, Key: d.key, Cause: err}
			}
			deps[d.key] = v
		case depAtomList:
			list := make([]any, 0, len(d.atoms))
			for _, dep := range d.atoms {
				v, err := s.resolveAny(dep, []string{flowName})
				if err != nil {
					return nil, &DependencyError{Name: flowName, Key: d.key, Cause: err}
				}
				list = append(list, v)
			}
			deps[d.key] = list
		case depController:
			deps[d.key] = d.mkController(s)
		case depTag:
			// Tag queries seek the ancestor chain starting at the child so
			// call tags participate.
			raw, ok := child.findTagRaw(d.tag)
			if !ok {
				def, has := d.tag.defaultRaw()
				if !has {
					return nil, &DependencyError{
						Name:  flowName,
						Key:   d.key,
						Cause: fmt.Errorf("%w: %q", ErrTagNotFound, d.tag.tagLabel()),
					}
				}
				deps[d.key] = def
				continue
			}
			v, err := d.tag.convertRaw(raw)
			if err != nil {
				return nil, &DependencyError{Name: flowName, Key: d.key, Cause: err}
			}
			deps[d.key] = v
		case depResource:
			v, err := resolveResource(child.parent, d.resource)
			if err != nil {
				return nil, &DependencyError{Name: flowName, Key: d.key, Cause: err}
			}
			deps[d.key] = v
		}
	}
	return deps, nil
}

// assertResult narrows an extension-chain result back to the expected output
// type. Extensions that short-circuit must return a value of the target's
// output type.
func assertResult[T any](name string, raw any) (T, error) {
	var zero T
	if raw == nil {
		return zero, nil
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("arbor: execution %q produced %T, expected %T", name, raw, zero)
	}
	return v, nil
}

func mapExecError(child *ExecutionContext, name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cancellationError(child.id, err)
	}
	return &FactoryError{Name: name, Chain: []string{name}, Cause: err}
}
