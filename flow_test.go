package arbor

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExecRoundTrip(t *testing.T) {
	t.Parallel()

	double := NewFlow("double", func(e *ExecutionContext, in int, _ Deps) (int, error) {
		return in * 2, nil
	})

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	out, err := Exec(root, double, 21)
	require.NoError(t, err)
	require.Equal(t, 42, out)
}

func TestExecParsersRunExactlyOnce(t *testing.T) {
	t.Parallel()

	var inCalls, outCalls, runCalls atomic.Int32
	flow := NewFlow("pipeline", func(e *ExecutionContext, in string, _ Deps) (string, error) {
		runCalls.Add(1)
		return strings.ToUpper(in), nil
	}).
		WithInputParser(func(raw any) (string, error) {
			inCalls.Add(1)
			s, ok := raw.(string)
			if !ok {
				return "", fmt.Errorf("want string, got %T", raw)
			}
			return strings.TrimSpace(s), nil
		}).
		WithOutputParser(func(out string) (string, error) {
			outCalls.Add(1)
			if out == "" {
				return "", errors.New("empty output")
			}
			return out, nil
		})

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	out, err := Exec(root, flow, "  hello ")
	require.NoError(t, err)
	require.Equal(t, "HELLO", out)
	require.Equal(t, int32(1), inCalls.Load())
	require.Equal(t, int32(1), outCalls.Load())
	require.Equal(t, int32(1), runCalls.Load())
}

func TestExecInputParseError(t *testing.T) {
	t.Parallel()

	var ran atomic.Bool
	flow := NewFlow("strict", func(e *ExecutionContext, in int, _ Deps) (int, error) {
		ran.Store(true)
		return in, nil
	}).WithInputParser(func(raw any) (int, error) {
		return 0, errors.New("rejected")
	})

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	_, err := Exec(root, flow, 1)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, PhaseInput, pe.Phase)
	require.Equal(t, "strict", pe.Label)
	require.False(t, ran.Load(), "factory must not run on input parse failure")
}

func TestExecOutputParseError(t *testing.T) {
	t.Parallel()

	flow := NewFlow("checked", func(e *ExecutionContext, _ struct{}, _ Deps) (int, error) {
		return -5, nil
	}).WithOutputParser(func(out int) (int, error) {
		if out < 0 {
			return 0, fmt.Errorf("negative output %d", out)
		}
		return out, nil
	})

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	_, err := Exec(root, flow, struct{}{})
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, PhaseOutput, pe.Phase)
}

func TestExecRawTypeAssertsInput(t *testing.T) {
	t.Parallel()

	echo := NewFlow("echo", func(e *ExecutionContext, in string, _ Deps) (string, error) {
		return in, nil
	})

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	out, err := ExecRaw(root, echo, any("hello"))
	require.NoError(t, err)
	require.Equal(t, "hello", out)

	_, err = ExecRaw(root, echo, 7)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, PhaseInput, pe.Phase)
}

func TestExecReportsCycleInFlowDeps(t *testing.T) {
	t.Parallel()

	var ran atomic.Bool
	var a, b *Atom[int]
	a = NewAtom("a", func(*ResolveCtx, Deps) (int, error) {
		ran.Store(true)
		return 0, nil
	})
	b = NewAtom("b", func(*ResolveCtx, Deps) (int, error) {
		ran.Store(true)
		return 0, nil
	})
	a.WithDeps(UseAtom("b", b))
	b.WithDeps(UseAtom("a", a))

	flow := NewFlow("uses-a", func(e *ExecutionContext, _ struct{}, deps Deps) (int, error) {
		return MustDep[int](deps, "a"), nil
	}).WithDeps(UseAtom("a", a))

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	_, err := Exec(root, flow, struct{}{})
	require.Error(t, err)

	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, []string{"a", "b", "a"}, ce.Chain)
	require.False(t, ran.Load(), "no factory may run when the graph is cyclic")
}

func TestExecOnClosedContextChecksBeforeParsing(t *testing.T) {
	t.Parallel()

	var parsed atomic.Bool
	flow := NewFlow("strict", func(*ExecutionContext, int, Deps) (int, error) {
		return 0, nil
	}).WithInputParser(func(any) (int, error) {
		parsed.Store(true)
		return 0, errors.New("malformed")
	})

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	require.NoError(t, root.Close())

	// The closed context wins over the bad input.
	_, err := Exec(root, flow, 1)
	var cce *ClosedContextError
	require.ErrorAs(t, err, &cce)
	require.Equal(t, root.ID(), cce.ContextID)
	require.False(t, parsed.Load(), "input must not be parsed for a closed context")
}

func TestExecFactoryErrorIdentity(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	flow := NewFlow("fragile", func(*ExecutionContext, struct{}, Deps) (int, error) {
		return 0, boom
	})

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	_, err := Exec(root, flow, struct{}{})
	require.ErrorIs(t, err, boom)

	var fe *FactoryError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "fragile", fe.Name)
}

func TestExecAtomAndControllerDeps(t *testing.T) {
	t.Parallel()

	var built atomic.Int32
	cfg := NewAtom("cfg", func(*ResolveCtx, Deps) (string, error) {
		built.Add(1)
		return "prod", nil
	})
	cache := NewAtom("cache", func(*ResolveCtx, Deps) (string, error) {
		return "warm", nil
	})

	flow := NewFlow("handler", func(e *ExecutionContext, _ struct{}, deps Deps) (string, error) {
		env := MustDep[string](deps, "cfg")

		// The controller hands out the atom lazily.
		ctrl := MustDep[*Controller[string]](deps, "cache")
		_, ok := ctrl.Peek()
		require.False(t, ok)
		warm, err := ctrl.Get()
		require.NoError(t, err)
		return env + "/" + warm, nil
	}).WithDeps(
		UseAtom("cfg", cfg),
		UseController("cache", cache),
	)

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	out, err := Exec(root, flow, struct{}{})
	require.NoError(t, err)
	require.Equal(t, "prod/warm", out)

	// Repeated executions share the scope's cached atom.
	_, err = Exec(root, flow, struct{}{})
	require.NoError(t, err)
	require.Equal(t, int32(1), built.Load())
}

func TestExecFuncLifecycle(t *testing.T) {
	t.Parallel()

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	var childID string
	out, err := ExecFunc(root, "adhoc", func(e *ExecutionContext) (int, error) {
		childID = e.ID()
		require.Equal(t, "adhoc", e.Name())
		require.Equal(t, root.ID(), e.ParentID())
		return 9, nil
	})
	require.NoError(t, err)
	require.Equal(t, 9, out)
	require.NotEmpty(t, childID)
	require.NotEqual(t, root.ID(), childID)
}

func TestExecNestedInputs(t *testing.T) {
	t.Parallel()

	inner := NewFlow("inner", func(e *ExecutionContext, in int, _ Deps) (int, error) {
		require.Equal(t, in, e.Input())
		return in + 1, nil
	})
	outer := NewFlow("outer", func(e *ExecutionContext, in int, _ Deps) (int, error) {
		v, err := Exec(e, inner, in*10)
		if err != nil {
			return 0, err
		}
		return v, nil
	})

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	out, err := Exec(root, outer, 3)
	require.NoError(t, err)
	require.Equal(t, 31, out)
}

func TestExecWithNameOverridesContextName(t *testing.T) {
	t.Parallel()

	flow := NewFlow("generic", func(e *ExecutionContext, _ struct{}, _ Deps) (string, error) {
		return e.Name(), nil
	})

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	name, err := Exec(root, flow, struct{}{}, WithName("specific"))
	require.NoError(t, err)
	require.Equal(t, "specific", name)
}
