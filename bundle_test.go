package arbor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryTraceBundleRecordsTree(t *testing.T) {
	t.Parallel()

	child := NewFlow("child", func(*ExecutionContext, struct{}, Deps) (int, error) {
		return 1, nil
	})
	parent := NewFlow("parent", func(e *ExecutionContext, _ struct{}, _ Deps) (int, error) {
		return Exec(e, child, struct{}{})
	})

	bundle := NewMemoryTraceBundle()
	defer bundle.Scope.Dispose()
	root := bundle.Scope.CreateContext()
	defer root.Close()

	_, err := Exec(root, parent, struct{}{})
	require.NoError(t, err)

	roots, err := bundle.Trace.Roots()
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Equal(t, "parent", roots[0].Name)
	require.Equal(t, TraceSuccess, roots[0].Status)
	require.False(t, roots[0].End.Before(roots[0].Start))

	children, err := bundle.Trace.Children(roots[0].ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "child", children[0].Name)
	require.Equal(t, roots[0].ID, children[0].ParentID)

	got, err := bundle.Trace.Get(children[0].ID)
	require.NoError(t, err)
	require.Equal(t, children[0], got)
}

func TestMemoryTraceBundleRecordsFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	failing := NewFlow("failing", func(*ExecutionContext, struct{}, Deps) (int, error) {
		return 0, boom
	})

	bundle := NewMemoryTraceBundle()
	defer bundle.Scope.Dispose()
	root := bundle.Scope.CreateContext()
	defer root.Close()

	_, err := Exec(root, failing, struct{}{})
	require.ErrorIs(t, err, boom)

	roots, err := bundle.Trace.Roots()
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Equal(t, TraceFailed, roots[0].Status)
	require.Contains(t, roots[0].Error, "boom")
}
