package trace

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func rec(id, parent, name string) Record {
	now := time.Now()
	return Record{
		ID:       id,
		ParentID: parent,
		Name:     name,
		Status:   "success",
		Start:    now,
		End:      now,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(0)

	require.NoError(t, s.Append(rec("c1", "r1", "child-1")))
	require.NoError(t, s.Append(rec("c2", "r1", "child-2")))
	require.NoError(t, s.Append(rec("r1", "", "root")))

	roots, err := s.Roots()
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Equal(t, "root", roots[0].Name)

	children, err := s.Children("r1")
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, "child-1", children[0].Name)
	require.Equal(t, "child-2", children[1].Name)

	got, err := s.Get("c2")
	require.NoError(t, err)
	require.Equal(t, "child-2", got.Name)

	_, err = s.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreEvictsOldestSubtree(t *testing.T) {
	t.Parallel()

	// Limit of 4: two 2-record trees fit, a third evicts the oldest tree.
	s := NewMemoryStore(4)

	for i := 1; i <= 3; i++ {
		root := fmt.Sprintf("r%d", i)
		child := fmt.Sprintf("c%d", i)
		require.NoError(t, s.Append(rec(child, root, "child")))
		require.NoError(t, s.Append(rec(root, "", "root")))
	}

	roots, err := s.Roots()
	require.NoError(t, err)
	require.Len(t, roots, 2)
	require.Equal(t, "r2", roots[0].ID)
	require.Equal(t, "r3", roots[1].ID)

	// The evicted root's children went with it.
	_, err = s.Get("c1")
	require.ErrorIs(t, err, ErrNotFound)
	children, err := s.Children("r1")
	require.NoError(t, err)
	require.Empty(t, children)
}
