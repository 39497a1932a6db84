package arbor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagGetWithDefault(t *testing.T) {
	t.Parallel()

	env := NewTag[string]("env").WithDefault("dev")

	s := NewScope()
	defer s.Dispose()

	v, err := env.Get(s)
	require.NoError(t, err)
	require.Equal(t, "dev", v)

	bound := NewScope(WithScopeTags(env.Of("prod")))
	defer bound.Dispose()

	v, err = env.Get(bound)
	require.NoError(t, err)
	require.Equal(t, "prod", v)
}

func TestTagGetMissWithoutDefault(t *testing.T) {
	t.Parallel()

	region := NewTag[string]("region")

	s := NewScope()
	defer s.Dispose()

	_, err := region.Get(s)
	require.ErrorIs(t, err, ErrTagNotFound)

	_, ok, err := region.Find(s)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTagIdentityNotLabel(t *testing.T) {
	t.Parallel()

	a := NewTag[string]("same")
	b := NewTag[string]("same")

	s := NewScope(WithScopeTags(a.Of("value-a")))
	defer s.Dispose()

	v, err := a.Get(s)
	require.NoError(t, err)
	require.Equal(t, "value-a", v)

	// A distinct tag with the same label is a different key.
	_, err = b.Get(s)
	require.ErrorIs(t, err, ErrTagNotFound)
}

func TestTagParseFailure(t *testing.T) {
	t.Parallel()

	port := NewTag[int]("port").WithParse(func(raw any) (int, error) {
		n, ok := raw.(int)
		if !ok || n <= 0 {
			return 0, fmt.Errorf("bad port %v", raw)
		}
		return n, nil
	})

	s := NewScope(WithScopeTags(port.Of(-1)))
	defer s.Dispose()

	_, err := port.Get(s)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, PhaseTag, pe.Phase)
	require.Equal(t, "port", pe.Label)
}

func TestTagPrecedenceOnContext(t *testing.T) {
	t.Parallel()

	env := NewTag[string]("env")

	flow := NewFlow("report-env", func(e *ExecutionContext, _ struct{}, deps Deps) (string, error) {
		return MustDep[string](deps, "env"), nil
	}).
		WithDeps(UseTag("env", env)).
		WithTags(env.Of("declared"))

	s := NewScope(WithScopeTags(env.Of("scope")))
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	// Call tags rank highest.
	v, err := Exec(root, flow, struct{}{}, WithCallTags(env.Of("call")))
	require.NoError(t, err)
	require.Equal(t, "call", v)

	// Then scope tags.
	v, err = Exec(root, flow, struct{}{})
	require.NoError(t, err)
	require.Equal(t, "scope", v)

	// Declared tags are the last tier.
	bare := NewScope()
	defer bare.Dispose()
	bareRoot := bare.CreateContext()
	defer bareRoot.Close()

	v, err = Exec(bareRoot, flow, struct{}{})
	require.NoError(t, err)
	require.Equal(t, "declared", v)
}

func TestTagAncestorCallTags(t *testing.T) {
	t.Parallel()

	tenant := NewTag[string]("tenant")

	inner := NewFlow("inner", func(e *ExecutionContext, _ struct{}, deps Deps) (string, error) {
		return MustDep[string](deps, "tenant"), nil
	}).WithDeps(UseTag("tenant", tenant))

	outer := NewFlow("outer", func(e *ExecutionContext, _ struct{}, _ Deps) (string, error) {
		return Exec(e, inner, struct{}{})
	})

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	// The tag bound on the outer call is visible to the nested execution.
	v, err := Exec(root, outer, struct{}{}, WithCallTags(tenant.Of("acme")))
	require.NoError(t, err)
	require.Equal(t, "acme", v)
}

func TestTagCollectPrecedenceOrder(t *testing.T) {
	t.Parallel()

	label := NewTag[string]("label")

	flow := NewFlow("collect", func(e *ExecutionContext, _ struct{}, _ Deps) ([]string, error) {
		return label.Collect(e)
	}).WithTags(label.Of("declared"))

	s := NewScope(WithScopeTags(label.Of("scope")))
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	got, err := Exec(root, flow, struct{}{}, WithCallTags(label.Of("call")))
	require.NoError(t, err)
	require.Equal(t, []string{"call", "scope", "declared"}, got)
}

func TestTagDefaultInFlowDeps(t *testing.T) {
	t.Parallel()

	limit := NewTag[int]("limit").WithDefault(10)

	flow := NewFlow("limited", func(e *ExecutionContext, _ struct{}, deps Deps) (int, error) {
		return MustDep[int](deps, "limit"), nil
	}).WithDeps(UseTag("limit", limit))

	s := NewScope()
	defer s.Dispose()
	root := s.CreateContext()
	defer root.Close()

	v, err := Exec(root, flow, struct{}{})
	require.NoError(t, err)
	require.Equal(t, 10, v)

	v, err = Exec(root, flow, struct{}{}, WithCallTags(limit.Of(25)))
	require.NoError(t, err)
	require.Equal(t, 25, v)
}
