package arbor

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunnerRunFlow(t *testing.T) {
	t.Parallel()

	greet := NewFlow("greet", func(e *ExecutionContext, name string, _ Deps) (string, error) {
		return "hello " + name, nil
	})

	runner := NewRunner()
	defer runner.Stop()

	out, err := RunFlow(runner, greet, "arbor")
	require.NoError(t, err)
	require.Equal(t, "hello arbor", out)
}

func TestRunnerStopDisposesEverything(t *testing.T) {
	t.Parallel()

	var atomCleaned, resCleaned atomic.Int32
	pool := NewAtom("pool", func(rc *ResolveCtx, _ Deps) (string, error) {
		rc.OnCleanup(func() error {
			atomCleaned.Add(1)
			return nil
		})
		return "pool", nil
	})
	session := NewResource("session", func(rc *ResolveCtx, _ Deps) (string, error) {
		rc.OnCleanup(func() error {
			resCleaned.Add(1)
			return nil
		})
		return "session", nil
	})

	work := NewFlow("work", func(e *ExecutionContext, _ struct{}, deps Deps) (string, error) {
		return MustDep[string](deps, "pool") + "/" + MustDep[string](deps, "session"), nil
	}).WithDeps(
		UseAtom("pool", pool),
		UseResource("session", session),
	)

	runner := NewRunner()
	out, err := RunFlow(runner, work, struct{}{})
	require.NoError(t, err)
	require.Equal(t, "pool/session", out)

	require.NoError(t, runner.Stop())
	require.Equal(t, int32(1), atomCleaned.Load())
	require.Equal(t, int32(1), resCleaned.Load())

	// Stop is idempotent and the runner rejects further work.
	require.NoError(t, runner.Stop())
	_, err = RunFlow(runner, work, struct{}{})
	var cce *ClosedContextError
	require.ErrorAs(t, err, &cce)
}

func TestRunnerCarriesScopeOptions(t *testing.T) {
	t.Parallel()

	env := NewTag[string]("env")
	report := NewFlow("report", func(e *ExecutionContext, _ struct{}, deps Deps) (string, error) {
		return MustDep[string](deps, "env"), nil
	}).WithDeps(UseTag("env", env))

	runner := NewRunner(WithScopeTags(env.Of("staging")))
	defer runner.Stop()

	out, err := RunFlow(runner, report, struct{}{})
	require.NoError(t, err)
	require.Equal(t, "staging", out)
}
