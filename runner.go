package arbor

import (
	"errors"
	"sync"
)

// Runner bundles a Scope with a long-lived root execution context to provide
// a simple entry point for single-process use.
//
// Typical usage:
//
//	runner := arbor.NewRunner()
//	defer runner.Stop()
//
//	out, err := arbor.RunFlow(runner, myFlow, input)
type Runner struct {
	// Scope holds the runner's lazily resolved singletons.
	Scope *Scope

	// Root is the execution context every RunFlow call executes under. It
	// stays open until Stop.
	Root *ExecutionContext

	mu      sync.Mutex
	stopped bool
}

// NewRunner constructs a Runner with a fresh scope and root context.
func NewRunner(opts ...ScopeOption) *Runner {
	scope := NewScope(opts...)
	return &Runner{
		Scope: scope,
		Root:  scope.CreateContext(),
	}
}

// Stop closes the root context and disposes the scope. Cleanup errors from
// both are returned joined. Stop is idempotent.
func (r *Runner) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	return errors.Join(r.Root.Close(), r.Scope.Dispose())
}

// RunFlow executes f under the runner's root context.
func RunFlow[In, Out any](r *Runner, f *Flow[In, Out], input In, opts ...ExecOption) (Out, error) {
	return Exec(r.Root, f, input, opts...)
}
