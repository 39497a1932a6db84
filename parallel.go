package arbor

import (
	"errors"

	"golang.org/x/sync/errgroup"
)

// ParallelMode selects how RunParallel treats failures.
type ParallelMode int

const (
	// FailFast returns the first error; the remaining functions still run to
	// completion (cancellation is cooperative, driven by the contexts the
	// functions execute under).
	FailFast ParallelMode = iota
	// CollectErrors runs every function and returns the failures joined.
	CollectErrors
)

// RunParallel runs fns concurrently as sibling work under this context. Each
// fn typically issues its own Exec call against e, so the siblings get
// isolated child contexts and cancellation windows while sharing resources
// already created on e.
func (e *ExecutionContext) RunParallel(mode ParallelMode, fns ...func() error) error {
	if e.Closed() {
		return &ClosedContextError{ContextID: e.id}
	}

	if mode == FailFast {
		var g errgroup.Group
		for _, fn := range fns {
			g.Go(fn)
		}
		return g.Wait()
	}

	errs := make([]error, len(fns))
	var g errgroup.Group
	for i, fn := range fns {
		i, fn := i, fn
		g.Go(func() error {
			errs[i] = fn()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
