package arbor

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle discovered while walking the declared
// graph. It is returned before any factory in the chain has run.
type CycleError struct {
	// Chain lists atom names from the resolution entry point to the atom
	// that closed the cycle.
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("arbor: dependency cycle: %s", strings.Join(e.Chain, " -> "))
}

// FactoryError reports a factory that returned an error or panicked.
type FactoryError struct {
	// Name identifies the atom, resource, or flow whose factory failed.
	Name string
	// Chain is the dependency chain that led to the factory, outermost first.
	Chain []string
	Cause error
}

func (e *FactoryError) Error() string {
	if len(e.Chain) > 1 {
		return fmt.Sprintf("arbor: factory %q failed (via %s): %v", e.Name, strings.Join(e.Chain, " -> "), e.Cause)
	}
	return fmt.Sprintf("arbor: factory %q failed: %v", e.Name, e.Cause)
}

func (e *FactoryError) Unwrap() error { return e.Cause }

// DependencyError reports a declared dependency that could not be satisfied,
// for example a tag query with no value and no default, or a dependency kind
// that is not legal for the declaring node.
type DependencyError struct {
	// Name identifies the atom or flow that declared the dependency.
	Name string
	// Key is the dependency map key.
	Key   string
	Cause error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("arbor: resolving dependency %q of %q: %v", e.Key, e.Name, e.Cause)
}

func (e *DependencyError) Unwrap() error { return e.Cause }

// ParsePhase says which parser raised a ParseError.
type ParsePhase string

const (
	PhaseInput  ParsePhase = "input"
	PhaseOutput ParsePhase = "output"
	PhaseTag    ParsePhase = "tag"
)

// ParseError reports an input, output, or tag parse failure.
type ParseError struct {
	Phase ParsePhase
	// Label names the tag or flow the value was parsed for.
	Label string
	Cause error
}

func (e *ParseError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("arbor: %s parse failed for %q: %v", e.Phase, e.Label, e.Cause)
	}
	return fmt.Sprintf("arbor: %s parse failed: %v", e.Phase, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

// ClosedContextError reports an Exec call issued on a context that has
// already closed.
type ClosedContextError struct {
	// ContextID is the id of the closed context.
	ContextID string
}

func (e *ClosedContextError) Error() string {
	return fmt.Sprintf("arbor: execution context %s is closed", e.ContextID)
}

// CancelledError reports an operation rejected or interrupted because the
// context's cancellation propagated from an ancestor or the caller.
type CancelledError struct {
	ContextID string
	Cause     error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("arbor: execution context %s cancelled: %v", e.ContextID, e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// TimeoutError reports an operation interrupted by a per-call timeout. The
// timeout cancels only the local subtree, never the parent.
type TimeoutError struct {
	ContextID string
	Cause     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("arbor: execution context %s timed out: %v", e.ContextID, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// CleanupError wraps a failure raised by a cleanup function during context
// close or atom release. Cleanup errors never mask the operation's own
// outcome; they are collected and surfaced from the root's Close.
type CleanupError struct {
	// Owner identifies the context or atom whose cleanup failed.
	Owner string
	Cause error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("arbor: cleanup for %s failed: %v", e.Owner, e.Cause)
}

func (e *CleanupError) Unwrap() error { return e.Cause }
