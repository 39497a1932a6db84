// Package arbor provides a lazy dependency-resolution container and a
// hierarchical execution runtime for Go.
//
// Arbor is designed for backend services that want their long-lived
// components (connection pools, clients, configuration) resolved lazily and
// exactly once, and their per-request work executed in a tree of contexts
// with structured cancellation, cleanup, and tracing. It runs fully in Go
// and integrates cleanly into existing codebases.
//
// # Core Concepts
//
// The Arbor programming model is intentionally small and idiomatic:
//
//  1. Atom and Scope
//  2. Flow and ExecutionContext
//  3. Resource
//  4. Tag
//  5. Extension
//
// # Atom and Scope
//
// An Atom declares a named, lazily constructed singleton: a factory plus its
// dependencies on other atoms. A Scope is the container that resolves atoms
// on first use, memoizes both values and failures, detects dependency
// cycles before running any factory, and releases everything in reverse
// resolution order on Dispose.
//
//	db := arbor.NewAtom("db", openDB)
//	repo := arbor.NewAtom("repo", newRepo).
//	    WithDeps(arbor.UseAtom("db", db))
//
//	scope := arbor.NewScope()
//	defer scope.Dispose()
//	r, err := arbor.Resolve(scope, repo)
//
// Concurrent resolutions of the same atom share a single factory call.
// Presets substitute an atom's value or definition per scope, which is the
// primary seam for testing.
//
// # Flow and ExecutionContext
//
// A Flow declares one unit of per-invocation work: a typed run function plus
// its dependencies. Each Exec call creates a child ExecutionContext under
// the caller's context, forming a tree rooted at Scope.CreateContext.
//
//	greet := arbor.NewFlow("greet", func(ctx *arbor.ExecutionContext, name string, deps arbor.Deps) (string, error) {
//	    return "hello " + name, nil
//	})
//
//	root := scope.CreateContext()
//	defer root.Close()
//	out, err := arbor.Exec(root, greet, "world")
//
// Cancelling a context cancels its whole subtree and never its ancestors.
// Cleanups registered with OnClose run in LIFO order when the context
// settles; their errors surface from the root's Close.
//
// # Resource
//
// A Resource is a context-scoped dependency: created once per owning
// context, shared by every execution under it, and cleaned up when that
// context closes. Sibling executions under the same parent share one
// instance.
//
// # Tag
//
// Tags carry typed configuration through scope and execution tree without
// threading parameters. Lookup precedence is call tags first, then ancestor
// call tags, then scope tags, then the flow's declared tags.
//
// # Extension
//
// Extensions intercept atom resolution and flow execution around the
// factory, in registration order. The built-in extensions cover structured
// logging, metrics, and execution tracing; TraceBundle pairs a Scope with an
// in-memory or SQLite-backed trace store.
//
// # Summary
//
// Arbor's goal is dependency injection and request orchestration that feels
// like Go: plain functions, explicit errors, context-shaped cancellation,
// and no code generation. Scopes own singletons, execution contexts own
// per-call state, and extensions observe both.
package arbor
