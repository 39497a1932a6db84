package arbor

import "fmt"

type journalKey struct {
	owner string
	key   string
}

type journalEntry struct {
	value any
	err   error
}

// Journaled runs fn exactly once per (root chain, owning context name, key)
// and replays the recorded outcome, value or error, on every later call with
// the same key within the same root chain. The journal lives on the chain's
// root context and is discarded when the root closes; a fresh root starts
// with an empty journal.
//
// Retried sub-operations keyed the same way therefore observe the original
// outcome instead of re-running their side effects. A caller that wants a
// genuine re-execution issues a new key.
func Journaled[T any](e *ExecutionContext, key string, fn func() (T, error)) (T, error) {
	var zero T
	root := e.root

	if e.Closed() || root.Closed() {
		return zero, &ClosedContextError{ContextID: e.id}
	}

	jk := journalKey{owner: e.name, key: key}

	root.journalMu.Lock()
	if root.journal != nil {
		if entry, ok := root.journal[jk]; ok {
			root.journalMu.Unlock()
			return replay[T](jk, entry)
		}
	}
	root.journalMu.Unlock()

	// Single-flight per composite key: concurrent first calls share one
	// invocation and all observe its recorded outcome.
	flightKey := jk.owner + "\x00" + jk.key
	raw, err, _ := root.journalFlights.Do(flightKey, func() (any, error) {
		root.journalMu.Lock()
		if root.journal != nil {
			if entry, ok := root.journal[jk]; ok {
				root.journalMu.Unlock()
				return entry.value, entry.err
			}
		}
		root.journalMu.Unlock()

		v, err := fn()

		root.journalMu.Lock()
		if !root.journalDiscarded {
			if root.journal == nil {
				root.journal = make(map[journalKey]journalEntry)
			}
			root.journal[jk] = journalEntry{value: v, err: err}
		}
		root.journalMu.Unlock()
		return v, err
	})
	if err != nil {
		return zero, err
	}
	if raw == nil {
		return zero, nil
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("arbor: journal entry %q/%q holds %T, expected %T", jk.owner, jk.key, raw, zero)
	}
	return v, nil
}

func replay[T any](jk journalKey, entry journalEntry) (T, error) {
	var zero T
	if entry.err != nil {
		return zero, entry.err
	}
	if entry.value == nil {
		return zero, nil
	}
	v, ok := entry.value.(T)
	if !ok {
		return zero, fmt.Errorf("arbor: journal entry %q/%q holds %T, expected %T", jk.owner, jk.key, entry.value, zero)
	}
	return v, nil
}
