// Package trace defines the execution trace store: an append-only log of
// closed execution contexts, queryable as a tree.
package trace

import (
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a record id is unknown to the store.
var ErrNotFound = errors.New("trace: record not found")

// Record is one closed execution context.
type Record struct {
	ID       string
	ParentID string // empty for roots
	Name     string
	Status   string // "success", "failed", or "cancelled"
	Error    string
	Start    time.Time
	End      time.Time
}

// Store persists execution records. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append stores one record. Records arrive in close order, children
	// before their parents.
	Append(rec Record) error

	// Roots returns every root record in append order.
	Roots() ([]Record, error)

	// Children returns the direct children of the given record in append
	// order.
	Children(id string) ([]Record, error)

	// Get returns the record with the given id.
	Get(id string) (Record, error)
}

// MemoryStore is a non-durable Store. When the record count exceeds the
// limit, the oldest root and its whole subtree are evicted.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]Record
	byParent map[string][]string
	roots    []string
	limit    int
}

// DefaultLimit caps MemoryStore growth when no explicit limit is given.
const DefaultLimit = 4096

// NewMemoryStore creates an in-memory store holding at most limit records;
// limit <= 0 means DefaultLimit.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{
		records:  make(map[string]Record),
		byParent: make(map[string][]string),
		limit:    limit,
	}
}

func (s *MemoryStore) Append(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.ID] = rec
	if rec.ParentID == "" {
		s.roots = append(s.roots, rec.ID)
	} else {
		s.byParent[rec.ParentID] = append(s.byParent[rec.ParentID], rec.ID)
	}

	for len(s.records) > s.limit && len(s.roots) > 0 {
		oldest := s.roots[0]
		s.roots = s.roots[1:]
		s.removeSubtree(oldest)
	}
	return nil
}

func (s *MemoryStore) removeSubtree(id string) {
	delete(s.records, id)
	children := s.byParent[id]
	delete(s.byParent, id)
	for _, child := range children {
		s.removeSubtree(child)
	}
}

func (s *MemoryStore) Roots() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.roots))
	for _, id := range s.roots {
		if rec, ok := s.records[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) Children(id string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byParent[id]
	out := make([]Record, 0, len(ids))
	for _, child := range ids {
		if rec, ok := s.records[child]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *MemoryStore) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}
