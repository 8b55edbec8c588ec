package catalog

import (
	"context"
	"sync"
)

// Store persists catalog records keyed by id. Implementations must give
// read-after-write consistency per key.
type Store interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// Create inserts a new record, failing with ErrAlreadyExists on id collision.
	Create(ctx context.Context, rec *Record) error
	// List returns every record in no particular order.
	List(ctx context.Context) ([]*Record, error)
	// CompareAndSwap replaces the stored record with rec only if the stored
	// version still equals expected. It fails with ErrConflict otherwise and
	// with ErrNotFound when the record is gone.
	CompareAndSwap(ctx context.Context, rec *Record, expected int64) error
}

// MemoryStore is an in-process Store. Records are cloned on the way in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return ErrAlreadyExists
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, rec *Record, expected int64) error {
	if rec == nil {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[rec.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expected {
		return ErrConflict
	}
	s.records[rec.ID] = rec.Clone()
	return nil
}
