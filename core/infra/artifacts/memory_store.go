package artifacts

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
)

const memoryScheme = "mem"

type memoryBlob struct {
	content []byte
	meta    Metadata
}

// MemoryStore keeps blobs in process memory. Used for the single-node default
// and in tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]memoryBlob)}
}

func (s *MemoryStore) Put(_ context.Context, content []byte, meta Metadata) (string, error) {
	id := uuid.NewString()
	meta = withDigest(content, meta)
	meta.Labels = maps.Clone(meta.Labels)
	s.mu.Lock()
	s.blobs[id] = memoryBlob{content: slices.Clone(content), meta: meta}
	s.mu.Unlock()
	return pointerFor(memoryScheme, id), nil
}

func (s *MemoryStore) Get(_ context.Context, ptr string) ([]byte, Metadata, error) {
	id, err := keyFromPointer(memoryScheme, ptr)
	if err != nil {
		return nil, Metadata{}, err
	}
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, Metadata{}, ErrNotFound
	}
	meta := blob.meta
	meta.Labels = maps.Clone(meta.Labels)
	return slices.Clone(blob.content), meta, nil
}

func (s *MemoryStore) Delete(_ context.Context, ptr string) error {
	id, err := keyFromPointer(memoryScheme, ptr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.blobs, id)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
