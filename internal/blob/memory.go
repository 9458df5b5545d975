package blob

import (
	"context"
	"fmt"
	"sync"

	"github.com/rupee/rupee/internal/domain"
)

// MemoryStore keeps payloads in a process-local list. References are indices
// into that list, so they are only valid against the handle that issued them.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs [][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Put appends a private copy of data.
func (s *MemoryStore) Put(ctx context.Context, meta domain.BlobMeta, data []byte) (Ref, error) {
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs = append(s.blobs, buf)
	return MemoryRef{Index: len(s.blobs) - 1}, nil
}

// Get returns a copy of the payload at the referenced index.
func (s *MemoryStore) Get(ctx context.Context, meta domain.BlobMeta, ref Ref) ([]byte, error) {
	r, ok := ref.(MemoryRef)
	if !ok {
		return nil, fmt.Errorf("%w: memory store got %s", ErrRefMismatch, refString(ref))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if r.Index < 0 || r.Index >= len(s.blobs) {
		return nil, fmt.Errorf("%w: index %d out of range", ErrReadStorage, r.Index)
	}
	buf := s.blobs[r.Index]
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// Delete is a no-op. The memory store never reclaims space.
func (s *MemoryStore) Delete(ctx context.Context, meta domain.BlobMeta, ref Ref) error {
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Len reports the number of stored payloads.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

func refString(ref Ref) string {
	if ref == nil {
		return "<nil>"
	}
	return ref.String()
}

var _ Store = (*MemoryStore)(nil)
