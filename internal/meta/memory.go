package meta

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/domain"
)

// MemoryStore keeps metadata in two process-local maps. Data is lost when
// the process exits.
type MemoryStore struct {
	mu    sync.RWMutex
	metas map[uuid.UUID]domain.BlobMeta
	refs  map[uuid.UUID]blob.Refs
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		metas: make(map[uuid.UUID]domain.BlobMeta),
		refs:  make(map[uuid.UUID]blob.Refs),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Put(ctx context.Context, meta domain.BlobMeta, refs blob.Refs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metas[meta.ID] = meta
	s.refs[meta.ID] = refs.Clone()
	return nil
}

func (s *MemoryStore) GetMeta(ctx context.Context, id uuid.UUID) (domain.BlobMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metas[id]
	if !ok {
		return domain.BlobMeta{}, notFound(id)
	}
	return m, nil
}

func (s *MemoryStore) GetBlobRefs(ctx context.Context, id uuid.UUID) (blob.Refs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs, ok := s.refs[id]
	if !ok {
		return nil, notFound(id)
	}
	return refs.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.metas, id)
	delete(s.refs, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
