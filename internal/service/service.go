// Package service replicates blob writes across every configured backend
// and records the resulting references in the metadata store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
	"github.com/rupee/rupee/internal/hashing"
	"github.com/rupee/rupee/internal/meta"
)

// ErrUnavailable is returned by Load when no backend holding a reference
// could return the blob.
var ErrUnavailable = errors.New("no backend could return the blob")

// Backend is a named blob store, usually a *blob.Pool.
type Backend struct {
	Name  string
	Store blob.Store
}

// Stored describes a blob after a successful Store.
type Stored struct {
	Meta   domain.BlobMeta
	Refs   blob.Refs
	Digest string
}

// Loaded is a blob read back by Load.
type Loaded struct {
	Meta    domain.BlobMeta
	Data    []byte
	Digest  string
	Backend string
}

type Service struct {
	backends []Backend
	byName   map[string]blob.Store
	primary  string
	meta     meta.Store
	hash     hashing.Algorithm
}

// New assembles a Service. backends keeps configuration order, which is
// the fallback order used by Load after the primary. The service takes
// ownership of the stores and closes them in Close.
func New(backends []Backend, primary string, metaStore meta.Store, hash hashing.Algorithm) (*Service, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no blob backends", blob.ErrStorageConfig)
	}
	byName := make(map[string]blob.Store, len(backends))
	for _, b := range backends {
		if _, dup := byName[b.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate backend %q", blob.ErrStorageConfig, b.Name)
		}
		byName[b.Name] = b.Store
	}
	if primary == "" {
		primary = backends[0].Name
	}
	if _, ok := byName[primary]; !ok {
		return nil, fmt.Errorf("%w: primary backend %q is not configured", blob.ErrStorageConfig, primary)
	}
	return &Service{
		backends: backends,
		byName:   byName,
		primary:  primary,
		meta:     metaStore,
		hash:     hash,
	}, nil
}

// Open builds every configured blob pool and the metadata store. Bucket
// backends are initialised first, so leftover locks abort startup.
func Open(ctx context.Context, cfg *config.Config) (*Service, error) {
	hash, err := hashing.Parse(cfg.Blob.Hash)
	if err != nil {
		return nil, err
	}

	var backends []Backend
	closeAll := func() {
		for _, b := range backends {
			b.Store.Close()
		}
	}
	for i := range cfg.Blob.Backends {
		bc := &cfg.Blob.Backends[i]
		pool, err := blob.OpenPool(ctx, bc)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("opening blob backend %q: %w", bc.Name, err)
		}
		slog.Info("Blob backend ready", "name", bc.Name, "type", bc.Type, "handles", pool.Size())
		backends = append(backends, Backend{Name: bc.Name, Store: pool})
	}

	metaStore, err := meta.New(ctx, &cfg.Meta)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}
	slog.Info("Metadata store ready", "type", cfg.Meta.Type)

	svc, err := New(backends, cfg.Blob.Primary, metaStore, hash)
	if err != nil {
		closeAll()
		metaStore.Close()
		return nil, err
	}
	return svc, nil
}

// Primary returns the name of the backend Load tries first.
func (s *Service) Primary() string {
	return s.primary
}

// Hash returns the digest algorithm applied to payloads.
func (s *Service) Hash() hashing.Algorithm {
	return s.hash
}

// Ping checks that the metadata store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.meta.Ping(ctx)
}

// Store writes data to every backend concurrently and then records the
// references. If any backend fails, the call fails and blobs already
// written elsewhere are left unreferenced.
func (s *Service) Store(ctx context.Context, data []byte) (*Stored, error) {
	m := domain.NewBlobMeta(int64(len(data)))

	var mu sync.Mutex
	refs := make(blob.Refs, len(s.backends))

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range s.backends {
		g.Go(func() error {
			ref, err := b.Store.Put(gctx, m, data)
			if err != nil {
				return fmt.Errorf("backend %q: %w", b.Name, err)
			}
			mu.Lock()
			refs[b.Name] = ref
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if len(refs) > 0 {
			slog.Warn("Blob write failed, replicas orphaned", "id", m.ID, "written", refs.Names(), "error", err)
		}
		return nil, err
	}

	if err := s.meta.Put(ctx, m, refs); err != nil {
		slog.Error("Metadata write failed, replicas orphaned", "id", m.ID, "written", refs.Names(), "error", err)
		return nil, err
	}

	return &Stored{Meta: m, Refs: refs, Digest: s.hash.Hex(data)}, nil
}

// readOrder lists the backends holding a reference, primary first and the
// rest in configuration order. References to unconfigured backends are
// skipped.
func (s *Service) readOrder(refs blob.Refs) []string {
	var order []string
	if _, ok := refs[s.primary]; ok {
		order = append(order, s.primary)
	}
	for _, b := range s.backends {
		if b.Name == s.primary {
			continue
		}
		if _, ok := refs[b.Name]; ok {
			order = append(order, b.Name)
		}
	}
	return order
}

// Load reads a blob back, falling over to the next replica when a backend
// fails.
func (s *Service) Load(ctx context.Context, id uuid.UUID) (*Loaded, error) {
	m, refs, err := s.Describe(ctx, id)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, name := range s.readOrder(refs) {
		data, err := s.byName[name].Get(ctx, m, refs[name])
		if err != nil {
			slog.Warn("Blob read failed, trying next backend", "id", id, "backend", name, "error", err)
			errs = append(errs, fmt.Errorf("backend %q: %w", name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		return &Loaded{Meta: m, Data: data, Digest: s.hash.Hex(data), Backend: name}, nil
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: blob %s has no reference to a configured backend", ErrUnavailable, id)
	}
	return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

// Describe returns the stored metadata and references of a blob.
func (s *Service) Describe(ctx context.Context, id uuid.UUID) (domain.BlobMeta, blob.Refs, error) {
	m, err := s.meta.GetMeta(ctx, id)
	if err != nil {
		return domain.BlobMeta{}, nil, err
	}
	refs, err := s.meta.GetBlobRefs(ctx, id)
	if err != nil {
		return domain.BlobMeta{}, nil, err
	}
	return m, refs, nil
}

// Remove asks every backend to delete its copy, then deletes the metadata
// record. Backend failures are logged and do not stop the removal; append
// only backends keep the bytes regardless.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	m, refs, err := s.Describe(ctx, id)
	if err != nil {
		return err
	}
	for _, name := range refs.Names() {
		store, ok := s.byName[name]
		if !ok {
			continue
		}
		if err := store.Delete(ctx, m, refs[name]); err != nil {
			slog.Warn("Blob delete failed", "id", id, "backend", name, "error", err)
		}
	}
	return s.meta.Delete(ctx, id)
}

// Close releases every backend and the metadata store.
func (s *Service) Close() error {
	var errs []error
	for _, b := range s.backends {
		if err := b.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing backend %q: %w", b.Name, err))
		}
	}
	if err := s.meta.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing metadata store: %w", err))
	}
	return errors.Join(errs...)
}
