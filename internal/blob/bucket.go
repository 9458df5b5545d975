package blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
	"github.com/rupee/rupee/internal/metrics"
)

// BucketStore packs blobs into shared append-only bucket files under one
// directory. Each handle owns exactly one bucket at a time and rotates to a
// fresh one once the current bucket reaches the configured size. The size
// check runs before each write, so a bucket can exceed the limit by up to
// one blob.
//
// Deleting is not supported: bucket files are never rewritten and the space
// taken by a blob is not reclaimed.
type BucketStore struct {
	alloc allocator

	mu      sync.Mutex
	current *bucketFile
	closed  bool
}

// InitBucketStorage prepares the bucket directory. It must run once per
// deployment before any handle is created. It refuses to continue when lock
// files are present, since they mean either an unclean shutdown or another
// live instance using the same directory.
func InitBucketStorage(cfg *config.BucketConfig) error {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrCreateStorage, cfg.Path, err)
	}
	locks, err := findLocks(cfg.Path)
	if err != nil {
		return err
	}
	if len(locks) > 0 {
		slog.Error("Bucket lock files found, refusing to start",
			"dir", cfg.Path, "locks", locks)
		return fmt.Errorf("%w in %s: %v", ErrLocksFound, cfg.Path, locks)
	}
	slog.Info("Bucket storage initialized", "dir", cfg.Path)
	return nil
}

// NewBucketStore opens a handle on an initialised bucket directory and
// acquires its first bucket.
func NewBucketStore(ctx context.Context, cfg *config.BucketConfig) (*BucketStore, error) {
	if cfg.MaxSize <= 0 || cfg.MaxIndex == 0 {
		return nil, fmt.Errorf("%w: max_size=%d max_index=%d", ErrStorageConfig, cfg.MaxSize, cfg.MaxIndex)
	}
	fi, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageConfig, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrStorageConfig, cfg.Path)
	}

	attempts := cfg.AllocationAttempts
	if attempts < 1 {
		attempts = 1
	}
	s := &BucketStore{
		alloc: allocator{
			dir:      cfg.Path,
			maxSize:  cfg.MaxSize,
			maxIndex: cfg.MaxIndex,
			attempts: attempts,
			backoff:  cfg.AllocationBackoff(),
		},
	}
	s.current, err = s.alloc.findAvailable(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Bucket returns the index of the bucket currently held, or 0 if none.
func (s *BucketStore) Bucket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0
	}
	return s.current.index
}

// Put appends data to the current bucket, rotating first if it is full.
func (s *BucketStore) Put(ctx context.Context, meta domain.BlobMeta, data []byte) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: bucket store is closed", ErrWrite)
	}
	if err := s.rotateLocked(ctx); err != nil {
		return nil, err
	}

	offset, err := s.current.write(data)
	if err != nil {
		return nil, err
	}
	return BucketRef{Bucket: s.current.index, Offset: offset, Size: int64(len(data))}, nil
}

// rotateLocked makes sure a bucket with room is held. The caller must hold s.mu.
func (s *BucketStore) rotateLocked(ctx context.Context) error {
	if s.current != nil && s.current.end < s.alloc.maxSize {
		return nil
	}
	if s.current != nil {
		slog.Info("Rotating full bucket", "dir", s.alloc.dir, "bucket", s.current.index, "size", s.current.end)
		s.current.release()
		s.current = nil
		metrics.BucketRotationsTotal.Inc()
	}
	b, err := s.alloc.findAvailable(ctx)
	if err != nil {
		return err
	}
	s.current = b
	return nil
}

// Get reads the blob located by ref. The reference must be a BucketRef whose
// size matches meta.Size.
func (s *BucketStore) Get(ctx context.Context, meta domain.BlobMeta, ref Ref) ([]byte, error) {
	r, ok := ref.(BucketRef)
	if !ok {
		return nil, fmt.Errorf("%w: bucket store got %s", ErrRefMismatch, refString(ref))
	}
	if r.Size != meta.Size {
		return nil, fmt.Errorf("%w: %s has size %d but %s has size %d",
			ErrReadStorage, r, r.Size, meta, meta.Size)
	}
	return readBucket(s.alloc.dir, r.Bucket, r.Offset, r.Size)
}

// Delete is a no-op; bucket files are append-only.
func (s *BucketStore) Delete(ctx context.Context, meta domain.BlobMeta, ref Ref) error {
	return nil
}

// Close releases the held bucket. The handle cannot be used afterwards.
func (s *BucketStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.current.release()
		s.current = nil
	}
	s.closed = true
	return nil
}

var _ Store = (*BucketStore)(nil)
