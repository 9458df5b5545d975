package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rupee/rupee/internal/metrics"
)

const lockSuffix = ".lock"

// bucketPath returns the data file path for a bucket index, e.g. dir/00000001.
func bucketPath(dir string, index uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%08d", index))
}

func lockPath(dir string, index uint64) string {
	return bucketPath(dir, index) + lockSuffix
}

// bucketFile is one append-only data file together with its lock file.
// While a bucketFile exists no other holder, in this or any other process
// sharing the directory, can acquire the same index.
type bucketFile struct {
	dir   string
	index uint64
	file  *os.File
	// end is the current write position.
	end int64
}

// acquireBucket tries to take exclusive ownership of bucket index. It returns
// (nil, nil) when the bucket is full or already locked by someone else.
func acquireBucket(dir string, index uint64, maxSize int64) (*bucketFile, error) {
	path := bucketPath(dir, index)

	full, err := bucketFull(path, maxSize)
	if err != nil {
		return nil, err
	}
	if full {
		return nil, nil
	}

	lock := lockPath(dir, index)
	lf, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: creating lock %s: %v", ErrCreateStorage, lock, err)
	}
	if err := lf.Close(); err != nil {
		removeLock(lock)
		return nil, fmt.Errorf("%w: closing lock %s: %v", ErrCreateStorage, lock, err)
	}

	// The bucket may have been filled by a holder that released it between
	// the size check and our lock.
	full, err = bucketFull(path, maxSize)
	if err != nil || full {
		removeLock(lock)
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		removeLock(lock)
		return nil, fmt.Errorf("%w: opening bucket %s: %v", ErrCreateStorage, path, err)
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		removeLock(lock)
		return nil, fmt.Errorf("%w: seeking bucket %s: %v", ErrCreateStorage, path, err)
	}

	slog.Debug("Bucket acquired", "dir", dir, "bucket", index, "size", end)
	return &bucketFile{dir: dir, index: index, file: f, end: end}, nil
}

// bucketFull reports whether the data file at path exists and has reached
// maxSize. A missing file is not full.
func bucketFull(path string, maxSize int64) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %v", ErrCreateStorage, path, err)
	}
	return fi.Size() >= maxSize, nil
}

// write appends data at the end of the bucket and returns its start offset.
// A failed write may leave a partial tail in the file; no reference to that
// tail is ever handed out.
func (b *bucketFile) write(data []byte) (int64, error) {
	offset, err := b.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: seeking bucket %d: %v", ErrWrite, b.index, err)
	}
	n, err := b.file.Write(data)
	b.end = offset + int64(n)
	if err != nil {
		return 0, fmt.Errorf("%w: bucket %d: %v", ErrWrite, b.index, err)
	}
	return offset, nil
}

// release closes the data file and removes the lock. Failures are logged,
// never returned. Calling release twice is safe.
func (b *bucketFile) release() {
	if b.file == nil {
		return
	}
	if err := b.file.Close(); err != nil {
		slog.Warn("Closing bucket failed", "bucket", b.index, "error", err)
	}
	b.file = nil
	removeLock(lockPath(b.dir, b.index))
	slog.Debug("Bucket released", "dir", b.dir, "bucket", b.index)
}

func removeLock(path string) {
	if err := os.Remove(path); err != nil {
		slog.Warn("Removing bucket lock failed", "lock", path, "error", err)
	}
}

// readBucket reads exactly size bytes at offset from bucket index through
// an independent read-only handle. No lock is taken.
func readBucket(dir string, index uint64, offset, size int64) ([]byte, error) {
	if offset < 0 || size < 0 {
		return nil, fmt.Errorf("%w: invalid extent offset=%d size=%d", ErrReadStorage, offset, size)
	}
	path := bucketPath(dir, index)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening bucket %s: %v", ErrReadStorage, path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat bucket %s: %v", ErrReadStorage, path, err)
	}
	if offset > fi.Size() || size > fi.Size()-offset {
		return nil, fmt.Errorf("%w: extent offset=%d size=%d past end of bucket %d (%d bytes)",
			ErrReadStorage, offset, size, index, fi.Size())
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(f, offset, size), buf); err != nil {
		return nil, fmt.Errorf("%w: reading %d bytes at offset %d of bucket %d: %v",
			ErrReadStorage, size, offset, index, err)
	}
	return buf, nil
}

// findLocks returns the names of lock files left in dir.
func findLocks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrCreateStorage, dir, err)
	}
	var locks []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), lockSuffix) {
			locks = append(locks, e.Name())
		}
	}
	return locks, nil
}

// allocator selects buckets for a handle.
type allocator struct {
	dir      string
	maxSize  int64
	maxIndex uint64
	attempts int
	backoff  time.Duration
}

// findAvailable scans bucket indices from 1 to maxIndex and returns the
// first bucket it can acquire. Up to attempts full scans are made, with the
// pause between them doubling each time.
func (a allocator) findAvailable(ctx context.Context) (*bucketFile, error) {
	wait := a.backoff
	for attempt := 1; ; attempt++ {
		for index := uint64(1); index <= a.maxIndex; index++ {
			metrics.BucketAllocationAttemptsTotal.Inc()
			b, err := acquireBucket(a.dir, index, a.maxSize)
			if err != nil {
				return nil, err
			}
			if b != nil {
				return b, nil
			}
		}

		if attempt >= a.attempts {
			break
		}
		slog.Warn("No bucket available, retrying", "dir", a.dir, "attempt", attempt, "backoff", wait)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrAllocationExhausted, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}

	slog.Error("Bucket allocation exhausted", "dir", a.dir, "max_index", a.maxIndex, "attempts", a.attempts)
	return nil, fmt.Errorf("%w: no bucket below index %d in %s after %d attempts",
		ErrAllocationExhausted, a.maxIndex, a.dir, a.attempts)
}
