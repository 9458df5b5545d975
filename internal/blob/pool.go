package blob

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rupee/rupee/internal/domain"
	"github.com/rupee/rupee/internal/metrics"
)

// Pool holds a fixed set of handles of one backend. Put borrows a handle for
// its duration, so a bucket handle is never used by two writers at once.
// Get and Delete do not borrow: backend reads and deletes are safe to run
// alongside writes on the same handle. Pool itself satisfies Store.
type Pool struct {
	name    string
	handles chan Store
	all     []Store

	closeOnce sync.Once
	closeErr  error
}

// NewPool opens size handles using open. If any handle fails to open, the
// ones already opened are closed and the error is returned.
func NewPool(name string, size int, open func() (Store, error)) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: pool size %d for backend %q", ErrStorageConfig, size, name)
	}
	p := &Pool{
		name:    name,
		handles: make(chan Store, size),
	}
	for i := 0; i < size; i++ {
		h, err := open()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("opening handle %d of backend %q: %w", i, name, err)
		}
		p.all = append(p.all, h)
		p.handles <- h
	}
	return p, nil
}

// Name returns the backend name the pool was opened for.
func (p *Pool) Name() string {
	return p.name
}

// Size returns the number of handles in the pool.
func (p *Pool) Size() int {
	return len(p.all)
}

func (p *Pool) borrow(ctx context.Context) (Store, error) {
	select {
	case h := <-p.handles:
		return h, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %q handle: %w", p.name, ctx.Err())
	}
}

func (p *Pool) give(h Store) {
	p.handles <- h
}

// reader returns the handle used for Get and Delete. Memory pools hold a
// single handle, which is the only one that can resolve their refs.
func (p *Pool) reader() Store {
	return p.all[0]
}

func (p *Pool) Put(ctx context.Context, meta domain.BlobMeta, data []byte) (ref Ref, err error) {
	defer func() {
		metrics.BlobOperationsTotal.WithLabelValues(p.name, "put", metrics.Status(err)).Inc()
		if err == nil {
			metrics.BlobBytesWrittenTotal.Add(float64(len(data)))
		}
	}()

	h, err := p.borrow(ctx)
	if err != nil {
		return nil, err
	}
	defer p.give(h)
	return h.Put(ctx, meta, data)
}

func (p *Pool) Get(ctx context.Context, meta domain.BlobMeta, ref Ref) (data []byte, err error) {
	defer func() {
		metrics.BlobOperationsTotal.WithLabelValues(p.name, "get", metrics.Status(err)).Inc()
		if err == nil {
			metrics.BlobBytesReadTotal.Add(float64(len(data)))
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.reader().Get(ctx, meta, ref)
}

func (p *Pool) Delete(ctx context.Context, meta domain.BlobMeta, ref Ref) (err error) {
	defer func() {
		metrics.BlobOperationsTotal.WithLabelValues(p.name, "delete", metrics.Status(err)).Inc()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return p.reader().Delete(ctx, meta, ref)
}

// Close closes every handle. Calls in flight must finish first.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		for _, h := range p.all {
			if err := h.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

var _ Store = (*Pool)(nil)
