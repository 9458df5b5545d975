package blob

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
)

// closeRecorder wraps a Store and records Close calls.
type closeRecorder struct {
	Store
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.Store.Close()
}

func TestPoolMemoryRoundTrip(t *testing.T) {
	p, err := NewPool("mem", 1, func() (Store, error) { return NewMemoryStore(), nil })
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer p.Close()

	meta, ref := putBlob(t, p, []byte("pooled"))
	got, err := p.Get(context.Background(), meta, ref)
	if err != nil || string(got) != "pooled" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := p.Delete(context.Background(), meta, ref); err != nil {
		t.Errorf("Delete failed: %v", err)
	}
	if p.Name() != "mem" || p.Size() != 1 {
		t.Errorf("pool = %s/%d, want mem/1", p.Name(), p.Size())
	}
}

func TestPoolBorrowHonoursContext(t *testing.T) {
	p, err := NewPool("mem", 1, func() (Store, error) { return NewMemoryStore(), nil })
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer p.Close()

	h, err := p.borrow(context.Background())
	if err != nil {
		t.Fatalf("borrow failed: %v", err)
	}
	defer p.give(h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Put(ctx, domain.NewBlobMeta(1), []byte("x"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Put error = %v, want context.Canceled", err)
	}
}

// blockingPutStore holds every Put until release is closed.
type blockingPutStore struct {
	Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingPutStore) Put(ctx context.Context, meta domain.BlobMeta, data []byte) (Ref, error) {
	close(b.entered)
	<-b.release
	return b.Store.Put(ctx, meta, data)
}

func TestPoolGetDoesNotWaitForWriters(t *testing.T) {
	cfg := newBucketConfig(t, 1<<20)
	bs, err := NewBucketStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewBucketStore failed: %v", err)
	}
	meta, ref := putBlob(t, bs, []byte("written earlier"))

	h := &blockingPutStore{Store: bs, entered: make(chan struct{}), release: make(chan struct{})}
	p, err := NewPool("bucket", 1, func() (Store, error) { return h, nil })
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer p.Close()

	putDone := make(chan error, 1)
	go func() {
		_, err := p.Put(context.Background(), domain.NewBlobMeta(3), []byte("new"))
		putDone <- err
	}()
	<-h.entered

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	got, err := p.Get(ctx, meta, ref)
	if err != nil || string(got) != "written earlier" {
		t.Errorf("Get during Put = %q, %v", got, err)
	}
	if err := p.Delete(ctx, meta, ref); err != nil {
		t.Errorf("Delete during Put failed: %v", err)
	}

	close(h.release)
	if err := <-putDone; err != nil {
		t.Errorf("Put failed: %v", err)
	}
}

func TestPoolBucketHandles(t *testing.T) {
	cfg := newBucketConfig(t, 1<<20)
	p, err := NewPool("disk", 3, func() (Store, error) {
		return NewBucketStore(context.Background(), cfg)
	})
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer p.Close()

	seen := make(map[uint64]bool)
	for _, h := range p.all {
		seen[h.(*BucketStore).Bucket()] = true
	}
	if len(seen) != 3 {
		t.Errorf("pool handles hold buckets %v, want 3 distinct", seen)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := bytes.Repeat([]byte{byte(i)}, i+1)
			meta := domain.NewBlobMeta(int64(len(data)))
			ref, err := p.Put(context.Background(), meta, data)
			if err != nil {
				t.Errorf("Put failed: %v", err)
				return
			}
			got, err := p.Get(context.Background(), meta, ref)
			if err != nil || !bytes.Equal(got, data) {
				t.Errorf("Get(%v) = %v, %v", ref, got, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestNewPoolClosesOnFailure(t *testing.T) {
	var opened []*closeRecorder
	calls := 0
	_, err := NewPool("flaky", 3, func() (Store, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("no more handles")
		}
		rec := &closeRecorder{Store: NewMemoryStore()}
		opened = append(opened, rec)
		return rec, nil
	})
	if err == nil {
		t.Fatal("NewPool succeeded despite failing opener")
	}
	for i, rec := range opened {
		if !rec.closed {
			t.Errorf("handle %d not closed", i)
		}
	}
}

func TestNewPoolInvalidSize(t *testing.T) {
	_, err := NewPool("zero", 0, func() (Store, error) { return NewMemoryStore(), nil })
	if !errors.Is(err, ErrStorageConfig) {
		t.Errorf("NewPool error = %v, want ErrStorageConfig", err)
	}
}

func TestOpenPoolBucket(t *testing.T) {
	cfg := &config.BlobBackendConfig{
		Name:     "disk",
		Type:     "bucket",
		PoolSize: 2,
		Bucket: config.BucketConfig{
			Path:               filepath.Join(t.TempDir(), "buckets"),
			MaxSize:            1024,
			MaxIndex:           10,
			AllocationAttempts: 1,
		},
	}
	p, err := OpenPool(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenPool failed: %v", err)
	}
	if p.Size() != 2 {
		t.Errorf("Size = %d, want 2", p.Size())
	}
	meta, ref := putBlob(t, p, []byte("factory"))
	if ref.Kind() != KindBucket {
		t.Errorf("ref kind = %s, want bucket", ref.Kind())
	}
	if got, err := p.Get(context.Background(), meta, ref); err != nil || string(got) != "factory" {
		t.Errorf("Get = %q, %v", got, err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// With every handle released, the directory initialises cleanly again.
	if err := Init(cfg); err != nil {
		t.Errorf("Init after Close failed: %v", err)
	}
}

func TestOpenPoolMemoryForcesSingleHandle(t *testing.T) {
	p, err := OpenPool(context.Background(), &config.BlobBackendConfig{Name: "mem", Type: "mem", PoolSize: 8})
	if err != nil {
		t.Fatalf("OpenPool failed: %v", err)
	}
	defer p.Close()
	if p.Size() != 1 {
		t.Errorf("Size = %d, want 1", p.Size())
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	cfg := &config.BlobBackendConfig{Name: "x", Type: "tape"}
	if _, err := Open(context.Background(), cfg); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Open error = %v, want ErrUnknownBackend", err)
	}
	if err := Init(cfg); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Init error = %v, want ErrUnknownBackend", err)
	}
}

func TestOpenCloudBackendsRequireNames(t *testing.T) {
	ctx := context.Background()
	for _, typ := range []string{"s3", "gcs", "azure"} {
		_, err := Open(ctx, &config.BlobBackendConfig{Name: typ, Type: typ})
		if !errors.Is(err, ErrStorageConfig) {
			t.Errorf("Open(%s) error = %v, want ErrStorageConfig", typ, err)
		}
	}
}
