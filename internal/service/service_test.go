package service

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
	"github.com/rupee/rupee/internal/hashing"
	"github.com/rupee/rupee/internal/meta"
)

// flakyStore wraps a blob.Store and fails selected operations.
type flakyStore struct {
	blob.Store
	failPut    bool
	failGet    bool
	failDelete bool

	mu      sync.Mutex
	deletes int
	closed  bool
}

func (f *flakyStore) Put(ctx context.Context, m domain.BlobMeta, data []byte) (blob.Ref, error) {
	if f.failPut {
		return nil, blob.ErrWrite
	}
	return f.Store.Put(ctx, m, data)
}

func (f *flakyStore) Get(ctx context.Context, m domain.BlobMeta, ref blob.Ref) ([]byte, error) {
	if f.failGet {
		return nil, blob.ErrReadStorage
	}
	return f.Store.Get(ctx, m, ref)
}

func (f *flakyStore) Delete(ctx context.Context, m domain.BlobMeta, ref blob.Ref) error {
	f.mu.Lock()
	f.deletes++
	f.mu.Unlock()
	if f.failDelete {
		return errors.New("delete refused")
	}
	return f.Store.Delete(ctx, m, ref)
}

func (f *flakyStore) Close() error {
	f.closed = true
	return f.Store.Close()
}

// failingMeta fails every Put.
type failingMeta struct {
	meta.Store
}

func (failingMeta) Put(context.Context, domain.BlobMeta, blob.Refs) error {
	return errors.New("metadata unavailable")
}

func newTestService(t *testing.T, primary string, stores ...Backend) (*Service, meta.Store) {
	t.Helper()
	metaStore := meta.NewMemoryStore()
	svc, err := New(stores, primary, metaStore, hashing.SHA2_256)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, metaStore
}

func memBackend(name string) (Backend, *flakyStore) {
	f := &flakyStore{Store: blob.NewMemoryStore()}
	return Backend{Name: name, Store: f}, f
}

func TestStoreReplicatesToEveryBackend(t *testing.T) {
	a, _ := memBackend("a")
	b, _ := memBackend("b")
	svc, metaStore := newTestService(t, "a", a, b)
	ctx := context.Background()

	data := []byte("hello")
	stored, err := svc.Store(ctx, data)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if stored.Meta.Size != 5 {
		t.Errorf("Size = %d, want 5", stored.Meta.Size)
	}
	if got := stored.Refs.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Refs = %v, want a and b", got)
	}
	if want := hashing.SHA2_256.Hex(data); stored.Digest != want {
		t.Errorf("Digest = %s, want %s", stored.Digest, want)
	}

	refs, err := metaStore.GetBlobRefs(ctx, stored.Meta.ID)
	if err != nil {
		t.Fatalf("GetBlobRefs: %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("persisted refs = %v, want 2 entries", refs)
	}
}

func TestLoadPrefersPrimary(t *testing.T) {
	a, _ := memBackend("a")
	b, _ := memBackend("b")
	svc, _ := newTestService(t, "b", a, b)
	ctx := context.Background()

	stored, err := svc.Store(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	loaded, err := svc.Load(ctx, stored.Meta.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Backend != "b" {
		t.Errorf("Load served from %q, want primary b", loaded.Backend)
	}
	if !bytes.Equal(loaded.Data, []byte("payload")) {
		t.Errorf("Data = %q, want payload", loaded.Data)
	}
	if loaded.Digest != stored.Digest {
		t.Errorf("Digest = %s, want %s", loaded.Digest, stored.Digest)
	}
}

func TestLoadFallsBackInConfigOrder(t *testing.T) {
	a, fa := memBackend("a")
	b, _ := memBackend("b")
	c, _ := memBackend("c")
	svc, _ := newTestService(t, "a", a, b, c)
	ctx := context.Background()

	stored, err := svc.Store(ctx, []byte("x"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	fa.failGet = true

	loaded, err := svc.Load(ctx, stored.Meta.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Backend != "b" {
		t.Errorf("Load served from %q, want b", loaded.Backend)
	}
}

func TestLoadAllBackendsFail(t *testing.T) {
	a, fa := memBackend("a")
	svc, _ := newTestService(t, "a", a)
	ctx := context.Background()

	stored, err := svc.Store(ctx, []byte("x"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	fa.failGet = true

	_, err = svc.Load(ctx, stored.Meta.ID)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Load error = %v, want ErrUnavailable", err)
	}
	if !errors.Is(err, blob.ErrReadStorage) {
		t.Errorf("Load error = %v, want it to wrap ErrReadStorage", err)
	}
}

func TestLoadUnknownID(t *testing.T) {
	a, _ := memBackend("a")
	svc, _ := newTestService(t, "a", a)
	if _, err := svc.Load(context.Background(), uuid.New()); !errors.Is(err, meta.ErrNotFound) {
		t.Fatalf("Load error = %v, want meta.ErrNotFound", err)
	}
}

func TestLoadSkipsUnconfiguredBackends(t *testing.T) {
	a, _ := memBackend("a")
	svc, metaStore := newTestService(t, "a", a)
	ctx := context.Background()

	m := domain.NewBlobMeta(3)
	if err := metaStore.Put(ctx, m, blob.Refs{"gone": blob.MemoryRef{Index: 0}}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Load(ctx, m.ID); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Load error = %v, want ErrUnavailable", err)
	}
}

func TestStoreBackendFailure(t *testing.T) {
	a, _ := memBackend("a")
	b, fb := memBackend("b")
	fb.failPut = true
	svc, _ := newTestService(t, "a", a, b)

	_, err := svc.Store(context.Background(), []byte("x"))
	if !errors.Is(err, blob.ErrWrite) {
		t.Fatalf("Store error = %v, want ErrWrite", err)
	}
}

func TestStoreMetaFailure(t *testing.T) {
	a, _ := memBackend("a")
	svc, err := New([]Backend{a}, "a", failingMeta{Store: meta.NewMemoryStore()}, hashing.SHA2_256)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Store(context.Background(), []byte("x")); err == nil {
		t.Fatal("Store succeeded although metadata write failed")
	}
}

func TestDescribe(t *testing.T) {
	a, _ := memBackend("a")
	svc, _ := newTestService(t, "a", a)
	ctx := context.Background()

	stored, err := svc.Store(ctx, []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	m, refs, err := svc.Describe(ctx, stored.Meta.ID)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if m != stored.Meta {
		t.Errorf("Describe meta = %+v, want %+v", m, stored.Meta)
	}
	if refs["a"] != stored.Refs["a"] {
		t.Errorf("Describe refs = %v, want %v", refs, stored.Refs)
	}
}

func TestRemove(t *testing.T) {
	a, fa := memBackend("a")
	b, fb := memBackend("b")
	fb.failDelete = true
	svc, _ := newTestService(t, "a", a, b)
	ctx := context.Background()

	stored, err := svc.Store(ctx, []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Remove(ctx, stored.Meta.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if fa.deletes != 1 || fb.deletes != 1 {
		t.Errorf("deletes = %d/%d, want 1/1", fa.deletes, fb.deletes)
	}
	if _, _, err := svc.Describe(ctx, stored.Meta.ID); !errors.Is(err, meta.ErrNotFound) {
		t.Errorf("Describe after Remove error = %v, want ErrNotFound", err)
	}
	if err := svc.Remove(ctx, stored.Meta.ID); !errors.Is(err, meta.ErrNotFound) {
		t.Errorf("second Remove error = %v, want ErrNotFound", err)
	}
}

func TestNewValidation(t *testing.T) {
	a, _ := memBackend("a")
	metaStore := meta.NewMemoryStore()

	if _, err := New(nil, "", metaStore, hashing.SHA2_256); !errors.Is(err, blob.ErrStorageConfig) {
		t.Errorf("New without backends error = %v, want ErrStorageConfig", err)
	}
	if _, err := New([]Backend{a, a}, "a", metaStore, hashing.SHA2_256); !errors.Is(err, blob.ErrStorageConfig) {
		t.Errorf("New with duplicates error = %v, want ErrStorageConfig", err)
	}
	if _, err := New([]Backend{a}, "z", metaStore, hashing.SHA2_256); !errors.Is(err, blob.ErrStorageConfig) {
		t.Errorf("New with unknown primary error = %v, want ErrStorageConfig", err)
	}
	svc, err := New([]Backend{a}, "", metaStore, hashing.SHA2_256)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if svc.Primary() != "a" {
		t.Errorf("Primary = %q, want a", svc.Primary())
	}
}

func TestOpenFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Blob.Hash = "blake2b"
	cfg.Blob.Backends = []config.BlobBackendConfig{
		{Name: "disk", Type: "bucket", PoolSize: 2, Bucket: config.BucketConfig{
			Path: filepath.Join(dir, "buckets"), MaxSize: 1 << 20, MaxIndex: 100,
			AllocationAttempts: 1, AllocationBackoffMS: 1,
		}},
		{Name: "mem", Type: "mem", PoolSize: 1},
	}
	cfg.Blob.Primary = "disk"
	cfg.Meta.Type = "bolt"
	cfg.Meta.Bolt.Path = filepath.Join(dir, "meta")

	ctx := context.Background()
	svc, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := svc.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}

	stored, err := svc.Store(ctx, []byte("durable"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, ok := stored.Refs["disk"].(blob.BucketRef); !ok {
		t.Errorf("disk ref = %v, want BucketRef", stored.Refs["disk"])
	}
	if len(stored.Digest) != 128 {
		t.Errorf("blake2b digest length = %d, want 128 hex chars", len(stored.Digest))
	}
	loaded, err := svc.Load(ctx, stored.Meta.ID)
	if err != nil || string(loaded.Data) != "durable" {
		t.Fatalf("Load = %v, %v", loaded, err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Every bucket lock is gone once the service is closed.
	if err := blob.Init(&cfg.Blob.Backends[0]); err != nil {
		t.Errorf("Init after Close: %v", err)
	}
}

func TestOpenRejectsUnknownHash(t *testing.T) {
	cfg := config.Default()
	cfg.Blob.Hash = "md5"
	if _, err := Open(context.Background(), cfg); err == nil {
		t.Fatal("Open succeeded with an unknown hash algorithm")
	}
}

func TestCloseClosesBackends(t *testing.T) {
	a, fa := memBackend("a")
	svc, _ := newTestService(t, "a", a)
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fa.closed {
		t.Error("backend was not closed")
	}
}
