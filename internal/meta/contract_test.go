package meta

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/domain"
)

// testStoreContract exercises the behaviour every Store must share.
func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	m := domain.NewBlobMeta(77)
	refs := blob.Refs{
		"disk": blob.BucketRef{Bucket: 3, Offset: 1024, Size: 77},
		"mem":  blob.MemoryRef{Index: 5},
		"s3":   blob.S3Ref{Key: "rupee/" + m.ID.String(), Size: 77},
	}

	t.Run("put and get", func(t *testing.T) {
		if err := s.Put(ctx, m, refs); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.GetMeta(ctx, m.ID)
		if err != nil {
			t.Fatalf("GetMeta: %v", err)
		}
		if got != m {
			t.Errorf("GetMeta = %+v, want %+v", got, m)
		}
		gotRefs, err := s.GetBlobRefs(ctx, m.ID)
		if err != nil {
			t.Fatalf("GetBlobRefs: %v", err)
		}
		if !reflect.DeepEqual(gotRefs, refs) {
			t.Errorf("GetBlobRefs = %v, want %v", gotRefs, refs)
		}
	})

	t.Run("last write wins", func(t *testing.T) {
		replaced := blob.Refs{"disk": blob.BucketRef{Bucket: 9, Offset: 0, Size: 77}}
		if err := s.Put(ctx, m, replaced); err != nil {
			t.Fatalf("Put: %v", err)
		}
		gotRefs, err := s.GetBlobRefs(ctx, m.ID)
		if err != nil {
			t.Fatalf("GetBlobRefs: %v", err)
		}
		if !reflect.DeepEqual(gotRefs, replaced) {
			t.Errorf("GetBlobRefs = %v, want %v", gotRefs, replaced)
		}
	})

	t.Run("records are independent", func(t *testing.T) {
		other := domain.NewBlobMeta(1)
		if err := s.Put(ctx, other, blob.Refs{"mem": blob.MemoryRef{Index: 0}}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.GetMeta(ctx, m.ID)
		if err != nil || got != m {
			t.Errorf("GetMeta after unrelated Put = %+v, %v", got, err)
		}
		if err := s.Delete(ctx, other.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
	})

	t.Run("empty refs", func(t *testing.T) {
		bare := domain.NewBlobMeta(0)
		if err := s.Put(ctx, bare, blob.Refs{}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		gotRefs, err := s.GetBlobRefs(ctx, bare.ID)
		if err != nil {
			t.Fatalf("GetBlobRefs: %v", err)
		}
		if len(gotRefs) != 0 {
			t.Errorf("GetBlobRefs = %v, want empty", gotRefs)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Delete(ctx, m.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.GetMeta(ctx, m.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetMeta after Delete error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetBlobRefs(ctx, m.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetBlobRefs after Delete error = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, m.ID); err != nil {
			t.Errorf("second Delete: %v", err)
		}
		if err := s.Delete(ctx, uuid.New()); err != nil {
			t.Errorf("Delete of unknown id: %v", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		if _, err := s.GetMeta(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetMeta error = %v, want ErrNotFound", err)
		}
	})
}

func TestMemoryStoreContract(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestInstrumentedStoreContract(t *testing.T) {
	testStoreContract(t, Instrument(NewMemoryStore()))
}

func TestMemoryStoreClonesRefs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	m := domain.NewBlobMeta(1)
	refs := blob.Refs{"mem": blob.MemoryRef{Index: 0}}
	if err := s.Put(ctx, m, refs); err != nil {
		t.Fatal(err)
	}
	refs["extra"] = blob.MemoryRef{Index: 1}

	got, err := s.GetBlobRefs(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("stored refs aliased caller map: %v", got)
	}
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := wrapErr("put", "cannot write metadata", cause)

	var metaErr *Error
	if !errors.As(err, &metaErr) {
		t.Fatalf("errors.As(*Error) failed for %v", err)
	}
	if metaErr.Op != "put" {
		t.Errorf("Op = %q, want put", metaErr.Op)
	}
	if !errors.Is(err, cause) {
		t.Error("Error does not unwrap to its cause")
	}
	if got, want := err.Error(), "meta put: cannot write metadata: disk I/O error"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got := wrapErr("open", "table name is required", nil).Error(); got != "meta open: table name is required" {
		t.Errorf("Error() without cause = %q", got)
	}
}

func TestMetaMsgpRoundTrip(t *testing.T) {
	m := domain.NewBlobMeta(123456789)
	b := appendMetaMsg(nil, m)
	got, err := readMetaMsg(b)
	if err != nil {
		t.Fatalf("readMetaMsg: %v", err)
	}
	if got != m {
		t.Errorf("readMetaMsg = %+v, want %+v", got, m)
	}
	if _, err := readMetaMsg(b[:5]); err == nil {
		t.Error("readMetaMsg succeeded on truncated input")
	}
}
