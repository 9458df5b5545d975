package meta

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
)

// Bucket names inside the embedded database.
var (
	metasBucket    = []byte("metas")
	blobRefsBucket = []byte("blob_refs")
)

const boltFileName = "meta.db"

// BoltStore keeps metadata in an embedded ordered key-value database. Keys
// are the raw 16 id bytes; values are MessagePack documents.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the database under cfg.Path.
func NewBoltStore(cfg *config.BoltConfig) (*BoltStore, error) {
	if cfg.Path == "" {
		return nil, wrapErr("open", "database directory is required", nil)
	}
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, wrapErr("open", "cannot create database directory", err)
	}

	path := filepath.Join(cfg.Path, boltFileName)
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, wrapErr("open", "cannot open database", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metasBucket, blobRefsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, wrapErr("open", "cannot initialise database", err)
	}

	slog.Info("Embedded metadata store opened", "path", path)
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(metasBucket) == nil {
			return wrapErr("ping", "database is not initialised", nil)
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Put(ctx context.Context, meta domain.BlobMeta, refs blob.Refs) error {
	refsVal, err := encodeRefsMsg(refs)
	if err != nil {
		return wrapErr("put", "cannot encode blob references", err)
	}
	metaVal := appendMetaMsg(nil, meta)

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(metasBucket).Put(meta.ID[:], metaVal); err != nil {
			return err
		}
		return tx.Bucket(blobRefsBucket).Put(meta.ID[:], refsVal)
	})
	if err != nil {
		return wrapErr("put", "cannot write metadata", err)
	}
	return nil
}

func (s *BoltStore) GetMeta(ctx context.Context, id uuid.UUID) (domain.BlobMeta, error) {
	var (
		m     domain.BlobMeta
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metasBucket).Get(id[:])
		if v == nil {
			return nil
		}
		found = true
		var err error
		m, err = readMetaMsg(v)
		return err
	})
	if err != nil {
		return domain.BlobMeta{}, wrapErr("get_meta", "cannot read metadata", err)
	}
	if !found {
		return domain.BlobMeta{}, notFound(id)
	}
	return m, nil
}

func (s *BoltStore) GetBlobRefs(ctx context.Context, id uuid.UUID) (blob.Refs, error) {
	var refs blob.Refs
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobRefsBucket).Get(id[:])
		if v == nil {
			return nil
		}
		var err error
		refs, err = decodeRefsMsg(v)
		return err
	})
	if err != nil {
		return nil, wrapErr("get_blob_refs", "cannot read blob references", err)
	}
	if refs == nil {
		return nil, notFound(id)
	}
	return refs, nil
}

func (s *BoltStore) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(metasBucket).Delete(id[:]); err != nil {
			return err
		}
		return tx.Bucket(blobRefsBucket).Delete(id[:])
	})
	if err != nil {
		return wrapErr("delete", "cannot delete metadata", err)
	}
	return nil
}

var _ Store = (*BoltStore)(nil)
