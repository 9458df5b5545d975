package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
)

// GCSAPI is the subset of the Cloud Storage client used by GCSStore.
type GCSAPI interface {
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	Delete(ctx context.Context, bucket, object string) error
	// ListObjects lists object names under prefix.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// realGCSClient wraps the official client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	return c.client.Bucket(bucket).Object(object).NewWriter(ctx)
}

func (c *realGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// GCSStore keeps each blob as its own object, named {prefix}{blob id}, in a
// single Cloud Storage bucket.
type GCSStore struct {
	Bucket  string
	Project string
	Prefix  string
	client  GCSAPI
}

// NewGCSStore creates a GCSStore using Application Default Credentials.
func NewGCSStore(ctx context.Context, cfg *config.GCSConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: gcs bucket is required", ErrStorageConfig)
	}
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCS client: %v", ErrCreateStorage, err)
	}

	s := NewGCSStoreWithClient(cfg, &realGCSClient{client: client})
	// Listing a prefix that cannot exist proves the bucket is reachable.
	if _, err := s.client.ListObjects(ctx, cfg.Bucket, "\x00nonexistent\x00"); err != nil {
		return nil, fmt.Errorf("%w: cannot access GCS bucket %q: %v", ErrCreateStorage, cfg.Bucket, err)
	}

	slog.Info("GCS blob store initialized", "bucket", cfg.Bucket, "project", cfg.Project, "prefix", cfg.Prefix)
	return s, nil
}

// NewGCSStoreWithClient creates a GCSStore around a pre-configured client.
func NewGCSStoreWithClient(cfg *config.GCSConfig, client GCSAPI) *GCSStore {
	return &GCSStore{Bucket: cfg.Bucket, Project: cfg.Project, Prefix: cfg.Prefix, client: client}
}

func (s *GCSStore) objectName(meta domain.BlobMeta) string {
	return s.Prefix + meta.ID.String()
}

// Put uploads data as a new object.
func (s *GCSStore) Put(ctx context.Context, meta domain.BlobMeta, data []byte) (Ref, error) {
	name := s.objectName(meta)
	w := s.client.NewWriter(ctx, s.Bucket, name)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: uploading %s to GCS: %v", ErrWrite, name, err)
	}
	// The upload is committed on Close.
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: finalizing %s in GCS: %v", ErrWrite, name, err)
	}
	return GCSRef{Object: name, Size: int64(len(data))}, nil
}

// Get downloads the object named by ref.
func (s *GCSStore) Get(ctx context.Context, meta domain.BlobMeta, ref Ref) ([]byte, error) {
	r, ok := ref.(GCSRef)
	if !ok {
		return nil, fmt.Errorf("%w: gcs store got %s", ErrRefMismatch, refString(ref))
	}
	if r.Size != meta.Size {
		return nil, fmt.Errorf("%w: %s has size %d but %s has size %d", ErrReadStorage, r, r.Size, meta, meta.Size)
	}

	rc, err := s.client.NewReader(ctx, s.Bucket, r.Object)
	if err != nil {
		if isGCSNotFound(err) {
			return nil, fmt.Errorf("%w: object %s not found", ErrReadStorage, r.Object)
		}
		return nil, fmt.Errorf("%w: reading %s from GCS: %v", ErrReadStorage, r.Object, err)
	}
	defer rc.Close()
	return readExactly(rc, r.Size, r.Object)
}

// Delete removes the object named by ref. A missing object is not an error.
func (s *GCSStore) Delete(ctx context.Context, meta domain.BlobMeta, ref Ref) error {
	r, ok := ref.(GCSRef)
	if !ok {
		return fmt.Errorf("%w: gcs store got %s", ErrRefMismatch, refString(ref))
	}
	if err := s.client.Delete(ctx, s.Bucket, r.Object); err != nil && !isGCSNotFound(err) {
		return fmt.Errorf("deleting %s from GCS: %w", r.Object, err)
	}
	return nil
}

func (s *GCSStore) Close() error {
	return nil
}

// isGCSNotFound checks if a GCS error is a 404/not-found error.
func isGCSNotFound(err error) bool {
	return errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist)
}

var _ Store = (*GCSStore)(nil)
