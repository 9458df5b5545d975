package blob

import (
	"context"
	"fmt"

	"github.com/rupee/rupee/internal/config"
)

// Init performs the once-per-deployment preparation a backend needs before
// handles are opened. Only the bucket backend has any.
func Init(cfg *config.BlobBackendConfig) error {
	switch cfg.Type {
	case "bucket":
		return InitBucketStorage(&cfg.Bucket)
	case "mem", "s3", "gcs", "azure":
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
}

// Open creates a single handle for the configured backend.
func Open(ctx context.Context, cfg *config.BlobBackendConfig) (Store, error) {
	switch cfg.Type {
	case "mem":
		return NewMemoryStore(), nil
	case "bucket":
		return NewBucketStore(ctx, &cfg.Bucket)
	case "s3":
		return NewS3Store(ctx, &cfg.S3)
	case "gcs":
		return NewGCSStore(ctx, &cfg.GCS)
	case "azure":
		return NewAzureStore(ctx, &cfg.Azure)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
}

// OpenPool initialises the backend and opens a pool of cfg.PoolSize handles.
// Memory backends always get a single handle because their references are
// only valid against the handle that issued them.
func OpenPool(ctx context.Context, cfg *config.BlobBackendConfig) (*Pool, error) {
	if err := Init(cfg); err != nil {
		return nil, err
	}
	size := cfg.PoolSize
	if cfg.Type == "mem" || size < 1 {
		size = 1
	}
	return NewPool(cfg.Name, size, func() (Store, error) {
		return Open(ctx, cfg)
	})
}
