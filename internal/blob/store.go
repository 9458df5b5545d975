// Package blob defines the interface and implementations for Rupee's blob
// data layer: an in-memory store, the bucket-file engine and object-store
// backends for S3, Cloud Storage and Azure.
package blob

import (
	"context"

	"github.com/rupee/rupee/internal/domain"
)

// Store persists opaque payloads and hands back a Ref for each one.
// A Ref is only meaningful to the backend that issued it; passing a foreign
// variant to Get fails with ErrRefMismatch.
type Store interface {
	// Put writes data and returns its reference. A reference is returned
	// only after the whole payload has been written.
	Put(ctx context.Context, meta domain.BlobMeta, data []byte) (Ref, error)

	// Get returns exactly meta.Size bytes located by ref.
	Get(ctx context.Context, meta domain.BlobMeta, ref Ref) ([]byte, error)

	// Delete removes the payload where the backend supports reclamation.
	// Append-only backends treat it as a no-op.
	Delete(ctx context.Context, meta domain.BlobMeta, ref Ref) error

	// Close releases any resources held by the handle.
	Close() error
}
