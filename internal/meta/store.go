// Package meta defines the interface and implementations for Rupee's
// metadata layer, which maps a blob id to its BlobMeta and to one reference
// per blob backend.
package meta

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/domain"
)

// Store persists the association between a blob's identity and its
// references. Implementations must be safe for concurrent use and leave
// consistency to the underlying engine.
type Store interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// Put stores meta and refs under meta.ID, replacing any previous record.
	Put(ctx context.Context, meta domain.BlobMeta, refs blob.Refs) error

	// GetMeta returns the stored BlobMeta or an error wrapping ErrNotFound.
	GetMeta(ctx context.Context, id uuid.UUID) (domain.BlobMeta, error)

	// GetBlobRefs returns the stored references or an error wrapping ErrNotFound.
	GetBlobRefs(ctx context.Context, id uuid.UUID) (blob.Refs, error)

	// Delete removes the record. Deleting an unknown id is not an error.
	// Blob payloads are never touched.
	Delete(ctx context.Context, id uuid.UUID) error
}

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("blob metadata not found")

	ErrUnknownBackend = errors.New("unknown meta backend")
)

// Error wraps a failure of the underlying engine or codec with an
// operator-facing message. It never names the engine; Unwrap exposes the
// original cause.
type Error struct {
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("meta %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("meta %s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op, message string, err error) error {
	return &Error{Op: op, Message: message, Err: err}
}

func notFound(id uuid.UUID) error {
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
