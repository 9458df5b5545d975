// Package domain holds the logical identity of a stored blob.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// BlobMeta is the caller-assigned identity of a blob. It is created once
// when the blob is first stored and never changes afterwards.
type BlobMeta struct {
	ID   uuid.UUID `json:"id"`
	Size int64     `json:"size"`
}

// NewBlobMeta assigns a fresh random identity to a payload of the given size.
func NewBlobMeta(size int64) BlobMeta {
	return BlobMeta{ID: uuid.New(), Size: size}
}

func (m BlobMeta) String() string {
	return fmt.Sprintf("BlobMeta<%s>", m.ID)
}
