package meta

import (
	"context"

	"github.com/google/uuid"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/domain"
	"github.com/rupee/rupee/internal/metrics"
)

// instrumented counts every call of the wrapped store in
// rupee_meta_operations_total. Lookups of unknown ids are labelled not_found.
type instrumented struct {
	Store
}

// Instrument wraps s so that its operations are reported as metrics.
func Instrument(s Store) Store {
	return &instrumented{Store: s}
}

func observe(op string, err error) {
	status := metrics.Status(err)
	if isNotFound(err) {
		status = "not_found"
	}
	metrics.MetaOperationsTotal.WithLabelValues(op, status).Inc()
}

func (s *instrumented) Put(ctx context.Context, meta domain.BlobMeta, refs blob.Refs) error {
	err := s.Store.Put(ctx, meta, refs)
	observe("put", err)
	return err
}

func (s *instrumented) GetMeta(ctx context.Context, id uuid.UUID) (domain.BlobMeta, error) {
	m, err := s.Store.GetMeta(ctx, id)
	observe("get_meta", err)
	return m, err
}

func (s *instrumented) GetBlobRefs(ctx context.Context, id uuid.UUID) (blob.Refs, error) {
	refs, err := s.Store.GetBlobRefs(ctx, id)
	observe("get_blob_refs", err)
	return refs, err
}

func (s *instrumented) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.Store.Delete(ctx, id)
	observe("delete", err)
	return err
}
