package meta

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
)

// FirestoreDoc is the document stored per blob.
type FirestoreDoc struct {
	Meta     string `firestore:"meta"`
	BlobRefs string `firestore:"blob_refs"`
}

// FirestoreAPI is the subset of Firestore used by FirestoreStore. GetDoc
// returns an error with gRPC code NotFound for missing documents.
type FirestoreAPI interface {
	SetDoc(ctx context.Context, id string, doc FirestoreDoc) error
	GetDoc(ctx context.Context, id string) (FirestoreDoc, error)
	DeleteDoc(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}

// realFirestoreClient wraps the official client and one collection.
type realFirestoreClient struct {
	client     *firestore.Client
	collection string
}

func (c *realFirestoreClient) col() *firestore.CollectionRef {
	return c.client.Collection(c.collection)
}

func (c *realFirestoreClient) SetDoc(ctx context.Context, id string, doc FirestoreDoc) error {
	_, err := c.col().Doc(id).Set(ctx, doc)
	return err
}

func (c *realFirestoreClient) GetDoc(ctx context.Context, id string) (FirestoreDoc, error) {
	var doc FirestoreDoc
	snap, err := c.col().Doc(id).Get(ctx)
	if err != nil {
		return doc, err
	}
	err = snap.DataTo(&doc)
	return doc, err
}

func (c *realFirestoreClient) DeleteDoc(ctx context.Context, id string) error {
	_, err := c.col().Doc(id).Delete(ctx)
	return err
}

func (c *realFirestoreClient) Ping(ctx context.Context) error {
	_, err := c.col().Limit(1).Documents(ctx).Next()
	if err != nil && err != iterator.Done {
		return err
	}
	return nil
}

func (c *realFirestoreClient) Close() error {
	return c.client.Close()
}

// FirestoreStore keeps one document per blob, with the blob id as document id.
type FirestoreStore struct {
	client FirestoreAPI
}

func NewFirestoreStore(ctx context.Context, cfg *config.FirestoreConfig) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, wrapErr("open", "cannot create document database client", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "rupee"
	}
	return NewFirestoreStoreWithClient(&realFirestoreClient{client: client, collection: collection}), nil
}

// NewFirestoreStoreWithClient creates a FirestoreStore around a pre-configured client.
func NewFirestoreStoreWithClient(client FirestoreAPI) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx); err != nil {
		return wrapErr("ping", "collection unreachable", err)
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) Put(ctx context.Context, meta domain.BlobMeta, refs blob.Refs) error {
	metaDoc, refsDoc, err := encodeJSON(meta, refs)
	if err != nil {
		return wrapErr("put", "cannot encode metadata", err)
	}
	if err := s.client.SetDoc(ctx, meta.ID.String(), FirestoreDoc{Meta: metaDoc, BlobRefs: refsDoc}); err != nil {
		return wrapErr("put", "cannot write metadata", err)
	}
	return nil
}

func (s *FirestoreStore) getDoc(ctx context.Context, op string, id uuid.UUID) (FirestoreDoc, error) {
	doc, err := s.client.GetDoc(ctx, id.String())
	if status.Code(err) == codes.NotFound {
		return doc, notFound(id)
	}
	if err != nil {
		return doc, wrapErr(op, "cannot read metadata", err)
	}
	return doc, nil
}

func (s *FirestoreStore) GetMeta(ctx context.Context, id uuid.UUID) (domain.BlobMeta, error) {
	doc, err := s.getDoc(ctx, "get_meta", id)
	if err != nil {
		return domain.BlobMeta{}, err
	}
	m, err := decodeMetaJSON(doc.Meta)
	if err != nil {
		return domain.BlobMeta{}, wrapErr("get_meta", "cannot decode metadata", err)
	}
	return m, nil
}

func (s *FirestoreStore) GetBlobRefs(ctx context.Context, id uuid.UUID) (blob.Refs, error) {
	doc, err := s.getDoc(ctx, "get_blob_refs", id)
	if err != nil {
		return nil, err
	}
	refs, err := decodeRefsJSON(doc.BlobRefs)
	if err != nil {
		return nil, wrapErr("get_blob_refs", "cannot decode blob references", err)
	}
	return refs, nil
}

func (s *FirestoreStore) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.client.DeleteDoc(ctx, id.String())
	if err != nil && status.Code(err) != codes.NotFound {
		return wrapErr("delete", "cannot delete metadata", err)
	}
	return nil
}

var _ Store = (*FirestoreStore)(nil)
