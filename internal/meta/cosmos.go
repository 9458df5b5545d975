package meta

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
	"github.com/google/uuid"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
)

// cosmosPartition is the single logical partition every item lives in.
const cosmosPartition = "meta"

// CosmosAPI is the subset of the Cosmos container client used by
// CosmosStore. *azcosmos.ContainerClient satisfies it.
type CosmosAPI interface {
	UpsertItem(ctx context.Context, partitionKey azcosmos.PartitionKey, item []byte, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	ReadItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	DeleteItem(ctx context.Context, partitionKey azcosmos.PartitionKey, itemID string, o *azcosmos.ItemOptions) (azcosmos.ItemResponse, error)
	Read(ctx context.Context, o *azcosmos.ReadContainerOptions) (azcosmos.ContainerResponse, error)
}

type cosmosItem struct {
	ID       string          `json:"id"`
	PK       string          `json:"pk"`
	Meta     domain.BlobMeta `json:"meta"`
	BlobRefs blob.Refs       `json:"blob_refs"`
}

// CosmosStore keeps one item per blob in a Cosmos DB container partitioned
// on /pk.
type CosmosStore struct {
	client CosmosAPI
}

func NewCosmosStore(ctx context.Context, cfg *config.CosmosConfig) (*CosmosStore, error) {
	if cfg.Endpoint == "" || cfg.MasterKey == "" {
		return nil, wrapErr("open", "endpoint and master key are required", nil)
	}
	if cfg.Database == "" || cfg.Container == "" {
		return nil, wrapErr("open", "database and container names are required", nil)
	}

	cred, err := azcosmos.NewKeyCredential(cfg.MasterKey)
	if err != nil {
		return nil, wrapErr("open", "invalid master key", err)
	}
	client, err := azcosmos.NewClientWithKey(cfg.Endpoint, cred, &azcosmos.ClientOptions{
		ClientOptions: policy.ClientOptions{},
	})
	if err != nil {
		return nil, wrapErr("open", "cannot create document database client", err)
	}
	db, err := client.NewDatabase(cfg.Database)
	if err != nil {
		return nil, wrapErr("open", "cannot open database", err)
	}
	container, err := db.NewContainer(cfg.Container)
	if err != nil {
		return nil, wrapErr("open", "cannot open container", err)
	}
	return NewCosmosStoreWithClient(container), nil
}

// NewCosmosStoreWithClient creates a CosmosStore around a pre-configured client.
func NewCosmosStoreWithClient(client CosmosAPI) *CosmosStore {
	return &CosmosStore{client: client}
}

func partitionKey() azcosmos.PartitionKey {
	return azcosmos.NewPartitionKeyString(cosmosPartition)
}

func isCosmosNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func (s *CosmosStore) Ping(ctx context.Context) error {
	if _, err := s.client.Read(ctx, nil); err != nil {
		return wrapErr("ping", "container unreachable", err)
	}
	return nil
}

func (s *CosmosStore) Close() error {
	return nil
}

func (s *CosmosStore) Put(ctx context.Context, meta domain.BlobMeta, refs blob.Refs) error {
	if refs == nil {
		refs = blob.Refs{}
	}
	item, err := json.Marshal(cosmosItem{
		ID:       meta.ID.String(),
		PK:       cosmosPartition,
		Meta:     meta,
		BlobRefs: refs,
	})
	if err != nil {
		return wrapErr("put", "cannot encode metadata", err)
	}
	if _, err := s.client.UpsertItem(ctx, partitionKey(), item, nil); err != nil {
		return wrapErr("put", "cannot write metadata", err)
	}
	return nil
}

func (s *CosmosStore) read(ctx context.Context, op string, id uuid.UUID) (cosmosItem, error) {
	var item cosmosItem
	resp, err := s.client.ReadItem(ctx, partitionKey(), id.String(), nil)
	if err != nil {
		if isCosmosNotFound(err) {
			return item, notFound(id)
		}
		return item, wrapErr(op, "cannot read metadata", err)
	}
	if err := json.Unmarshal(resp.Value, &item); err != nil {
		return item, wrapErr(op, "cannot decode metadata", err)
	}
	return item, nil
}

func (s *CosmosStore) GetMeta(ctx context.Context, id uuid.UUID) (domain.BlobMeta, error) {
	item, err := s.read(ctx, "get_meta", id)
	if err != nil {
		return domain.BlobMeta{}, err
	}
	return item.Meta, nil
}

func (s *CosmosStore) GetBlobRefs(ctx context.Context, id uuid.UUID) (blob.Refs, error) {
	item, err := s.read(ctx, "get_blob_refs", id)
	if err != nil {
		return nil, err
	}
	return item.BlobRefs, nil
}

func (s *CosmosStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.client.DeleteItem(ctx, partitionKey(), id.String(), nil)
	if err != nil && !isCosmosNotFound(err) {
		return wrapErr("delete", "cannot delete metadata", err)
	}
	return nil
}

var _ Store = (*CosmosStore)(nil)
