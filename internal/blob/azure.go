package blob

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
)

// AzureBlobAPI is the subset of the Azure Blob client used by AzureStore.
type AzureBlobAPI interface {
	// UploadBlob uploads data to a blob, overwriting if it already exists.
	UploadBlob(ctx context.Context, containerName, blobName string, data []byte) error
	DownloadBlob(ctx context.Context, containerName, blobName string) ([]byte, error)
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	BlobExists(ctx context.Context, containerName, blobName string) (bool, error)
}

// realAzureClient wraps the official Azure SDK client to satisfy AzureBlobAPI.
type realAzureClient struct {
	client *azblob.Client
}

// newRealAzureClient creates a real Azure Blob client. A connection string
// wins over managed identity, which wins over DefaultAzureCredential.
func newRealAzureClient(cfg *config.AzureConfig) (*realAzureClient, error) {
	if cfg.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client from connection string: %w", err)
		}
		return &realAzureClient{client: client}, nil
	}

	if cfg.UseManagedIdentity {
		cred, err := azidentity.NewManagedIdentityCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure managed identity credential: %w", err)
		}
		client, err := azblob.NewClient(cfg.AccountURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client with managed identity: %w", err)
		}
		return &realAzureClient{client: client}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}
	client, err := azblob.NewClient(cfg.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure Blob client: %w", err)
	}
	return &realAzureClient{client: client}, nil
}

func (c *realAzureClient) UploadBlob(ctx context.Context, containerName, blobName string, data []byte) error {
	_, err := c.client.UploadBuffer(ctx, containerName, blobName, data, nil)
	return err
}

func (c *realAzureClient) DownloadBlob(ctx context.Context, containerName, blobName string) ([]byte, error) {
	resp, err := c.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *realAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	_, err := c.client.DeleteBlob(ctx, containerName, blobName, nil)
	return err
}

func (c *realAzureClient) BlobExists(ctx context.Context, containerName, blobName string) (bool, error) {
	_, err := c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName).GetProperties(ctx, nil)
	if err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AzureStore keeps each blob as its own block blob, named {prefix}{blob id},
// in a single container.
type AzureStore struct {
	Container  string
	AccountURL string
	Prefix     string
	client     AzureBlobAPI
}

// NewAzureStore creates an AzureStore and checks the container is reachable.
func NewAzureStore(ctx context.Context, cfg *config.AzureConfig) (*AzureStore, error) {
	if cfg.Container == "" {
		return nil, fmt.Errorf("%w: azure container is required", ErrStorageConfig)
	}
	client, err := newRealAzureClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateStorage, err)
	}

	s := NewAzureStoreWithClient(cfg, client)
	if _, err := s.client.BlobExists(ctx, cfg.Container, "\x00nonexistent\x00"); err != nil {
		return nil, fmt.Errorf("%w: cannot access Azure container %q: %v", ErrCreateStorage, cfg.Container, err)
	}

	slog.Info("Azure blob store initialized", "container", cfg.Container, "account", cfg.AccountURL, "prefix", cfg.Prefix)
	return s, nil
}

// NewAzureStoreWithClient creates an AzureStore around a pre-configured client.
func NewAzureStoreWithClient(cfg *config.AzureConfig, client AzureBlobAPI) *AzureStore {
	return &AzureStore{Container: cfg.Container, AccountURL: cfg.AccountURL, Prefix: cfg.Prefix, client: client}
}

func (s *AzureStore) blobName(meta domain.BlobMeta) string {
	return s.Prefix + meta.ID.String()
}

func (s *AzureStore) Put(ctx context.Context, meta domain.BlobMeta, data []byte) (Ref, error) {
	name := s.blobName(meta)
	if err := s.client.UploadBlob(ctx, s.Container, name, data); err != nil {
		return nil, fmt.Errorf("%w: uploading %s to Azure: %v", ErrWrite, name, err)
	}
	return AzureRef{Blob: name, Size: int64(len(data))}, nil
}

func (s *AzureStore) Get(ctx context.Context, meta domain.BlobMeta, ref Ref) ([]byte, error) {
	r, ok := ref.(AzureRef)
	if !ok {
		return nil, fmt.Errorf("%w: azure store got %s", ErrRefMismatch, refString(ref))
	}
	if r.Size != meta.Size {
		return nil, fmt.Errorf("%w: %s has size %d but %s has size %d", ErrReadStorage, r, r.Size, meta, meta.Size)
	}

	data, err := s.client.DownloadBlob(ctx, s.Container, r.Blob)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, fmt.Errorf("%w: blob %s not found", ErrReadStorage, r.Blob)
		}
		return nil, fmt.Errorf("%w: downloading %s from Azure: %v", ErrReadStorage, r.Blob, err)
	}
	if int64(len(data)) != r.Size {
		return nil, fmt.Errorf("%w: %s holds %d bytes, expected %d", ErrReadStorage, r.Blob, len(data), r.Size)
	}
	return data, nil
}

// Delete removes the blob named by ref. A missing blob is not an error.
func (s *AzureStore) Delete(ctx context.Context, meta domain.BlobMeta, ref Ref) error {
	r, ok := ref.(AzureRef)
	if !ok {
		return fmt.Errorf("%w: azure store got %s", ErrRefMismatch, refString(ref))
	}
	if err := s.client.DeleteBlob(ctx, s.Container, r.Blob); err != nil && !isAzureNotFound(err) {
		return fmt.Errorf("deleting %s from Azure: %w", r.Blob, err)
	}
	return nil
}

func (s *AzureStore) Close() error {
	return nil
}

// isAzureNotFound checks if an Azure error is a not-found error.
func isAzureNotFound(err error) bool {
	return bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound)
}

var _ Store = (*AzureStore)(nil)
