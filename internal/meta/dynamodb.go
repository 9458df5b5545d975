package meta

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
)

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoDBStore.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBStore keeps one item per blob, keyed by "pk" = BLOB#<id>, with
// the meta and blob_refs JSON documents as string attributes.
type DynamoDBStore struct {
	client    DynamoDBAPI
	tableName string
}

func NewDynamoDBStore(ctx context.Context, cfg *config.DynamoDBConfig) (*DynamoDBStore, error) {
	if cfg.Table == "" {
		return nil, wrapErr("open", "table name is required", nil)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, wrapErr("open", "cannot load cloud credentials", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}

	return NewDynamoDBStoreWithClient(cfg.Table, dynamodb.NewFromConfig(awsCfg)), nil
}

// NewDynamoDBStoreWithClient creates a DynamoDBStore around a pre-configured client.
func NewDynamoDBStoreWithClient(table string, client DynamoDBAPI) *DynamoDBStore {
	return &DynamoDBStore{client: client, tableName: table}
}

func pkBlob(id uuid.UUID) string {
	return "BLOB#" + id.String()
}

func (s *DynamoDBStore) key(id uuid.UUID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: pkBlob(id)},
	}
}

func (s *DynamoDBStore) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		return wrapErr("ping", "table unreachable", err)
	}
	return nil
}

func (s *DynamoDBStore) Close() error {
	return nil
}

func (s *DynamoDBStore) Put(ctx context.Context, meta domain.BlobMeta, refs blob.Refs) error {
	metaDoc, refsDoc, err := encodeJSON(meta, refs)
	if err != nil {
		return wrapErr("put", "cannot encode metadata", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"pk":        &types.AttributeValueMemberS{Value: pkBlob(meta.ID)},
			"meta":      &types.AttributeValueMemberS{Value: metaDoc},
			"blob_refs": &types.AttributeValueMemberS{Value: refsDoc},
		},
	})
	if err != nil {
		return wrapErr("put", "cannot write metadata", err)
	}
	return nil
}

func (s *DynamoDBStore) getAttr(ctx context.Context, op string, id uuid.UUID, attr string) (string, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", wrapErr(op, "cannot read metadata", err)
	}
	if len(resp.Item) == 0 {
		return "", notFound(id)
	}
	v, ok := resp.Item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", wrapErr(op, "item is missing attribute "+attr, nil)
	}
	return v.Value, nil
}

func (s *DynamoDBStore) GetMeta(ctx context.Context, id uuid.UUID) (domain.BlobMeta, error) {
	doc, err := s.getAttr(ctx, "get_meta", id, "meta")
	if err != nil {
		return domain.BlobMeta{}, err
	}
	m, err := decodeMetaJSON(doc)
	if err != nil {
		return domain.BlobMeta{}, wrapErr("get_meta", "cannot decode metadata", err)
	}
	return m, nil
}

func (s *DynamoDBStore) GetBlobRefs(ctx context.Context, id uuid.UUID) (blob.Refs, error) {
	doc, err := s.getAttr(ctx, "get_blob_refs", id, "blob_refs")
	if err != nil {
		return nil, err
	}
	refs, err := decodeRefsJSON(doc)
	if err != nil {
		return nil, wrapErr("get_blob_refs", "cannot decode blob references", err)
	}
	return refs, nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(id),
	})
	if err != nil {
		return wrapErr("delete", "cannot delete metadata", err)
	}
	return nil
}

var _ Store = (*DynamoDBStore)(nil)
