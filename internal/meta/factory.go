package meta

import (
	"context"
	"fmt"

	"github.com/rupee/rupee/internal/config"
)

// New creates the metadata store selected by cfg.Type, wrapped with
// operation metrics.
func New(ctx context.Context, cfg *config.MetaConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Type {
	case "mem":
		s = NewMemoryStore()
	case "bolt":
		s, err = NewBoltStore(&cfg.Bolt)
	case "postgres":
		s, err = NewPostgresStore(ctx, &cfg.Postgres)
	case "sqlite":
		s, err = NewSQLiteStore(ctx, &cfg.SQLite)
	case "dynamodb":
		s, err = NewDynamoDBStore(ctx, &cfg.DynamoDB)
	case "firestore":
		s, err = NewFirestoreStore(ctx, &cfg.Firestore)
	case "cosmos":
		s, err = NewCosmosStore(ctx, &cfg.Cosmos)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(s), nil
}
