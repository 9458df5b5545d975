package meta

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver registered as "pgx"
	_ "modernc.org/sqlite"             // Pure-Go SQLite driver

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
)

// dialect holds the statements that differ between relational engines.
type dialect struct {
	driver     string
	setup      []string
	upsert     string
	selectMeta string
	selectRefs string
	delete     string
}

var postgresDialect = dialect{
	driver: "pgx",
	setup: []string{
		`CREATE TABLE IF NOT EXISTS meta (
			id        UUID PRIMARY KEY,
			meta      JSONB NOT NULL,
			blob_refs JSONB NOT NULL
		)`,
	},
	upsert: `INSERT INTO meta (id, meta, blob_refs) VALUES ($1::uuid, $2::jsonb, $3::jsonb)
		ON CONFLICT (id) DO UPDATE SET meta = EXCLUDED.meta, blob_refs = EXCLUDED.blob_refs`,
	selectMeta: `SELECT meta::text FROM meta WHERE id = $1::uuid`,
	selectRefs: `SELECT blob_refs::text FROM meta WHERE id = $1::uuid`,
	delete:     `DELETE FROM meta WHERE id = $1::uuid`,
}

var sqliteDialect = dialect{
	driver: "sqlite",
	setup: []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS meta (
			id        TEXT PRIMARY KEY,
			meta      TEXT NOT NULL,
			blob_refs TEXT NOT NULL
		)`,
	},
	upsert: `INSERT INTO meta (id, meta, blob_refs) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET meta = excluded.meta, blob_refs = excluded.blob_refs`,
	selectMeta: `SELECT meta FROM meta WHERE id = ?`,
	selectRefs: `SELECT blob_refs FROM meta WHERE id = ?`,
	delete:     `DELETE FROM meta WHERE id = ?`,
}

// SQLStore keeps metadata in a single relational table
// meta(id PRIMARY KEY, meta, blob_refs) with JSON documents in the last two
// columns, keyed by the textual id.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

// NewPostgresStore connects to Postgres and creates the table if needed.
func NewPostgresStore(ctx context.Context, cfg *config.PostgresConfig) (*SQLStore, error) {
	db, err := sql.Open(postgresDialect.driver, cfg.DSN())
	if err != nil {
		return nil, wrapErr("open", "cannot open relational database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrapErr("open", "cannot reach relational database", err)
	}
	s, err := newSQLStore(ctx, db, postgresDialect)
	if err != nil {
		return nil, err
	}
	slog.Info("Relational metadata store opened", "host", cfg.Host, "database", cfg.Database)
	return s, nil
}

// NewSQLiteStore opens the SQLite file at cfg.Path, creating it if needed.
func NewSQLiteStore(ctx context.Context, cfg *config.SQLiteConfig) (*SQLStore, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, wrapErr("open", "cannot create database directory", err)
		}
	}
	db, err := sql.Open(sqliteDialect.driver, cfg.Path)
	if err != nil {
		return nil, wrapErr("open", "cannot open relational database", err)
	}
	// SQLite allows a single writer; serialise through one connection.
	db.SetMaxOpenConns(1)
	s, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		return nil, err
	}
	slog.Info("SQLite metadata store opened", "path", cfg.Path)
	return s, nil
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*SQLStore, error) {
	for _, stmt := range d.setup {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, wrapErr("open", "cannot initialise schema", err)
		}
	}
	return &SQLStore{db: db, dialect: d}, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrapErr("ping", "database unreachable", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Put(ctx context.Context, meta domain.BlobMeta, refs blob.Refs) error {
	metaDoc, refsDoc, err := encodeJSON(meta, refs)
	if err != nil {
		return wrapErr("put", "cannot encode metadata", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsert, meta.ID.String(), metaDoc, refsDoc); err != nil {
		return wrapErr("put", "cannot write metadata", err)
	}
	return nil
}

func (s *SQLStore) GetMeta(ctx context.Context, id uuid.UUID) (domain.BlobMeta, error) {
	doc, err := s.queryDoc(ctx, "get_meta", s.dialect.selectMeta, id)
	if err != nil {
		return domain.BlobMeta{}, err
	}
	m, err := decodeMetaJSON(doc)
	if err != nil {
		return domain.BlobMeta{}, wrapErr("get_meta", "cannot decode metadata", err)
	}
	return m, nil
}

func (s *SQLStore) GetBlobRefs(ctx context.Context, id uuid.UUID) (blob.Refs, error) {
	doc, err := s.queryDoc(ctx, "get_blob_refs", s.dialect.selectRefs, id)
	if err != nil {
		return nil, err
	}
	refs, err := decodeRefsJSON(doc)
	if err != nil {
		return nil, wrapErr("get_blob_refs", "cannot decode blob references", err)
	}
	return refs, nil
}

func (s *SQLStore) queryDoc(ctx context.Context, op, query string, id uuid.UUID) (string, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound(id)
	}
	if err != nil {
		return "", wrapErr(op, "cannot read metadata", err)
	}
	return doc, nil
}

func (s *SQLStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.delete, id.String()); err != nil {
		return wrapErr("delete", "cannot delete metadata", err)
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
