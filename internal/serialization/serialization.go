// Package serialization exports and imports the relational metadata table
// of a SQLite-backed Rupee deployment as JSON.
package serialization

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/config"
	"github.com/rupee/rupee/internal/domain"
	"github.com/rupee/rupee/internal/meta"
)

const (
	Version       = "0.1.0"
	ExportVersion = 1

	// EnvelopeKey names the header object of an export document.
	EnvelopeKey = "rupee_export"
	// Table is the only table exported.
	Table = "meta"
)

// ImportOptions configures how to import.
type ImportOptions struct {
	// Replace deletes every existing row before inserting. Otherwise rows
	// whose id already exists are left untouched.
	Replace bool
}

// ImportResult holds the result of an import operation.
type ImportResult struct {
	Imported int
	Skipped  int
	Warnings []string
}

// ExportMetadata dumps the meta table of the SQLite database at dbPath.
// The meta and blob_refs documents are expanded to JSON objects, rows are
// ordered by id and object keys are sorted.
func ExportMetadata(dbPath string) (string, error) {
	db, err := sql.Open("sqlite", dbPath+"?mode=ro")
	if err != nil {
		return "", fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	rows, err := db.Query("SELECT id, meta, blob_refs FROM " + Table + " ORDER BY id")
	if err != nil {
		return "", fmt.Errorf("querying %s: %w", Table, err)
	}
	defer rows.Close()

	tableRows := make([]any, 0)
	for rows.Next() {
		var id, metaDoc, refsDoc string
		if err := rows.Scan(&id, &metaDoc, &refsDoc); err != nil {
			return "", fmt.Errorf("scanning %s row: %w", Table, err)
		}
		tableRows = append(tableRows, map[string]any{
			"id":        id,
			"meta":      expandDoc(metaDoc),
			"blob_refs": expandDoc(refsDoc),
		})
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterating %s: %w", Table, err)
	}

	result := map[string]any{
		EnvelopeKey: map[string]any{
			"version":     ExportVersion,
			"exported_at": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			"source":      "go/" + Version,
		},
		Table: tableRows,
	}
	return marshalSorted(result)
}

// expandDoc decodes a stored JSON document, mapping unreadable documents
// to an empty object.
func expandDoc(doc string) any {
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	var obj any
	if err := dec.Decode(&obj); err != nil {
		return map[string]any{}
	}
	return obj
}

type exportRow struct {
	ID       string          `json:"id"`
	Meta     json.RawMessage `json:"meta"`
	BlobRefs json.RawMessage `json:"blob_refs"`
}

type exportDoc struct {
	Envelope struct {
		Version int `json:"version"`
	} `json:"rupee_export"`
	Rows *[]json.RawMessage `json:"meta"`
}

// canonicalRow validates one exported row and returns the id and the
// documents to store. The meta id must match the row id and every
// reference must decode.
func canonicalRow(raw json.RawMessage) (id, metaDoc, refsDoc string, err error) {
	var row exportRow
	if err := json.Unmarshal(raw, &row); err != nil {
		return "", "", "", fmt.Errorf("malformed row: %w", err)
	}
	parsed, err := uuid.Parse(row.ID)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid id %q: %w", row.ID, err)
	}

	var m domain.BlobMeta
	if err := json.Unmarshal(row.Meta, &m); err != nil {
		return "", "", "", fmt.Errorf("row %s: invalid meta: %w", row.ID, err)
	}
	if m.ID != parsed {
		return "", "", "", fmt.Errorf("row %s: meta id %s does not match", row.ID, m.ID)
	}
	if m.Size < 0 {
		return "", "", "", fmt.Errorf("row %s: negative size %d", row.ID, m.Size)
	}

	refs := blob.Refs{}
	if len(row.BlobRefs) > 0 && string(row.BlobRefs) != "null" {
		if err := json.Unmarshal(row.BlobRefs, &refs); err != nil {
			return "", "", "", fmt.Errorf("row %s: invalid blob_refs: %w", row.ID, err)
		}
	}

	mb, err := json.Marshal(m)
	if err != nil {
		return "", "", "", err
	}
	rb, err := json.Marshal(refs)
	if err != nil {
		return "", "", "", err
	}
	return parsed.String(), string(mb), string(rb), nil
}

// ImportMetadata loads an export document into the SQLite database at
// dbPath, creating the table if needed. Invalid rows are skipped with a
// warning; the rest are written in one transaction.
func ImportMetadata(dbPath string, jsonStr string, opts *ImportOptions) (*ImportResult, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}

	var doc exportDoc
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if v := doc.Envelope.Version; v < 1 || v > ExportVersion {
		return nil, fmt.Errorf("unsupported export version: %v", v)
	}

	// Opening through the metadata store creates the schema.
	store, err := meta.NewSQLiteStore(context.Background(), &config.SQLiteConfig{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Close(); err != nil {
		return nil, fmt.Errorf("closing database: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}

	if opts.Replace {
		if _, err := tx.Exec("DELETE FROM " + Table); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("deleting %s: %w", Table, err)
		}
	}

	query := "INSERT OR IGNORE INTO " + Table + " (id, meta, blob_refs) VALUES (?, ?, ?)"
	result := &ImportResult{}
	var rows []json.RawMessage
	if doc.Rows != nil {
		rows = *doc.Rows
	}
	for _, raw := range rows {
		id, metaDoc, refsDoc, err := canonicalRow(raw)
		if err != nil {
			result.Skipped++
			result.Warnings = append(result.Warnings, "Skipped "+Table+" row: "+err.Error())
			continue
		}
		res, err := tx.Exec(query, id, metaDoc, refsDoc)
		if err != nil {
			result.Skipped++
			result.Warnings = append(result.Warnings, fmt.Sprintf("Skipped %s row %s: %v", Table, id, err))
			continue
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			result.Imported++
		} else {
			result.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return result, nil
}

// marshalSorted produces JSON with sorted keys, 2-space indent.
func marshalSorted(data map[string]any) (string, error) {
	b, err := json.MarshalIndent(sortedMap(data), "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sortedMap is a map that marshals with sorted keys.
type sortedMap map[string]any

func (m sortedMap) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')

		valBytes, err := marshalValue(m[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func marshalValue(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		return sortedMap(val).MarshalJSON()
	case []any:
		buf := []byte{'['}
		for i, elem := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			b, err := marshalValue(elem)
			if err != nil {
				return nil, err
			}
			buf = append(buf, b...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(v)
	}
}
