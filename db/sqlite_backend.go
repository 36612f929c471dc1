package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS record_collections (
	name       TEXT PRIMARY KEY,
	last_id    INTEGER NOT NULL DEFAULT 0,
	records    TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// SQLiteBackend keeps every collection as one row; a save is a single upsert.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens the database at path and creates its table.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer at a time; collection guards already serialize per collection.
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if _, err := sqlDB.ExecContext(ctx, sqliteSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteBackend{db: sqlDB}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context, name string) (Collection, error) {
	var (
		lastID  int64
		records string
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT last_id, records FROM record_collections WHERE name = ?`, name,
	).Scan(&lastID, &records)
	if errors.Is(err, sql.ErrNoRows) {
		return Collection{}, nil
	}
	if err != nil {
		return Collection{}, fmt.Errorf("load %s: %w", name, err)
	}

	recs, err := decodeRecords([]byte(records))
	if err != nil {
		return Collection{}, fmt.Errorf("decode %s: %w", name, err)
	}
	return Collection{LastID: lastID, Records: recs}, nil
}

func (b *SQLiteBackend) Save(ctx context.Context, name string, c Collection) error {
	records, err := encodeRecords(c.Records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO record_collections (name, last_id, records, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			last_id = excluded.last_id,
			records = excluded.records,
			updated_at = excluded.updated_at`,
		name, c.LastID, string(records), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
