package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps each table as one JSON document row.
type SQLiteBackend struct {
	db *sqlx.DB
}

// NewSQLite opens a SQLite database and runs migrations.
func NewSQLite(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}

	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context, table Table) ([]byte, error) {
	var data string
	err := b.db.GetContext(ctx, &data, "SELECT data FROM tables WHERE name = ?", string(table))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load table %s: %w", table, err)
	}
	return []byte(data), nil
}

func (b *SQLiteBackend) Save(ctx context.Context, table Table, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO tables (name, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, string(table), string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save table %s: %w", table, err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
