package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ Sink = (*SQLiteSink)(nil)

// SQLiteSink stores snapshots in a sqlite file.
type SQLiteSink struct {
	*sqlSink
	path string
}

// NewSQLite opens or creates the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if path == "" {
		path = "consolecore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s, err := newSQLSink(ctx, db, dialect{
		driver: DriverSQLite,
		ddl: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
		upsert: `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteSink{sqlSink: s, path: path}, nil
}

// Path returns the database path.
func (s *SQLiteSink) Path() string { return s.path }
