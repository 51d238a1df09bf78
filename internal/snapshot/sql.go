package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

// metaBucket holds the snapshot time. Every other bucket is an entity key.
const metaBucket = "_meta"

type meta struct {
	TakenAt time.Time `json:"taken_at"`
}

type dialect struct {
	driver Driver
	ddl    string
	upsert string
}

// sqlSink stores one row per entity key in a state(bucket, payload) table.
type sqlSink struct {
	db      *sql.DB
	dialect dialect
	mu      sync.Mutex
}

func newSQLSink(ctx context.Context, db *sql.DB, d dialect) (*sqlSink, error) {
	if _, err := db.ExecContext(ctx, d.ddl); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &sqlSink{db: db, dialect: d}, nil
}

func (s *sqlSink) Driver() Driver { return s.dialect.driver }

// DB exposes the underlying sql.DB for tests.
func (s *sqlSink) DB() *sql.DB { return s.db }

func (s *sqlSink) Save(ctx context.Context, snap store.Snapshot) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM state`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	for _, key := range snap.Entities.Keys() {
		data, err := json.Marshal(snap.Entities[key])
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, s.dialect.upsert, string(key), data); err != nil {
			return fmt.Errorf("upsert %s: %w", key, err)
		}
	}
	data, err := json.Marshal(meta{TakenAt: snap.TakenAt.UTC()})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.upsert, metaBucket, data); err != nil {
		return fmt.Errorf("upsert meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *sqlSink) Load(ctx context.Context) (store.Snapshot, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := store.Snapshot{Entities: domain.Tables{}}
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return store.Snapshot{}, false, fmt.Errorf("scan state: %w", err)
		}
		found = true
		if bucket == metaBucket {
			var m meta
			if err := json.Unmarshal(payload, &m); err != nil {
				return store.Snapshot{}, false, fmt.Errorf("decode meta: %w", err)
			}
			snap.TakenAt = m.TakenAt
			continue
		}
		var rowsByID map[string]domain.Attributes
		if err := json.Unmarshal(payload, &rowsByID); err != nil {
			return store.Snapshot{}, false, fmt.Errorf("decode %s: %w", bucket, err)
		}
		snap.Entities[domain.EntityKey(bucket)] = rowsByID
	}
	if err := rows.Err(); err != nil {
		return store.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	return snap, found, nil
}

func (s *sqlSink) Close() error { return s.db.Close() }
