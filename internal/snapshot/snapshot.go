// Package snapshot persists the entity tables of a store so a process can
// start warm. It sits outside the request core: sinks only see exported
// snapshots and never observe request or pagination state.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

// Driver identifies a sink implementation.
type Driver string

const (
	DriverNone       Driver = "none"
	DriverMemory     Driver = "memory"
	DriverFilesystem Driver = "fs"
	DriverSQLite     Driver = "sqlite"
	DriverPostgres   Driver = "postgres"
	DriverS3         Driver = "s3"
)

// ErrUnsupportedDriver is returned by Open for unknown drivers.
var ErrUnsupportedDriver = errors.New("snapshot: unsupported driver")

// Sink stores one snapshot. Load reports false when nothing was saved yet.
type Sink interface {
	Driver() Driver
	Save(ctx context.Context, snap store.Snapshot) error
	Load(ctx context.Context) (store.Snapshot, bool, error)
	Close() error
}

// document is the single-object encoding used by the fs, memory and S3
// sinks.
type document struct {
	TakenAt  time.Time     `json:"taken_at"`
	Entities domain.Tables `json:"entities"`
}

func encode(snap store.Snapshot) ([]byte, error) {
	data, err := json.Marshal(document{TakenAt: snap.TakenAt.UTC(), Entities: snap.Entities})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (store.Snapshot, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return store.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if doc.Entities == nil {
		doc.Entities = domain.Tables{}
	}
	return store.Snapshot{Entities: doc.Entities, TakenAt: doc.TakenAt}, nil
}
