package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"consolecore/internal/store"
)

var _ Sink = (*FilesystemSink)(nil)

const snapshotFile = "snapshot.json"

// FilesystemSink writes the snapshot to a JSON file under a directory.
type FilesystemSink struct {
	root string
}

// NewFilesystem creates root when missing.
func NewFilesystem(root string) (*FilesystemSink, error) {
	if root == "" {
		root = "consolecore-snapshot"
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FilesystemSink{root: root}, nil
}

func (f *FilesystemSink) Driver() Driver { return DriverFilesystem }

// Path returns the snapshot file path.
func (f *FilesystemSink) Path() string { return filepath.Join(f.root, snapshotFile) }

// Save writes through a temp file and rename so readers never see a
// partial snapshot.
func (f *FilesystemSink) Save(_ context.Context, snap store.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.root, snapshotFile+".*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path()); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func (f *FilesystemSink) Load(context.Context) (store.Snapshot, bool, error) {
	data, err := os.ReadFile(f.Path())
	if errors.Is(err, os.ErrNotExist) {
		return store.Snapshot{}, false, nil
	}
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := decode(data)
	if err != nil {
		return store.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (f *FilesystemSink) Close() error { return nil }
