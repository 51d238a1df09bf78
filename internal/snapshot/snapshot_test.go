package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"consolecore/internal/config"
	"consolecore/internal/observability"
	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

func sampleSnapshot() store.Snapshot {
	return store.Snapshot{
		TakenAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Entities: domain.Tables{
			domain.EntityApplication: {
				"app-1": {"metadata": map[string]any{"guid": "app-1"}, "entity": map[string]any{"name": "demo", "space": "space-1"}},
			},
			domain.EntitySpace: {
				"space-1": {"metadata": map[string]any{"guid": "space-1"}, "entity": map[string]any{"name": "dev"}},
			},
		},
	}
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestSinksRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fsSink, err := NewFilesystem(filepath.Join(dir, "fs"))
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	sqliteSink, err := NewSQLite(ctx, filepath.Join(dir, "db", "snap.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = sqliteSink.Close() })
	s3Sink := newS3Sink(&fakeObjects{objects: map[string][]byte{}}, "bucket", "")

	sinks := []Sink{NewMemory(), fsSink, sqliteSink, s3Sink}
	want := sampleSnapshot()
	for _, sink := range sinks {
		t.Run(string(sink.Driver()), func(t *testing.T) {
			if _, ok, err := sink.Load(ctx); err != nil || ok {
				t.Fatalf("expected empty sink, got ok=%v err=%v", ok, err)
			}
			if err := sink.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, ok, err := sink.Load(ctx)
			if err != nil || !ok {
				t.Fatalf("Load: ok=%v err=%v", ok, err)
			}
			if !got.TakenAt.Equal(want.TakenAt) {
				t.Fatalf("taken at %v, want %v", got.TakenAt, want.TakenAt)
			}
			if !reflect.DeepEqual(got.Entities, want.Entities) {
				t.Fatalf("entities mismatch:\n got %v\nwant %v", got.Entities, want.Entities)
			}
		})
	}
}

func TestSQLiteSaveReplacesPreviousTables(t *testing.T) {
	ctx := context.Background()
	sink, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	smaller := sampleSnapshot()
	delete(smaller.Entities, domain.EntitySpace)
	if err := sink.Save(ctx, smaller); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _, err := sink.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := got.Entities[domain.EntitySpace]; ok {
		t.Fatalf("dropped table survived the second save")
	}
	var rows int
	if err := sink.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM state`).Scan(&rows); err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 2 {
		t.Fatalf("expected application and meta rows, got %d", rows)
	}
}

func TestPostgresOpenError(t *testing.T) {
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dsn
		return nil, errors.New("no server")
	})
	defer restore()
	if _, err := NewPostgres(context.Background(), ""); err == nil {
		t.Fatalf("expected open error")
	}
	if gotDriver != "pgx" || gotDSN != defaultDSN {
		t.Fatalf("unexpected open call %q %q", gotDriver, gotDSN)
	}
}

func TestS3SaveError(t *testing.T) {
	sink := newS3Sink(&fakeObjects{objects: map[string][]byte{}, putErr: errors.New("denied")}, "bucket", "k")
	if err := sink.Save(context.Background(), sampleSnapshot()); err == nil {
		t.Fatalf("expected put error")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	sink, err := Open(ctx, config.Snapshot{Driver: "none"})
	if err != nil || sink != nil {
		t.Fatalf("driver none: sink=%v err=%v", sink, err)
	}
	sink, err = Open(ctx, config.Snapshot{Driver: "memory"})
	if err != nil || sink.Driver() != DriverMemory {
		t.Fatalf("driver memory: sink=%v err=%v", sink, err)
	}
	sink, err = Open(ctx, config.Snapshot{Driver: "fs", Path: t.TempDir()})
	if err != nil || sink.Driver() != DriverFilesystem {
		t.Fatalf("driver fs: sink=%v err=%v", sink, err)
	}
	if _, err := Open(ctx, config.Snapshot{Driver: "tape"}); !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
	if _, err := Open(ctx, config.Snapshot{Driver: "s3"}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestWarmStart(t *testing.T) {
	ctx := context.Background()
	sink := NewMemory()
	st := store.New()
	if ok, err := WarmStart(ctx, sink, st); err != nil || ok {
		t.Fatalf("empty sink: ok=%v err=%v", ok, err)
	}
	if err := sink.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ok, err := WarmStart(ctx, sink, st); err != nil || !ok {
		t.Fatalf("WarmStart: ok=%v err=%v", ok, err)
	}
	if _, ok := store.SelectEntity(st.State(), domain.EntityApplication, "app-1"); !ok {
		t.Fatalf("snapshot not imported")
	}
}

func TestSaverRun(t *testing.T) {
	sink := NewMemory()
	st := store.New()
	metrics := observability.NewExpvarMetricsRecorder("")
	saver := &Saver{Sink: sink, Store: st, Interval: 5 * time.Millisecond, Logger: observability.NoopLogger{}, Metrics: metrics}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- saver.Run(ctx) }()

	if err := st.Dispatch(store.EntitiesMerged{Entities: sampleSnapshot().Entities}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := sink.Load(context.Background()); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never saved")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _, _ := sink.Load(context.Background())
	if _, ok := got.Entities.Row(domain.EntitySpace, "space-1"); !ok {
		t.Fatalf("saved snapshot misses rows: %v", got.Entities)
	}
}
