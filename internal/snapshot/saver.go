package snapshot

import (
	"context"
	"fmt"
	"time"

	"consolecore/internal/observability"
	"consolecore/internal/store"
)

// WarmStart imports the saved snapshot into st. It reports whether one was
// found.
func WarmStart(ctx context.Context, sink Sink, st *store.Store) (bool, error) {
	snap, ok, err := sink.Load(ctx)
	if err != nil {
		return false, fmt.Errorf("load snapshot from %s: %w", sink.Driver(), err)
	}
	if !ok {
		return false, nil
	}
	if err := st.ImportState(snap); err != nil {
		return false, fmt.Errorf("import snapshot: %w", err)
	}
	return true, nil
}

// Saver writes the store to a sink periodically, skipping ticks where the
// store did not change.
type Saver struct {
	Sink     Sink
	Store    *store.Store
	Interval time.Duration
	Logger   observability.Logger
	Metrics  observability.MetricsRecorder

	saved uint64
}

// SaveNow saves unconditionally.
func (s *Saver) SaveNow(ctx context.Context) error {
	version := s.Store.Version()
	start := time.Now()
	err := s.Sink.Save(ctx, s.Store.ExportState())
	if s.Metrics != nil {
		s.Metrics.Observe(ctx, observability.OperationName("save", "snapshot"), err == nil, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("save snapshot to %s: %w", s.Sink.Driver(), err)
	}
	s.saved = version
	return nil
}

// Run saves every Interval until ctx ends, then saves once more if the
// store changed since the last save.
func (s *Saver) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if s.Store.Version() == s.saved {
				return nil
			}
			return s.SaveNow(context.WithoutCancel(ctx))
		case <-ticker.C:
			if s.Store.Version() == s.saved {
				continue
			}
			if err := s.SaveNow(ctx); err != nil {
				logger.Warn("snapshot save failed", "driver", s.Sink.Driver(), "error", err)
				continue
			}
			logger.Debug("snapshot saved", "driver", s.Sink.Driver(), "version", s.saved)
		}
	}
}
