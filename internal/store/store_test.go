package store

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"consolecore/pkg/domain"
)

func TestDispatchCommitsAtomically(t *testing.T) {
	s := New()
	err := s.Dispatch(
		EntitiesMerged{Entities: domain.Tables{"app": {"1": {"name": "a"}}}},
		nil,
	)
	if err == nil {
		t.Fatalf("expected error for nil event")
	}
	if s.Version() != 0 || s.State().Entities.Count() != 0 {
		t.Fatalf("failed dispatch must not commit")
	}
	if err := s.Dispatch(EntitiesMerged{Entities: domain.Tables{"app": {"1": {"name": "a"}}}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if s.Version() != 1 {
		t.Fatalf("expected version 1, got %d", s.Version())
	}
}

func TestDispatchIfAllowsOneWinner(t *testing.T) {
	s := New()
	req := fetchApp("app-1")
	guard := func(st State) bool {
		return !SelectRequestInfo(st, domain.EntityApplication, "app-1").Fetching
	}
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.DispatchIf(guard, RequestStarted{Request: req})
			if err != nil {
				t.Errorf("dispatch: %v", err)
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestSubscribeSeesLatestState(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	defer cancel()

	initial := <-ch
	if initial.Entities.Count() != 0 {
		t.Fatalf("expected empty primed state")
	}
	for i := 0; i < 3; i++ {
		if err := s.Dispatch(EntitiesMerged{Entities: domain.Tables{"app": {string(rune('a' + i)): {}}}}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	select {
	case st := <-ch:
		if st.Entities.Count() != 3 {
			t.Fatalf("expected coalesced latest state, got %d rows", st.Entities.Count())
		}
	case <-time.After(time.Second):
		t.Fatalf("no state published")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := New()
	ch, cancel := s.Subscribe()
	cancel()
	cancel()
	<-ch // primed value is still buffered
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if err := s.Dispatch(EntityRemoved{Key: "app", ID: "x"}); err != nil {
		t.Fatalf("dispatch after unsubscribe: %v", err)
	}
}

func TestExportImportState(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := New(WithClock(func() time.Time { return fixed }))
	if err := src.Dispatch(EntitiesMerged{Entities: domain.Tables{"app": {"1": {"name": "a"}}}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	snap := src.ExportState()
	if !snap.TakenAt.Equal(fixed) {
		t.Fatalf("unexpected snapshot time %v", snap.TakenAt)
	}
	snap.Entities["app"]["1"]["name"] = "changed"
	if row, _ := SelectEntity(src.State(), "app", "1"); row["name"] != "a" {
		t.Fatalf("export must deep copy")
	}

	dst := New(WithResultsPerPage(10))
	if err := dst.ImportState(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if row, ok := SelectEntity(dst.State(), "app", "1"); !ok || row["name"] != "changed" {
		t.Fatalf("unexpected imported row %v", row)
	}
	if dst.State().ResultsPerPage != 10 {
		t.Fatalf("expected page size option applied")
	}
}
