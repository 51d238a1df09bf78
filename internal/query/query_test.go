package query

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"consolecore/internal/effects"
	"consolecore/internal/observability"
	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

type countingProxy struct {
	hits    atomic.Int64
	pages   sync.Map
	handler func(w http.ResponseWriter, r *http.Request)
}

func (c *countingProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.hits.Add(1)
	if page := r.URL.Query().Get(domain.PageParam); page != "" {
		c.pages.Store(page, true)
	}
	c.handler(w, r)
}

func (c *countingProxy) sawPage(n int) bool {
	_, ok := c.pages.Load(strconv.Itoa(n))
	return ok
}

func newPipeline(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*effects.Pipeline, *countingProxy) {
	t.Helper()
	proxy := &countingProxy{handler: handler}
	srv := httptest.NewServer(proxy)
	t.Cleanup(srv.Close)
	p := effects.New(store.New(), effects.Config{
		BaseURL: srv.URL,
		Client:  srv.Client(),
		Logger:  observability.NoopLogger{},
	})
	t.Cleanup(p.Wait)
	return p, proxy
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func app(guid, name string) map[string]any {
	return map[string]any{
		"metadata": map[string]any{"guid": guid},
		"entity":   map[string]any{"name": name},
	}
}

func appName(a domain.Attributes) any {
	entity, _ := a["entity"].(map[string]any)
	return entity["name"]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEnsureFetchedDispatchesOnce(t *testing.T) {
	release := make(chan struct{})
	p, proxy := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeJSON(w, map[string]any{"cf-1": app("app-1", "demo")})
	})
	svc := NewFactory(p).Entity(effects.NewConsole(p.Schemas()).GetApplication("app-1", "cf-1"))

	var dispatched atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc.EnsureFetched(context.Background()) {
				dispatched.Add(1)
			}
		}()
	}
	wg.Wait()
	if dispatched.Load() != 1 {
		t.Fatalf("expected one dispatch, got %d", dispatched.Load())
	}
	if !svc.IsFetching() {
		t.Fatalf("expected fetching while the call is pending")
	}
	close(release)
	p.Wait()
	if proxy.hits.Load() != 1 {
		t.Fatalf("expected one call, got %d", proxy.hits.Load())
	}
	if svc.EnsureFetched(context.Background()) {
		t.Fatalf("cached entity must not be refetched")
	}
}

func TestEnsureFetchedSkipsTerminalStates(t *testing.T) {
	p, proxy := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	svc := NewEntityService(p, effects.NewConsole(p.Schemas()).GetApplication("app-1", "cf-1"))
	svc.EnsureFetched(context.Background())
	p.Wait()
	if !svc.RequestInfo().Error || svc.StatusMessage() == "" {
		t.Fatalf("expected recorded failure, got %+v", svc.RequestInfo())
	}
	if svc.EnsureFetched(context.Background()) {
		t.Fatalf("errored entity must not be refetched automatically")
	}
	if proxy.hits.Load() != 1 {
		t.Fatalf("expected one call, got %d", proxy.hits.Load())
	}
}

func TestWaitUntilReady(t *testing.T) {
	p, _ := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"cf-1": app("app-1", "demo")})
	})
	svc := NewEntityService(p, effects.NewConsole(p.Schemas()).GetApplication("app-1", "cf-1"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	info, err := svc.WaitUntilReady(ctx)
	if err != nil {
		t.Fatalf("WaitUntilReady: %v", err)
	}
	if appName(info.Entity) != "demo" || info.RequestInfo.Fetching {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestWaitUntilReadyHonoursContext(t *testing.T) {
	p, _ := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	svc := NewEntityService(p, effects.NewConsole(p.Schemas()).GetApplication("app-1", "cf-1"))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := svc.WaitUntilReady(ctx); err == nil {
		t.Fatalf("expected context error for an entity that never loads")
	}
}

func TestWatchEntitySuppressesAbsence(t *testing.T) {
	st := store.New()
	p := effects.New(st, effects.Config{Logger: observability.NoopLogger{}})
	mon := NewEntityMonitor(st, p.Schemas().MustLookup(domain.EntityApplication), "app-1")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := mon.WatchEntity(ctx)
	desc := domain.RequestDescriptor{ID: "r1", Key: domain.EntityApplication, GUID: "app-1", Operation: domain.OpCreate}
	if err := st.Dispatch(store.RequestStarted{Request: desc}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	select {
	case v := <-ch:
		t.Fatalf("absent entity emitted %v", v)
	case <-time.After(30 * time.Millisecond):
	}
	if err := st.Dispatch(store.RequestSucceeded{
		Request: desc,
		Response: domain.Normalized{
			Entities: domain.Tables{domain.EntityApplication: {"app-1": app("app-1", "demo")}},
			Result:   []string{"app-1"},
		},
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	select {
	case v := <-ch:
		if appName(v) != "demo" {
			t.Fatalf("unexpected entity %v", v)
		}
	case <-time.After(time.Second):
		t.Fatalf("entity never emitted")
	}
}

func TestWatchDeduplicates(t *testing.T) {
	st := store.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := Watch(ctx, st, func(s store.State) int { return len(s.Entities[domain.EntityStack]) }, nil)

	if v := <-ch; v != 0 {
		t.Fatalf("expected initial 0, got %d", v)
	}
	// An unrelated change does not alter the selected value.
	if err := st.Dispatch(store.EntitiesMerged{Entities: domain.Tables{domain.EntitySpace: {"s": {"guid": "s"}}}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := st.Dispatch(store.EntitiesMerged{Entities: domain.Tables{domain.EntityStack: {"k": {"guid": "k"}}}}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if v := <-ch; v != 1 {
		t.Fatalf("expected 1 after stack merge, got %d", v)
	}
	cancel()
	for range ch {
	}
}

func TestHasErroredOnlyDuringDelete(t *testing.T) {
	st := store.New()
	p := effects.New(st, effects.Config{Logger: observability.NoopLogger{}})
	mon := NewEntityMonitor(st, p.Schemas().MustLookup(domain.EntityApplication), "app-1")
	fetch := domain.RequestDescriptor{ID: "f", Key: domain.EntityApplication, GUID: "app-1", Operation: domain.OpFetch}
	del := domain.RequestDescriptor{ID: "d", Key: domain.EntityApplication, GUID: "app-1", Operation: domain.OpDelete}

	if err := st.Dispatch(store.RequestStarted{Request: fetch}, store.RequestFailed{Request: fetch, Message: "gone"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if mon.HasErrored() {
		t.Fatalf("fetch error alone is not a delete error")
	}
	if err := st.Dispatch(store.RequestStarted{Request: del}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !mon.IsDeleting() || !mon.HasErrored() {
		t.Fatalf("expected errored while deleting, got %+v", mon.RequestInfo())
	}
}

func TestRejectedDeleteLeavesEntityReady(t *testing.T) {
	p, _ := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		writeJSON(w, map[string]any{"cf-1": app("app-1", "demo")})
	})
	console := effects.NewConsole(p.Schemas())
	svc := NewEntityService(p, console.GetApplication("app-1", "cf-1"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := svc.WaitUntilReady(ctx); err != nil {
		t.Fatalf("WaitUntilReady: %v", err)
	}

	if out := p.Do(ctx, console.DeleteApplication("app-1", "cf-1")); out.Succeeded() {
		t.Fatalf("expected delete to be rejected")
	}
	if r := svc.RequestInfo(); !r.Deleting.Error || r.Error || r.Message == "" {
		t.Fatalf("unexpected record after rejected delete %+v", r)
	}
	info, err := svc.WaitUntilReady(ctx)
	if err != nil {
		t.Fatalf("entity still cached but not ready: %v", err)
	}
	if appName(info.Entity) != "demo" {
		t.Fatalf("unexpected entity %v", info.Entity)
	}

	retry := domain.RequestDescriptor{ID: "retry", Key: domain.EntityApplication, GUID: "app-1", Operation: domain.OpDelete}
	if err := p.Store().Dispatch(store.RequestStarted{Request: retry}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !svc.IsDeleting() || svc.HasErrored() {
		t.Fatalf("retried delete reports an error before any response: %+v", svc.RequestInfo())
	}
}

func TestUpdateEntityKeepsFetchState(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	p, _ := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			<-release
		}
		writeJSON(w, map[string]any{"cf-1": app("app-1", "demo")})
	})
	svc := NewEntityService(p, effects.NewConsole(p.Schemas()).GetApplication("app-1", "cf-1"))
	svc.EnsureFetched(context.Background())
	p.Wait()

	svc.UpdateEntity(context.Background())
	if !svc.UpdateState(RefreshKey).Busy {
		t.Fatalf("expected refresh to be busy")
	}
	if svc.IsFetching() {
		t.Fatalf("refresh must not toggle the fetch flag")
	}
	if _, ok := svc.Entity(); !ok {
		t.Fatalf("entity must stay readable during refresh")
	}
	close(release)
	p.Wait()
	if svc.UpdateState(RefreshKey).Busy {
		t.Fatalf("refresh still busy after completion")
	}
}

func TestPoll(t *testing.T) {
	p, proxy := newPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"cf-1": app("app-1", "demo")})
	})
	svc := NewEntityService(p, effects.NewConsole(p.Schemas()).GetApplication("app-1", "cf-1"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Poll(ctx, 10*time.Millisecond, "")
	}()
	waitFor(t, "two polls", func() bool { return proxy.hits.Load() >= 2 })
	cancel()
	<-done
	p.Wait()
	if _, ok := svc.Entity(); !ok {
		t.Fatalf("polled entity not stored")
	}
}
