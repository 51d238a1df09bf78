package effects

import (
	"context"
	"net/http"
	"net/url"
	"testing"

	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

func endpointHandler(connectStatus int) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pp/v1/cnsis":
			writeJSON(w, []any{
				map[string]any{"guid": "cf-1", "name": "prod", "cnsi_type": "cf"},
				map[string]any{"guid": "cf-2", "name": "dev", "cnsi_type": "cf"},
			})
		case "/pp/v1/cnsis/registered":
			writeJSON(w, []any{map[string]any{"guid": "cf-2"}})
		case "/pp/v1/auth/login/cnsi":
			w.WriteHeader(connectStatus)
		default:
			http.NotFound(w, r)
		}
	}
}

func TestListEndpointsMarksRegistered(t *testing.T) {
	p, _ := newTestPipeline(t, endpointHandler(http.StatusOK))
	out := p.ListEndpoints(context.Background())
	if !out.Succeeded() {
		t.Fatalf("list failed: %v", out.Err)
	}
	st := p.Store().State()
	one, _ := store.SelectEntity(st, domain.EntityEndpoint, "cf-1")
	two, _ := store.SelectEntity(st, domain.EntityEndpoint, "cf-2")
	if domain.EndpointFromAttributes(one).Registered || !domain.EndpointFromAttributes(two).Registered {
		t.Fatalf("unexpected registration flags %v %v", one, two)
	}
	sec, _ := store.SelectPaginationState(st, domain.EntityEndpoint, EndpointListPaginationKey)
	if ids, _ := sec.Page(1); len(ids) != 2 {
		t.Fatalf("expected endpoint list section, got %+v", sec)
	}
}

func TestListEndpointsFailure(t *testing.T) {
	p, _ := newTestPipeline(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/pp/v1/cnsis/registered" {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		writeJSON(w, []any{})
	})
	out := p.ListEndpoints(context.Background())
	if out.Succeeded() {
		t.Fatalf("expected failure")
	}
	sec, _ := store.SelectPaginationState(p.Store().State(), domain.EntityEndpoint, EndpointListPaginationKey)
	if !sec.Error || sec.Fetching {
		t.Fatalf("unexpected section %+v", sec)
	}
}

func TestConnectEndpoint(t *testing.T) {
	p, fake := newTestPipeline(t, endpointHandler(http.StatusOK))
	out := p.ConnectEndpoint(context.Background(), "cf-1", "admin", "secret")
	if !out.Succeeded() {
		t.Fatalf("connect failed: %v", out.Err)
	}
	login, ok := fake.find("/pp/v1/auth/login/cnsi")
	if !ok || login.method != http.MethodPost {
		t.Fatalf("login not posted: %+v", fake.recorded())
	}
	form, _ := url.ParseQuery(login.body)
	if form.Get("cnsi_guid") != "cf-1" || form.Get("username") != "admin" || form.Get("password") != "secret" {
		t.Fatalf("unexpected form %v", form)
	}
	if login.header.Get("x-cap-cnsi-list") != "" {
		t.Fatalf("portal calls must not carry endpoint targets")
	}
	st := p.Store().State()
	if upd := store.SelectUpdateInfo(st, domain.EntityEndpoint, "cf-1", ConnectingKey); upd.Busy || upd.Error {
		t.Fatalf("unexpected connecting state %+v", upd)
	}
	if _, ok := store.SelectEntity(st, domain.EntityEndpoint, "cf-2"); !ok {
		t.Fatalf("endpoints not relisted after connect")
	}
}

func TestConnectEndpointFailure(t *testing.T) {
	p, fake := newTestPipeline(t, endpointHandler(http.StatusUnauthorized))
	out := p.ConnectEndpoint(context.Background(), "cf-1", "admin", "wrong")
	if out.Succeeded() || out.Message != ConnectFailedMessage {
		t.Fatalf("unexpected outcome %+v", out)
	}
	upd := store.SelectUpdateInfo(p.Store().State(), domain.EntityEndpoint, "cf-1", ConnectingKey)
	if !upd.Error || upd.Message != ConnectFailedMessage {
		t.Fatalf("unexpected connecting state %+v", upd)
	}
	if _, relisted := fake.find("/pp/v1/cnsis"); relisted {
		t.Fatalf("failed connect must not relist")
	}
}
