package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"consolecore/internal/observability"
	"consolecore/internal/schema"
	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

const (
	// EndpointListPaginationKey is the pagination section holding every
	// known endpoint.
	EndpointListPaginationKey = "endpoint-list"
	// ConnectingKey is the updating key used while connecting an endpoint.
	ConnectingKey = "connecting"
	// ConnectFailedMessage is recorded when a connect attempt fails.
	ConnectFailedMessage = "Could not connect"
)

// ListEndpoints loads every endpoint and the registered subset concurrently
// and stores them in the endpoint table, flagging the registered ones.
func (p *Pipeline) ListEndpoints(ctx context.Context) Outcome {
	desc := domain.RequestDescriptor{
		ID:            uuid.NewString(),
		Key:           domain.EntityEndpoint,
		Operation:     domain.OpFetch,
		PaginationKey: EndpointListPaginationKey,
	}
	out := Outcome{Request: desc, Response: domain.EmptyNormalized()}
	if err := p.store.Dispatch(store.RequestStarted{Request: desc}); err != nil {
		out.Err = err
		out.Message = err.Error()
		return out
	}
	opName := observability.OperationName("list", string(domain.EntityEndpoint))
	ctx, span := p.cfg.Tracer.Start(ctx, opName)
	started := time.Now()

	var all, registered []domain.Attributes
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.getPortalJSON(gctx, desc.ID, "cnsis", &all) })
	g.Go(func() error { return p.getPortalJSON(gctx, desc.ID, "cnsis/registered", &registered) })
	out.Err = g.Wait()

	var ev store.Event
	if out.Err != nil {
		out.Message = out.Err.Error()
		ev = store.RequestFailed{Request: desc, Message: out.Message}
		p.cfg.Logger.Error("list endpoints", "error", out.Err)
	} else {
		isRegistered := make(map[string]bool, len(registered))
		for _, r := range registered {
			if guid, ok := r["guid"].(string); ok {
				isRegistered[guid] = true
			}
		}
		items := make([]domain.Attributes, 0, len(all))
		for _, ep := range all {
			row := domain.CloneAttributes(ep)
			guid, _ := row["guid"].(string)
			row["registered"] = isRegistered[guid]
			items = append(items, row)
		}
		out.Response = normalizeEndpoints(p, items)
		out.TotalResults = len(out.Response.Result)
		ev = store.RequestSucceeded{Request: desc, Response: out.Response, TotalResults: out.TotalResults}
	}
	if err := p.store.Dispatch(ev); err != nil {
		p.cfg.Logger.Error("fold endpoint list", "error", err)
	}
	span.End(out.Err)
	p.cfg.Metrics.Observe(ctx, opName, out.Err == nil, time.Since(started))
	return out
}

func normalizeEndpoints(p *Pipeline, items []domain.Attributes) domain.Normalized {
	e, err := p.cfg.Schemas.Lookup(domain.EntityEndpoint)
	if err != nil {
		p.cfg.Logger.Error("endpoint schema", "error", err)
		return domain.EmptyNormalized()
	}
	return schema.NormalizeList(items, e)
}

// ConnectEndpoint posts credentials for an endpoint. It is tracked as the
// "connecting" update of the endpoint and relists endpoints on success.
func (p *Pipeline) ConnectEndpoint(ctx context.Context, guid, username, password string) Outcome {
	e, err := p.cfg.Schemas.Lookup(domain.EntityEndpoint)
	if err != nil {
		return Outcome{Err: err, Message: err.Error()}
	}
	form := url.Values{}
	form.Set("cnsi_guid", guid)
	form.Set("username", username)
	form.Set("password", password)
	req := NewRequest(e, http.MethodPost, "auth/login/cnsi",
		WithGUID(guid),
		WithUpdatingKey(ConnectingKey),
		WithFormBody(form),
		WithPortalPath(),
		WithShape(ShapeNone),
		WithFailureMessage(ConnectFailedMessage),
	)
	out := p.Do(ctx, req)
	if out.Succeeded() {
		p.ListEndpoints(ctx)
	}
	return out
}

func (p *Pipeline) getPortalJSON(ctx context.Context, requestID, path string, into *[]domain.Attributes) error {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+p.cfg.Prefix.PortalPath(path), nil)
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	hreq.Header.Set(RequestIDHeader, requestID)
	if p.cfg.SessionToken != "" {
		hreq.Header.Set(p.cfg.SessionHeader, p.cfg.SessionToken)
	}
	body, err := p.send(ctx, hreq)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
