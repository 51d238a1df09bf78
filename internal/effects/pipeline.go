// Package effects turns request intents into proxy calls and folds their
// outcomes back into the store.
package effects

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"consolecore/internal/observability"
	"consolecore/internal/proxy"
	"consolecore/internal/schema"
	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// RequestIDHeader carries the request correlation id.
const RequestIDHeader = "X-Request-Id"

// Config configures a Pipeline. Zero values are replaced by defaults.
type Config struct {
	BaseURL        string
	Prefix         proxy.Prefix
	ResultsPerPage int
	SessionHeader  string
	SessionToken   string
	MaxInFlight    int64
	Client         Doer
	Schemas        *schema.Registry
	Logger         observability.Logger
	Metrics        observability.MetricsRecorder
	Tracer         observability.Tracer
}

func (c *Config) parse() {
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.Prefix.ProxyVersion == "" || c.Prefix.APIVersion == "" {
		def := proxy.DefaultPrefix()
		if c.Prefix.ProxyVersion == "" {
			c.Prefix.ProxyVersion = def.ProxyVersion
		}
		if c.Prefix.APIVersion == "" {
			c.Prefix.APIVersion = def.APIVersion
		}
	}
	if c.ResultsPerPage <= 0 {
		c.ResultsPerPage = domain.DefaultResultsPerPage
	}
	if c.SessionHeader == "" {
		c.SessionHeader = "Authorization"
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 16
	}
	if c.Client == nil {
		c.Client = http.DefaultClient
	}
	if c.Schemas == nil {
		c.Schemas = schema.NewCatalog()
	}
	if c.Logger == nil {
		c.Logger = observability.DefaultLogger()
	}
	if c.Metrics == nil {
		c.Metrics = observability.NoopMetrics{}
	}
	if c.Tracer == nil {
		c.Tracer = observability.NoopTracer{}
	}
}

// Outcome is the result of one request as folded into the store.
type Outcome struct {
	Request      domain.RequestDescriptor
	Response     domain.Normalized
	TotalResults int
	TotalPages   int
	Warnings     []string
	Err          error
	// Message is the text recorded in the lifecycle record on failure.
	Message string
}

// Succeeded reports whether a success event was folded.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// FollowUp returns further requests to dispatch after a successful request.
type FollowUp func(req Request, out Outcome) []Request

type followKey struct {
	key domain.EntityKey
	op  domain.Operation
}

// Pipeline executes requests against the proxy. Start events are folded
// before Dispatch returns; completion events are folded when the call ends.
type Pipeline struct {
	store     *store.Store
	cfg       Config
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	mu        sync.RWMutex
	followUps map[followKey][]FollowUp
}

// New constructs a pipeline folding into st.
func New(st *store.Store, cfg Config) *Pipeline {
	cfg.parse()
	return &Pipeline{
		store:     st,
		cfg:       cfg,
		sem:       semaphore.NewWeighted(cfg.MaxInFlight),
		followUps: make(map[followKey][]FollowUp),
	}
}

// Store returns the store the pipeline folds into.
func (p *Pipeline) Store() *store.Store { return p.store }

// Schemas returns the schema registry used for normalization.
func (p *Pipeline) Schemas() *schema.Registry { return p.cfg.Schemas }

// OnSuccess registers fn to run after successful requests for (key, op).
func (p *Pipeline) OnSuccess(key domain.EntityKey, op domain.Operation, fn FollowUp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := followKey{key: key, op: op}
	p.followUps[k] = append(p.followUps[k], fn)
}

// Dispatch starts req and runs the call in the background.
func (p *Pipeline) Dispatch(ctx context.Context, req Request) domain.RequestDescriptor {
	desc, _ := p.DispatchIf(ctx, req, nil)
	return desc
}

// DispatchIf starts req only when guard accepts the store state at dispatch
// time. The check and the start event are atomic.
func (p *Pipeline) DispatchIf(ctx context.Context, req Request, guard func(store.State) bool) (domain.RequestDescriptor, bool) {
	pend, started := p.begin(ctx, req, guard)
	if !started {
		return pend.desc, false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.finish(ctx, req, pend)
	}()
	return pend.desc, true
}

// Do starts req and waits for its outcome.
func (p *Pipeline) Do(ctx context.Context, req Request) Outcome {
	pend, started := p.begin(ctx, req, nil)
	if !started {
		return Outcome{Request: pend.desc, Err: errNotStarted, Message: errNotStarted.Error()}
	}
	return p.finish(ctx, req, pend)
}

// Wait blocks until every background request, including follow-ups, ended.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

var errNotStarted = errors.New("request not started")

// pending is a started request whose call has not run yet.
type pending struct {
	desc     domain.RequestDescriptor
	hreq     *http.Request
	buildErr error
}

func (p *Pipeline) begin(ctx context.Context, req Request, guard func(store.State) bool) (pending, bool) {
	desc := req.Descriptor()
	var snap store.State
	ok, err := p.store.DispatchIf(func(st store.State) bool {
		if guard != nil && !guard(st) {
			return false
		}
		snap = st
		return true
	}, store.RequestStarted{Request: desc})
	if err != nil {
		p.cfg.Logger.Error("fold request start", "request", desc.ID, "error", err)
		return pending{desc: desc}, false
	}
	if !ok {
		return pending{desc: desc}, false
	}
	p.cfg.Logger.Debug("request started",
		"request", desc.ID, "entity", desc.Key, "guid", desc.GUID, "operation", desc.Operation)
	hreq, buildErr := p.build(ctx, req, snap, &desc)
	return pending{desc: desc, hreq: hreq, buildErr: buildErr}, true
}

// build assembles the HTTP request from the state seen at dispatch time.
func (p *Pipeline) build(ctx context.Context, req Request, st store.State, desc *domain.RequestDescriptor) (*http.Request, error) {
	if req.bodyErr != nil {
		return nil, fmt.Errorf("encode body: %w", req.bodyErr)
	}
	query := url.Values{}
	for k, vs := range req.params {
		query[k] = append([]string(nil), vs...)
	}
	if desc.Paginated() {
		sec := store.SelectPaginationOrDefault(st, desc.Key, desc.PaginationKey)
		desc.Page = sec.CurrentPage
		for _, k := range sec.Params.Keys() {
			if !query.Has(k) {
				query.Set(k, sec.Params.Values[k])
			}
		}
		query.Set(domain.PageParam, strconv.Itoa(sec.CurrentPage))
		for _, q := range sec.Params.Q {
			query.Add("q", q.String())
		}
		if !query.Has(domain.ResultsPerPageParam) {
			query.Set(domain.ResultsPerPageParam, strconv.Itoa(p.cfg.ResultsPerPage))
		}
	}

	path := p.cfg.Prefix.ProxyPath(req.path)
	if req.portal {
		path = p.cfg.Prefix.PortalPath(req.path)
	}
	target := p.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.header {
		hreq.Header[k] = append([]string(nil), vs...)
	}
	if req.contentType != "" {
		hreq.Header.Set("Content-Type", req.contentType)
	}
	hreq.Header.Set(RequestIDHeader, desc.ID)
	if p.cfg.SessionToken != "" {
		hreq.Header.Set(p.cfg.SessionHeader, p.cfg.SessionToken)
	}
	if !req.portal {
		switch {
		case req.passthrough:
			hreq.Header.Set(proxy.HeaderPassthrough, "true")
			if len(req.endpoints) > 0 {
				hreq.Header.Set(proxy.HeaderEndpointList, req.endpoints[0])
			}
		case len(req.endpoints) > 0:
			hreq.Header.Set(proxy.HeaderEndpointList, strings.Join(req.endpoints, ","))
		default:
			if list := registeredEndpoints(st); list != "" {
				hreq.Header.Set(proxy.HeaderEndpointList, list)
			}
		}
	}
	return hreq, nil
}

func registeredEndpoints(st store.State) string {
	rows := store.SelectEntities(st, domain.EntityEndpoint)
	endpoints := make([]domain.Endpoint, 0, len(rows))
	for _, row := range rows {
		endpoints = append(endpoints, domain.EndpointFromAttributes(row))
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].GUID < endpoints[j].GUID })
	return proxy.EndpointListHeader(endpoints)
}

func (p *Pipeline) finish(ctx context.Context, req Request, pend pending) Outcome {
	desc := pend.desc
	op, _ := desc.Tracked()
	opName := observability.OperationName(op.String(), string(desc.Key))
	ctx, span := p.cfg.Tracer.Start(ctx, opName)
	started := time.Now()

	out := Outcome{Request: desc, Err: pend.buildErr}
	if out.Err == nil {
		var body []byte
		body, out.Err = p.send(ctx, pend.hreq)
		if out.Err == nil {
			p.interpret(req, body, &out)
		}
	}

	var events []store.Event
	if out.Err != nil {
		out.Message = out.Err.Error()
		if req.failMessage != "" {
			out.Message = req.failMessage
		}
		events = append(events, store.RequestFailed{Request: desc, Message: out.Message})
	} else {
		if desc.Operation.Mutating() {
			events = append(events, store.PaginationCleared{Key: desc.Key})
		}
		events = append(events, store.RequestSucceeded{
			Request:      desc,
			Response:     out.Response,
			TotalResults: out.TotalResults,
			TotalPages:   out.TotalPages,
			Warnings:     out.Warnings,
		})
	}
	if err := p.store.Dispatch(events...); err != nil {
		p.cfg.Logger.Error("fold request outcome", "request", desc.ID, "error", err)
	}

	span.End(out.Err)
	p.cfg.Metrics.Observe(ctx, opName, out.Err == nil, time.Since(started))
	if len(out.Warnings) > 0 {
		if rec, ok := p.cfg.Metrics.(observability.PartialFailureRecorder); ok {
			rec.PartialFailures(opName, len(out.Warnings))
		}
		p.cfg.Logger.Warn("endpoints failed", "request", desc.ID, "entity", desc.Key, "errors", out.Warnings)
	}
	if out.Err != nil {
		p.cfg.Logger.Error("request failed", "request", desc.ID, "entity", desc.Key, "guid", desc.GUID,
			"operation", op, "message", out.Message, "error", out.Err)
		return out
	}
	p.cfg.Logger.Debug("request succeeded", "request", desc.ID, "entity", desc.Key, "guid", desc.GUID,
		"entities", out.Response.Entities.Count(), "total_results", out.TotalResults)
	p.runFollowUps(ctx, req, out)
	return out
}

func (p *Pipeline) send(ctx context.Context, hreq *http.Request) ([]byte, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	if rec, ok := p.cfg.Metrics.(observability.InFlightRecorder); ok {
		rec.InFlight(1)
		defer rec.InFlight(-1)
	}
	resp, err := p.cfg.Client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := proxy.CheckResponse(resp); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// interpret turns a response body into entities. Failed targets become
// warnings unless every target failed.
func (p *Pipeline) interpret(req Request, body []byte, out *Outcome) {
	out.Response = domain.EmptyNormalized()
	if req.shape == ShapeNone {
		return
	}
	var targets []proxy.Target
	if req.passthrough {
		guid := ""
		if len(req.endpoints) > 0 {
			guid = req.endpoints[0]
		}
		targets = proxy.DecodePassthrough(guid, body)
	} else {
		targets = proxy.DecodeTargets(body)
	}

	var failed []*proxy.EndpointError
	ok := make([]proxy.Target, 0, len(targets))
	for _, t := range targets {
		if t.Err != nil {
			failed = append(failed, t.Err)
			continue
		}
		ok = append(ok, t)
	}
	if len(failed) > 0 && len(ok) == 0 {
		out.Err = &proxy.TargetsError{Errors: failed}
		return
	}
	for _, f := range failed {
		out.Warnings = append(out.Warnings, f.Error())
	}

	switch req.shape {
	case ShapeRaw:
		if req.guid == "" || len(ok) == 0 {
			return
		}
		var row domain.Attributes
		for _, t := range ok {
			row = domain.MergeAttributes(row, t.Payload)
			row["cfGuid"] = t.GUID
		}
		row["guid"] = req.guid
		out.Response.Entities[req.Key()] = map[string]domain.Attributes{req.guid: row}
		out.Response.Result = []string{req.guid}
	default:
		var items []domain.Attributes
		for _, t := range ok {
			resources, total, pages := t.Resources()
			items = append(items, resources...)
			out.TotalResults += total
			if pages > out.TotalPages {
				out.TotalPages = pages
			}
		}
		out.Response = schema.NormalizeList(items, req.schema)
	}
}

func (p *Pipeline) runFollowUps(ctx context.Context, req Request, out Outcome) {
	p.mu.RLock()
	fns := p.followUps[followKey{key: out.Request.Key, op: out.Request.Operation}]
	p.mu.RUnlock()
	if len(fns) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, fn := range fns {
		for _, next := range fn(req, out) {
			p.Dispatch(ctx, next)
		}
	}
}
