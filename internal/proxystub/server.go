package proxystub

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"consolecore/internal/observability"
	"consolecore/internal/proxy"
	"consolecore/pkg/domain"
)

// Recorded is one request the stub received.
type Recorded struct {
	Method      string
	Path        string
	Query       url.Values
	Targets     []string
	Passthrough bool
	Body        []byte
}

// Server is the stub proxy.
type Server struct {
	echo     *echo.Echo
	logger   observability.Logger
	registry *prometheus.Registry
	requests *prometheus.CounterVec

	mu       sync.Mutex
	fixtures Fixtures
	recorded []Recorded
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l observability.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds a stub serving a copy of f.
func New(f Fixtures, opts ...Option) *Server {
	s := &Server{
		echo:     echo.New(),
		logger:   observability.NoopLogger{},
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consolecore",
			Subsystem: "proxystub",
			Name:      "requests_total",
			Help:      "Requests served by the stub proxy.",
		}, []string{"route", "method", "code"}),
		fixtures: f.clone(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registry.MustRegister(s.requests)
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(s.observe)
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Echo exposes the underlying router.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Requests returns every request received so far, /metrics excluded.
func (s *Server) Requests() []Recorded {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recorded(nil), s.recorded...)
}

// SetFailure makes guid answer with an error envelope. An empty failure
// clears it.
func (s *Server) SetFailure(guid string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f == (Failure{}) {
		delete(s.fixtures.Failures, guid)
		return
	}
	s.fixtures.Failures[guid] = f
}

func (s *Server) routes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	s.echo.GET("/pp/:pv/cnsis", s.listEndpoints(false))
	s.echo.GET("/pp/:pv/cnsis/registered", s.listEndpoints(true))
	s.echo.POST("/pp/:pv/auth/login/cnsi", s.login)
	s.echo.Any("/pp/:pv/proxy/:av/*", s.forward)
}

func (s *Server) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		begin := time.Now()
		if req.URL.Path != "/metrics" {
			body, _ := io.ReadAll(req.Body)
			req.Body = io.NopCloser(strings.NewReader(string(body)))
			s.mu.Lock()
			s.recorded = append(s.recorded, Recorded{
				Method:      req.Method,
				Path:        req.URL.Path,
				Query:       req.URL.Query(),
				Targets:     splitTargets(req.Header.Get(proxy.HeaderEndpointList)),
				Passthrough: req.Header.Get(proxy.HeaderPassthrough) == "true",
				Body:        body,
			})
			s.mu.Unlock()
		}
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		status := c.Response().Status
		s.requests.WithLabelValues(c.Path(), req.Method, strconv.Itoa(status)).Inc()
		s.logger.Debug("stub request", "method", req.Method, "path", req.URL.Path, "status", status, "elapsed", time.Since(begin))
		return nil
	}
}

func splitTargets(header string) []string {
	var out []string
	for _, g := range strings.Split(header, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

func (s *Server) listEndpoints(registeredOnly bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		out := []map[string]any{}
		for _, ep := range s.fixtures.Endpoints {
			if registeredOnly && !ep.Registered {
				continue
			}
			out = append(out, map[string]any{
				"guid":         ep.GUID,
				"name":         ep.Name,
				"cnsi_type":    ep.Type,
				"api_endpoint": ep.APIEndpoint,
			})
		}
		return c.JSON(http.StatusOK, out)
	}
}

func (s *Server) login(c echo.Context) error {
	guid := c.FormValue("cnsi_guid")
	user := c.FormValue("username")
	pass := c.FormValue("password")
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ep := range s.fixtures.Endpoints {
		if ep.GUID != guid {
			continue
		}
		if ep.Username != "" && (ep.Username != user || ep.Password != pass) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		s.fixtures.Endpoints[i].Registered = true
		return c.JSON(http.StatusOK, map[string]any{"guid": guid})
	}
	return echo.NewHTTPError(http.StatusNotFound, "unknown endpoint")
}

// forward answers a proxied call once per target endpoint.
func (s *Server) forward(c echo.Context) error {
	req := c.Request()
	resource := strings.Trim(c.Param("*"), "/")
	passthrough := req.Header.Get(proxy.HeaderPassthrough) == "true"

	var body map[string]any
	if req.Body != nil {
		raw, _ := io.ReadAll(req.Body)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &body); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "body is not a JSON object")
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	targets := splitTargets(req.Header.Get(proxy.HeaderEndpointList))
	if len(targets) == 0 {
		for _, ep := range s.fixtures.Endpoints {
			if ep.Registered {
				targets = append(targets, ep.GUID)
			}
		}
	}
	if len(targets) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no endpoints targeted")
	}

	out := make(map[string]any, len(targets))
	for _, guid := range targets {
		if f, ok := s.fixtures.Failures[guid]; ok {
			out[guid] = map[string]any{"error": map[string]any{"status": f.Status, "description": f.Description}}
			continue
		}
		out[guid] = s.answer(guid, req.Method, resource, req.URL.Query(), body)
	}
	if passthrough {
		payload := out[targets[0]]
		if env, ok := payload.(map[string]any); ok {
			if _, failed := env["error"]; failed {
				return c.JSON(http.StatusBadGateway, env)
			}
		}
		return c.JSON(http.StatusOK, payload)
	}
	return c.JSON(http.StatusOK, out)
}

// answer builds one endpoint's payload. Must be called with mu held.
func (s *Server) answer(guid, method, resource string, query url.Values, body map[string]any) any {
	if payload, ok := s.fixtures.Raw[resource][guid]; ok && method == http.MethodGet {
		return payload
	}
	collection, id, _ := strings.Cut(resource, "/")
	if strings.Contains(id, "/") {
		return notFound(resource)
	}
	items := s.fixtures.Collections[collection][guid]
	switch {
	case id == "" && method == http.MethodGet:
		return page(filter(items, query["q"]), query)
	case id == "" && method == http.MethodPost:
		res := map[string]any{
			"metadata": map[string]any{"guid": uuid.NewString()},
			"entity":   domain.CloneAttributes(body),
		}
		s.setCollection(collection, guid, append(items, res))
		return res
	}
	idx := indexOf(items, id)
	if idx < 0 {
		return notFound(resource)
	}
	switch method {
	case http.MethodGet:
		return items[idx]
	case http.MethodPut, http.MethodPatch:
		entity, _ := items[idx]["entity"].(map[string]any)
		items[idx]["entity"] = domain.MergeAttributes(entity, body)
		return items[idx]
	case http.MethodDelete:
		next := append(append([]domain.Attributes(nil), items[:idx]...), items[idx+1:]...)
		s.setCollection(collection, guid, next)
		return map[string]any{}
	}
	return map[string]any{"error": map[string]any{"status": "405 Method Not Allowed"}}
}

func (s *Server) setCollection(collection, guid string, items []domain.Attributes) {
	if s.fixtures.Collections[collection] == nil {
		s.fixtures.Collections[collection] = map[string][]domain.Attributes{}
	}
	s.fixtures.Collections[collection][guid] = items
}

func notFound(resource string) map[string]any {
	return map[string]any{"error": map[string]any{
		"status":      "404 Not Found",
		"description": "resource " + resource + " not found",
	}}
}

func resourceGUID(res domain.Attributes) string {
	if md, ok := res["metadata"].(map[string]any); ok {
		if g, ok := md["guid"].(string); ok {
			return g
		}
	}
	g, _ := res["guid"].(string)
	return g
}

func indexOf(items []domain.Attributes, id string) int {
	for i, item := range items {
		if resourceGUID(item) == id {
			return i
		}
	}
	return -1
}

// filter applies q=field:value[,value] filters against entity fields.
func filter(items []domain.Attributes, qs []string) []domain.Attributes {
	if len(qs) == 0 {
		return items
	}
	var out []domain.Attributes
	for _, item := range items {
		entity, _ := item["entity"].(map[string]any)
		match := true
		for _, q := range qs {
			field, values, ok := strings.Cut(q, domain.DefaultQJoiner)
			if !ok {
				continue
			}
			got := fmtValue(entity[field])
			hit := false
			for _, v := range strings.Split(values, ",") {
				if v == got {
					hit = true
					break
				}
			}
			if !hit {
				match = false
				break
			}
		}
		if match {
			out = append(out, item)
		}
	}
	return out
}

func fmtValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// page slices items the way the cloud API pages collections.
func page(items []domain.Attributes, query url.Values) map[string]any {
	perPage, err := strconv.Atoi(query.Get(domain.ResultsPerPageParam))
	if err != nil || perPage <= 0 {
		perPage = 50
	}
	n, err := strconv.Atoi(query.Get(domain.PageParam))
	if err != nil || n <= 0 {
		n = 1
	}
	total := len(items)
	pages := (total + perPage - 1) / perPage
	start := (n - 1) * perPage
	end := start + perPage
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	resources := make([]any, 0, end-start)
	for _, item := range items[start:end] {
		resources = append(resources, item)
	}
	return map[string]any{
		"total_results": total,
		"total_pages":   pages,
		"resources":     resources,
	}
}
