// Command consolectl fetches console entities through the backend proxy and
// prints them denormalized.
//
//	consolectl [flags] endpoints
//	consolectl [flags] connect <endpoint-guid>
//	consolectl [flags] get <entity> <guid>
//	consolectl [flags] list <collection>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"gopkg.in/yaml.v3"

	"consolecore/internal/config"
	"consolecore/internal/effects"
	"consolecore/internal/observability"
	"consolecore/internal/proxy"
	"consolecore/internal/query"
	"consolecore/internal/snapshot"
	"consolecore/internal/store"
	"consolecore/pkg/domain"
)

var exitFunc = os.Exit

type getter func(c effects.Console, guid, endpoint string) effects.Request

type lister func(c effects.Console, paginationKey string) effects.Request

var getters = map[string]getter{
	"application":  effects.Console.GetApplication,
	"space":        effects.Console.GetSpace,
	"organization": effects.Console.GetOrganization,
	"app-summary":  effects.Console.GetAppSummary,
	"app-stats":    effects.Console.GetAppStats,
	"app-env":      effects.Console.GetAppEnvVars,
}

var listers = map[string]lister{
	"applications":  effects.Console.GetAllApplications,
	"organizations": effects.Console.GetAllOrganizations,
}

type options struct {
	configPath string
	proxyURL   string
	output     string
	endpoint   string
	page       int
	filters    []string
	timeout    time.Duration
	trace      bool
	user       string
	password   string
	metrics    string
}

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("consolectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	fs.StringVar(&opts.proxyURL, "proxy", "", "backend proxy URL (overrides config)")
	fs.StringVar(&opts.output, "output", "yaml", "output format: yaml or json")
	fs.StringVar(&opts.endpoint, "endpoint", "", "endpoint guid to target")
	fs.IntVar(&opts.page, "page", 1, "page to list")
	fs.Func("q", "filter as field:value (repeatable)", func(v string) error {
		opts.filters = append(opts.filters, v)
		return nil
	})
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall timeout")
	fs.BoolVar(&opts.trace, "trace", false, "write request spans as JSON lines to stderr")
	fs.StringVar(&opts.user, "user", "", "username for connect")
	fs.StringVar(&opts.password, "password", "", "password for connect")
	fs.StringVar(&opts.metrics, "metrics", "", "metrics exporter: expvar or prometheus (overrides config)")
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "usage: consolectl [flags] endpoints | connect <guid> | get <entity> <guid> | list <collection>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if opts.output != "yaml" && opts.output != "json" {
		_, _ = fmt.Fprintf(stderr, "unknown output format %q\n", opts.output)
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	if err := run(ctx, opts, fs.Args(), stdout, stderr); err != nil {
		_, _ = fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

type app struct {
	pipe    *effects.Pipeline
	console effects.Console
	factory *query.Factory
	logger  observability.Logger
	expvar   *observability.ExpvarMetricsRecorder
	registry *prometheus.Registry
	stderr   io.Writer
	sink    snapshot.Sink
	opts    options
	out     io.Writer
}

func run(ctx context.Context, opts options, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.proxyURL != "" {
		cfg.Proxy.URL = opts.proxyURL
	}
	if opts.metrics != "" {
		cfg.Metrics = opts.metrics
	}
	if cfg.Proxy.URL == "" {
		return errors.New("proxy URL not set (use -proxy or CONSOLECORE_PROXY_URL)")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, opts, stdout, stderr)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	switch cmd := args[0]; cmd {
	case "endpoints":
		return a.endpoints(ctx)
	case "connect":
		if len(args) != 2 {
			return errors.New("connect needs an endpoint guid")
		}
		return a.connect(ctx, args[1])
	case "get":
		if len(args) != 3 {
			return errors.New("get needs an entity and a guid")
		}
		return a.get(ctx, args[1], args[2])
	case "list":
		if len(args) != 2 {
			return errors.New("list needs a collection")
		}
		return a.list(ctx, args[1])
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newApp(ctx context.Context, cfg config.Config, opts options, stdout, stderr io.Writer) (*app, error) {
	logger := observability.NewLogger(cfg.LogLevel, stderr)
	st := store.New(store.WithResultsPerPage(cfg.Proxy.ResultsPerPage))
	sink, err := snapshot.Open(ctx, cfg.Snapshot)
	if err != nil {
		return nil, err
	}
	if sink != nil {
		if ok, err := snapshot.WarmStart(ctx, sink, st); err != nil {
			logger.Warn("warm start failed", "driver", sink.Driver(), "error", err)
		} else if ok {
			logger.Debug("warm start", "driver", sink.Driver())
		}
	}
	a := &app{logger: logger, sink: sink, opts: opts, out: stdout, stderr: stderr}
	var metrics observability.MetricsRecorder
	if cfg.Metrics == config.MetricsPrometheus {
		a.registry = prometheus.NewRegistry()
		rec, err := observability.NewPrometheusRecorder(a.registry)
		if err != nil {
			if sink != nil {
				_ = sink.Close()
			}
			return nil, err
		}
		metrics = rec
	} else {
		a.expvar = observability.NewExpvarMetricsRecorder("")
		metrics = a.expvar
	}
	var tracer observability.Tracer = observability.NoopTracer{}
	if opts.trace {
		tracer = observability.NewJSONTracer(stderr)
	}
	pipe := effects.New(st, effects.Config{
		BaseURL: cfg.Proxy.URL,
		Prefix: proxy.Prefix{
			ProxyVersion: cfg.Proxy.ProxyVersion,
			APIVersion:   cfg.Proxy.APIVersion,
		},
		ResultsPerPage: cfg.Proxy.ResultsPerPage,
		SessionHeader:  cfg.Proxy.SessionHeader,
		SessionToken:   cfg.Proxy.SessionToken,
		MaxInFlight:    cfg.Proxy.MaxInFlight,
		Client:         &http.Client{Timeout: cfg.Proxy.HTTPTimeout},
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
	})
	console := effects.NewConsole(pipe.Schemas())
	console.RegisterFollowUps(pipe)
	a.pipe = pipe
	a.console = console
	a.factory = query.NewFactory(pipe)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	a.pipe.Wait()
	a.reportMetrics()
	if a.sink == nil {
		return
	}
	saver := &snapshot.Saver{Sink: a.sink, Store: a.pipe.Store(), Logger: a.logger}
	if err := saver.SaveNow(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("snapshot save failed", "error", err)
	}
	_ = a.sink.Close()
}

// reportMetrics writes the Prometheus registry in text exposition format to
// stderr, or logs the expvar results at debug level.
func (a *app) reportMetrics() {
	if a.registry == nil {
		a.logger.Debug("request metrics", "results", a.expvar.Snapshot().Results)
		return
	}
	families, err := a.registry.Gather()
	if err != nil {
		a.logger.Warn("gather metrics failed", "error", err)
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(a.stderr, mf); err != nil {
			a.logger.Warn("write metrics failed", "error", err)
			return
		}
	}
}

func (a *app) endpoints(ctx context.Context) error {
	out := a.pipe.ListEndpoints(ctx)
	if !out.Succeeded() {
		return fmt.Errorf("list endpoints: %s", out.Message)
	}
	rows := store.SelectEntities(a.pipe.Store().State(), domain.EntityEndpoint)
	list := make([]domain.Endpoint, 0, len(rows))
	for _, row := range rows {
		list = append(list, domain.EndpointFromAttributes(row))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].GUID < list[j].GUID })
	return a.print(list)
}

func (a *app) connect(ctx context.Context, guid string) error {
	out := a.pipe.ConnectEndpoint(ctx, guid, a.opts.user, a.opts.password)
	if !out.Succeeded() {
		return fmt.Errorf("connect %s: %s", guid, out.Message)
	}
	return a.print(map[string]any{"guid": guid, "connected": true})
}

func (a *app) get(ctx context.Context, entity, guid string) error {
	build, ok := getters[entity]
	if !ok {
		return fmt.Errorf("unknown entity %q (known: %s)", entity, strings.Join(sortedKeys(getters), ", "))
	}
	svc := a.factory.Entity(build(a.console, guid, a.opts.endpoint))
	for info := range svc.Watch(ctx) {
		if info.Ready() {
			return a.print(info.Entity)
		}
		if info.RequestInfo.Error {
			return fmt.Errorf("fetch %s %s: %s", entity, guid, info.RequestInfo.Message)
		}
	}
	return ctx.Err()
}

type pageOutput struct {
	Page         int                 `json:"page" yaml:"page"`
	PageCount    int                 `json:"page_count" yaml:"page_count"`
	TotalResults int                 `json:"total_results" yaml:"total_results"`
	Message      string              `json:"message,omitempty" yaml:"message,omitempty"`
	Entities     []domain.Attributes `json:"entities" yaml:"entities"`
}

func (a *app) list(ctx context.Context, collection string) error {
	build, ok := listers[collection]
	if !ok {
		return fmt.Errorf("unknown collection %q (known: %s)", collection, strings.Join(sortedKeys(listers), ", "))
	}
	var initial *domain.Params
	if len(a.opts.filters) > 0 {
		initial = &domain.Params{}
		for _, f := range a.opts.filters {
			key, value, ok := strings.Cut(f, domain.DefaultQJoiner)
			if !ok {
				return fmt.Errorf("filter %q is not field:value", f)
			}
			initial.Q = append(initial.Q, domain.NewQParam(key, strings.Split(value, ",")...))
		}
	}
	mon, err := a.factory.Pagination(build(a.console, collection), "consolectl", initial)
	if err != nil {
		return err
	}
	if err := mon.SetPage(a.opts.page); err != nil {
		return err
	}
	for view := range mon.Watch(ctx) {
		st := view.State
		if st.Error {
			return fmt.Errorf("list %s: %s", collection, st.Message)
		}
		if st.Fetching || !st.HasCurrentPage() {
			continue
		}
		return a.print(pageOutput{
			Page:         st.CurrentPage,
			PageCount:    st.PageCount,
			TotalResults: st.TotalResults,
			Message:      st.Message,
			Entities:     view.Entities,
		})
	}
	return ctx.Err()
}

func (a *app) print(v any) error {
	if a.opts.output == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
