// Package config loads consolecore settings from an optional YAML file
// overlaid by CONSOLECORE_* environment variables.
//
//	CONSOLECORE_PROXY_URL                 base URL of the backend proxy
//	CONSOLECORE_PROXY_VERSION             proxy prefix version (default v1)
//	CONSOLECORE_API_VERSION               cloud API version (default v2)
//	CONSOLECORE_RESULTS_PER_PAGE          default page size (default 5)
//	CONSOLECORE_SESSION_HEADER            session header name (default Authorization)
//	CONSOLECORE_SESSION_TOKEN             session header value
//	CONSOLECORE_HTTP_TIMEOUT              per call timeout (default 30s)
//	CONSOLECORE_MAX_IN_FLIGHT             concurrent proxy calls (default 16)
//	CONSOLECORE_SNAPSHOT_DRIVER           none|memory|fs|sqlite|postgres|s3 (default none)
//	CONSOLECORE_SNAPSHOT_PATH             fs directory or sqlite file
//	CONSOLECORE_SNAPSHOT_INTERVAL         save interval (default 30s)
//	CONSOLECORE_POSTGRES_DSN              postgres DSN when driver=postgres
//	CONSOLECORE_SNAPSHOT_S3_BUCKET        bucket when driver=s3
//	CONSOLECORE_SNAPSHOT_S3_REGION        region (default us-east-1)
//	CONSOLECORE_SNAPSHOT_S3_ENDPOINT      custom endpoint, e.g. MinIO
//	CONSOLECORE_SNAPSHOT_S3_PATH_STYLE    true|false
//	CONSOLECORE_SNAPSHOT_S3_KEY           object key (default consolecore/snapshot.json)
//	CONSOLECORE_LOG_LEVEL                 debug|info|warn|error (default info)
//	CONSOLECORE_METRICS                   expvar|prometheus (default expvar)
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "CONSOLECORE"

// Metrics exporters the pipeline can record into.
const (
	MetricsExpvar     = "expvar"
	MetricsPrometheus = "prometheus"
)

// Proxy configures how the pipeline reaches the backend proxy.
type Proxy struct {
	URL            string        `yaml:"url"`
	ProxyVersion   string        `yaml:"proxy_version"`
	APIVersion     string        `yaml:"api_version"`
	ResultsPerPage int           `yaml:"results_per_page"`
	SessionHeader  string        `yaml:"session_header"`
	SessionToken   string        `yaml:"session_token"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	MaxInFlight    int64         `yaml:"max_in_flight"`
}

// S3 configures the S3 snapshot sink.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
	Key       string `yaml:"key"`
}

// Snapshot configures entity table persistence.
type Snapshot struct {
	Driver      string        `yaml:"driver"`
	Path        string        `yaml:"path"`
	Interval    time.Duration `yaml:"interval"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	S3          S3            `yaml:"s3"`
}

// Config is the full consolecore configuration.
type Config struct {
	Proxy    Proxy    `yaml:"proxy"`
	Snapshot Snapshot `yaml:"snapshot"`
	LogLevel string   `yaml:"log_level"`
	Metrics  string   `yaml:"metrics"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Proxy: Proxy{
			ProxyVersion:   "v1",
			APIVersion:     "v2",
			ResultsPerPage: 5,
			SessionHeader:  "Authorization",
			HTTPTimeout:    30 * time.Second,
			MaxInFlight:    16,
		},
		Snapshot: Snapshot{
			Driver:   "none",
			Interval: 30 * time.Second,
			S3: S3{
				Region: "us-east-1",
				Key:    "consolecore/snapshot.json",
			},
		},
		LogLevel: "info",
		Metrics:  MetricsExpvar,
	}
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	if c.Proxy.ResultsPerPage <= 0 {
		errs = append(errs, fmt.Errorf("proxy.results_per_page must be positive, got %d", c.Proxy.ResultsPerPage))
	}
	if c.Proxy.MaxInFlight <= 0 {
		errs = append(errs, fmt.Errorf("proxy.max_in_flight must be positive, got %d", c.Proxy.MaxInFlight))
	}
	switch c.Snapshot.Driver {
	case "", "none", "memory":
	case "fs", "sqlite":
		if c.Snapshot.Path == "" {
			errs = append(errs, fmt.Errorf("snapshot.path required for driver %s", c.Snapshot.Driver))
		}
	case "postgres":
		if c.Snapshot.PostgresDSN == "" {
			errs = append(errs, errors.New("snapshot.postgres_dsn required for driver postgres"))
		}
	case "s3":
		if c.Snapshot.S3.Bucket == "" {
			errs = append(errs, errors.New("snapshot.s3.bucket required for driver s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown snapshot driver %s", c.Snapshot.Driver))
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %s", c.LogLevel))
	}
	switch c.Metrics {
	case "", MetricsExpvar, MetricsPrometheus:
	default:
		errs = append(errs, fmt.Errorf("unknown metrics exporter %s", c.Metrics))
	}
	return errors.Join(errs...)
}

// Loader reads a YAML file and environment overrides.
type Loader struct {
	// lookup overrides os.LookupEnv for testing.
	lookup func(string) (string, bool)
}

func (l Loader) lookupEnv(key string) (string, bool) {
	if l.lookup != nil {
		return l.lookup(key)
	}
	return os.LookupEnv(key)
}

// Load returns the defaults overlaid by the file at path, when path is not
// empty, and then by the environment.
func (l Loader) Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := l.applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Load uses the process environment.
func Load(path string) (Config, error) {
	return Loader{}.Load(path)
}

type binding struct {
	name string
	set  func(c *Config, raw string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, raw string) error {
		*field(c) = raw
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, raw string) error {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func integer64(field func(*Config) *int64) func(*Config, string) error {
	return func(c *Config, raw string) error {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func duration(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, raw string) error {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, raw string) error {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

var bindings = []binding{
	{"PROXY_URL", str(func(c *Config) *string { return &c.Proxy.URL })},
	{"PROXY_VERSION", str(func(c *Config) *string { return &c.Proxy.ProxyVersion })},
	{"API_VERSION", str(func(c *Config) *string { return &c.Proxy.APIVersion })},
	{"RESULTS_PER_PAGE", integer(func(c *Config) *int { return &c.Proxy.ResultsPerPage })},
	{"SESSION_HEADER", str(func(c *Config) *string { return &c.Proxy.SessionHeader })},
	{"SESSION_TOKEN", str(func(c *Config) *string { return &c.Proxy.SessionToken })},
	{"HTTP_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Proxy.HTTPTimeout })},
	{"MAX_IN_FLIGHT", integer64(func(c *Config) *int64 { return &c.Proxy.MaxInFlight })},
	{"SNAPSHOT_DRIVER", str(func(c *Config) *string { return &c.Snapshot.Driver })},
	{"SNAPSHOT_PATH", str(func(c *Config) *string { return &c.Snapshot.Path })},
	{"SNAPSHOT_INTERVAL", duration(func(c *Config) *time.Duration { return &c.Snapshot.Interval })},
	{"POSTGRES_DSN", str(func(c *Config) *string { return &c.Snapshot.PostgresDSN })},
	{"SNAPSHOT_S3_BUCKET", str(func(c *Config) *string { return &c.Snapshot.S3.Bucket })},
	{"SNAPSHOT_S3_REGION", str(func(c *Config) *string { return &c.Snapshot.S3.Region })},
	{"SNAPSHOT_S3_ENDPOINT", str(func(c *Config) *string { return &c.Snapshot.S3.Endpoint })},
	{"SNAPSHOT_S3_PATH_STYLE", boolean(func(c *Config) *bool { return &c.Snapshot.S3.PathStyle })},
	{"SNAPSHOT_S3_KEY", str(func(c *Config) *string { return &c.Snapshot.S3.Key })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.LogLevel })},
	{"METRICS", str(func(c *Config) *string { return &c.Metrics })},
}

func (l Loader) applyEnv(c *Config) error {
	for _, b := range bindings {
		key := EnvPrefix + "_" + b.name
		raw, ok := l.lookupEnv(key)
		if !ok {
			continue
		}
		if err := b.set(c, strings.TrimSpace(raw)); err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
	}
	return nil
}

// Keys returns the environment variable names the loader reads.
func Keys() []string {
	keys := make([]string, len(bindings))
	for i, b := range bindings {
		keys[i] = EnvPrefix + "_" + b.name
	}
	return keys
}
