package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"consolecore/internal/proxystub"
)

func startStub(t *testing.T) string {
	t.Helper()
	fixtures, err := proxystub.LoadFixtures(filepath.Join("..", "..", "internal", "proxystub", "testdata", "fixtures.yaml"))
	if err != nil {
		t.Fatalf("LoadFixtures: %v", err)
	}
	srv := httptest.NewServer(proxystub.New(fixtures).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "no command", args: nil, want: 2},
		{name: "bad output", args: []string{"-output", "xml", "endpoints"}, want: 2},
		{name: "bad flag", args: []string{"-nope"}, want: 2},
		{name: "help", args: []string{"-h"}, want: 0},
		{name: "unknown command", args: []string{"-proxy", "http://127.0.0.1:1", "frobnicate"}, want: 1},
		{name: "unknown entity", args: []string{"-proxy", "http://127.0.0.1:1", "get", "widget", "w-1"}, want: 1},
		{name: "unknown metrics exporter", args: []string{"-proxy", "http://127.0.0.1:1", "-metrics", "statsd", "endpoints"}, want: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code, _, stderr := runCLI(t, tc.args...); code != tc.want {
				t.Fatalf("exit %d, want %d; stderr:\n%s", code, tc.want, stderr)
			}
		})
	}
}

func TestEndpoints(t *testing.T) {
	base := startStub(t)
	code, stdout, stderr := runCLI(t, "-proxy", base, "-output", "json", "endpoints")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var got []struct {
		GUID string `json:"guid"`
	}
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	if len(got) != 3 || got[0].GUID != "cf-1" || got[2].GUID != "cf-3" {
		t.Fatalf("unexpected endpoints %+v", got)
	}
}

func TestConnect(t *testing.T) {
	base := startStub(t)
	if code, _, _ := runCLI(t, "-proxy", base, "-user", "admin", "-password", "wrong", "connect", "cf-3"); code != 1 {
		t.Fatalf("expected failure with wrong password")
	}
	code, stdout, stderr := runCLI(t, "-proxy", base, "-user", "admin", "-password", "secret", "connect", "cf-3")
	if code != 0 || !strings.Contains(stdout, "connected: true") {
		t.Fatalf("exit %d stdout %q stderr %q", code, stdout, stderr)
	}
}

func TestGetApplication(t *testing.T) {
	base := startStub(t)
	code, stdout, stderr := runCLI(t, "-proxy", base, "-endpoint", "cf-1", "get", "application", "app-1")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "billing") {
		t.Fatalf("entity not printed:\n%s", stdout)
	}

	code, _, stderr = runCLI(t, "-proxy", base, "-endpoint", "cf-1", "get", "application", "app-missing")
	if code != 1 || !strings.Contains(stderr, "app-missing") {
		t.Fatalf("exit %d stderr %q", code, stderr)
	}
}

func TestListApplications(t *testing.T) {
	base := startStub(t)
	code, stdout, stderr := runCLI(t, "-proxy", base, "-output", "json", "-q", "name:billing", "list", "applications")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	var page pageOutput
	if err := json.Unmarshal([]byte(stdout), &page); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	if page.Page != 1 || page.TotalResults != 2 || len(page.Entities) != 2 {
		t.Fatalf("unexpected page %+v", page)
	}

	if code, _, _ := runCLI(t, "-proxy", base, "-q", "nocolon", "list", "applications"); code != 1 {
		t.Fatalf("malformed filter accepted")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	base := startStub(t)
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "consolecore.yaml")
	cfg := "log_level: warn\nsnapshot:\n  driver: fs\n  path: " + dir + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	code, _, stderr := runCLI(t, "-config", cfgPath, "-proxy", base, "-endpoint", "cf-1", "get", "application", "app-1")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "snapshot.json"))
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	if !strings.Contains(string(raw), "app-1") {
		t.Fatalf("snapshot missing entity:\n%s", raw)
	}
}

func TestPrometheusMetricsDump(t *testing.T) {
	base := startStub(t)
	code, stdout, stderr := runCLI(t, "-proxy", base, "-metrics", "prometheus", "-endpoint", "cf-1", "get", "application", "app-1")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if strings.Contains(stdout, "consolecore_") {
		t.Fatalf("metrics leaked into stdout:\n%s", stdout)
	}
	for _, want := range []string{
		"# TYPE consolecore_requests_total counter",
		`consolecore_requests_total{entity="application",operation="fetch",outcome="success"} `,
		"consolecore_requests_in_flight 0",
	} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("stderr missing %q:\n%s", want, stderr)
		}
	}
}

func TestExpvarMetricsStayOffStderr(t *testing.T) {
	base := startStub(t)
	code, _, stderr := runCLI(t, "-proxy", base, "-endpoint", "cf-1", "get", "application", "app-1")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if strings.Contains(stderr, "consolecore_requests_total") {
		t.Fatalf("default exporter wrote exposition text:\n%s", stderr)
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	var got int
	exitFunc = func(code int) { got = code }
	defer func() { exitFunc = os.Exit }()
	args := os.Args
	os.Args = []string{"consolectl"}
	defer func() { os.Args = args }()
	main()
	if got != 2 {
		t.Fatalf("exit code %d, want 2", got)
	}
}
