package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type captureFatal struct{ msg string }

func (c *captureFatal) Fatalf(format string, args ...any) { c.msg = fmt.Sprintf(format, args...) }

func TestPredicates(t *testing.T) {
	store := ImportForbidden("net/http", "consolecore/internal/effects")
	cases := []struct {
		pred func(string) bool
		in   string
		want bool
	}{
		{InternalImportForbidden, "consolecore/internal/store", true},
		{InternalImportForbidden, "consolecore/pkg/domain", false},
		{store, "net/http", true},
		{store, "net/http/httptest", true},
		{store, "net/httpx", false},
		{store, "consolecore/internal/effects", true},
		{AnyForbidden(InternalImportForbidden, store), "net/http", true},
		{AnyForbidden(), "net/http", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Fatalf("predicate(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("a.go", "package x\n\nimport (\n\t\"fmt\"\n\t\"consolecore/internal/store\"\n)\n\nvar _ = fmt.Sprint\nvar _ store.State\n")
	write("a_test.go", "package x\n\nimport \"consolecore/internal/effects\"\n")
	write("notes.txt", "import \"consolecore/internal/effects\"")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "consolecore/internal/store (in a.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}

	var c captureFatal
	failIfDirectViolations(&c, "layering", viols)
	if c.msg == "" {
		t.Fatalf("expected failure message")
	}
	c = captureFatal{}
	failIfDirectViolations(&c, "layering", nil)
	if c.msg != "" {
		t.Fatalf("unexpected failure %q", c.msg)
	}

	write("broken.go", "package x\nimport (")
	if _, err := directImportViolations(dir, InternalImportForbidden); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), InternalImportForbidden); err == nil {
		t.Fatalf("expected read error")
	}
}
