package store

import (
	"testing"

	"consolecore/testutil"
)

func TestReducersStayOffTheWire(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.ImportForbidden(
		"net",
		"consolecore/internal/effects",
		"consolecore/internal/proxy",
		"consolecore/internal/query",
		"consolecore/internal/snapshot",
	), "reducers are pure folds over events")
}
