package domain

import (
	"testing"

	"consolecore/testutil"
)

func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/domain is imported by every layer")
}
