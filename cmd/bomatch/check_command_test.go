package main

import (
	"testing"
)

func TestCheckPassesWithImportedBuild(t *testing.T) {
	env := setupCLITestEnv(t)
	env.importSample(t)

	out, _, err := runCLI(t, []string{"check"}, env.configPath)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	requireContains(t, out, "Configuration")
	requireContains(t, out, "Catalog")
}
