package testsupport

import (
	"context"
	"testing"

	"bomatch/internal/catalog"
	"bomatch/internal/config"
)

// MustOpenStore opens a catalog.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg.Paths.CatalogPath)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustImport stores the build and fails the test on error.
func MustImport(t testing.TB, store *catalog.Store, build *catalog.Build) {
	t.Helper()

	if err := store.ImportBuild(context.Background(), build); err != nil {
		t.Fatalf("ImportBuild: %v", err)
	}
}
