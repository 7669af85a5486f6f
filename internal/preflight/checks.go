package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"bomatch/internal/catalog"
	"bomatch/internal/config"
	"bomatch/internal/ledger"
)

// CheckConfig validates the loaded configuration.
func CheckConfig(cfg *config.Config) Result {
	const name = "Configuration"
	if err := cfg.Validate(); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: "valid"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCatalog verifies the catalog store exists, opens with the expected
// schema and is not locked by a running match.
func CheckCatalog(ctx context.Context, path string) Result {
	const name = "Catalog"

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: not initialized; run catalog import)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}

	store, err := catalog.Open(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	defer store.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	builds, err := store.ListBuilds(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}

	busy := ""
	if err := store.Lock(); errors.Is(err, catalog.ErrLocked) {
		busy = ", in use"
	} else if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: lock: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d builds%s)", path, len(builds), busy)}
}

// CheckBuilds loads every stored build and validates it as an import would.
func CheckBuilds(ctx context.Context, path string) []Result {
	store, err := catalog.Open(path)
	if err != nil {
		return []Result{{Name: "Builds", Detail: err.Error()}}
	}
	defer store.Close()

	summaries, err := store.ListBuilds(ctx)
	if err != nil {
		return []Result{{Name: "Builds", Detail: err.Error()}}
	}
	results := make([]Result, 0, len(summaries))
	for _, sum := range summaries {
		name := "Build " + sum.ID
		build, err := store.LoadBuild(ctx, sum.ID)
		if err != nil {
			results = append(results, Result{Name: name, Detail: err.Error()})
			continue
		}
		if err := catalog.ValidateBuild(build); err != nil {
			results = append(results, Result{Name: name, Detail: err.Error()})
			continue
		}
		detail := fmt.Sprintf("%d entries, %d templates, %d/%d units used", sum.Entries, sum.Templates, sum.Used, sum.Units)
		if err := checkUsage(ctx, store, build); err != nil {
			results = append(results, Result{Name: name, Detail: fmt.Sprintf("%s (error: %v; run ledger reset)", detail, err)})
			continue
		}
		results = append(results, Result{Name: name, Passed: true, Detail: detail})
	}
	return results
}

// checkUsage replays the stored usage into a fresh ledger.
func checkUsage(ctx context.Context, store *catalog.Store, build *catalog.Build) error {
	usage, err := store.LoadUsage(ctx, build.ID)
	if err != nil {
		return err
	}
	l, err := ledger.New(build.Entries)
	if err != nil {
		return err
	}
	return l.Restore(usage)
}
