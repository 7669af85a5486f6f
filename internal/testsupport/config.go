package testsupport

import (
	"path/filepath"
	"testing"

	"bomatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.CatalogPath = filepath.Join(base, "state", "catalog.db")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Fusion.TuneSchedule = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithBatchTimeout overrides the per-batch assignment deadline.
func WithBatchTimeout(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Assignment.BatchTimeoutMS = ms
	}
}

// WithTuneSchedule enables the fusion tuner with the given cron spec.
func WithTuneSchedule(spec string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Fusion.TuneSchedule = spec
	}
}

// WithPersistUsage toggles ledger persistence.
func WithPersistUsage(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ledger.PersistUsage = enabled
	}
}
