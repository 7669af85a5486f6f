package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"bomatch/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "bomatch")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.Paths.CatalogPath != filepath.Join(wantState, "catalog.db") {
		t.Fatalf("unexpected catalog path: %q", cfg.Paths.CatalogPath)
	}
	if cfg.Assignment.BatchTimeout() != 500*time.Millisecond {
		t.Fatalf("unexpected batch timeout: %s", cfg.Assignment.BatchTimeout())
	}
	if cfg.Fusion.AreaBonus != 0.05 {
		t.Fatalf("unexpected area bonus: %v", cfg.Fusion.AreaBonus)
	}
	if cfg.Assignment.BatchSize != 100 || cfg.Assignment.MaxPendingBatches != 10 {
		t.Fatalf("unexpected batch defaults: %+v", cfg.Assignment)
	}
}

func TestLoadCustomConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, "bomatch.toml")

	custom := map[string]any{
		"paths": map[string]any{
			"state_dir":    "~/state",
			"catalog_path": "~/catalogs/lego.db",
		},
		"logging":    map[string]any{"format": "JSON", "level": "DEBUG"},
		"assignment": map[string]any{"batch_size": 25, "batch_timeout_ms": 250},
	}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(dir, "state") {
		t.Fatalf("unexpected state dir: %q", cfg.Paths.StateDir)
	}
	if cfg.Paths.CatalogPath != filepath.Join(dir, "catalogs", "lego.db") {
		t.Fatalf("unexpected catalog path: %q", cfg.Paths.CatalogPath)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging, got %+v", cfg.Logging)
	}
	if cfg.Assignment.BatchSize != 25 || cfg.Assignment.BatchTimeout() != 250*time.Millisecond {
		t.Fatalf("unexpected assignment overrides: %+v", cfg.Assignment)
	}
	if cfg.Assignment.TopK != 3 {
		t.Fatalf("expected untouched defaults to survive, got top_k=%d", cfg.Assignment.TopK)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "weight outside bounds",
			mutate:  func(c *config.Config) { c.Fusion.TextWeight = 0.5 },
			wantErr: "fusion.text_weight",
		},
		{
			name:    "inverted tiers",
			mutate:  func(c *config.Config) { c.Assignment.BatchThreshold = 0.95 },
			wantErr: "assignment.batch_threshold",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *config.Config) { c.Assignment.BatchSize = 0 },
			wantErr: "assignment.batch_size",
		},
		{
			name:    "stage2 smaller than stage1",
			mutate:  func(c *config.Config) { c.Search.Stage2K = 2 },
			wantErr: "search.stage2_k",
		},
		{
			name:    "bad schedule",
			mutate:  func(c *config.Config) { c.Fusion.TuneSchedule = "every day" },
			wantErr: "fusion.tune_schedule",
		},
		{
			name:    "area bonus too large",
			mutate:  func(c *config.Config) { c.Fusion.AreaBonus = 0.2 },
			wantErr: "fusion.area_bonus",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	path := filepath.Join(dir, "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	def := config.Default()
	if cfg.Fusion.ImageWeight != def.Fusion.ImageWeight || cfg.Assignment.TopK != def.Assignment.TopK {
		t.Fatalf("sample config diverges from defaults: %+v", cfg)
	}
}
