package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains on-disk locations.
type Paths struct {
	StateDir    string `toml:"state_dir"`
	CatalogPath string `toml:"catalog_path"`
	LogDir      string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes daily log files older than this; 0 keeps them all.
	RetentionDays int `toml:"retention_days"`
}

// Search contains TemplateIndex settings.
type Search struct {
	// Stage1K is the number of candidates returned by the fast first pass.
	Stage1K int `toml:"stage1_k"`
	// Stage2K is the number of candidates returned by the exact second pass.
	Stage2K int `toml:"stage2_k"`
	// Stage2RateTarget is the health ceiling for the fraction of queries
	// escalating to Stage-2. Exceeding it is logged, never enforced.
	Stage2RateTarget float64 `toml:"stage2_rate_target"`
	// HNSWMinTemplates switches Stage-1 from brute force to an HNSW graph once
	// the catalog reaches this many templates.
	HNSWMinTemplates   int `toml:"hnsw_min_templates"`
	HNSWM              int `toml:"hnsw_m"`
	HNSWEfConstruction int `toml:"hnsw_ef_construction"`
	HNSWEfSearch       int `toml:"hnsw_ef_search"`
	// Workers bounds the number of concurrent per-detection searches.
	Workers int `toml:"workers"`
	// PruneSuccessBelow drops templates whose observed success rate is below
	// this value from Stage-1. Zero disables pruning.
	PruneSuccessBelow float64 `toml:"prune_success_below"`
}

// Fusion contains FusionScorer weights, bounds and adaptation rules.
type Fusion struct {
	ImageWeight float64 `toml:"image_weight"`
	MetaWeight  float64 `toml:"meta_weight"`
	TextWeight  float64 `toml:"text_weight"`

	ImageMin float64 `toml:"image_min"`
	ImageMax float64 `toml:"image_max"`
	MetaMin  float64 `toml:"meta_min"`
	MetaMax  float64 `toml:"meta_max"`
	TextMin  float64 `toml:"text_min"`
	TextMax  float64 `toml:"text_max"`

	AreaBonus    float64 `toml:"area_bonus"`
	AreaRatioMin float64 `toml:"area_ratio_min"`
	AreaRatioMax float64 `toml:"area_ratio_max"`

	LargeCatalogSize int `toml:"large_catalog_size"`
	SmallCatalogSize int `toml:"small_catalog_size"`
	LowStudMax       int `toml:"low_stud_max"`
	HighStudMin      int `toml:"high_stud_min"`

	FalsePositiveLimit float64 `toml:"false_positive_limit"`
	HoldRateLimit      float64 `toml:"hold_rate_limit"`
	WeightStep         float64 `toml:"weight_step"`
	// TuneSchedule is a cron expression (or @every descriptor) for auto-tuning.
	TuneSchedule   string `toml:"tune_schedule"`
	TuneMinSamples int    `toml:"tune_min_samples"`
}

// Ledger contains InventoryLedger behaviour switches.
type Ledger struct {
	// PersistUsage stores the ledger snapshot in the catalog after each run.
	PersistUsage bool `toml:"persist_usage"`
	// HaltOnViolation halts the session on a ledger invariant violation.
	// Disabling it is only meant for diagnostics.
	HaltOnViolation bool `toml:"halt_on_violation"`
}

// Assignment contains AssignmentEngine thresholds and scheduling limits.
type Assignment struct {
	TopK              int     `toml:"top_k"`
	MinCandidateScore float64 `toml:"min_candidate_score"`
	GreedyThreshold   float64 `toml:"greedy_threshold"`
	BatchThreshold    float64 `toml:"batch_threshold"`
	BatchSize         int     `toml:"batch_size"`
	MaxPendingBatches int     `toml:"max_pending_batches"`
	BatchWorkers      int     `toml:"batch_workers"`
	BatchTimeoutMS    int     `toml:"batch_timeout_ms"`
	ProximityFactor   float64 `toml:"proximity_factor"`
	NotInBOMPenalty   float64 `toml:"not_in_bom_penalty"`
	QuantityPenalty   float64 `toml:"quantity_penalty"`
	FinalMinScore     float64 `toml:"final_min_score"`
	FinalMinMargin    float64 `toml:"final_min_margin"`
}

// BatchTimeout returns the per-batch deadline as a duration.
func (a Assignment) BatchTimeout() time.Duration {
	return time.Duration(a.BatchTimeoutMS) * time.Millisecond
}

// Config encapsulates all configuration values for bomatch.
//
// Configuration sections by subsystem:
//   - Paths: state directory and catalog database location
//   - Logging: log format and level
//   - Search: TemplateIndex tiering and worker pool
//   - Fusion: fusion weights, bounds, structural terms and auto-tuning
//   - Ledger: inventory ledger persistence and violation policy
//   - Assignment: assignment tiers, batching, timeouts and review thresholds
type Config struct {
	Paths      Paths      `toml:"paths"`
	Logging    Logging    `toml:"logging"`
	Search     Search     `toml:"search"`
	Fusion     Fusion     `toml:"fusion"`
	Ledger     Ledger     `toml:"ledger"`
	Assignment Assignment `toml:"assignment"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/bomatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("bomatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.CatalogPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create catalog directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
