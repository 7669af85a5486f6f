package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateSearch(); err != nil {
		return err
	}
	if err := c.validateFusion(); err != nil {
		return err
	}
	if err := c.validateAssignment(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days: must be >= 0 (got %d)", c.Logging.RetentionDays)
	}
	return nil
}

func (c *Config) validateSearch() error {
	if err := ensurePositiveMap(map[string]int{
		"search.stage1_k":             c.Search.Stage1K,
		"search.stage2_k":             c.Search.Stage2K,
		"search.workers":              c.Search.Workers,
		"search.hnsw_m":               c.Search.HNSWM,
		"search.hnsw_ef_construction": c.Search.HNSWEfConstruction,
		"search.hnsw_ef_search":       c.Search.HNSWEfSearch,
	}); err != nil {
		return err
	}
	if c.Search.Stage2K < c.Search.Stage1K {
		return errors.New("search.stage2_k must be at least search.stage1_k")
	}
	if c.Search.HNSWMinTemplates < 0 {
		return errors.New("search.hnsw_min_templates must not be negative")
	}
	if err := ensureUnit("search.stage2_rate_target", c.Search.Stage2RateTarget); err != nil {
		return err
	}
	return ensureUnit("search.prune_success_below", c.Search.PruneSuccessBelow)
}

func (c *Config) validateFusion() error {
	f := c.Fusion
	bounds := []struct {
		name          string
		value, lo, hi float64
	}{
		{"fusion.image_weight", f.ImageWeight, f.ImageMin, f.ImageMax},
		{"fusion.meta_weight", f.MetaWeight, f.MetaMin, f.MetaMax},
		{"fusion.text_weight", f.TextWeight, f.TextMin, f.TextMax},
	}
	for _, b := range bounds {
		if b.lo < 0 || b.hi > 1 || b.lo > b.hi {
			return fmt.Errorf("%s bounds must satisfy 0 <= min <= max <= 1", b.name)
		}
		if b.value < b.lo || b.value > b.hi {
			return fmt.Errorf("%s must be within [%.2f, %.2f]", b.name, b.lo, b.hi)
		}
	}
	if f.AreaBonus < 0 || f.AreaBonus > 0.10 {
		return errors.New("fusion.area_bonus must be between 0 and 0.10")
	}
	if f.AreaRatioMin <= 0 || f.AreaRatioMax < f.AreaRatioMin {
		return errors.New("fusion.area_ratio_min must be positive and not above fusion.area_ratio_max")
	}
	if f.SmallCatalogSize < 0 || f.LargeCatalogSize < f.SmallCatalogSize {
		return errors.New("fusion.large_catalog_size must be at least fusion.small_catalog_size")
	}
	if f.LowStudMax < 0 || f.HighStudMin <= f.LowStudMax {
		return errors.New("fusion.high_stud_min must be greater than fusion.low_stud_max")
	}
	for name, v := range map[string]float64{
		"fusion.false_positive_limit": f.FalsePositiveLimit,
		"fusion.hold_rate_limit":      f.HoldRateLimit,
		"fusion.weight_step":          f.WeightStep,
	} {
		if err := ensureUnit(name, v); err != nil {
			return err
		}
	}
	if f.TuneMinSamples < 0 {
		return errors.New("fusion.tune_min_samples must not be negative")
	}
	if f.TuneSchedule != "" {
		if _, err := cron.ParseStandard(f.TuneSchedule); err != nil {
			return fmt.Errorf("fusion.tune_schedule: %w", err)
		}
	}
	return nil
}

func (c *Config) validateAssignment() error {
	a := c.Assignment
	if err := ensurePositiveMap(map[string]int{
		"assignment.top_k":               a.TopK,
		"assignment.batch_size":          a.BatchSize,
		"assignment.max_pending_batches": a.MaxPendingBatches,
		"assignment.batch_workers":       a.BatchWorkers,
		"assignment.batch_timeout_ms":    a.BatchTimeoutMS,
	}); err != nil {
		return err
	}
	for name, v := range map[string]float64{
		"assignment.min_candidate_score": a.MinCandidateScore,
		"assignment.greedy_threshold":    a.GreedyThreshold,
		"assignment.batch_threshold":     a.BatchThreshold,
		"assignment.proximity_factor":    a.ProximityFactor,
		"assignment.not_in_bom_penalty":  a.NotInBOMPenalty,
		"assignment.quantity_penalty":    a.QuantityPenalty,
		"assignment.final_min_score":     a.FinalMinScore,
		"assignment.final_min_margin":    a.FinalMinMargin,
	} {
		if err := ensureUnit(name, v); err != nil {
			return err
		}
	}
	if a.BatchThreshold > a.GreedyThreshold {
		return errors.New("assignment.batch_threshold must not exceed assignment.greedy_threshold")
	}
	return nil
}

func ensureUnit(name string, value float64) error {
	if value < 0 || value > 1 {
		return fmt.Errorf("%s must be between 0 and 1", name)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	var invalid []string
	for name, v := range values {
		if v <= 0 {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) == 0 {
		return nil
	}
	slices.Sort(invalid)
	return fmt.Errorf("%s must be positive", strings.Join(invalid, ", "))
}
