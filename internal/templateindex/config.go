package templateindex

// HNSWConfig tunes the approximate Stage-1 graph.
type HNSWConfig struct {
	M              int // max connections per node per layer
	EfConstruction int // candidate list size during construction
	EfSearch       int // candidate list size during search
}

// Config controls search depth, tiering and the worker pool.
type Config struct {
	Stage1K          int
	Stage2K          int
	Stage2RateTarget float64
	// HNSWMinTemplates switches Stage-1 to the HNSW graph at this set size.
	HNSWMinTemplates int
	HNSW             HNSWConfig
	Workers          int
	// PruneSuccessBelow removes low-success templates from Stage-1. Zero
	// disables pruning.
	PruneSuccessBelow float64
	// Seed makes HNSW level assignment reproducible.
	Seed uint64
}

// DefaultConfig returns the standard search settings.
func DefaultConfig() Config {
	return Config{
		Stage1K:          5,
		Stage2K:          10,
		Stage2RateTarget: 0.25,
		HNSWMinTemplates: 1000,
		HNSW: HNSWConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       100,
		},
		Workers: 8,
		Seed:    1,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()

	if c.Stage1K <= 0 {
		c.Stage1K = d.Stage1K
	}
	if c.Stage2K <= 0 {
		c.Stage2K = d.Stage2K
	}
	if c.Stage2RateTarget <= 0 || c.Stage2RateTarget > 1 {
		c.Stage2RateTarget = d.Stage2RateTarget
	}
	if c.HNSWMinTemplates <= 0 {
		c.HNSWMinTemplates = d.HNSWMinTemplates
	}
	if c.HNSW.M < 2 {
		c.HNSW.M = d.HNSW.M
	}
	if c.HNSW.EfConstruction < c.HNSW.M {
		c.HNSW.EfConstruction = d.HNSW.EfConstruction
	}
	if c.HNSW.EfSearch < c.Stage1K {
		c.HNSW.EfSearch = max(d.HNSW.EfSearch, c.Stage1K)
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.PruneSuccessBelow < 0 || c.PruneSuccessBelow >= 1 {
		c.PruneSuccessBelow = 0
	}
	if c.Seed == 0 {
		c.Seed = d.Seed
	}
	return c
}
