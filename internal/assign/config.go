package assign

import "time"

// Config holds the engine thresholds and scheduling limits.
type Config struct {
	TopK              int
	MinCandidateScore float64
	// GreedyThreshold is exclusive: scores above it resolve greedily.
	GreedyThreshold float64
	// BatchThreshold is inclusive: scores below it are held.
	BatchThreshold    float64
	BatchSize         int
	MaxPendingBatches int
	Workers           int
	BatchTimeout      time.Duration
	ProximityFactor   float64
	NotInBOMPenalty   float64
	QuantityPenalty   float64
	FinalMinScore     float64
	FinalMinMargin    float64
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	return Config{
		TopK:              3,
		MinCandidateScore: 0.50,
		GreedyThreshold:   0.90,
		BatchThreshold:    0.70,
		BatchSize:         100,
		MaxPendingBatches: 10,
		Workers:           4,
		BatchTimeout:      500 * time.Millisecond,
		ProximityFactor:   0.5,
		NotInBOMPenalty:   0.5,
		QuantityPenalty:   0.3,
		FinalMinScore:     0.80,
		FinalMinMargin:    0.10,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()

	if c.TopK <= 0 {
		c.TopK = d.TopK
	}
	if c.MinCandidateScore < 0 || c.MinCandidateScore >= 1 {
		c.MinCandidateScore = d.MinCandidateScore
	}
	if c.GreedyThreshold <= 0 || c.GreedyThreshold >= 1 {
		c.GreedyThreshold = d.GreedyThreshold
	}
	if c.BatchThreshold <= 0 || c.BatchThreshold > c.GreedyThreshold {
		c.BatchThreshold = min(d.BatchThreshold, c.GreedyThreshold)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxPendingBatches <= 0 {
		c.MaxPendingBatches = d.MaxPendingBatches
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.ProximityFactor < 0 {
		c.ProximityFactor = d.ProximityFactor
	}
	if c.NotInBOMPenalty < 0 {
		c.NotInBOMPenalty = d.NotInBOMPenalty
	}
	if c.QuantityPenalty < 0 {
		c.QuantityPenalty = d.QuantityPenalty
	}
	if c.FinalMinScore <= 0 || c.FinalMinScore > 1 {
		c.FinalMinScore = d.FinalMinScore
	}
	if c.FinalMinMargin < 0 || c.FinalMinMargin > 1 {
		c.FinalMinMargin = d.FinalMinMargin
	}
	return c
}
