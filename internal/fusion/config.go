package fusion

// Config holds the fusion weights, their bounds and the adaptation rules.
type Config struct {
	Base   Weights
	Bounds Bounds

	AreaBonus    float64
	AreaRatioMin float64
	AreaRatioMax float64

	LargeCatalogSize int
	SmallCatalogSize int
	LowStudMax       int
	HighStudMin      int

	FalsePositiveLimit float64
	HoldRateLimit      float64
	WeightStep         float64
	TuneMinSamples     int
	// TuneSchedule is a standard cron expression or descriptor; empty
	// disables scheduled tuning.
	TuneSchedule string
}

// DefaultConfig returns the standard fusion settings.
func DefaultConfig() Config {
	return Config{
		Base: Weights{Image: 0.60, Meta: 0.25, Text: 0.15},
		Bounds: Bounds{
			ImageMin: 0.40,
			ImageMax: 0.80,
			MetaMin:  0.10,
			MetaMax:  0.40,
			TextMin:  0.10,
			TextMax:  0.20,
		},
		AreaBonus:          0.05,
		AreaRatioMin:       0.7,
		AreaRatioMax:       1.3,
		LargeCatalogSize:   2000,
		SmallCatalogSize:   200,
		LowStudMax:         2,
		HighStudMin:        8,
		FalsePositiveLimit: 0.03,
		HoldRateLimit:      0.07,
		WeightStep:         0.05,
		TuneMinSamples:     50,
		TuneSchedule:       "@every 24h",
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()

	if c.Bounds.ImageMax <= 0 || c.Bounds.ImageMin > c.Bounds.ImageMax ||
		c.Bounds.MetaMax <= 0 || c.Bounds.MetaMin > c.Bounds.MetaMax ||
		c.Bounds.TextMax <= 0 || c.Bounds.TextMin > c.Bounds.TextMax {
		c.Bounds = d.Bounds
	}
	if c.Base == (Weights{}) {
		c.Base = d.Base
	}
	c.Base = c.Base.Clamp(c.Bounds)
	if c.AreaBonus < 0 {
		c.AreaBonus = d.AreaBonus
	}
	if c.AreaRatioMin <= 0 || c.AreaRatioMax < c.AreaRatioMin {
		c.AreaRatioMin = d.AreaRatioMin
		c.AreaRatioMax = d.AreaRatioMax
	}
	if c.LargeCatalogSize <= 0 {
		c.LargeCatalogSize = d.LargeCatalogSize
	}
	if c.SmallCatalogSize <= 0 {
		c.SmallCatalogSize = d.SmallCatalogSize
	}
	if c.LowStudMax <= 0 {
		c.LowStudMax = d.LowStudMax
	}
	if c.HighStudMin <= c.LowStudMax {
		c.HighStudMin = max(d.HighStudMin, c.LowStudMax+1)
	}
	if c.FalsePositiveLimit <= 0 || c.FalsePositiveLimit >= 1 {
		c.FalsePositiveLimit = d.FalsePositiveLimit
	}
	if c.HoldRateLimit <= 0 || c.HoldRateLimit >= 1 {
		c.HoldRateLimit = d.HoldRateLimit
	}
	if c.WeightStep <= 0 {
		c.WeightStep = d.WeightStep
	}
	if c.TuneMinSamples <= 0 {
		c.TuneMinSamples = d.TuneMinSamples
	}
	return c
}
