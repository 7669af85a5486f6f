package pipeline

import (
	"bomatch/internal/assign"
	"bomatch/internal/config"
	"bomatch/internal/fusion"
	"bomatch/internal/templateindex"
)

// SearchConfig derives the template index settings from the service config.
func SearchConfig(cfg *config.Config) templateindex.Config {
	out := templateindex.DefaultConfig()
	s := cfg.Search
	out.Stage1K = s.Stage1K
	out.Stage2K = s.Stage2K
	out.Stage2RateTarget = s.Stage2RateTarget
	out.HNSWMinTemplates = s.HNSWMinTemplates
	out.HNSW = templateindex.HNSWConfig{
		M:              s.HNSWM,
		EfConstruction: s.HNSWEfConstruction,
		EfSearch:       s.HNSWEfSearch,
	}
	out.Workers = s.Workers
	out.PruneSuccessBelow = s.PruneSuccessBelow
	return out
}

// FusionConfig derives the scorer and tuner settings from the service config.
func FusionConfig(cfg *config.Config) fusion.Config {
	f := cfg.Fusion
	out := fusion.DefaultConfig()
	out.Base = fusion.Weights{Image: f.ImageWeight, Meta: f.MetaWeight, Text: f.TextWeight}
	out.Bounds = fusion.Bounds{
		ImageMin: f.ImageMin,
		ImageMax: f.ImageMax,
		MetaMin:  f.MetaMin,
		MetaMax:  f.MetaMax,
		TextMin:  f.TextMin,
		TextMax:  f.TextMax,
	}
	out.AreaBonus = f.AreaBonus
	out.AreaRatioMin = f.AreaRatioMin
	out.AreaRatioMax = f.AreaRatioMax
	out.LargeCatalogSize = f.LargeCatalogSize
	out.SmallCatalogSize = f.SmallCatalogSize
	out.LowStudMax = f.LowStudMax
	out.HighStudMin = f.HighStudMin
	out.FalsePositiveLimit = f.FalsePositiveLimit
	out.HoldRateLimit = f.HoldRateLimit
	out.WeightStep = f.WeightStep
	out.TuneMinSamples = f.TuneMinSamples
	out.TuneSchedule = f.TuneSchedule
	return out
}

// AssignConfig derives the assignment engine settings from the service config.
func AssignConfig(cfg *config.Config) assign.Config {
	a := cfg.Assignment
	return assign.Config{
		TopK:              a.TopK,
		MinCandidateScore: a.MinCandidateScore,
		GreedyThreshold:   a.GreedyThreshold,
		BatchThreshold:    a.BatchThreshold,
		BatchSize:         a.BatchSize,
		MaxPendingBatches: a.MaxPendingBatches,
		Workers:           a.BatchWorkers,
		BatchTimeout:      a.BatchTimeout(),
		ProximityFactor:   a.ProximityFactor,
		NotInBOMPenalty:   a.NotInBOMPenalty,
		QuantityPenalty:   a.QuantityPenalty,
		FinalMinScore:     a.FinalMinScore,
		FinalMinMargin:    a.FinalMinMargin,
	}
}
