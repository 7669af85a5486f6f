package config

import "time"

const (
	defaultStateDir    = "~/.local/share/bomatch"
	defaultCatalogFile = "catalog.db"
	defaultLogFormat   = "console"
	defaultLogLevel    = "info"

	defaultStage1K            = 5
	defaultStage2K            = 10
	defaultStage2RateTarget   = 0.25
	defaultHNSWMinTemplates   = 1000
	defaultHNSWM              = 16
	defaultHNSWEfConstruction = 200
	defaultHNSWEfSearch       = 100
	defaultSearchWorkers      = 8

	defaultAreaBonus          = 0.05
	defaultAreaRatioMin       = 0.7
	defaultAreaRatioMax       = 1.3
	defaultLargeCatalogSize   = 2000
	defaultSmallCatalogSize   = 200
	defaultLowStudMax         = 2
	defaultHighStudMin        = 8
	defaultFalsePositiveLimit = 0.03
	defaultHoldRateLimit      = 0.07
	defaultWeightStep         = 0.05
	defaultTuneSchedule       = "@every 24h"
	defaultTuneMinSamples     = 50

	defaultTopK              = 3
	defaultMinCandidateScore = 0.50
	defaultGreedyThreshold   = 0.90
	defaultBatchThreshold    = 0.70
	defaultBatchSize         = 100
	defaultMaxPendingBatches = 10
	defaultBatchWorkers      = 4
	defaultBatchTimeout      = 500 * time.Millisecond
	defaultProximityFactor   = 0.5
	defaultNotInBOMPenalty   = 0.5
	defaultQuantityPenalty   = 0.3
	defaultFinalMinScore     = 0.80
	defaultFinalMinMargin    = 0.10
	defaultPersistUsage      = true
	defaultLogRetentionDays  = 30
	defaultHaltOnViolation   = true
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:    defaultStateDir,
			CatalogPath: "",
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Search: Search{
			Stage1K:            defaultStage1K,
			Stage2K:            defaultStage2K,
			Stage2RateTarget:   defaultStage2RateTarget,
			HNSWMinTemplates:   defaultHNSWMinTemplates,
			HNSWM:              defaultHNSWM,
			HNSWEfConstruction: defaultHNSWEfConstruction,
			HNSWEfSearch:       defaultHNSWEfSearch,
			Workers:            defaultSearchWorkers,
			PruneSuccessBelow:  0,
		},
		Fusion: Fusion{
			ImageWeight:        0.60,
			MetaWeight:         0.25,
			TextWeight:         0.15,
			ImageMin:           0.40,
			ImageMax:           0.80,
			MetaMin:            0.10,
			MetaMax:            0.40,
			TextMin:            0.10,
			TextMax:            0.20,
			AreaBonus:          defaultAreaBonus,
			AreaRatioMin:       defaultAreaRatioMin,
			AreaRatioMax:       defaultAreaRatioMax,
			LargeCatalogSize:   defaultLargeCatalogSize,
			SmallCatalogSize:   defaultSmallCatalogSize,
			LowStudMax:         defaultLowStudMax,
			HighStudMin:        defaultHighStudMin,
			FalsePositiveLimit: defaultFalsePositiveLimit,
			HoldRateLimit:      defaultHoldRateLimit,
			WeightStep:         defaultWeightStep,
			TuneSchedule:       defaultTuneSchedule,
			TuneMinSamples:     defaultTuneMinSamples,
		},
		Ledger: Ledger{
			PersistUsage:    defaultPersistUsage,
			HaltOnViolation: defaultHaltOnViolation,
		},
		Assignment: Assignment{
			TopK:              defaultTopK,
			MinCandidateScore: defaultMinCandidateScore,
			GreedyThreshold:   defaultGreedyThreshold,
			BatchThreshold:    defaultBatchThreshold,
			BatchSize:         defaultBatchSize,
			MaxPendingBatches: defaultMaxPendingBatches,
			BatchWorkers:      defaultBatchWorkers,
			BatchTimeoutMS:    int(defaultBatchTimeout / time.Millisecond),
			ProximityFactor:   defaultProximityFactor,
			NotInBOMPenalty:   defaultNotInBOMPenalty,
			QuantityPenalty:   defaultQuantityPenalty,
			FinalMinScore:     defaultFinalMinScore,
			FinalMinMargin:    defaultFinalMinMargin,
		},
	}
}
