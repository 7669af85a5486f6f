package assign

import (
	"time"

	"bomatch/internal/catalog"
)

// Method records how an assignment was resolved.
type Method string

const (
	MethodGreedy   Method = "greedy"
	MethodOptimal  Method = "batched-optimal"
	MethodFallback Method = "greedy-fallback"
)

// HoldReason explains why a detection received no assignment.
type HoldReason string

const (
	HoldLowConfidence    HoldReason = "low_confidence"
	HoldNoCandidates     HoldReason = "no_candidates"
	HoldTemplateConflict HoldReason = "template_conflict"
	HoldNotInBOM         HoldReason = "part_not_in_bom"
	HoldQuantityExceeded HoldReason = "quantity_exceeded"
)

// Candidate is one scored, ledger-annotated template for a detection.
type Candidate struct {
	TemplateID string
	// Entry is the BOM entry the template consumes. Empty means the
	// template id itself.
	Entry string
	Score float64
	// NotInBOM and QuantityExceeded are cost penalties. Candidates carrying
	// either are never finalized.
	NotInBOM         bool
	QuantityExceeded bool
	// Remaining caps how many detections in one run may consume Entry.
	// Zero means not tracked.
	Remaining int
}

func (c Candidate) entry() string {
	if c.Entry != "" {
		return c.Entry
	}
	return c.TemplateID
}

// Item is one detection and its candidates, in any order.
type Item struct {
	DetectionID string
	Box         catalog.Box
	Candidates  []Candidate
}

// Assignment is a resolved detection.
type Assignment struct {
	DetectionID string  `json:"detection_id"`
	TemplateID  string  `json:"template_id"`
	Entry       string  `json:"entry"`
	Score       float64 `json:"fused_score"`
	Method      Method  `json:"method"`
	// Margin is the gap between the detection's best and second-best
	// candidate scores.
	Margin float64     `json:"margin"`
	Final  bool        `json:"final"`
	Box    catalog.Box `json:"box"`
}

// Hold is a detection left for review.
type Hold struct {
	DetectionID string     `json:"detection_id"`
	Reason      HoldReason `json:"reason"`
	BestScore   float64    `json:"best_score"`
}

// Suppressed is an assignment dropped by proximity suppression.
type Suppressed struct {
	Assignment
	// KeptBy is the detection whose assignment won.
	KeptBy string `json:"kept_by"`
}

// FallbackEvent records a batch resolved greedily after missing its deadline.
type FallbackEvent struct {
	Batch      int           `json:"batch"`
	Detections int           `json:"detections"`
	Waited     time.Duration `json:"waited"`
}

// Result is the output of one run.
type Result struct {
	Assignments []Assignment    `json:"assignments"`
	Holds       []Hold          `json:"holds"`
	Unassigned  []Suppressed    `json:"unassigned"`
	Fallbacks   []FallbackEvent `json:"fallbacks"`
	// Batches is the number of optimal batches dispatched; Synchronous
	// counts those the caller solved because the queue was full.
	Batches     int `json:"batches"`
	Synchronous int `json:"synchronous"`
}
