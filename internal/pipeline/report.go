package pipeline

import (
	"time"

	"bomatch/internal/assign"
	"bomatch/internal/fusion"
	"bomatch/internal/ledger"
)

// Match is a registered assignment with the part it consumed.
type Match struct {
	assign.Assignment
	PartID    string           `json:"part_id"`
	ColorID   int              `json:"color_id"`
	ElementID string           `json:"element_id,omitempty"`
	Breakdown fusion.Breakdown `json:"breakdown"`
}

// Report is the outcome of processing one frame.
type Report struct {
	SessionID   string                 `json:"session_id"`
	RunID       string                 `json:"run_id"`
	FrameID     string                 `json:"frame_id,omitempty"`
	Matches     []Match                `json:"assignments"`
	Holds       []assign.Hold          `json:"holds"`
	Unassigned  []assign.Suppressed    `json:"unassigned"`
	Fallbacks   []assign.FallbackEvent `json:"fallbacks,omitempty"`
	Stage2      int                    `json:"stage2_searches"`
	Weights     fusion.Weights         `json:"weights"`
	Ledger      []ledger.EntryState    `json:"ledger"`
	Elapsed     time.Duration          `json:"elapsed"`
	Synchronous int                    `json:"synchronous_batches,omitempty"`
}

// Final returns the matches that need no review.
func (r Report) Final() []Match {
	out := make([]Match, 0, len(r.Matches))
	for _, m := range r.Matches {
		if m.Final {
			out = append(out, m)
		}
	}
	return out
}
