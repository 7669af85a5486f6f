package fusion

import (
	"bomatch/internal/catalog"
	"bomatch/internal/vecmath"
)

// Breakdown is a fused score with its components, for review and logging.
type Breakdown struct {
	Fused   float64 `json:"fused"`
	Raw     float64 `json:"raw"`
	Image   float64 `json:"sim_image"`
	Meta    float64 `json:"sim_meta"`
	Text    float64 `json:"sim_text"`
	Penalty float64 `json:"topology_penalty"`
	Bonus   float64 `json:"area_bonus"`
	Weights Weights `json:"weights"`
}

// Scorer computes fused similarities. It is stateless apart from its config.
type Scorer struct {
	cfg Config
}

// NewScorer returns a scorer using the normalized config.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg.normalized()}
}

// Config returns the normalized scorer config.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score fuses the detection/template similarities under the session weights.
// The part-type rule is applied to the weights for this candidate. A missing
// modality on either side contributes zero similarity.
func (s *Scorer) Score(det catalog.Detection, tpl *catalog.Template, session Weights) Breakdown {
	w := ForPart(s.cfg, session, tpl.StudCount)
	b := Breakdown{
		Image:   similarity(det.Embeddings.Image, tpl.Embeddings.Image),
		Meta:    similarity(det.Embeddings.Meta, tpl.Embeddings.Meta),
		Text:    similarity(det.Embeddings.Text, tpl.Embeddings.Text),
		Weights: w,
	}
	b.Raw = w.Image*b.Image + w.Meta*b.Meta + w.Text*b.Text
	if tpl.TopologyApplicable && det.HoleCount != nil {
		b.Penalty = TopologyPenalty(*det.HoleCount, tpl.ExpectedTubeCount)
	}
	b.Bonus = s.AreaBonus(det.MaskArea, tpl.ExpectedArea)
	b.Fused = vecmath.Clamp01(b.Raw - b.Penalty + b.Bonus)
	return b
}

func similarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return vecmath.CosineSimilarity(a, b)
}

// TopologyPenalty grows with the hole/tube count mismatch and caps at 0.08.
func TopologyPenalty(observed, expected int) float64 {
	diff := observed - expected
	if diff < 0 {
		diff = -diff
	}
	switch diff {
	case 0:
		return 0
	case 1:
		return 0.03
	default:
		return min(0.08, 0.03+float64(diff-2)*0.02)
	}
}

// AreaBonus returns the flat bonus when the observed/expected area ratio is
// inside the configured band. Unknown areas earn nothing.
func (s *Scorer) AreaBonus(observed, expected float64) float64 {
	if observed <= 0 || expected <= 0 {
		return 0
	}
	ratio := observed / expected
	if ratio >= s.cfg.AreaRatioMin && ratio <= s.cfg.AreaRatioMax {
		return s.cfg.AreaBonus
	}
	return 0
}
