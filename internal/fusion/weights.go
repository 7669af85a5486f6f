package fusion

import "math"

// Weights are the per-modality fusion coefficients.
type Weights struct {
	Image float64 `json:"image"`
	Meta  float64 `json:"meta"`
	Text  float64 `json:"text"`
}

// Bounds are the inclusive [min, max] limits per modality.
type Bounds struct {
	ImageMin float64
	ImageMax float64
	MetaMin  float64
	MetaMax  float64
	TextMin  float64
	TextMax  float64
}

// Clamp bounds every weight to its configured range.
func (w Weights) Clamp(b Bounds) Weights {
	return Weights{
		Image: clamp(w.Image, b.ImageMin, b.ImageMax),
		Meta:  clamp(w.Meta, b.MetaMin, b.MetaMax),
		Text:  clamp(w.Text, b.TextMin, b.TextMax),
	}
}

// Within reports whether every weight lies inside the bounds.
func (w Weights) Within(b Bounds) bool {
	return w.Image >= b.ImageMin && w.Image <= b.ImageMax &&
		w.Meta >= b.MetaMin && w.Meta <= b.MetaMax &&
		w.Text >= b.TextMin && w.Text <= b.TextMax
}

func clamp(v, lo, hi float64) float64 {
	return round(math.Min(math.Max(v, lo), hi))
}

// round trims float drift from repeated ±0.05 steps so bounds compare exactly.
func round(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
