package catalog

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// Embeddings holds per-modality vectors produced by external encoders.
// A nil slice means the modality is unavailable.
type Embeddings struct {
	Image []float32 `json:"image,omitempty" yaml:"image,omitempty"`
	Meta  []float32 `json:"meta,omitempty" yaml:"meta,omitempty"`
	Text  []float32 `json:"text,omitempty" yaml:"text,omitempty"`
}

// Template is one catalog candidate with embeddings and structural metadata.
type Template struct {
	ID                 string     `json:"id" yaml:"id"`
	PartID             string     `json:"part_id" yaml:"part_id"`
	ColorID            int        `json:"color_id" yaml:"color_id"`
	ElementID          string     `json:"element_id,omitempty" yaml:"element_id,omitempty"`
	Embeddings         Embeddings `json:"embeddings" yaml:"embeddings"`
	ExpectedArea       float64    `json:"expected_area,omitempty" yaml:"expected_area,omitempty"`
	ExpectedTubeCount  int        `json:"expected_tube_count,omitempty" yaml:"expected_tube_count,omitempty"`
	TopologyApplicable bool       `json:"topology_applicable,omitempty" yaml:"topology_applicable,omitempty"`
	StudCount          int        `json:"stud_count,omitempty" yaml:"stud_count,omitempty"`
	ConfusionGroups    []string   `json:"confusion_groups,omitempty" yaml:"confusion_groups,omitempty"`
	HitRate            float64    `json:"hit_rate,omitempty" yaml:"hit_rate,omitempty"`
	SuccessRate        float64    `json:"success_rate,omitempty" yaml:"success_rate,omitempty"`
}

// Key returns the template's ID, deriving one from part/color/element when unset.
func (t Template) Key() string {
	if id := strings.TrimSpace(t.ID); id != "" {
		return id
	}
	return TemplateKey(t.PartID, t.ColorID, t.ElementID)
}

// ConfusionGroup is a named set of template ids known to be visually similar.
type ConfusionGroup struct {
	Name    string   `json:"name" yaml:"name"`
	Members []string `json:"members" yaml:"members"`
}

// BOMEntry is one (part, color[, element]) tuple in the active build with its
// immutable session budget.
type BOMEntry struct {
	PartID    string `json:"part_id" yaml:"part_id"`
	ColorID   int    `json:"color_id" yaml:"color_id"`
	ElementID string `json:"element_id,omitempty" yaml:"element_id,omitempty"`
	Quantity  int    `json:"quantity" yaml:"quantity"`
}

// Usage records how many units of a BOM entry a session has consumed.
type Usage struct {
	PartID    string `json:"part_id"`
	ColorID   int    `json:"color_id"`
	ElementID string `json:"element_id,omitempty"`
	Used      int    `json:"used"`
}

// Box is an axis-aligned bounding region in frame pixels.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the box.
func (b Box) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Size returns the box's shorter side, the scale used for proximity checks.
func (b Box) Size() float64 {
	return math.Min(math.Abs(b.Width), math.Abs(b.Height))
}

// Detection is one candidate object in a frame, as produced by the detector
// and the encoders.
type Detection struct {
	ID         string     `json:"id"`
	Box        Box        `json:"box"`
	Embeddings Embeddings `json:"embeddings"`
	// MaskArea is the observed footprint area; zero means not observed.
	MaskArea float64 `json:"mask_area,omitempty"`
	// HoleCount is the observed hole/tube count, nil when not observed.
	HoleCount *int `json:"hole_count,omitempty"`
	// ClassHint is the detector's coarse class (a template or part id).
	ClassHint string `json:"class_hint,omitempty"`
}

// Frame is one batch of detections submitted to a session.
type Frame struct {
	ID         string      `json:"id,omitempty"`
	Detections []Detection `json:"detections"`
}

// Build is everything loaded for one BOM build: entries, templates and
// confusion groups.
type Build struct {
	ID        string           `json:"build" yaml:"build"`
	Name      string           `json:"name,omitempty" yaml:"name,omitempty"`
	Entries   []BOMEntry       `json:"bom" yaml:"bom"`
	Templates []Template       `json:"templates" yaml:"templates"`
	Groups    []ConfusionGroup `json:"confusion_groups,omitempty" yaml:"confusion_groups,omitempty"`
}

// TemplateKey builds the canonical template id for a part/color/element tuple.
func TemplateKey(partID string, colorID int, elementID string) string {
	key := strings.TrimSpace(partID) + ":" + strconv.Itoa(colorID)
	if e := strings.TrimSpace(elementID); e != "" {
		key += ":" + e
	}
	return key
}

// FoldKey canonicalizes free-form identifiers (class hints, group names) for
// case-insensitive lookup. A Caser is stateful, so each call gets its own.
func FoldKey(value string) string {
	return cases.Fold().String(strings.TrimSpace(value))
}
