package testsupport

import (
	"fmt"
	"math"

	"bomatch/internal/catalog"
)

// Dim is the embedding width used by fixtures.
const Dim = 8

// SampleBuildID is the id of the build returned by SampleBuild.
const SampleBuildID = "castle-test"

// Axis returns the unit vector along dimension i.
func Axis(i int) []float32 {
	v := make([]float32, Dim)
	v[i%Dim] = 1
	return v
}

// Blend returns a unit vector whose cosine similarity with Axis(a) is cos,
// with the remainder placed on Axis(b).
func Blend(a, b int, cos float64) []float32 {
	v := make([]float32, Dim)
	v[a%Dim] = float32(cos)
	v[b%Dim] += float32(math.Sqrt(math.Max(0, 1-cos*cos)))
	return v
}

// Uniform sets every modality to the same vector.
func Uniform(v []float32) catalog.Embeddings {
	return catalog.Embeddings{Image: v, Meta: v, Text: v}
}

// SampleBuild returns a small build: four BOM entries, one template per
// entry plus an off-BOM template, and one confusion group pairing the two
// 2x4 brick colors.
//
//	axis 0: 3001:1  (qty 4, group 2x4-brick)
//	axis 1: 3001:4  (qty 2, group 2x4-brick)
//	axis 2: 3003:1  (qty 3)
//	axis 3: 3020:5  (qty 1)
//	axis 4: 3666:1  (not in BOM)
func SampleBuild() *catalog.Build {
	build := &catalog.Build{
		ID:   SampleBuildID,
		Name: "Test Castle",
		Entries: []catalog.BOMEntry{
			{PartID: "3001", ColorID: 1, Quantity: 4},
			{PartID: "3001", ColorID: 4, Quantity: 2},
			{PartID: "3003", ColorID: 1, Quantity: 3},
			{PartID: "3020", ColorID: 5, Quantity: 1},
		},
		Groups: []catalog.ConfusionGroup{
			{Name: "2x4-brick", Members: []string{"3001:1", "3001:4"}},
		},
	}
	parts := []struct {
		part  string
		color int
		studs int
	}{
		{"3001", 1, 8},
		{"3001", 4, 8},
		{"3003", 1, 4},
		{"3020", 5, 8},
		{"3666", 1, 6},
	}
	for i, p := range parts {
		tpl := catalog.Template{
			ID:           catalog.TemplateKey(p.part, p.color, ""),
			PartID:       p.part,
			ColorID:      p.color,
			Embeddings:   Uniform(Axis(i)),
			ExpectedArea: 400,
			StudCount:    p.studs,
		}
		if p.part == "3001" {
			tpl.ConfusionGroups = []string{"2x4-brick"}
		}
		build.Templates = append(build.Templates, tpl)
	}
	return build
}

// NewDetection returns a square detection at (x, y) with the given size and
// the same embedding in every modality.
func NewDetection(id string, x, y, size float64, emb []float32) catalog.Detection {
	return catalog.Detection{
		ID:         id,
		Box:        catalog.Box{X: x, Y: y, Width: size, Height: size},
		Embeddings: Uniform(emb),
	}
}

// SpreadDetections lays out n detections on a grid far enough apart that the
// proximity filter never fires.
func SpreadDetections(n int, emb func(i int) []float32) []catalog.Detection {
	out := make([]catalog.Detection, n)
	for i := range out {
		out[i] = NewDetection(fmt.Sprintf("det-%03d", i), float64(i%20)*100, float64(i/20)*100, 20, emb(i))
	}
	return out
}
