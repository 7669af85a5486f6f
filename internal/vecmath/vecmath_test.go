package vecmath

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"known value", []float32{1, 2, 3}, []float32{4, 5, 6}, 0.9746318461970762},
		{"length mismatch", []float32{1, 2}, []float32{1, 2, 3}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-6 {
				t.Fatalf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNormalizeMatchesCosine(t *testing.T) {
	a := Normalize([]float32{3, 4})
	if math.Abs(float64(a[0])-0.6) > 1e-6 || math.Abs(float64(a[1])-0.8) > 1e-6 {
		t.Fatalf("unexpected normalized vector %v", a)
	}
	b := Normalize([]float32{4, 3})
	if math.Abs(DotProduct(a, b)-CosineSimilarity([]float32{3, 4}, []float32{4, 3})) > 1e-6 {
		t.Fatal("dot product of normalized vectors should equal cosine similarity")
	}
	if z := Normalize([]float32{0, 0, 0}); len(z) != 3 || z[0] != 0 {
		t.Fatalf("zero vector should normalize to zeros, got %v", z)
	}
}

func TestClamp01(t *testing.T) {
	for in, want := range map[float64]float64{-0.2: 0, 0.4: 0.4, 1.7: 1} {
		if got := Clamp01(in); got != want {
			t.Fatalf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
	if got := Clamp01(math.NaN()); got != 0 {
		t.Fatalf("Clamp01(NaN) = %v, want 0", got)
	}
}
