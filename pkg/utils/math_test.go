package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	norm := NormalizeL2(x)
	if math.Abs(norm-5) > 1e-9 {
		t.Errorf("norm=%v, want 5", norm)
	}
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("normalized=%v", x)
	}

	zero := []float32{0, 0, 0}
	if NormalizeL2(zero) != 0 {
		t.Error("zero vector should report norm 0")
	}
	for _, v := range zero {
		if v != 0 {
			t.Fatalf("zero vector modified: %v", zero)
		}
	}
}

func TestIsFinite(t *testing.T) {
	if !IsFinite([]float32{1, -2, 0}) {
		t.Error("finite vector reported non-finite")
	}
	if IsFinite([]float32{1, float32(math.NaN())}) {
		t.Error("NaN not detected")
	}
	if IsFinite([]float32{float32(math.Inf(1))}) {
		t.Error("Inf not detected")
	}
}
