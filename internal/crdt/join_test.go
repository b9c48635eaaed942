package crdt

import (
	"testing"

	"geosync/internal/multivector"
)

func TestGeometricJoin(t *testing.T) {
	big := multivector.Vector(3, 4, 0)   // magnitude 5
	small := multivector.Vector(1, 0, 0) // magnitude 1

	if got := GeometricJoin(big, small); !multivector.ApproxEqual(got, big, 0) {
		t.Errorf("larger magnitude should win, got %v", got)
	}
	if got := GeometricJoin(small, big); !multivector.ApproxEqual(got, big, 0) {
		t.Errorf("join should be symmetric, got %v", got)
	}
}

func TestGeometricJoin_Tie(t *testing.T) {
	a := multivector.Vector(1, 0, 0)
	b := multivector.Vector(0, 1, 0)

	got := GeometricJoin(a, b)
	want := GeometricMean([]multivector.Multivector{a, b})
	if !multivector.ApproxEqual(got, want, 0) {
		t.Errorf("equal magnitudes should fall back to the mean, got %v", got)
	}
	if rev := GeometricJoin(b, a); !multivector.ApproxEqual(rev, want, 0) {
		t.Errorf("tie handling should be symmetric, got %v", rev)
	}
}

func TestGeometricMean(t *testing.T) {
	if got := GeometricMean(nil); got != multivector.Zero() {
		t.Errorf("empty input should yield zero, got %v", got)
	}

	// A single zero value yields exp(0) = 1, not zero.
	got := GeometricMean([]multivector.Multivector{multivector.Zero()})
	if !multivector.ApproxEqual(got, multivector.Scalar(1), eps) {
		t.Errorf("mean of a single zero should be exp(0)=1, got %v", got)
	}

	// Scalars average in exp space.
	vals := []multivector.Multivector{multivector.Scalar(0), multivector.Scalar(0)}
	if got := GeometricMean(vals); !multivector.ApproxEqual(got, multivector.Scalar(1), eps) {
		t.Errorf("expected 1, got %v", got)
	}
}
