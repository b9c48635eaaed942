package delta

import (
	"testing"

	"geosync/internal/clock"
	"geosync/internal/multivector"
)

func additiveDelta(v multivector.Multivector, toClock clock.VectorClock) StateDelta {
	return StateDelta{
		Transform: v,
		Encoding:  Additive,
		FromClock: clock.New(),
		ToClock:   toClock,
	}
}

func TestBatch_PushTracksCombinedClock(t *testing.T) {
	b := NewBatch()
	b.Push(additiveDelta(multivector.Scalar(1), clock.VectorClock{"A": 2}))
	b.Push(additiveDelta(multivector.Scalar(1), clock.VectorClock{"A": 1, "B": 3}))

	if b.Len() != 2 {
		t.Fatalf("expected 2 deltas, got %d", b.Len())
	}
	if b.CombinedClock.Get("A") != 2 || b.CombinedClock.Get("B") != 3 {
		t.Errorf("combined clock should be the component-wise max, got %s", b.CombinedClock)
	}
}

func TestBatch_CombineAdditive(t *testing.T) {
	b := NewBatch()
	b.Push(additiveDelta(multivector.Vector(1, 0, 0), clock.VectorClock{"A": 1}))
	b.Push(additiveDelta(multivector.Vector(0, 2, 0), clock.VectorClock{"A": 2}))

	sum, ok := b.CombineAdditive()
	if !ok {
		t.Fatal("homogeneous additive batch should combine")
	}
	if !multivector.ApproxEqual(sum, multivector.Vector(1, 2, 0), eps) {
		t.Errorf("expected (1,2,0), got %v", sum)
	}
}

func TestBatch_CombineAdditive_Heterogeneous(t *testing.T) {
	b := NewBatch()
	b.Push(additiveDelta(multivector.Scalar(1), clock.VectorClock{"A": 1}))
	b.Push(StateDelta{
		Transform: multivector.Scalar(0.5),
		Encoding:  Compressed,
		ToClock:   clock.VectorClock{"A": 2},
	})

	if _, ok := b.CombineAdditive(); ok {
		t.Error("batch with a non-additive delta must not combine")
	}
}

func TestBatch_ApplyTo(t *testing.T) {
	b := NewBatch()
	b.Push(additiveDelta(multivector.Vector(1, 0, 0), clock.VectorClock{"A": 1}))
	b.Push(StateDelta{
		Transform: multivector.Vector(1, 0, 0),
		Encoding:  Multiplicative,
		ToClock:   clock.VectorClock{"A": 2},
	})

	// (0,1,0) + (1,0,0) = (1,1,0), then sandwich by e1 reflects e2: (1,-1,0).
	got, err := b.ApplyTo(multivector.Vector(0, 1, 0))
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if !multivector.ApproxEqual(got, multivector.Vector(1, -1, 0), eps) {
		t.Errorf("expected (1,-1,0), got %v", got)
	}
}

func TestBatch_ApplyTo_FailsAtomically(t *testing.T) {
	b := NewBatch()
	b.Push(additiveDelta(multivector.Scalar(1), clock.VectorClock{"A": 1}))
	b.Push(StateDelta{Encoding: Encoding("bogus"), ToClock: clock.VectorClock{"A": 2}})

	start := multivector.Scalar(5)
	got, err := b.ApplyTo(start)
	if err == nil {
		t.Fatal("expected an error from the bogus encoding")
	}
	if !multivector.ApproxEqual(got, start, 0) {
		t.Errorf("failed apply should return the original state, got %v", got)
	}
}

func TestBatch_EncodedSize(t *testing.T) {
	b := NewBatch()
	b.Push(additiveDelta(multivector.Scalar(1), clock.VectorClock{"A": 1}))
	b.Push(StateDelta{
		Transform: multivector.Scalar(0.1),
		Encoding:  Compressed,
		ToClock:   clock.VectorClock{"A": 2},
	})

	if got := b.EncodedSize(); got != 64+8 {
		t.Errorf("expected 72 bytes, got %d", got)
	}
}
