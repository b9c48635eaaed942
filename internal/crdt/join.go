package crdt

import (
	"geosync/internal/multivector"
)

// GeometricJoin resolves a single-value conflict between two states by
// preferring the larger-magnitude value. An exact magnitude tie falls back
// to the geometric mean of both.
func GeometricJoin(a, b multivector.Multivector) multivector.Multivector {
	magA := a.Magnitude()
	magB := b.Magnitude()
	switch {
	case magA > magB:
		return a
	case magB > magA:
		return b
	default:
		return GeometricMean([]multivector.Multivector{a, b})
	}
}

// GeometricMean combines values by summing exp(v) for each value and
// scaling by 1/n. This is not a true multiplicative mean: it inherits the
// 4-term exponential truncation, and the accumulation order is fixed.
// Replicas interoperate only if every node reproduces the identical
// approximation, so the formula must not be "improved" in place.
func GeometricMean(values []multivector.Multivector) multivector.Multivector {
	if len(values) == 0 {
		return multivector.Zero()
	}

	acc := multivector.Zero()
	for _, v := range values {
		acc = acc.Add(multivector.Exp(v))
	}
	return acc.Scale(1 / float64(len(values)))
}
