package multivector

import (
	"fmt"
	"math"
	"math/bits"
)

// Multivector is an element of the Clifford algebra Cl(3,0), stored as
// eight coefficients over the basis {1, e1, e2, e3, e12, e13, e23, e123}.
type Multivector [8]float64

// indexToMask maps a coefficient index to the bitmask of basis vectors in
// its blade (bit 0 = e1, bit 1 = e2, bit 2 = e3). maskToIndex is its
// inverse; the mapping happens to be an involution for this basis order.
var indexToMask = [8]uint8{0b000, 0b001, 0b010, 0b100, 0b011, 0b101, 0b110, 0b111}
var maskToIndex = [8]int{0, 1, 2, 4, 3, 5, 6, 7}

// Zero returns the zero element.
func Zero() Multivector {
	return Multivector{}
}

// Scalar returns a purely scalar element with value s.
func Scalar(s float64) Multivector {
	return Multivector{s}
}

// Vector returns the grade-1 element x*e1 + y*e2 + z*e3.
func Vector(x, y, z float64) Multivector {
	return Multivector{0, x, y, z}
}

// Add returns the component-wise sum m + o.
func (m Multivector) Add(o Multivector) Multivector {
	var r Multivector
	for i := range m {
		r[i] = m[i] + o[i]
	}
	return r
}

// Sub returns the component-wise difference m - o.
func (m Multivector) Sub(o Multivector) Multivector {
	var r Multivector
	for i := range m {
		r[i] = m[i] - o[i]
	}
	return r
}

// Scale returns m with every coefficient multiplied by s.
func (m Multivector) Scale(s float64) Multivector {
	var r Multivector
	for i := range m {
		r[i] = m[i] * s
	}
	return r
}

// Compose returns the geometric product m * o. The product is associative
// and non-commutative.
func (m Multivector) Compose(o Multivector) Multivector {
	var r Multivector
	for i, a := range m {
		if a == 0 {
			continue
		}
		ma := indexToMask[i]
		for j, b := range o {
			if b == 0 {
				continue
			}
			mb := indexToMask[j]
			r[maskToIndex[ma^mb]] += reorderSign(ma, mb) * a * b
		}
	}
	return r
}

// reorderSign counts the basis-vector swaps needed to bring the product of
// two blades into canonical order. With a positive-definite metric this is
// the only sign contribution, so the Cayley table falls out of the bit
// arithmetic instead of a hand-written table.
func reorderSign(a, b uint8) float64 {
	a >>= 1
	sum := 0
	for a != 0 {
		sum += bits.OnesCount8(a & b)
		a >>= 1
	}
	if sum%2 == 0 {
		return 1
	}
	return -1
}

// Reverse returns the reversion of m: blades of grade 2 and 3 are negated,
// grades 0 and 1 are unchanged.
func (m Multivector) Reverse() Multivector {
	r := m
	for i := 4; i < 8; i++ {
		r[i] = -r[i]
	}
	return r
}

// Magnitude returns the Euclidean norm across all eight coefficients.
func (m Multivector) Magnitude() float64 {
	sum := 0.0
	for _, c := range m {
		sum += c * c
	}
	return math.Sqrt(sum)
}

// Sandwich returns t * v * Reverse(t), applying t as a rotation-like
// transform to v.
func Sandwich(t, v Multivector) Multivector {
	return t.Compose(v).Compose(t.Reverse())
}

// IsScalar reports whether only the scalar coefficient is nonzero.
func (m Multivector) IsScalar() bool {
	for i := 1; i < 8; i++ {
		if m[i] != 0 {
			return false
		}
	}
	return true
}

// Exp returns the exponential of x. A purely scalar input uses the exact
// math.Exp; any other input uses the truncated series
//
//	1 + x + x^2/2! + x^3/3! + x^4/4!
//
// with powers composed left-to-right and terms accumulated in that order.
// The truncation and accumulation order are part of the replication
// contract: replicas only converge if every node computes the identical
// approximation.
func Exp(x Multivector) Multivector {
	if x.IsScalar() {
		return Scalar(math.Exp(x[0]))
	}

	result := Scalar(1)
	power := Scalar(1)
	factorial := 1.0
	for i := 1; i <= 4; i++ {
		power = power.Compose(x)
		factorial *= float64(i)
		result = result.Add(power.Scale(1 / factorial))
	}
	return result
}

// ApproxEqual reports whether every coefficient of a and b differs by at
// most eps.
func ApproxEqual(a, b Multivector, eps float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > eps {
			return false
		}
	}
	return true
}

// String returns a compact representation for logs and errors.
func (m Multivector) String() string {
	return fmt.Sprintf("[%g %g %g %g %g %g %g %g]", m[0], m[1], m[2], m[3], m[4], m[5], m[6], m[7])
}
