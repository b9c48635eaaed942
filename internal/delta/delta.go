package delta

import (
	"errors"
	"fmt"
	"math"

	"geosync/internal/clock"
	"geosync/internal/multivector"
)

// Encoding identifies how a delta's transform moves one state to another.
type Encoding string

const (
	// Additive encodes result = state + transform.
	Additive Encoding = "additive"
	// Multiplicative encodes result = transform * state * reverse(transform).
	Multiplicative Encoding = "multiplicative"
	// Compressed encodes result = exp(transform) * state.
	Compressed Encoding = "compressed"
)

// ErrUnknownEncoding is returned when a delta carries an encoding outside
// the closed set.
var ErrUnknownEncoding = errors.New("unknown delta encoding")

// minMagnitude is the cutoff below which the compressed encoding degrades
// to additive: the log-ratio of magnitudes is meaningless near zero.
const minMagnitude = 1e-10

// StateDelta is a compact representation of the transform needed to move
// between two causal states.
type StateDelta struct {
	Transform  multivector.Multivector `json:"transform"`
	Encoding   Encoding                `json:"encoding"`
	FromClock  clock.VectorClock       `json:"fromClock"`
	ToClock    clock.VectorClock       `json:"toClock"`
	SourceNode string                  `json:"sourceNode"`
}

// Compute returns the additive delta between two states: to - from.
func Compute(from, to multivector.Multivector, fromClock, toClock clock.VectorClock, sourceNode string) StateDelta {
	return StateDelta{
		Transform:  to.Sub(from),
		Encoding:   Additive,
		FromClock:  fromClock.Clone(),
		ToClock:    toClock.Clone(),
		SourceNode: sourceNode,
	}
}

// ComputeCompressed returns a compressed delta carrying the scalar
// log(|to|/|from|). When |from| is degenerate (below minMagnitude) the
// ratio is undefined and the delta falls back to plain additive encoding.
func ComputeCompressed(from, to multivector.Multivector, fromClock, toClock clock.VectorClock, sourceNode string) StateDelta {
	fromMag := from.Magnitude()
	if fromMag < minMagnitude {
		return Compute(from, to, fromClock, toClock, sourceNode)
	}

	return StateDelta{
		Transform:  multivector.Scalar(math.Log(to.Magnitude() / fromMag)),
		Encoding:   Compressed,
		FromClock:  fromClock.Clone(),
		ToClock:    toClock.Clone(),
		SourceNode: sourceNode,
	}
}

// Apply returns the state after applying the delta according to its
// encoding. An unknown encoding is an error.
func (d StateDelta) Apply(state multivector.Multivector) (multivector.Multivector, error) {
	switch d.Encoding {
	case Additive:
		return state.Add(d.Transform), nil
	case Multiplicative:
		return multivector.Sandwich(d.Transform, state), nil
	case Compressed:
		return multivector.Exp(d.Transform).Compose(state), nil
	default:
		return state, fmt.Errorf("%w: %q", ErrUnknownEncoding, d.Encoding)
	}
}

// IsApplicableTo reports whether the delta's causal precondition holds
// against the given state clock: FromClock happens before or equals it.
// Apply does not check this; callers own the precondition. Applying an
// inapplicable delta yields a state with no convergence guarantee.
func (d StateDelta) IsApplicableTo(stateClock clock.VectorClock) bool {
	cmp := d.FromClock.Compare(stateClock)
	return cmp == clock.Before || cmp == clock.Equal
}

// bytesPerCoefficient is the assumed wire cost of one coefficient. The
// size estimators are informational only.
const bytesPerCoefficient = 8

// EncodedSize estimates the wire size of the delta's transform in bytes.
// Compressed deltas carry a single scalar coefficient.
func (d StateDelta) EncodedSize() int {
	if d.Encoding == Compressed {
		return bytesPerCoefficient
	}
	return 8 * bytesPerCoefficient
}

// Savings estimates the fraction of bandwidth saved versus shipping a full
// 8-coefficient state.
func (d StateDelta) Savings() float64 {
	full := 8 * bytesPerCoefficient
	return 1 - float64(d.EncodedSize())/float64(full)
}
