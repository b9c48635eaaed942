package delta

import (
	"geosync/internal/clock"
	"geosync/internal/multivector"
)

// Batch is an ordered sequence of deltas plus the running merge of all
// contained ToClocks.
type Batch struct {
	Deltas        []StateDelta      `json:"deltas"`
	CombinedClock clock.VectorClock `json:"combinedClock"`
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{CombinedClock: clock.New()}
}

// Push appends a delta and folds its ToClock into the combined clock.
func (b *Batch) Push(d StateDelta) {
	b.Deltas = append(b.Deltas, d)
	b.CombinedClock.Update(d.ToClock)
}

// Len returns the number of deltas in the batch.
func (b *Batch) Len() int {
	return len(b.Deltas)
}

// CombineAdditive collapses the batch into a single transform. Only
// addition is order-independent, so this succeeds iff every delta uses the
// additive encoding; any other encoding returns ok == false.
func (b *Batch) CombineAdditive() (multivector.Multivector, bool) {
	sum := multivector.Zero()
	for _, d := range b.Deltas {
		if d.Encoding != Additive {
			return multivector.Zero(), false
		}
		sum = sum.Add(d.Transform)
	}
	return sum, true
}

// ApplyTo replays every delta onto state in batch order.
func (b *Batch) ApplyTo(state multivector.Multivector) (multivector.Multivector, error) {
	result := state
	for _, d := range b.Deltas {
		next, err := d.Apply(result)
		if err != nil {
			return state, err
		}
		result = next
	}
	return result, nil
}

// EncodedSize estimates the total wire size of all contained transforms.
func (b *Batch) EncodedSize() int {
	total := 0
	for _, d := range b.Deltas {
		total += d.EncodedSize()
	}
	return total
}
