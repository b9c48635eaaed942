package crdt

import (
	"errors"
	"fmt"

	"geosync/internal/clock"
	"geosync/internal/multivector"
)

// OpType identifies how an operation's transform is applied to the state.
type OpType string

const (
	// OpAdd applies state + transform.
	OpAdd OpType = "add"
	// OpCompose applies the geometric product state * transform.
	OpCompose OpType = "compose"
	// OpSandwich applies transform * state * reverse(transform).
	OpSandwich OpType = "sandwich"
	// OpExponential applies exp(transform) * state.
	OpExponential OpType = "exponential"
)

// ErrUnknownOpType is returned when an operation carries a type outside the
// closed set. Unknown discriminants are fatal, never silently defaulted.
var ErrUnknownOpType = errors.New("unknown operation type")

// Operation is a single recorded mutation of the replicated state. It is
// immutable once recorded: identical (NodeID, ID) pairs must carry
// identical payloads.
type Operation struct {
	ID        int64                   `json:"id"`
	NodeID    string                  `json:"nodeId"`
	Timestamp clock.VectorClock       `json:"timestamp"`
	Transform multivector.Multivector `json:"transform"`
	Type      OpType                  `json:"type"`
}

// Key returns the identity of the operation across replicas.
func (op Operation) Key() string {
	return fmt.Sprintf("%s/%d", op.NodeID, op.ID)
}

// apply returns the state after applying op's transform.
func apply(state multivector.Multivector, op Operation) (multivector.Multivector, error) {
	switch op.Type {
	case OpAdd:
		return state.Add(op.Transform), nil
	case OpCompose:
		return state.Compose(op.Transform), nil
	case OpSandwich:
		return multivector.Sandwich(op.Transform, state), nil
	case OpExponential:
		return multivector.Exp(op.Transform).Compose(state), nil
	default:
		return state, fmt.Errorf("%w: %q", ErrUnknownOpType, op.Type)
	}
}
