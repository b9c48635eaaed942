package crdt

import (
	"sort"

	"geosync/internal/clock"
	"geosync/internal/multivector"
)

// Replica is one node's copy of the replicated geometric state: the current
// value, the local vector clock, and the append-only operation log. A
// replica is owned exclusively by its node and mutated only through
// ApplyOperation/CreateOperation; Merge produces a new replica instead of
// mutating either input.
type Replica struct {
	nodeID   string
	state    multivector.Multivector
	vclock   clock.VectorClock
	ops      map[string]Operation
	nextOpID int64
}

// NewReplica creates an empty replica for the given node.
func NewReplica(nodeID string) *Replica {
	return &Replica{
		nodeID:   nodeID,
		vclock:   clock.New(),
		ops:      make(map[string]Operation),
		nextOpID: 1,
	}
}

// FromOperations builds a replica for nodeID by replaying the given
// operations in causal order onto a zero state.
func FromOperations(nodeID string, ops []Operation) (*Replica, error) {
	r := NewReplica(nodeID)
	for _, op := range sortCausally(ops) {
		if err := r.ApplyOperation(op); err != nil {
			return nil, err
		}
	}
	for _, op := range ops {
		if op.NodeID == nodeID && op.ID >= r.nextOpID {
			r.nextOpID = op.ID + 1
		}
	}
	return r, nil
}

// NodeID returns the owning node's identifier.
func (r *Replica) NodeID() string {
	return r.nodeID
}

// State returns the current value.
func (r *Replica) State() multivector.Multivector {
	return r.state
}

// Clock returns a copy of the replica's vector clock.
func (r *Replica) Clock() clock.VectorClock {
	return r.vclock.Clone()
}

// OperationCount returns the size of the operation log. The log is
// append-only; no eviction policy exists.
func (r *Replica) OperationCount() int {
	return len(r.ops)
}

// Operations returns the operation log in causal replay order.
func (r *Replica) Operations() []Operation {
	ops := make([]Operation, 0, len(r.ops))
	for _, op := range r.ops {
		ops = append(ops, op)
	}
	return sortCausally(ops)
}

// ApplyOperation records op and applies its transform to the state. It is
// idempotent: an operation whose identity is already recorded is a no-op.
// The operation's timestamp is absorbed into the local clock. An unknown
// operation type is an error and leaves the replica unchanged.
func (r *Replica) ApplyOperation(op Operation) error {
	if _, seen := r.ops[op.Key()]; seen {
		return nil
	}

	next, err := apply(r.state, op)
	if err != nil {
		return err
	}

	r.vclock.Update(op.Timestamp)
	r.ops[op.Key()] = op
	r.state = next
	return nil
}

// CreateOperation records a locally caused operation: it ticks the local
// clock, allocates the next per-replica id, snapshots the clock as the
// operation's timestamp, and applies it.
func (r *Replica) CreateOperation(transform multivector.Multivector, typ OpType) (Operation, error) {
	op := Operation{
		ID:        r.nextOpID,
		NodeID:    r.nodeID,
		Transform: transform,
		Type:      typ,
	}

	// Validate before ticking so a bad type leaves no trace.
	next, err := apply(r.state, op)
	if err != nil {
		return Operation{}, err
	}

	r.vclock.Tick(r.nodeID)
	op.Timestamp = r.vclock.Clone()
	r.nextOpID++
	r.ops[op.Key()] = op
	r.state = next
	return op, nil
}

// Merge returns a new replica holding the union of both operation logs,
// replayed in causal order onto a zero state. Existing entries win on
// identity collision (identical ids must carry identical payloads). The
// result is independent of the order the inputs saw their operations, so
// Merge is commutative, associative, and idempotent up to floating-point
// epsilon.
func (r *Replica) Merge(other *Replica) (*Replica, error) {
	union := make([]Operation, 0, len(r.ops)+len(other.ops))
	seen := make(map[string]bool, len(r.ops))
	for _, op := range r.ops {
		union = append(union, op)
		seen[op.Key()] = true
	}
	for _, op := range other.ops {
		if !seen[op.Key()] {
			union = append(union, op)
		}
	}

	merged := NewReplica(r.nodeID)
	for _, op := range sortCausally(union) {
		if err := merged.ApplyOperation(op); err != nil {
			return nil, err
		}
	}

	// Replay only raises the clock as far as the operation timestamps;
	// both inputs may have observed later events through the protocol.
	merged.vclock.Update(r.vclock)
	merged.vclock.Update(other.vclock)

	merged.nextOpID = r.nextOpID
	for _, op := range union {
		if op.NodeID == r.nodeID && op.ID >= merged.nextOpID {
			merged.nextOpID = op.ID + 1
		}
	}
	return merged, nil
}

// sortCausally produces the total replay order: causal happens-before
// first, numeric id (then node id) ascending as the deterministic
// tie-break between concurrent operations. Happens-before is only a
// partial order, so this runs a priority topological sort rather than a
// comparison sort; the result depends solely on the operation set, never
// on the order it was collected in.
func sortCausally(ops []Operation) []Operation {
	remaining := make([]Operation, len(ops))
	copy(remaining, ops)
	sort.Slice(remaining, func(i, j int) bool {
		if remaining[i].ID != remaining[j].ID {
			return remaining[i].ID < remaining[j].ID
		}
		return remaining[i].NodeID < remaining[j].NodeID
	})

	ordered := make([]Operation, 0, len(remaining))
	for len(remaining) > 0 {
		picked := -1
		for i, candidate := range remaining {
			ready := true
			for j, pred := range remaining {
				if i == j {
					continue
				}
				if pred.Timestamp.HappensBefore(candidate.Timestamp) {
					ready = false
					break
				}
			}
			if ready {
				picked = i
				break
			}
		}
		if picked < 0 {
			// Cannot happen: happens-before is acyclic.
			picked = 0
		}
		ordered = append(ordered, remaining[picked])
		remaining = append(remaining[:picked], remaining[picked+1:]...)
	}
	return ordered
}
