package consensus

import (
	"geosync/internal/crdt"
	"geosync/internal/multivector"
)

// CommitThreshold is the agreement distance used when committing a round.
const CommitThreshold = 0.1

// Outbox carries consensus messages to the other participants. The engine
// never talks to the network itself; the driver owns delivery.
type Outbox interface {
	SendPropose(round int64, value multivector.Multivector)
	SendVote(round int64, accept bool)
	SendCommit(round int64, value multivector.Multivector)
}

// Committer folds committed values into the underlying CRDT. The driver
// implements it against whatever replica is current, so merges that swap
// the replica out do not strand the consensus engine.
type Committer interface {
	NodeID() string
	Commit(value multivector.Multivector) error
}

// Engine runs round-based proposal/vote/commit consensus on top of the
// CRDT. Round numbers are local sequence numbers, not globally
// synchronized: two nodes may label distinct decisions with the same
// round, disambiguated by the sender in the driver's bookkeeping;
// cross-node divergence reconciles through ordinary CRDT merge.
type Engine struct {
	committer Committer
	outbox    Outbox
	nextRound int64

	proposals map[int64][]multivector.Multivector
	votes     map[int64]map[string]bool
	committed map[int64]multivector.Multivector
}

// New creates a consensus engine bound to a committer and an outbox.
func New(committer Committer, outbox Outbox) *Engine {
	return &Engine{
		committer: committer,
		outbox:    outbox,
		proposals: make(map[int64][]multivector.Multivector),
		votes:     make(map[int64]map[string]bool),
		committed: make(map[int64]multivector.Multivector),
	}
}

// Propose allocates the next local round, records the value as the first
// proposal, broadcasts it, and returns the round number.
func (e *Engine) Propose(value multivector.Multivector) int64 {
	e.nextRound++
	round := e.nextRound
	e.proposals[round] = append(e.proposals[round], value)
	e.outbox.SendPropose(round, value)
	return round
}

// ReceiveProposal accumulates a proposal for a round.
func (e *Engine) ReceiveProposal(round int64, value multivector.Multivector) {
	e.proposals[round] = append(e.proposals[round], value)
	if round > e.nextRound {
		e.nextRound = round
	}
}

// Vote records the local node's vote for a round and broadcasts it.
func (e *Engine) Vote(round int64, accept bool) {
	e.recordVote(round, e.committer.NodeID(), accept)
	e.outbox.SendVote(round, accept)
}

// ReceiveVote accumulates a remote vote for a round.
func (e *Engine) ReceiveVote(round int64, voter string, accept bool) {
	e.recordVote(round, voter, accept)
}

func (e *Engine) recordVote(round int64, voter string, accept bool) {
	if e.votes[round] == nil {
		e.votes[round] = make(map[string]bool)
	}
	e.votes[round][voter] = accept
}

// TryCommit commits the round if its yes votes form a strict majority of
// participantCount. On success it computes the consensus value with the
// fixed commit threshold, records it, folds it into the CRDT as an add
// operation, broadcasts the commit, and returns the value. A round that is
// already committed returns its recorded value without re-deciding.
func (e *Engine) TryCommit(round int64, participantCount int) (multivector.Multivector, bool, error) {
	if value, done := e.committed[round]; done {
		return value, true, nil
	}

	yes := 0
	for _, accept := range e.votes[round] {
		if accept {
			yes++
		}
	}
	if 2*yes <= participantCount {
		return multivector.Zero(), false, nil
	}

	value := Consensus(e.proposals[round], CommitThreshold)
	if err := e.committer.Commit(value); err != nil {
		return multivector.Zero(), false, err
	}
	e.committed[round] = value
	e.outbox.SendCommit(round, value)
	return value, true, nil
}

// ReceiveCommit records a remote commit for a round. It is idempotent per
// round: the first writer wins locally and later commits for the same
// round are ignored. The committed value itself reaches this replica
// through CRDT merge with the committer, not through a second operation.
func (e *Engine) ReceiveCommit(round int64, value multivector.Multivector) {
	if _, done := e.committed[round]; done {
		return
	}
	e.committed[round] = value
}

// Committed returns the committed value for a round, if any.
func (e *Engine) Committed(round int64) (multivector.Multivector, bool) {
	value, ok := e.committed[round]
	return value, ok
}

// Proposals returns the accumulated proposals for a round.
func (e *Engine) Proposals(round int64) []multivector.Multivector {
	return e.proposals[round]
}

// Consensus computes the agreed value for a proposal set: the geometric
// mean is accepted when no proposal is farther from it than threshold;
// otherwise it falls back to the magnitude-weighted average. The fallback
// is not re-checked against the threshold and may itself diverge from
// individual proposals; that is accepted best-effort behavior, not an
// error.
func Consensus(proposals []multivector.Multivector, threshold float64) multivector.Multivector {
	if len(proposals) == 0 {
		return multivector.Zero()
	}

	candidate := crdt.GeometricMean(proposals)
	maxDistance := 0.0
	for _, p := range proposals {
		if d := candidate.Sub(p).Magnitude(); d > maxDistance {
			maxDistance = d
		}
	}
	if maxDistance <= threshold {
		return candidate
	}
	return WeightedConsensus(proposals)
}

// WeightedConsensus returns the magnitude-weighted average of the
// proposals. Zero total weight degrades to the unweighted average.
func WeightedConsensus(proposals []multivector.Multivector) multivector.Multivector {
	if len(proposals) == 0 {
		return multivector.Zero()
	}

	sum := multivector.Zero()
	totalWeight := 0.0
	for _, p := range proposals {
		w := p.Magnitude()
		sum = sum.Add(p.Scale(w))
		totalWeight += w
	}
	if totalWeight == 0 {
		avg := multivector.Zero()
		for _, p := range proposals {
			avg = avg.Add(p)
		}
		return avg.Scale(1 / float64(len(proposals)))
	}
	return sum.Scale(1 / totalWeight)
}

// LatticeJoin returns the component-wise maximum across all values.
func LatticeJoin(values []multivector.Multivector) multivector.Multivector {
	return latticeFold(values, func(a, b float64) bool { return b > a })
}

// LatticeMeet returns the component-wise minimum across all values.
func LatticeMeet(values []multivector.Multivector) multivector.Multivector {
	return latticeFold(values, func(a, b float64) bool { return b < a })
}

func latticeFold(values []multivector.Multivector, replace func(a, b float64) bool) multivector.Multivector {
	if len(values) == 0 {
		return multivector.Zero()
	}
	acc := values[0]
	for _, v := range values[1:] {
		for i := range acc {
			if replace(acc[i], v[i]) {
				acc[i] = v[i]
			}
		}
	}
	return acc
}
