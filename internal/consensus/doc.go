// Package consensus implements round-based proposal/vote/commit agreement
// over the geometric CRDT. Commitment requires a strict majority; the
// decided value is the geometric mean of the proposals when they agree
// within a threshold, with a magnitude-weighted fallback otherwise.
package consensus
