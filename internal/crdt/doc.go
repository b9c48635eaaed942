// Package crdt implements the operation-based geometric CRDT. Each replica
// keeps an append-only log of transform operations stamped with vector
// clocks; merging replays the union of two logs in a deterministic causal
// order, which makes convergence independent of delivery order without any
// cross-node coordination.
package crdt
