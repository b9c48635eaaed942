// Package clock provides a vector clock implementation for tracking
// causality between replicas. Vector clocks maintain per-node counters
// that capture happened-before relationships, which the CRDT and delta
// layers use to order operations and gate delta application.
package clock
