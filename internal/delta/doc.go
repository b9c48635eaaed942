// Package delta implements the transform-between-states representation
// used for bandwidth-efficient resynchronization: single deltas in three
// encodings and batches that track the combined causal frontier of their
// contents. The package never buffers or reorders; causal applicability is
// a precondition the caller checks.
package delta
