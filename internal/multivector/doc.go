// Package multivector implements the 8-coefficient geometric algebra
// kernel the replication layers operate on: vector-space arithmetic, the
// geometric product, reversion, and a fixed 4-term exponential
// approximation shared by every replica.
package multivector
