// Package node is the driver layer the protocol core leaves to its
// caller: it owns the replica, the peer sessions, and the consensus
// engine, consumes the transport's inbound stream on a single loop, and
// implements the application policies for delta exchange, full-state
// recovery, and peer lifecycle transitions.
package node
