package session

import (
	"time"

	"geosync/internal/clock"
)

// ConnState is the lifecycle state of a peer session.
type ConnState int

const (
	// Discovered means the peer is known but no sync has started.
	Discovered ConnState = iota
	// Syncing means a delta exchange is in flight.
	Syncing
	// Synced means the peer has caught up at least once.
	Synced
	// Disconnected means the peer went quiet past the timeout.
	Disconnected
	// Gone is terminal: the peer said goodbye.
	Gone
)

// String returns the string representation of ConnState.
func (s ConnState) String() string {
	switch s {
	case Discovered:
		return "DISCOVERED"
	case Syncing:
		return "SYNCING"
	case Synced:
		return "SYNCED"
	case Disconnected:
		return "DISCONNECTED"
	case Gone:
		return "GONE"
	default:
		return "UNKNOWN"
	}
}

// PeerInfo identifies a peer node.
type PeerInfo struct {
	ID              string `json:"id"`
	Addr            string `json:"addr"`
	ProtocolVersion int    `json:"protocolVersion"`
}

// PeerState tracks one peer's session: its last observed clock, connection
// state, liveness, and in-flight acknowledgments for RTT estimation.
//
// Only the Gone transition is triggered by the protocol itself (on
// Goodbye); Discovered/Syncing/Synced/Disconnected are driven by the
// application layer through SetPeerState.
type PeerState struct {
	Info        PeerInfo
	LastClock   clock.VectorClock
	State       ConnState
	LastSeen    time.Time // zero value means never seen
	RTTEstimate time.Duration

	pendingAcks map[int64]time.Time // message id -> send time
}
