package session

import (
	"errors"

	"geosync/internal/clock"
	"geosync/internal/crdt"
	"geosync/internal/delta"
	"geosync/internal/multivector"
)

// PayloadType tags the variants of the message payload union.
type PayloadType string

const (
	TypeHello         PayloadType = "hello"
	TypeClockRequest  PayloadType = "clock_request"
	TypeClockResponse PayloadType = "clock_response"
	TypeDeltaRequest  PayloadType = "delta_request"
	TypeDeltaResponse PayloadType = "delta_response"
	TypeFullState     PayloadType = "full_state"
	TypeHeartbeat     PayloadType = "heartbeat"
	TypeAck           PayloadType = "ack"
	TypeGoodbye       PayloadType = "goodbye"
	TypePropose       PayloadType = "propose"
	TypeVote          PayloadType = "vote"
	TypeCommit        PayloadType = "commit"
)

// ErrUnknownPayload is returned when a message carries a payload outside
// the closed union. Unrecognized variants are reportable errors, never a
// silently-ignored default branch.
var ErrUnknownPayload = errors.New("unknown message payload")

// Payload is the closed union of message payloads.
type Payload interface {
	Kind() PayloadType
}

// Hello opens or refreshes a session; the handshake is symmetric, each
// side replies with its own Hello.
type Hello struct {
	Info PeerInfo `json:"info"`
}

// ClockRequest asks the receiver for its current vector clock.
type ClockRequest struct{}

// ClockResponse carries the sender's current vector clock.
type ClockResponse struct {
	Clock clock.VectorClock `json:"clock"`
}

// DeltaRequest asks for the deltas needed to catch up from SinceClock.
type DeltaRequest struct {
	SinceClock clock.VectorClock `json:"sinceClock"`
}

// DeltaResponse carries a batch of deltas.
type DeltaResponse struct {
	Batch delta.Batch `json:"batch"`
}

// FullState carries the sender's entire replica for full resync.
type FullState struct {
	State      multivector.Multivector `json:"state"`
	Clock      clock.VectorClock       `json:"clock"`
	Operations []crdt.Operation        `json:"operations"`
}

// Heartbeat signals liveness; it carries nothing and expects no reply.
type Heartbeat struct{}

// Ack acknowledges a previously sent message for RTT tracking.
type Ack struct {
	MessageID int64 `json:"messageId"`
}

// Goodbye announces that the sender is leaving; the receiving session
// marks the peer Gone.
type Goodbye struct {
	Reason string `json:"reason,omitempty"`
}

// Propose opens a consensus round with a candidate value.
type Propose struct {
	Round int64                   `json:"round"`
	Value multivector.Multivector `json:"value"`
}

// Vote answers a proposal for a round.
type Vote struct {
	Round  int64 `json:"round"`
	Accept bool  `json:"accept"`
}

// Commit announces the committed value for a round.
type Commit struct {
	Round int64                   `json:"round"`
	Value multivector.Multivector `json:"value"`
}

func (Hello) Kind() PayloadType         { return TypeHello }
func (ClockRequest) Kind() PayloadType  { return TypeClockRequest }
func (ClockResponse) Kind() PayloadType { return TypeClockResponse }
func (DeltaRequest) Kind() PayloadType  { return TypeDeltaRequest }
func (DeltaResponse) Kind() PayloadType { return TypeDeltaResponse }
func (FullState) Kind() PayloadType     { return TypeFullState }
func (Heartbeat) Kind() PayloadType     { return TypeHeartbeat }
func (Ack) Kind() PayloadType           { return TypeAck }
func (Goodbye) Kind() PayloadType       { return TypeGoodbye }
func (Propose) Kind() PayloadType       { return TypePropose }
func (Vote) Kind() PayloadType          { return TypeVote }
func (Commit) Kind() PayloadType        { return TypeCommit }

// Message is the wire unit of the peer protocol.
type Message struct {
	ID        int64
	Sender    string
	Payload   Payload
	Clock     clock.VectorClock
	Timestamp int64 // wall clock, unix milliseconds
}
