package session

import (
	"fmt"
	"sort"
	"time"

	"geosync/internal/clock"
	"geosync/internal/crdt"
	"geosync/internal/delta"
	"geosync/internal/multivector"
)

// Config holds the tunables of the peer protocol.
type Config struct {
	HeartbeatInterval time.Duration
	PeerTimeout       time.Duration
	MaxBatchSize      int // advisory cap on deltas per response
	PreferCompressed  bool
	ProtocolVersion   int
}

// DefaultConfig returns the default protocol configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		PeerTimeout:       30 * time.Second,
		MaxBatchSize:      32,
		PreferCompressed:  false,
		ProtocolVersion:   1,
	}
}

// State owns one node's view of the peer protocol: the local vector clock,
// a monotonically increasing message id, the peer registry, and the
// protocol configuration. All methods are synchronous and must be called
// from a single goroutine; cross-node concurrency is resolved by the
// causal machinery, not by locks.
type State struct {
	local     PeerInfo
	vclock    clock.VectorClock
	nextMsgID int64
	peers     map[string]*PeerState
	cfg       Config

	now func() time.Time
}

// New creates a protocol state for the local node.
func New(local PeerInfo, cfg Config) *State {
	if local.ProtocolVersion == 0 {
		local.ProtocolVersion = cfg.ProtocolVersion
	}
	return &State{
		local:  local,
		vclock: clock.New(),
		peers:  make(map[string]*PeerState),
		cfg:    cfg,
		now:    time.Now,
	}
}

// NodeID returns the local node id.
func (s *State) NodeID() string {
	return s.local.ID
}

// Clock returns a copy of the local vector clock.
func (s *State) Clock() clock.VectorClock {
	return s.vclock.Clone()
}

// Config returns the protocol configuration.
func (s *State) Config() Config {
	return s.cfg
}

// newMessage stamps a fresh message: ticks the local clock, allocates the
// next message id, and snapshots the clock and wall time.
func (s *State) newMessage(p Payload) Message {
	s.vclock.Tick(s.local.ID)
	s.nextMsgID++
	return Message{
		ID:        s.nextMsgID,
		Sender:    s.local.ID,
		Payload:   p,
		Clock:     s.vclock.Clone(),
		Timestamp: s.now().UnixMilli(),
	}
}

// NewHello builds a handshake message carrying the local peer info.
func (s *State) NewHello() Message {
	return s.newMessage(Hello{Info: s.local})
}

// NewClockRequest builds a clock query.
func (s *State) NewClockRequest() Message {
	return s.newMessage(ClockRequest{})
}

// NewClockResponse builds a clock reply with the current local clock.
func (s *State) NewClockResponse() Message {
	return s.newMessage(ClockResponse{Clock: s.vclock.Clone()})
}

// NewDeltaRequest builds a catch-up request from the given clock.
func (s *State) NewDeltaRequest(since clock.VectorClock) Message {
	return s.newMessage(DeltaRequest{SinceClock: since.Clone()})
}

// NewDeltaResponse builds a delta batch message.
func (s *State) NewDeltaResponse(batch delta.Batch) Message {
	return s.newMessage(DeltaResponse{Batch: batch})
}

// NewFullState builds a full-resync message.
func (s *State) NewFullState(state multivector.Multivector, c clock.VectorClock, ops []crdt.Operation) Message {
	return s.newMessage(FullState{State: state, Clock: c.Clone(), Operations: ops})
}

// NewHeartbeat builds a liveness message.
func (s *State) NewHeartbeat() Message {
	return s.newMessage(Heartbeat{})
}

// NewAck builds an acknowledgment for the given message id.
func (s *State) NewAck(messageID int64) Message {
	return s.newMessage(Ack{MessageID: messageID})
}

// NewGoodbye builds a leave announcement.
func (s *State) NewGoodbye(reason string) Message {
	return s.newMessage(Goodbye{Reason: reason})
}

// NewPropose builds a consensus proposal message.
func (s *State) NewPropose(round int64, value multivector.Multivector) Message {
	return s.newMessage(Propose{Round: round, Value: value})
}

// NewVote builds a consensus vote message.
func (s *State) NewVote(round int64, accept bool) Message {
	return s.newMessage(Vote{Round: round, Accept: accept})
}

// NewCommit builds a consensus commit message.
func (s *State) NewCommit(round int64, value multivector.Multivector) Message {
	return s.newMessage(Commit{Round: round, Value: value})
}

// HandleMessage processes an incoming message. Regardless of payload, it
// absorbs the message clock into the local clock and refreshes the sending
// peer's liveness and last-known clock. It then dispatches by payload and
// returns a protocol-level reply where one is defined (Hello, ClockRequest).
// DeltaRequest, DeltaResponse, FullState and the consensus payloads carry
// no protocol-level handling; the caller's application layer reacts to
// them. An unknown payload is an error.
func (s *State) HandleMessage(msg Message) (*Message, error) {
	s.vclock.Update(msg.Clock)

	p, knownSender := s.peers[msg.Sender]
	if knownSender {
		p.LastSeen = s.now()
		p.LastClock = msg.Clock.Clone()
	}

	switch payload := msg.Payload.(type) {
	case Hello:
		peer := s.RegisterPeer(payload.Info)
		peer.LastSeen = s.now()
		peer.LastClock = msg.Clock.Clone()
		// The handshake is symmetric, not three-way: only a previously
		// unknown sender gets a Hello back, which stops the exchange
		// from echoing forever.
		if knownSender {
			return nil, nil
		}
		reply := s.NewHello()
		return &reply, nil
	case ClockRequest:
		reply := s.NewClockResponse()
		return &reply, nil
	case ClockResponse:
		// Liveness and clock already recorded above.
		return nil, nil
	case Heartbeat:
		// Liveness already recorded; heartbeats are not acknowledged.
		return nil, nil
	case Ack:
		s.handleAck(msg.Sender, payload)
		return nil, nil
	case Goodbye:
		if p, known := s.peers[msg.Sender]; known {
			p.State = Gone
		}
		return nil, nil
	case DeltaRequest, DeltaResponse, FullState, Propose, Vote, Commit:
		// Application-layer payloads; no protocol-level reply.
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPayload, msg.Payload)
	}
}

// handleAck matches an ack against the peer's pending sends and feeds the
// sample into the RTT estimate: est = est*0.8 + rtt*0.2, seeded with the
// first sample as-is.
func (s *State) handleAck(sender string, a Ack) {
	p, known := s.peers[sender]
	if !known {
		return
	}
	sentAt, pending := p.pendingAcks[a.MessageID]
	if !pending {
		return
	}
	delete(p.pendingAcks, a.MessageID)

	rtt := s.now().Sub(sentAt)
	if p.RTTEstimate == 0 {
		p.RTTEstimate = rtt
	} else {
		p.RTTEstimate = time.Duration(float64(p.RTTEstimate)*0.8 + float64(rtt)*0.2)
	}
}

// ExpectAck records the send time of a message that requires an
// acknowledgment. Callers invoke this alongside sending any such message;
// unanswered entries age out implicitly through the peer timeout.
func (s *State) ExpectAck(peerID string, messageID int64) {
	if p, known := s.peers[peerID]; known {
		p.pendingAcks[messageID] = s.now()
	}
}

// RegisterPeer adds a peer in the Discovered state, or refreshes the info
// of an already known peer without touching its connection state.
func (s *State) RegisterPeer(info PeerInfo) *PeerState {
	if p, known := s.peers[info.ID]; known {
		p.Info = info
		return p
	}
	p := &PeerState{
		Info:        info,
		LastClock:   clock.New(),
		State:       Discovered,
		pendingAcks: make(map[int64]time.Time),
	}
	s.peers[info.ID] = p
	return p
}

// RemovePeer drops a peer from the registry.
func (s *State) RemovePeer(id string) {
	delete(s.peers, id)
}

// Peer returns the session state for a peer id.
func (s *State) Peer(id string) (*PeerState, bool) {
	p, ok := s.peers[id]
	return p, ok
}

// Peers returns all peer sessions, ordered by id for determinism.
func (s *State) Peers() []*PeerState {
	out := make([]*PeerState, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Info.ID < out[j].Info.ID })
	return out
}

// SetPeerState is the driver hook for the externally triggered lifecycle
// transitions (Discovered -> Syncing -> Synced -> Disconnected). The
// protocol itself only ever sets Gone.
func (s *State) SetPeerState(id string, state ConnState) {
	if p, known := s.peers[id]; known {
		p.State = state
	}
}

// StalePeers returns peers that were never seen or whose last activity is
// older than the peer timeout.
func (s *State) StalePeers() []*PeerState {
	cutoff := s.now().Add(-s.cfg.PeerTimeout)
	var stale []*PeerState
	for _, p := range s.Peers() {
		if p.LastSeen.IsZero() || p.LastSeen.Before(cutoff) {
			stale = append(stale, p)
		}
	}
	return stale
}

// PeersNeedingHeartbeat returns Syncing/Synced peers that were never seen
// or have been quiet for more than half the heartbeat interval.
func (s *State) PeersNeedingHeartbeat() []*PeerState {
	cutoff := s.now().Add(-s.cfg.HeartbeatInterval / 2)
	var due []*PeerState
	for _, p := range s.Peers() {
		if p.State != Syncing && p.State != Synced {
			continue
		}
		if p.LastSeen.IsZero() || p.LastSeen.Before(cutoff) {
			due = append(due, p)
		}
	}
	return due
}
