package node

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"geosync/internal/clock"
	"geosync/internal/consensus"
	"geosync/internal/crdt"
	"geosync/internal/delta"
	"geosync/internal/multivector"
	"geosync/internal/session"
)

// voteThreshold is how far a remote proposal may sit from the local value
// and still earn a yes vote.
const voteThreshold = 1.0

// Transport is what the engine needs from the network layer.
type Transport interface {
	Send(peerID string, msg session.Message) error
	Broadcast(msg session.Message)
}

// Engine is the caller-owned driver the protocol core leaves external: it
// owns the replica, the session state, and the consensus engine, reacts to
// the application-layer payloads (delta request/response, full state,
// consensus traffic), and drives the peer lifecycle transitions the
// protocol itself never triggers.
//
// The core packages are lock-free by design; the engine serializes all
// access to them behind one mutex so tickers, the inbound loop, and the
// status API can share it.
type Engine struct {
	mu   sync.Mutex
	log  *zap.Logger
	cfg  session.Config
	tr   Transport
	sess *session.State
	cons *consensus.Engine

	replica *crdt.Replica

	// value is the published state: authoritative after ops and merges,
	// optimistically advanced by applicable delta batches.
	value      multivector.Multivector
	valueClock clock.VectorClock
}

// NewEngine creates a driver for the local node.
func NewEngine(local session.PeerInfo, cfg session.Config, tr Transport, log *zap.Logger) *Engine {
	e := &Engine{
		log:        log,
		cfg:        cfg,
		tr:         tr,
		sess:       session.New(local, cfg),
		replica:    crdt.NewReplica(local.ID),
		valueClock: clock.New(),
	}
	e.cons = consensus.New((*committer)(e), (*outbox)(e))
	return e
}

// committer adapts the engine for the consensus layer: commits land on
// whatever replica is current.
type committer Engine

func (c *committer) NodeID() string { return (*Engine)(c).replica.NodeID() }

func (c *committer) Commit(value multivector.Multivector) error {
	e := (*Engine)(c)
	if _, err := e.replica.CreateOperation(value, crdt.OpAdd); err != nil {
		return err
	}
	e.refreshValue()
	return nil
}

// outbox adapts the engine for outgoing consensus traffic. Only invoked
// with the engine lock held.
type outbox Engine

func (o *outbox) SendPropose(round int64, value multivector.Multivector) {
	e := (*Engine)(o)
	e.tr.Broadcast(e.sess.NewPropose(round, value))
}

func (o *outbox) SendVote(round int64, accept bool) {
	e := (*Engine)(o)
	e.tr.Broadcast(e.sess.NewVote(round, accept))
}

func (o *outbox) SendCommit(round int64, value multivector.Multivector) {
	e := (*Engine)(o)
	e.tr.Broadcast(e.sess.NewCommit(round, value))
}

// refreshValue republishes the authoritative replica state. Called with
// the lock held after any replica mutation.
func (e *Engine) refreshValue() {
	e.value = e.replica.State()
	e.valueClock = e.replica.Clock()
}

// NodeID returns the local node id.
func (e *Engine) NodeID() string {
	return e.replica.NodeID()
}

// Value returns the published state value.
func (e *Engine) Value() multivector.Multivector {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// RegisterPeer adds a statically configured peer to the session registry.
func (e *Engine) RegisterPeer(info session.PeerInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess.RegisterPeer(info)
}

// Hello sends the opening handshake to a peer and starts the sync
// exchange from this side. The receiving side does the same on its first
// Hello, so a one-sided dial still converges both directions.
func (e *Engine) Hello(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sendLocked(peerID, e.sess.NewHello())
	e.beginSync(peerID)
}

// Goodbye announces shutdown to every peer.
func (e *Engine) Goodbye(reason string) {
	e.mu.Lock()
	msg := e.sess.NewGoodbye(reason)
	e.mu.Unlock()
	e.tr.Broadcast(msg)
}

// ApplyLocal records a locally caused operation and pushes the resulting
// delta to active peers.
func (e *Engine) ApplyLocal(transform multivector.Multivector, typ crdt.OpType) (crdt.Operation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	prevState := e.replica.State()
	prevClock := e.replica.Clock()

	op, err := e.replica.CreateOperation(transform, typ)
	if err != nil {
		return crdt.Operation{}, err
	}

	var d delta.StateDelta
	if e.cfg.PreferCompressed {
		d = delta.ComputeCompressed(prevState, e.replica.State(), prevClock, e.replica.Clock(), e.NodeID())
	} else {
		d = delta.Compute(prevState, e.replica.State(), prevClock, e.replica.Clock(), e.NodeID())
	}

	// Advance the published value through the same delta the peers will
	// apply, so optimistic gains from their deltas survive local ops.
	// Resetting to the replica state would silently drop them.
	if next, applyErr := d.Apply(e.value); applyErr == nil && d.IsApplicableTo(e.valueClock) {
		e.value = next
		e.valueClock.Update(d.ToClock)
	} else {
		e.refreshValue()
	}

	batch := delta.NewBatch()
	batch.Push(d)

	msg := e.sess.NewDeltaResponse(*batch)
	for _, p := range e.sess.Peers() {
		if p.State != session.Syncing && p.State != session.Synced {
			continue
		}
		if err := e.tr.Send(p.Info.ID, msg); err == nil {
			e.sess.ExpectAck(p.Info.ID, msg.ID)
		}
	}
	return op, nil
}

// Propose starts a consensus round over the given value and returns the
// local round number.
func (e *Engine) Propose(value multivector.Multivector) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	round := e.cons.Propose(value)
	// The proposer votes for its own proposal.
	e.cons.Vote(round, true)
	return round
}

// HandleMessage feeds one inbound message through the protocol layer and
// the application-layer policies.
func (e *Engine) HandleMessage(msg session.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	reply, err := e.sess.HandleMessage(msg)
	if err != nil {
		return err
	}
	if reply != nil {
		e.sendLocked(msg.Sender, *reply)
	}

	switch payload := msg.Payload.(type) {
	case session.Hello:
		e.handleHello(msg.Sender)
	case session.DeltaRequest:
		e.handleDeltaRequest(msg.Sender, payload)
	case session.DeltaResponse:
		e.handleDeltaResponse(msg, payload)
	case session.FullState:
		if err := e.handleFullState(msg, payload); err != nil {
			return err
		}
	case session.Propose:
		e.handlePropose(payload)
	case session.Vote:
		return e.handleVote(msg.Sender, payload)
	case session.Commit:
		e.cons.ReceiveCommit(payload.Round, payload.Value)
	}
	return nil
}

// handleHello starts the sync exchange with a freshly discovered peer.
func (e *Engine) handleHello(sender string) {
	e.beginSync(sender)
}

// beginSync moves a Discovered or Disconnected peer to Syncing and asks
// it for everything past our replica clock. Disconnected is resyncable:
// a fresh Hello after a healed partition restarts the exchange instead
// of leaving both sides parked forever.
func (e *Engine) beginSync(peerID string) {
	p, ok := e.sess.Peer(peerID)
	if !ok || (p.State != session.Discovered && p.State != session.Disconnected) {
		return
	}
	e.sess.SetPeerState(peerID, session.Syncing)
	e.sendLocked(peerID, e.sess.NewDeltaRequest(e.replica.Clock()))
}

// handleDeltaRequest answers a catch-up request: operations the requester
// has not seen become an additive delta batch when they fit; anything
// else (non-additive history, oversized backlog) falls back to full state.
func (e *Engine) handleDeltaRequest(sender string, req session.DeltaRequest) {
	var missing []crdt.Operation
	deltifiable := true
	for _, op := range e.replica.Operations() {
		cmp := op.Timestamp.Compare(req.SinceClock)
		if cmp == clock.Before || cmp == clock.Equal {
			continue
		}
		missing = append(missing, op)
		if op.Type != crdt.OpAdd {
			deltifiable = false
		}
	}

	if len(missing) == 0 {
		e.sendLocked(sender, e.sess.NewDeltaResponse(*delta.NewBatch()))
		return
	}

	if !deltifiable || len(missing) > e.cfg.MaxBatchSize {
		msg := e.sess.NewFullState(e.replica.State(), e.replica.Clock(), e.replica.Operations())
		e.sendLocked(sender, msg)
		e.sess.ExpectAck(sender, msg.ID)
		return
	}

	batch := delta.NewBatch()
	running := req.SinceClock.Clone()
	for _, op := range missing {
		to := running.Merge(op.Timestamp)
		batch.Push(delta.StateDelta{
			Transform:  op.Transform,
			Encoding:   delta.Additive,
			FromClock:  running,
			ToClock:    to,
			SourceNode: e.NodeID(),
		})
		running = to
	}
	msg := e.sess.NewDeltaResponse(*batch)
	e.sendLocked(sender, msg)
	e.sess.ExpectAck(sender, msg.ID)
}

// handleDeltaResponse applies an incoming batch to the published value
// when its causal precondition holds; otherwise the batch is discarded
// and a fresh catch-up request goes out. The core never buffers
// inapplicable deltas, so recovery lives here.
func (e *Engine) handleDeltaResponse(msg session.Message, resp session.DeltaResponse) {
	e.sendLocked(msg.Sender, e.sess.NewAck(msg.ID))

	if resp.Batch.Len() == 0 {
		e.markSynced(msg.Sender)
		return
	}

	value := e.value
	running := e.valueClock.Clone()
	for _, d := range resp.Batch.Deltas {
		if !d.IsApplicableTo(running) {
			e.log.Debug("delta not applicable, requesting full catch-up",
				zap.String("peer", msg.Sender))
			e.sess.SetPeerState(msg.Sender, session.Syncing)
			e.sendLocked(msg.Sender, e.sess.NewDeltaRequest(e.replica.Clock()))
			return
		}
		next, err := d.Apply(value)
		if err != nil {
			e.log.Warn("dropping undecodable delta", zap.Error(err))
			return
		}
		value = next
		running.Update(d.ToClock)
	}

	e.value = value
	e.valueClock = running
	e.markSynced(msg.Sender)
}

// handleFullState merges the sender's replica into ours and republishes.
func (e *Engine) handleFullState(msg session.Message, fs session.FullState) error {
	e.sendLocked(msg.Sender, e.sess.NewAck(msg.ID))

	other, err := crdt.FromOperations(msg.Sender, fs.Operations)
	if err != nil {
		return fmt.Errorf("rebuild peer replica: %w", err)
	}
	merged, err := e.replica.Merge(other)
	if err != nil {
		return fmt.Errorf("merge peer replica: %w", err)
	}
	e.replica = merged
	e.refreshValue()
	e.markSynced(msg.Sender)
	return nil
}

func (e *Engine) markSynced(peerID string) {
	if p, ok := e.sess.Peer(peerID); ok && p.State == session.Syncing {
		e.sess.SetPeerState(peerID, session.Synced)
	}
}

// handlePropose records the proposal and votes on it: proposals close to
// the local value get a yes.
func (e *Engine) handlePropose(p session.Propose) {
	e.cons.ReceiveProposal(p.Round, p.Value)
	accept := e.value.Sub(p.Value).Magnitude() <= voteThreshold
	e.cons.Vote(p.Round, accept)
}

func (e *Engine) handleVote(sender string, v session.Vote) error {
	e.cons.ReceiveVote(v.Round, sender, v.Accept)

	// Peers that said goodbye no longer count toward the majority bar;
	// otherwise every departure permanently raises it.
	participants := 1
	for _, p := range e.sess.Peers() {
		if p.State != session.Gone {
			participants++
		}
	}
	value, committed, err := e.cons.TryCommit(v.Round, participants)
	if err != nil {
		return err
	}
	if committed {
		e.log.Info("round committed",
			zap.Int64("round", v.Round),
			zap.String("value", value.String()))
	}
	return nil
}

// HeartbeatTick sends heartbeats to peers that have gone quiet for more
// than half the heartbeat interval.
func (e *Engine) HeartbeatTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.sess.PeersNeedingHeartbeat() {
		e.sendLocked(p.Info.ID, e.sess.NewHeartbeat())
	}
}

// StaleTick demotes active peers that have gone quiet past the peer
// timeout.
func (e *Engine) StaleTick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.sess.StalePeers() {
		if p.State != session.Syncing && p.State != session.Synced {
			continue
		}
		e.log.Info("peer went stale", zap.String("peer", p.Info.ID))
		e.sess.SetPeerState(p.Info.ID, session.Disconnected)
	}
}

// sendLocked delivers one message, logging instead of failing: the
// protocol tolerates loss. The transport never calls back into the
// engine, so holding the lock across it is safe.
func (e *Engine) sendLocked(peerID string, msg session.Message) {
	if err := e.tr.Send(peerID, msg); err != nil {
		e.log.Debug("send failed", zap.String("peer", peerID), zap.Error(err))
	}
}
