package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"geosync/internal/session"
	"geosync/internal/wire"
)

// ErrNotConnected is returned when sending to a peer with no live
// connection. The protocol tolerates loss, so callers typically log and
// move on.
var ErrNotConnected = errors.New("peer not connected")

const outboundBuffer = 64

// Hub is the WebSocket mesh carrying wire envelopes between peers. It
// accepts inbound connections on an HTTP handler and dials outbound ones;
// every decoded message lands on a single inbound channel for the driver
// loop to consume. The hub guarantees nothing about delivery: duplicates,
// loss, and reordering are absorbed by the layers above.
type Hub struct {
	localID  string
	log      *zap.Logger
	upgrader websocket.Upgrader
	inbound  chan session.Message

	mu    sync.Mutex
	conns map[string]*peerConn
	done  bool
}

type peerConn struct {
	peerID string
	ws     *websocket.Conn
	out    chan []byte
	once   sync.Once
}

// NewHub creates a hub for the local node.
func NewHub(localID string, log *zap.Logger) *Hub {
	return &Hub{
		localID: localID,
		log:     log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		inbound: make(chan session.Message, outboundBuffer),
		conns:   make(map[string]*peerConn),
	}
}

// Inbound returns the channel of decoded incoming messages.
func (h *Hub) Inbound() <-chan session.Message {
	return h.inbound
}

// Handler returns the HTTP handler accepting peer connections. The peer's
// identity is learned from the sender of its first message.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		h.run(&peerConn{ws: ws, out: make(chan []byte, outboundBuffer)})
	}
}

// Dial connects to a peer's sync endpoint and registers the connection
// under its id. A single attempt; the driver owns retry policy.
func (h *Hub) Dial(ctx context.Context, peerID, addr string) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/sync"}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s (%s): %w", peerID, addr, err)
	}

	pc := &peerConn{peerID: peerID, ws: ws, out: make(chan []byte, outboundBuffer)}
	h.register(pc)
	go h.run(pc)
	return nil
}

// Connected reports whether a live connection to the peer exists.
func (h *Hub) Connected(peerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[peerID]
	return ok
}

// Send encodes and queues a message for one peer. The enqueue happens
// under the hub lock: teardown closes the outbound channel only after
// removing the connection under the same lock, so a send can never race
// the close.
func (h *Hub) Send(peerID string, msg session.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	pc, ok := h.conns[peerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, peerID)
	}

	select {
	case pc.out <- data:
		return nil
	default:
		// Slow consumer; the protocol tolerates drops.
		h.log.Debug("dropping outbound message", zap.String("peer", peerID))
		return nil
	}
}

// Broadcast sends a message to every connected peer.
func (h *Hub) Broadcast(msg session.Message) {
	h.mu.Lock()
	ids := make([]string, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		if err := h.Send(id, msg); err != nil {
			h.log.Debug("broadcast send failed", zap.String("peer", id), zap.Error(err))
		}
	}
}

// Close shuts down every connection and stops accepting messages.
func (h *Hub) Close() {
	h.mu.Lock()
	h.done = true
	conns := make([]*peerConn, 0, len(h.conns))
	for _, pc := range h.conns {
		conns = append(conns, pc)
	}
	h.conns = make(map[string]*peerConn)
	h.mu.Unlock()

	for _, pc := range conns {
		pc.close()
	}
}

func (pc *peerConn) close() {
	pc.once.Do(func() {
		close(pc.out)
		pc.ws.Close()
	})
}

func (h *Hub) register(pc *peerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return
	}
	if old, ok := h.conns[pc.peerID]; ok && old != pc {
		go old.close()
	}
	h.conns[pc.peerID] = pc
}

func (h *Hub) unregister(pc *peerConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.conns[pc.peerID]; ok && cur == pc {
		delete(h.conns, pc.peerID)
	}
}

// run owns one connection: a writer goroutine drains the outbound queue
// while the read loop decodes envelopes onto the inbound channel.
func (h *Hub) run(pc *peerConn) {
	go func() {
		for data := range pc.out {
			if err := pc.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("write failed", zap.String("peer", pc.peerID), zap.Error(err))
				return
			}
		}
	}()

	defer func() {
		h.unregister(pc)
		pc.close()
	}()

	for {
		_, data, err := pc.ws.ReadMessage()
		if err != nil {
			h.log.Debug("connection closed", zap.String("peer", pc.peerID), zap.Error(err))
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			h.log.Warn("discarding malformed message", zap.Error(err))
			continue
		}
		if msg.Sender == h.localID {
			continue
		}

		// Inbound connections identify themselves with their first message.
		if pc.peerID == "" {
			pc.peerID = msg.Sender
			h.register(pc)
		}

		h.inbound <- msg
	}
}
