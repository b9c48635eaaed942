package node

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"geosync/internal/clock"
	"geosync/internal/multivector"
	"geosync/internal/session"
)

// PeerSummary is one peer's row in the status API.
type PeerSummary struct {
	ID       string  `json:"id"`
	Addr     string  `json:"addr"`
	State    string  `json:"state"`
	LastSeen string  `json:"lastSeen,omitempty"`
	RTTMs    float64 `json:"rttMs,omitempty"`
}

// Snapshot is the status view of a node.
type Snapshot struct {
	NodeID         string                  `json:"nodeId"`
	Value          multivector.Multivector `json:"value"`
	ValueClock     clock.VectorClock       `json:"valueClock"`
	SessionClock   clock.VectorClock       `json:"sessionClock"`
	OperationCount int                     `json:"operationCount"`
	Peers          []PeerSummary           `json:"peers"`
}

// Snapshot captures the node state for the status endpoints.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	peers := e.sess.Peers()
	summaries := make([]PeerSummary, 0, len(peers))
	for _, p := range peers {
		s := PeerSummary{
			ID:    p.Info.ID,
			Addr:  p.Info.Addr,
			State: p.State.String(),
			RTTMs: float64(p.RTTEstimate) / float64(time.Millisecond),
		}
		if !p.LastSeen.IsZero() {
			s.LastSeen = p.LastSeen.Format(time.RFC3339)
		}
		summaries = append(summaries, s)
	}

	return Snapshot{
		NodeID:         e.replica.NodeID(),
		Value:          e.value,
		ValueClock:     e.valueClock.Clone(),
		SessionClock:   e.sess.Clock(),
		OperationCount: e.replica.OperationCount(),
		Peers:          summaries,
	}
}

// ActivePeerCount returns the number of peers in Syncing or Synced state.
func (e *Engine) ActivePeerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, p := range e.sess.Peers() {
		if p.State == session.Syncing || p.State == session.Synced {
			n++
		}
	}
	return n
}

func (s *Server) registerStatusRoutes(r *mux.Router) {
	r.HandleFunc("/status/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status/peers", s.handlePeers).Methods(http.MethodGet)
	r.HandleFunc("/status/clock", s.handleClock).Methods(http.MethodGet)
	r.HandleFunc("/status/state", s.handleState).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if len(s.cfg.Peers) > 0 && s.engine.ActivePeerCount() == 0 {
		status = "degraded"
	}
	writeJSON(w, map[string]string{
		"status": status,
		"nodeId": s.cfg.NodeID,
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.engine.Snapshot().Peers)
}

func (s *Server) handleClock(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Snapshot()
	writeJSON(w, map[string]clock.VectorClock{
		"value":   snap.ValueClock,
		"session": snap.SessionClock,
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.engine.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
