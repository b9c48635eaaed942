package node

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"geosync/internal/config"
	"geosync/internal/session"
	"geosync/internal/transport"
)

// dialRetryInterval is how often disconnected static peers are redialed.
const dialRetryInterval = 2 * time.Second

// Server runs one node: the WebSocket mesh, the driver engine, the status
// API, and the timer loops.
type Server struct {
	cfg    *config.Config
	log    *zap.Logger
	hub    *transport.Hub
	engine *Engine
	http   *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer wires a node from its configuration.
func NewServer(cfg *config.Config, log *zap.Logger) *Server {
	hub := transport.NewHub(cfg.NodeID, log)
	local := session.PeerInfo{
		ID:              cfg.NodeID,
		Addr:            cfg.ListenAddr,
		ProtocolVersion: cfg.ProtocolVersion,
	}
	engine := NewEngine(local, cfg.SessionConfig(), hub, log)

	for _, p := range cfg.Peers {
		if p.ID == cfg.NodeID {
			continue
		}
		engine.RegisterPeer(session.PeerInfo{
			ID:              p.ID,
			Addr:            p.Addr,
			ProtocolVersion: cfg.ProtocolVersion,
		})
	}

	s := &Server{
		cfg:    cfg,
		log:    log,
		hub:    hub,
		engine: engine,
	}

	r := mux.NewRouter()
	r.HandleFunc("/sync", hub.Handler())
	s.registerStatusRoutes(r)
	s.http = &http.Server{Addr: cfg.ListenAddr, Handler: r}
	return s
}

// Engine exposes the driver, mainly for embedding and tests.
func (s *Server) Engine() *Engine {
	return s.engine
}

// Start brings the node up: listener, inbound loop, dial loop, and the
// heartbeat/staleness tickers.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("listener failed", zap.Error(err))
		}
	}()

	s.wg.Add(1)
	go s.consumeLoop(ctx)

	s.wg.Add(1)
	go s.dialLoop(ctx)

	s.wg.Add(1)
	go s.tickLoop(ctx)

	s.log.Info("node started",
		zap.String("node", s.cfg.NodeID),
		zap.String("listen", s.cfg.ListenAddr),
		zap.Int("peers", len(s.cfg.Peers)))
	return nil
}

// Stop says goodbye to peers and tears the node down.
func (s *Server) Stop(ctx context.Context) {
	s.engine.Goodbye("shutdown")
	if s.cancel != nil {
		s.cancel()
	}
	_ = s.http.Shutdown(ctx)
	s.hub.Close()
	s.wg.Wait()
}

func (s *Server) consumeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.hub.Inbound():
			if err := s.engine.HandleMessage(msg); err != nil {
				s.log.Warn("message rejected",
					zap.String("sender", msg.Sender),
					zap.Error(err))
			}
		}
	}
}

// dialLoop keeps connections to the static peers alive, re-greeting on
// every fresh connection.
func (s *Server) dialLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(dialRetryInterval)
	defer ticker.Stop()

	dial := func() {
		for _, p := range s.cfg.Peers {
			if p.ID == s.cfg.NodeID || s.hub.Connected(p.ID) {
				continue
			}
			dialCtx, cancel := context.WithTimeout(ctx, dialRetryInterval)
			err := s.hub.Dial(dialCtx, p.ID, p.Addr)
			cancel()
			if err != nil {
				s.log.Debug("dial failed", zap.String("peer", p.ID), zap.Error(err))
				continue
			}
			s.engine.Hello(p.ID)
		}
	}

	dial()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dial()
		}
	}
}

func (s *Server) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval / 2)
	stale := time.NewTicker(s.cfg.PeerTimeout / 2)
	defer heartbeat.Stop()
	defer stale.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			s.engine.HeartbeatTick()
		case <-stale.C:
			s.engine.StaleTick()
		}
	}
}
