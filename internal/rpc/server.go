package rpc

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kumandra/kumandra-node/internal/archiver"
	"github.com/kumandra/kumandra-node/internal/metrics"
	"github.com/kumandra/kumandra-node/internal/notification"
	"github.com/kumandra/kumandra-node/internal/runtime"
	"github.com/kumandra/kumandra-node/internal/slotworker"
)

func errUnknownMethod(method string) error {
	return fmt.Errorf("rpc: unknown method %q", method)
}

var errRateLimited = fmt.Errorf("rpc: request rate limit exceeded")

// BestBlockSource is the subset of slotworker.BestBlockSource the RPC
// server needs to answer kumandra_getFarmerMetadata at the chain tip.
type BestBlockSource = slotworker.BestBlockSource

// Server is the farmer-facing WebSocket JSON-RPC endpoint. One Server
// backs every farmer connection; each connection gets its own session
// with independent subscriptions and one-shot submission routing.
type Server struct {
	rt   runtime.Runtime
	best BestBlockSource

	newSlotStream  notification.Stream[slotworker.NewSlotNotification]
	rewardStream   notification.Stream[slotworker.RewardSigningNotification]
	archivedStream notification.Stream[archiver.ArchivedSegmentNotification]

	upgrader websocket.Upgrader
	logger   *zap.Logger

	httpServer *http.Server
}

// NewServer constructs a farmer RPC server bound to the given chain
// queries and notification streams.
func NewServer(
	rt runtime.Runtime,
	best BestBlockSource,
	newSlotStream notification.Stream[slotworker.NewSlotNotification],
	rewardStream notification.Stream[slotworker.RewardSigningNotification],
	archivedStream notification.Stream[archiver.ArchivedSegmentNotification],
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		rt:             rt,
		best:           best,
		newSlotStream:  newSlotStream,
		rewardStream:   rewardStream,
		archivedStream: archivedStream,
		upgrader:       websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		logger:         logger,
	}
}

// Handler returns the HTTP handler that upgrades every request to a
// farmer WebSocket session, for tests and for embedding in a larger mux.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWebSocket)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	metrics.FarmerConnections.Inc()
	defer metrics.FarmerConnections.Dec()

	sess := newSession(conn, s, s.logger)
	sess.run()
}

// ListenAndServe starts the HTTP server handling WebSocket upgrades at
// addr, blocking until it stops or errors.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWebSocket)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	s.logger.Info("farmer rpc listening", zap.String("addr", addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts down the HTTP server.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}
