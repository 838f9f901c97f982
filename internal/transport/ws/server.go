// Package ws serves the engine over WebSocket, one envelope per frame.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/playcapsa/capsa-server/internal/session"
	"github.com/playcapsa/capsa-server/internal/sessionid"
)

// Server accepts WebSocket clients and bridges them to the session
// manager
type Server struct {
	addr        string
	upgrader    websocket.Upgrader
	manager     *session.Manager
	connections map[*Connection]bool
	logger      *log.Logger
	mu          sync.Mutex
	httpServer  *http.Server
}

// NewServer creates a WebSocket server on addr
func NewServer(addr string, manager *session.Manager, logger *log.Logger) *Server {
	return &Server{
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// For development, allow all origins
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		manager:     manager,
		connections: make(map[*Connection]bool),
		logger:      logger.WithPrefix("ws"),
	}
}

// Run serves until ctx is canceled
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = s.httpServer.Close()
		s.closeAll()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.connections {
		_ = conn.Close()
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	client := newConnection(sessionid.New(), conn, s.manager, s.logger)

	s.mu.Lock()
	s.connections[client] = true
	total := len(s.connections)
	s.mu.Unlock()
	s.logger.Info("client connected", "total", total)

	client.Start()

	go func() {
		<-client.ctx.Done()

		s.mu.Lock()
		delete(s.connections, client)
		total := len(s.connections)
		s.mu.Unlock()

		s.manager.Disconnect(client.id)
		s.logger.Info("client disconnected", "total", total)
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "OK")
}
