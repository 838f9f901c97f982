// Package httpapi serves the engine over HTTP for clients that cannot
// hold a socket open. Server-initiated messages queue per client and
// are drained by polling.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/playcapsa/capsa-server/internal/protocol"
	"github.com/playcapsa/capsa-server/internal/session"
	"github.com/playcapsa/capsa-server/internal/sessionid"
)

const (
	// queueLimit bounds a client's pending messages; the oldest are
	// dropped first, a GET_GAME_STATE recovers the full snapshot.
	queueLimit = 128

	sweepInterval = 30 * time.Second
)

// pollClient is one polling client's outbound queue
type pollClient struct {
	mu       sync.Mutex
	queue    []*protocol.Message
	lastSeen time.Time
}

func (p *pollClient) enqueue(msg *protocol.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) >= queueLimit {
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, msg)
}

func (p *pollClient) drain() []*protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.queue
	p.queue = nil
	p.lastSeen = time.Now()
	return msgs
}

// Server exposes the engine over a polling HTTP API
type Server struct {
	addr        string
	manager     *session.Manager
	logger      *log.Logger
	idleTimeout time.Duration

	mu      sync.Mutex
	clients map[string]*pollClient

	httpServer *http.Server
}

// NewServer creates an HTTP polling server on addr
func NewServer(addr string, manager *session.Manager, idleTimeout time.Duration, logger *log.Logger) *Server {
	return &Server{
		addr:        addr,
		manager:     manager,
		logger:      logger.WithPrefix("http"),
		idleTimeout: idleTimeout,
		clients:     make(map[string]*pollClient),
	}
}

// Run serves until ctx is canceled
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/connect", s.handleConnect)
	mux.HandleFunc("/api/command", s.handleCommand)
	mux.HandleFunc("/api/poll", s.handlePoll)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	go s.sweepLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		_ = s.httpServer.Close()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// handleConnect allocates a client identifier and registers its queue
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientID := sessionid.New()
	pc := &pollClient{lastSeen: time.Now()}

	s.mu.Lock()
	s.clients[clientID] = pc
	s.mu.Unlock()

	s.manager.RegisterConnection(clientID, pc.enqueue)
	s.logger.Info("client connected", "client", clientID)

	writeJSON(w, http.StatusOK, map[string]string{"clientId": clientID})
}

type commandRequest struct {
	ClientID string           `json:"clientId"`
	Message  protocol.Message `json:"message"`
}

// handleCommand dispatches one command and returns the direct reply
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if s.client(req.ClientID) == nil {
		http.Error(w, "unknown client", http.StatusNotFound)
		return
	}

	reply := s.manager.HandleCommand(r.Context(), req.ClientID, &req.Message)
	if reply == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// handlePoll drains the client's pending messages
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	pc := s.client(clientID)
	if pc == nil {
		http.Error(w, "unknown client", http.StatusNotFound)
		return
	}

	s.manager.Touch(clientID)
	msgs := pc.drain()
	if msgs == nil {
		msgs = []*protocol.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) client(id string) *pollClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[id]
}

// sweepLoop drops clients that stopped polling
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.idleTimeout)

			s.mu.Lock()
			var stale []string
			for id, pc := range s.clients {
				pc.mu.Lock()
				if pc.lastSeen.Before(cutoff) {
					stale = append(stale, id)
				}
				pc.mu.Unlock()
			}
			for _, id := range stale {
				delete(s.clients, id)
			}
			s.mu.Unlock()

			for _, id := range stale {
				s.logger.Info("dropping stale polling client", "client", id)
				s.manager.Disconnect(id)
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
