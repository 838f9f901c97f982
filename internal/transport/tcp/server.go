// Package tcp serves the engine over plain TCP with newline-delimited
// JSON envelopes, the same envelope the other transports carry.
package tcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/playcapsa/capsa-server/internal/protocol"
	"github.com/playcapsa/capsa-server/internal/session"
	"github.com/playcapsa/capsa-server/internal/sessionid"
)

const (
	// maxLineBytes bounds a single client line
	maxLineBytes = 64 * 1024

	writeTimeout = 10 * time.Second
)

// Server accepts TCP clients and bridges them to the session manager
type Server struct {
	addr    string
	manager *session.Manager
	logger  *log.Logger

	mu    sync.Mutex
	conns map[*client]bool
}

// NewServer creates a TCP server on addr
func NewServer(addr string, manager *session.Manager, logger *log.Logger) *Server {
	return &Server{
		addr:    addr,
		manager: manager,
		logger:  logger.WithPrefix("tcp"),
		conns:   make(map[*client]bool),
	}
}

// Run accepts connections until ctx is canceled
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.logger.Info("listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		_ = listener.Close()
		s.closeAll()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		go s.serve(ctx, conn)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.close()
	}
}

// client is one TCP connection with a buffered outbound queue drained
// by a dedicated writer goroutine.
type client struct {
	id        string
	conn      net.Conn
	send      chan *protocol.Message
	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) push(msg *protocol.Message) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	default:
		// Slow consumer: drop the connection rather than block the
		// engine.
		c.close()
		return false
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	c := &client{
		id:   sessionid.New(),
		conn: conn,
		send: make(chan *protocol.Message, 64),
		done: make(chan struct{}),
	}
	logger := s.logger.With("conn", c.id, "remote", conn.RemoteAddr().String())

	s.mu.Lock()
	s.conns[c] = true
	s.mu.Unlock()
	logger.Info("client connected")

	s.manager.RegisterConnection(c.id, func(msg *protocol.Message) {
		c.push(msg)
	})

	go s.writeLoop(c, logger)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Debug("malformed message", "error", err)
			errMsg, _ := protocol.NewMessage(protocol.TypeError, protocol.ErrorData{
				Message: "malformed message: " + err.Error(),
			})
			c.push(errMsg)
			continue
		}

		if reply := s.manager.HandleCommand(ctx, c.id, &msg); reply != nil {
			c.push(reply)
		}
	}

	c.close()
	s.manager.Disconnect(c.id)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	logger.Info("client disconnected")
}

func (s *Server) writeLoop(c *client, logger *log.Logger) {
	encoder := json.NewEncoder(c.conn)
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := encoder.Encode(msg); err != nil {
				logger.Debug("write failed", "error", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
