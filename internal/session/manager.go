package session

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/playcapsa/capsa-server/internal/directory"
	"github.com/playcapsa/capsa-server/internal/game"
	"github.com/playcapsa/capsa-server/internal/protocol"
	"github.com/playcapsa/capsa-server/internal/rules"
	"github.com/playcapsa/capsa-server/internal/sessionid"
)

// Config carries the timing knobs for sessions and their manager
type Config struct {
	// BotDelay is the pause before an automated player acts
	BotDelay time.Duration

	// RestartDelay is the pause between game end and auto-restart
	RestartDelay time.Duration

	// IdleTimeout evicts connections with no activity for this long
	IdleTimeout time.Duration

	// FinishedTTL bounds a finished session's directory entry lifetime
	FinishedTTL time.Duration
}

// DefaultConfig mirrors the production timing defaults
func DefaultConfig() Config {
	return Config{
		BotDelay:     2 * time.Second,
		RestartDelay: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
		FinishedTTL:  time.Hour,
	}
}

// PushFunc delivers a server-initiated message to one connection.
// Implementations must not block; slow consumers buffer or drop.
type PushFunc func(*protocol.Message)

// binding tracks which session and seat a connection occupies
type binding struct {
	sessionID    string
	seat         int
	name         string
	lastActivity time.Time
}

// Manager owns every session in this process and routes connection
// commands to them. All transports share one Manager.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	bindings map[string]*binding
	pushers  map[string]PushFunc

	dir    directory.Directory
	clock  quartz.Clock
	rng    *rand.Rand
	logger *log.Logger
	cfg    Config
}

// NewManager builds a Manager over the given directory. Pass a
// directory.Noop for single-process deployments.
func NewManager(dir directory.Directory, clock quartz.Clock, logger *log.Logger, cfg Config) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		bindings: make(map[string]*binding),
		pushers:  make(map[string]PushFunc),
		dir:      dir,
		clock:    clock,
		rng:      rand.New(rand.NewSource(clock.Now().UnixNano())),
		logger:   logger.WithPrefix("manager"),
		cfg:      cfg,
	}
}

// RegisterConnection binds a push channel to a connection identifier.
// Transports call this once per accepted connection.
func (m *Manager) RegisterConnection(connID string, push PushFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushers[connID] = push
}

// Touch refreshes a connection's idle deadline
func (m *Manager) Touch(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bindings[connID]; ok {
		b.lastActivity = m.clock.Now()
	}
}

// HandleCommand parses and dispatches one client message, returning the
// direct reply. Commands whose effects are announced by broadcast
// return nil on success.
func (m *Manager) HandleCommand(ctx context.Context, connID string, msg *protocol.Message) *protocol.Message {
	m.Touch(connID)

	var reply *protocol.Message
	var err error

	switch msg.Type {
	case protocol.TypeCreateSession:
		var data protocol.CreateSessionData
		if err = json.Unmarshal(msg.Data, &data); err == nil {
			reply, err = m.CreateSession(ctx, connID, data.SessionName, data.CreatorName)
		}
	case protocol.TypeJoinSession:
		var data protocol.JoinSessionData
		if err = json.Unmarshal(msg.Data, &data); err == nil {
			reply, err = m.JoinSession(ctx, connID, data.SessionID, data.PlayerName)
		}
	case protocol.TypeListSessions:
		reply, err = m.ListSessions(ctx)
	case protocol.TypeStartGame:
		err = m.StartGame(ctx, connID)
	case protocol.TypePlayCards:
		var data protocol.PlayCardsData
		if err = json.Unmarshal(msg.Data, &data); err == nil {
			err = m.PlayCards(connID, data.Cards)
		}
	case protocol.TypePassTurn:
		err = m.PassTurn(connID)
	case protocol.TypeGetGameState:
		reply, err = m.GameState(connID)
	default:
		err = errors.New("unknown message type: " + string(msg.Type))
	}

	if err != nil {
		return errorMessage(err)
	}
	return reply
}

// errorMessage converts an engine error into an ERROR envelope,
// carrying the rule violation code when there is one.
func errorMessage(err error) *protocol.Message {
	data := protocol.ErrorData{Message: err.Error()}
	var v *rules.Violation
	if errors.As(err, &v) {
		data.Code = string(v.Code)
	}
	msg, marshalErr := protocol.NewMessage(protocol.TypeError, data)
	if marshalErr != nil {
		msg, _ = protocol.NewMessage(protocol.TypeError, protocol.ErrorData{Message: "internal error"})
	}
	return msg
}

// CreateSession creates a session and seats its creator. A connection
// already seated elsewhere leaves that session first.
func (m *Manager) CreateSession(ctx context.Context, connID, sessionName, creatorName string) (*protocol.Message, error) {
	m.leaveSession(connID)

	id := sessionid.New()

	h := hooks{
		onUpdate:    m.broadcastState,
		onFinished:  m.sessionFinished,
		onRestarted: m.sessionRestarted,
		onDestroyed: m.sessionDestroyed,
	}

	m.mu.Lock()
	// Each session gets its own rng: deals happen under the session
	// lock, not the manager's.
	rng := rand.New(rand.NewSource(m.rng.Int63()))
	s := newSession(id, sessionName, creatorName, m.clock, rng, m.logger, m.cfg, h)
	m.sessions[id] = s
	m.mu.Unlock()

	seat, finalName, err := s.AddHuman(connID, creatorName)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, err
	}
	m.bind(connID, id, seat, finalName)

	if m.dir.Enabled() {
		if err := m.dir.Publish(ctx, s.Entry()); err != nil {
			m.logger.Warn("failed to publish session to directory", "session", id, "error", err)
		}
	}

	m.logger.Info("session created", "session", id, "name", sessionName, "creator", finalName)
	return protocol.NewMessage(protocol.TypeSessionJoined, protocol.SessionJoinedData{
		SessionID:   id,
		SessionName: sessionName,
		PlayerIndex: seat,
		PlayerName:  finalName,
	})
}

// JoinSession seats a connection in an existing session. With a shared
// directory the seat is also claimed globally; losing that optimistic
// claim rolls the local join back. A connection already seated
// elsewhere leaves that session first.
func (m *Manager) JoinSession(ctx context.Context, connID, sessionID, playerName string) (*protocol.Message, error) {
	m.leaveSession(connID)

	s, err := m.session(sessionID)
	if err != nil {
		return nil, err
	}

	seat, finalName, err := s.AddHuman(connID, playerName)
	if err != nil {
		return nil, err
	}

	if m.dir.Enabled() {
		if err := m.dir.ClaimSeat(ctx, sessionID, seat, finalName); err != nil {
			if errors.Is(err, directory.ErrSeatConflict) {
				s.RemoveConn(connID)
				return nil, ErrJoinConflict
			}
			// The directory mirror is best-effort: a transient failure
			// does not unseat a locally valid join.
			m.logger.Warn("directory seat claim failed", "session", sessionID, "error", err)
		}
	}
	m.bind(connID, sessionID, seat, finalName)

	m.notifyOthers(s, connID, protocol.TypePlayerJoined, protocol.PlayerJoinedData{
		PlayerName:  finalName,
		PlayerIndex: seat,
		Message:     finalName + " joined the session",
	})

	return protocol.NewMessage(protocol.TypeSessionJoined, protocol.SessionJoinedData{
		SessionID:   sessionID,
		SessionName: s.Name,
		PlayerIndex: seat,
		PlayerName:  finalName,
	})
}

// ListSessions returns the session menu: the shared directory's view
// when one is configured, otherwise this process's own sessions.
func (m *Manager) ListSessions(ctx context.Context) (*protocol.Message, error) {
	var summaries []protocol.SessionSummary

	if m.dir.Enabled() {
		entries, err := m.dir.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			summaries = append(summaries, protocol.SessionSummary{
				SessionID:   e.SessionID,
				SessionName: e.SessionName,
				CreatorName: e.CreatorName,
				CreatedAt:   e.CreatedAt.Format("2006-01-02 15:04:05"),
				PlayerCount: e.PlayerCount,
				Status:      e.Status,
			})
		}
	} else {
		m.mu.Lock()
		sessions := make([]*Session, 0, len(m.sessions))
		for _, s := range m.sessions {
			sessions = append(sessions, s)
		}
		m.mu.Unlock()
		for _, s := range sessions {
			summaries = append(summaries, s.Summary())
		}
	}

	// Session identifiers are time-ordered, so this sorts by creation.
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].SessionID < summaries[j].SessionID
	})

	return protocol.NewMessage(protocol.TypeSessionMenu, protocol.SessionMenuData{Sessions: summaries})
}

// StartGame starts the caller's session
func (m *Manager) StartGame(ctx context.Context, connID string) error {
	s, err := m.sessionFor(connID)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}

	if m.dir.Enabled() {
		// Automated players backfilled the empty seats; mirror the
		// final seat names alongside the status change.
		entry := s.Entry()
		if err := m.dir.SetStatus(ctx, s.ID, entry.Status); err != nil {
			m.logger.Warn("failed to mirror game start", "session", s.ID, "error", err)
		}
		if err := m.dir.SetSeatNames(ctx, s.ID, entry.SeatNames); err != nil {
			m.logger.Warn("failed to mirror seat names", "session", s.ID, "error", err)
		}
	}
	return nil
}

// PlayCards plays the given card numbers for the caller
func (m *Manager) PlayCards(connID string, cards []int) error {
	s, err := m.sessionFor(connID)
	if err != nil {
		return err
	}
	return s.Play(connID, cards)
}

// PassTurn passes the caller's turn
func (m *Manager) PassTurn(connID string) error {
	s, err := m.sessionFor(connID)
	if err != nil {
		return err
	}
	return s.Pass(connID)
}

// GameState returns the caller's current snapshot on demand
func (m *Manager) GameState(connID string) (*protocol.Message, error) {
	s, err := m.sessionFor(connID)
	if err != nil {
		return nil, err
	}
	snap, ok := s.SnapshotFor(connID)
	if !ok {
		return nil, ErrNotInSession
	}
	return protocol.NewMessage(protocol.TypeGameUpdate, snap)
}

// Disconnect tears down a connection: its seat is handed to an
// automated player, or the session is destroyed if it was the last
// human.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	delete(m.pushers, connID)
	m.mu.Unlock()

	m.leaveSession(connID)
}

// leaveSession unbinds a connection from its current session, if any,
// and mirrors the departure to the directory.
func (m *Manager) leaveSession(connID string) {
	m.mu.Lock()
	b := m.bindings[connID]
	delete(m.bindings, connID)
	var s *Session
	if b != nil {
		s = m.sessions[b.sessionID]
	}
	m.mu.Unlock()

	if s == nil {
		return
	}

	seat, empty := s.RemoveConn(connID)
	if empty {
		m.dropSession(s)
		return
	}
	if !m.dir.Enabled() || seat == game.NoSeat {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.Status() == StatusWaiting {
		// Before the deal the seat is genuinely free again.
		if err := m.dir.ReleaseSeat(ctx, s.ID, seat); err != nil {
			m.logger.Warn("failed to release seat", "session", s.ID, "seat", seat, "error", err)
		}
		return
	}
	// Mid-game the seat belongs to an automated player and stays
	// visibly occupied, so re-mirror rather than release.
	if err := m.dir.Publish(ctx, s.Entry()); err != nil {
		m.logger.Warn("failed to mirror disconnect", "session", s.ID, "error", err)
	}
}

// CleanupIdle evicts every connection idle past the configured timeout
func (m *Manager) CleanupIdle() {
	now := m.clock.Now()

	m.mu.Lock()
	var stale []string
	for connID, b := range m.bindings {
		if now.Sub(b.lastActivity) > m.cfg.IdleTimeout {
			stale = append(stale, connID)
		}
	}
	m.mu.Unlock()

	for _, connID := range stale {
		m.logger.Info("evicting idle connection", "conn", connID)
		m.Disconnect(connID)
	}
}

// RunIdleSweeper periodically evicts idle connections until ctx ends
func (m *Manager) RunIdleSweeper(ctx context.Context) error {
	interval := m.cfg.IdleTimeout / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := m.clock.TickerFunc(ctx, interval, func() error {
		m.CleanupIdle()
		return nil
	}, "idle-sweeper")
	err := ticker.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Manager) bind(connID, sessionID string, seat int, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[connID] = &binding{
		sessionID:    sessionID,
		seat:         seat,
		name:         name,
		lastActivity: m.clock.Now(),
	}
}

func (m *Manager) session(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) sessionFor(connID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bindings[connID]
	if !ok {
		return nil, ErrNotInSession
	}
	s, ok := m.sessions[b.sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// broadcastState pushes each seated connection its own snapshot
func (m *Manager) broadcastState(s *Session) {
	snaps := s.Snapshots()

	type delivery struct {
		push PushFunc
		snap protocol.GameUpdateData
	}

	m.mu.Lock()
	deliveries := make([]delivery, 0, len(snaps))
	for connID, snap := range snaps {
		if push, ok := m.pushers[connID]; ok {
			deliveries = append(deliveries, delivery{push, snap})
		}
	}
	m.mu.Unlock()

	for _, d := range deliveries {
		msg, err := protocol.NewMessage(protocol.TypeGameUpdate, d.snap)
		if err != nil {
			m.logger.Error("failed to encode state update", "error", err)
			continue
		}
		d.push(msg)
	}
}

// notifyOthers pushes a message to everyone in the session except one
// connection
func (m *Manager) notifyOthers(s *Session, exceptConnID string, t protocol.MessageType, data interface{}) {
	snaps := s.Snapshots()

	msg, err := protocol.NewMessage(t, data)
	if err != nil {
		m.logger.Error("failed to encode notification", "error", err)
		return
	}

	m.mu.Lock()
	var targets []PushFunc
	for connID := range snaps {
		if connID == exceptConnID {
			continue
		}
		if push, ok := m.pushers[connID]; ok {
			targets = append(targets, push)
		}
	}
	m.mu.Unlock()

	for _, push := range targets {
		push(msg)
	}
}

func (m *Manager) sessionFinished(s *Session, winner string, order []string) {
	m.notifyOthers(s, "", protocol.TypeGameEnd, protocol.GameEndData{
		Winner:      winner,
		FinishOrder: order,
	})

	if m.dir.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.dir.MarkFinished(ctx, s.ID, m.cfg.FinishedTTL); err != nil {
			m.logger.Warn("failed to mark session finished", "session", s.ID, "error", err)
		}
	}
}

func (m *Manager) sessionRestarted(s *Session) {
	m.notifyOthers(s, "", protocol.TypeGameRestarted, protocol.GameRestartedData{
		Message: "New game starting, waiting for players",
	})

	if m.dir.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.dir.Reactivate(ctx, s.ID); err != nil {
			m.logger.Warn("failed to reactivate session", "session", s.ID, "error", err)
		}
		if err := m.dir.Publish(ctx, s.Entry()); err != nil {
			m.logger.Warn("failed to re-mirror session", "session", s.ID, "error", err)
		}
	}
}

func (m *Manager) sessionDestroyed(s *Session) {
	m.dropSession(s)
}

// dropSession removes a dead session from the registry and directory
func (m *Manager) dropSession(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	if m.dir.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.dir.Remove(ctx, s.ID); err != nil {
			m.logger.Warn("failed to remove session from directory", "session", s.ID, "error", err)
		}
	}
	m.logger.Info("session destroyed", "session", s.ID)
}
