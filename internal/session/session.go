// Package session implements tables and the registry that owns them.
// A Session is one table: four seats filled by human connections or
// automated players, the game state machine, and the timers that drive
// automated turns and the post-game restart. Every mutating operation
// runs under the session's lock; timer callbacks re-validate their
// preconditions under that same lock so a stale timer is a no-op.
package session

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/playcapsa/capsa-server/internal/deck"
	"github.com/playcapsa/capsa-server/internal/directory"
	"github.com/playcapsa/capsa-server/internal/game"
	"github.com/playcapsa/capsa-server/internal/protocol"
	"github.com/playcapsa/capsa-server/internal/rules"
)

// Status is a session's lifecycle stage
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

var botNames = [game.Seats]string{"AI Bot 1", "AI Bot 2", "AI Bot 3", "AI Bot 4"}

// hooks are the manager-side callbacks fired after a session mutation,
// always outside the session lock.
type hooks struct {
	onUpdate    func(*Session)
	onFinished  func(s *Session, winner string, order []string)
	onRestarted func(*Session)
	onDestroyed func(*Session)
}

// Session is one table and the single owner of its game state
type Session struct {
	ID          string
	Name        string
	CreatorName string
	CreatedAt   time.Time

	mu     sync.Mutex
	status Status
	closed bool
	state  *game.State
	conns  map[string]int // connectionID -> seat index

	clock        quartz.Clock
	rng          *rand.Rand
	logger       *log.Logger
	botDelay     time.Duration
	restartDelay time.Duration
	hooks        hooks
}

func newSession(id, name, creator string, clock quartz.Clock, rng *rand.Rand, logger *log.Logger, cfg Config, h hooks) *Session {
	return &Session{
		ID:           id,
		Name:         name,
		CreatorName:  creator,
		CreatedAt:    clock.Now(),
		status:       StatusWaiting,
		state:        game.NewState(),
		conns:        make(map[string]int),
		clock:        clock,
		rng:          rng,
		logger:       logger.WithPrefix("session").With("id", id),
		botDelay:     cfg.BotDelay,
		restartDelay: cfg.RestartDelay,
		hooks:        h,
	}
}

// Status returns the session's lifecycle stage
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AddHuman seats a connection at the lowest free seat, deduplicating
// the display name against already-seated players.
func (s *Session) AddHuman(connID, name string) (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return game.NoSeat, "", ErrSessionNotFound
	}

	seat := game.NoSeat
	for i := 0; i < game.Seats; i++ {
		if !s.seatOwnedLocked(i) {
			seat = i
			break
		}
	}
	if seat == game.NoSeat {
		return game.NoSeat, "", ErrSessionFull
	}

	finalName := s.dedupeNameLocked(name, seat)
	s.conns[connID] = seat
	s.state.Players[seat].Name = finalName

	s.logger.Info("player seated", "player", finalName, "seat", seat, "players", len(s.conns))
	return seat, finalName, nil
}

func (s *Session) dedupeNameLocked(name string, seat int) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("Player %d", seat+1)
	}
	// Truncate by runes so a multi-byte name stays valid UTF-8.
	if runes := []rune(name); len(runes) > 20 {
		name = string(runes[:20])
	}

	taken := func(candidate string) bool {
		for _, otherSeat := range s.conns {
			if strings.EqualFold(s.state.Players[otherSeat].Name, candidate) {
				return true
			}
		}
		return false
	}

	finalName := name
	for i := 1; taken(finalName); i++ {
		finalName = fmt.Sprintf("%s_%d", name, i)
	}
	return finalName
}

// seatOwnedLocked reports whether a live connection occupies the seat
func (s *Session) seatOwnedLocked(seat int) bool {
	for _, occupied := range s.conns {
		if occupied == seat {
			return true
		}
	}
	return false
}

// RemoveConn unbinds a connection, relabeling its seat to an automated
// player so any in-progress hand keeps playing. Returns the vacated
// seat and whether the session is now empty (and thus closed).
func (s *Session) RemoveConn(connID string) (int, bool) {
	s.mu.Lock()

	seat, ok := s.conns[connID]
	if !ok {
		s.mu.Unlock()
		return game.NoSeat, false
	}
	delete(s.conns, connID)
	s.state.Players[seat].Name = botNames[seat]

	if len(s.conns) == 0 {
		s.closed = true
		s.mu.Unlock()
		s.logger.Info("session empty, destroying")
		return seat, true
	}

	// The departed human may have been the acting seat.
	if s.status == StatusPlaying && s.state.Active && s.state.CurrentPlayerIndex == seat {
		s.armBotLocked()
	}
	s.mu.Unlock()

	s.logger.Info("player left, seat automated", "seat", seat, "bot", botNames[seat])
	s.hooks.onUpdate(s)
	return seat, false
}

// Start backfills empty seats with automated players, deals, and hands
// the first turn to the opening-card holder.
func (s *Session) Start() error {
	s.mu.Lock()

	if s.status != StatusWaiting {
		s.mu.Unlock()
		return ErrNotWaiting
	}
	if len(s.conns) == 0 {
		s.mu.Unlock()
		return ErrNoPlayers
	}

	names := [game.Seats]string{}
	for _, seat := range s.conns {
		names[seat] = s.state.Players[seat].Name
	}
	s.state.StartRound(s.rng)
	for i := 0; i < game.Seats; i++ {
		if names[i] != "" {
			s.state.Players[i].Name = names[i]
		} else {
			s.state.Players[i].Name = botNames[i]
		}
	}
	s.status = StatusPlaying

	s.logger.Info("game started",
		"players", s.seatNamesLocked(),
		"first", s.state.CurrentPlayerIndex)

	events := s.postMutateLocked()
	s.mu.Unlock()
	s.fire(events)
	return nil
}

// Play applies a human play of the given card numbers
func (s *Session) Play(connID string, numbers []int) error {
	s.mu.Lock()

	seat, ok := s.conns[connID]
	if !ok {
		s.mu.Unlock()
		return ErrNotInSession
	}
	if s.status != StatusPlaying {
		s.mu.Unlock()
		return ErrGameNotStarted
	}

	cards := make([]deck.Card, 0, len(numbers))
	seen := make(map[deck.Card]bool, len(numbers))
	for _, n := range numbers {
		c := deck.Card(n)
		if !c.Valid() || seen[c] {
			s.mu.Unlock()
			return game.ErrCardsNotHeld
		}
		seen[c] = true
		cards = append(cards, c)
	}
	deck.Sort(cards)

	if err := s.state.ApplyPlay(seat, cards); err != nil {
		s.mu.Unlock()
		return err
	}

	events := s.postMutateLocked()
	s.mu.Unlock()
	s.fire(events)
	return nil
}

// Pass applies a human pass
func (s *Session) Pass(connID string) error {
	s.mu.Lock()

	seat, ok := s.conns[connID]
	if !ok {
		s.mu.Unlock()
		return ErrNotInSession
	}
	if s.status != StatusPlaying {
		s.mu.Unlock()
		return ErrGameNotStarted
	}

	if err := s.state.ApplyPass(seat); err != nil {
		s.mu.Unlock()
		return err
	}

	events := s.postMutateLocked()
	s.mu.Unlock()
	s.fire(events)
	return nil
}

// mutationEvents records what a completed mutation should announce
type mutationEvents struct {
	finished bool
	winner   string
	order    []string
}

// postMutateLocked advances session lifecycle after a successful state
// mutation: marks the session finished and arms the restart timer when
// the game ended, or arms the automated-player timer when the new
// acting seat has no live connection.
func (s *Session) postMutateLocked() mutationEvents {
	var events mutationEvents

	if s.status == StatusPlaying && s.state.Finished() {
		s.status = StatusFinished
		events.finished = true
		events.winner = s.state.FinishOrder[0]
		events.order = append([]string(nil), s.state.FinishOrder...)
		s.clock.AfterFunc(s.restartDelay, s.autoRestart)
		return events
	}

	if s.status == StatusPlaying && s.state.Active && !s.seatOwnedLocked(s.state.CurrentPlayerIndex) {
		s.armBotLocked()
	}
	return events
}

func (s *Session) fire(events mutationEvents) {
	s.hooks.onUpdate(s)
	if events.finished {
		s.logger.Info("game finished", "winner", events.winner)
		s.hooks.onFinished(s, events.winner, events.order)
	}
}

// armBotLocked schedules an automated turn for the current seat. The
// callback re-validates everything when it fires, so a human occupying
// the seat in the meantime simply makes it a no-op.
func (s *Session) armBotLocked() {
	expected := s.state.CurrentPlayerIndex
	s.clock.AfterFunc(s.botDelay, func() {
		s.botTurn(expected)
	})
}

// botTurn plays the automated fallback policy for a seat: the first
// card in hand that is a legal single against the table, else a pass.
func (s *Session) botTurn(expected int) {
	s.mu.Lock()

	if s.closed || s.status != StatusPlaying || !s.state.Active ||
		s.state.CurrentPlayerIndex != expected || s.seatOwnedLocked(expected) {
		s.mu.Unlock()
		return
	}

	player := s.state.Players[expected]
	var chosen []deck.Card
	for _, c := range player.Hand {
		if rules.CheckPlay([]deck.Card{c}, player.Hand, s.state.TableCards) == nil {
			chosen = []deck.Card{c}
			break
		}
	}

	var err error
	if chosen != nil {
		err = s.state.ApplyPlay(expected, chosen)
	} else {
		err = s.state.ApplyPass(expected)
	}
	if err != nil {
		// Should not happen: the move was validated above. Log and let
		// the next mutation re-arm the scheduler.
		s.logger.Error("automated turn rejected", "seat", expected, "error", err)
		s.mu.Unlock()
		return
	}

	events := s.postMutateLocked()
	s.mu.Unlock()

	s.logger.Debug("automated turn", "seat", expected, "played", chosen != nil)
	s.fire(events)
}

// autoRestart fires after the post-game delay: back to waiting with a
// fresh game state if anyone is still connected, otherwise destroyed.
func (s *Session) autoRestart() {
	s.mu.Lock()

	if s.closed || s.status != StatusFinished {
		s.mu.Unlock()
		return
	}

	if len(s.conns) == 0 {
		s.closed = true
		s.mu.Unlock()
		s.logger.Info("no players after game end, destroying")
		s.hooks.onDestroyed(s)
		return
	}

	s.status = StatusWaiting
	s.state.Reset()
	s.mu.Unlock()

	s.logger.Info("session auto-restarted")
	s.hooks.onRestarted(s)
	s.hooks.onUpdate(s)
}

func (s *Session) seatNamesLocked() [game.Seats]string {
	var names [game.Seats]string
	for i, p := range s.state.Players {
		names[i] = p.Name
	}
	return names
}

// SnapshotFor builds the state snapshot from one connection's
// perspective
func (s *Session) SnapshotFor(connID string) (protocol.GameUpdateData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seat, ok := s.conns[connID]
	if !ok {
		return protocol.GameUpdateData{}, false
	}
	return s.snapshotLocked(seat), true
}

// Snapshots builds one snapshot per seated connection
func (s *Session) Snapshots() map[string]protocol.GameUpdateData {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := make(map[string]protocol.GameUpdateData, len(s.conns))
	for connID, seat := range s.conns {
		snaps[connID] = s.snapshotLocked(seat)
	}
	return snaps
}

func (s *Session) snapshotLocked(seat int) protocol.GameUpdateData {
	snap := protocol.GameUpdateData{
		SessionID:          s.ID,
		SessionName:        s.Name,
		CurrentPlayerIndex: s.state.CurrentPlayerIndex,
		CurrentPlayerName:  s.state.Players[s.state.CurrentPlayerIndex].Name,
		SeatNames:          s.seatNamesLocked(),
		MyHand:             protocol.CardsFromDeck(s.state.Players[seat].Hand),
		MyPlayerIndex:      seat,
		TableCards:         protocol.CardsFromDeck(s.state.TableCards),
		CardsRemaining:     s.state.CardCounts(),
		GameActive:         s.state.Active,
		PassedSeats:        s.state.PassedSeats(),
	}
	if len(s.state.FinishOrder) > 0 {
		snap.FinishOrder = append([]string(nil), s.state.FinishOrder...)
		snap.Winner = s.state.FinishOrder[0]
	}
	return snap
}

// Summary exposes the listing metadata for this session
func (s *Session) Summary() protocol.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	return protocol.SessionSummary{
		SessionID:   s.ID,
		SessionName: s.Name,
		CreatorName: s.CreatorName,
		CreatedAt:   s.CreatedAt.Format("2006-01-02 15:04:05"),
		PlayerCount: len(s.conns),
		Status:      string(s.status),
	}
}

// Entry exposes the directory record for this session
func (s *Session) Entry() directory.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return directory.Entry{
		SessionID:   s.ID,
		SessionName: s.Name,
		CreatorName: s.CreatorName,
		CreatedAt:   s.CreatedAt,
		PlayerCount: len(s.conns),
		Status:      string(s.status),
		SeatNames:   s.seatNamesLocked(),
	}
}
