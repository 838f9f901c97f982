package session

import (
	"context"
	"io"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playcapsa/capsa-server/internal/deck"
	"github.com/playcapsa/capsa-server/internal/game"
)

// eventRecorder captures hook invocations for assertions
type eventRecorder struct {
	updates   int
	winner    string
	order     []string
	restarted bool
	destroyed bool
}

func (r *eventRecorder) hooks() hooks {
	return hooks{
		onUpdate: func(*Session) { r.updates++ },
		onFinished: func(_ *Session, winner string, order []string) {
			r.winner = winner
			r.order = order
		},
		onRestarted: func(*Session) { r.restarted = true },
		onDestroyed: func(*Session) { r.destroyed = true },
	}
}

func newBareSession(t *testing.T, rec *eventRecorder) (*Session, *quartz.Mock) {
	t.Helper()
	mock := quartz.NewMock(t)
	logger := log.New(io.Discard)
	rng := rand.New(rand.NewSource(1))
	s := newSession("s1", "table", "alice", mock, rng, logger, DefaultConfig(), rec.hooks())
	return s, mock
}

// setEndgame puts the session one play away from a short, fully
// deterministic finish: seat 0 is human, seats 1-3 are automated.
func setEndgame(s *Session) {
	s.conns["c1"] = 0
	s.status = StatusPlaying
	s.state.Active = true
	s.state.LastPlayerToPlay = game.NoSeat
	s.state.CurrentPlayerIndex = 0
	names := []string{"alice", "AI Bot 2", "AI Bot 3", "AI Bot 4"}
	hands := [][]deck.Card{{51}, {47}, {43}, {39, 38}}
	for i := range s.state.Players {
		s.state.Players[i].Name = names[i]
		s.state.Players[i].Hand = hands[i]
	}
}

func TestAddHumanDedupesNames(t *testing.T) {
	rec := &eventRecorder{}
	s, _ := newBareSession(t, rec)

	seat, name, err := s.AddHuman("c1", "Bob")
	require.NoError(t, err)
	assert.Equal(t, 0, seat)
	assert.Equal(t, "Bob", name)

	seat, name, err = s.AddHuman("c2", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, seat)
	assert.Equal(t, "bob_1", name)

	_, name, err = s.AddHuman("c3", "   ")
	require.NoError(t, err)
	assert.Equal(t, "Player 3", name)
}

func TestAddHumanTruncatesNamesByRune(t *testing.T) {
	rec := &eventRecorder{}
	s, _ := newBareSession(t, rec)

	_, name, err := s.AddHuman("c1", strings.Repeat("é", 25))
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 20), name)
	assert.True(t, utf8.ValidString(name))
}

func TestAddHumanSessionFull(t *testing.T) {
	rec := &eventRecorder{}
	s, _ := newBareSession(t, rec)

	for i, id := range []string{"c1", "c2", "c3", "c4"} {
		seat, _, err := s.AddHuman(id, "p")
		require.NoError(t, err)
		assert.Equal(t, i, seat)
	}

	_, _, err := s.AddHuman("c5", "p")
	assert.ErrorIs(t, err, ErrSessionFull)
}

func TestStartRequiresHumans(t *testing.T) {
	rec := &eventRecorder{}
	s, _ := newBareSession(t, rec)

	assert.ErrorIs(t, s.Start(), ErrNoPlayers)

	_, _, err := s.AddHuman("c1", "alice")
	require.NoError(t, err)
	require.NoError(t, s.Start())
	assert.Equal(t, StatusPlaying, s.Status())

	assert.ErrorIs(t, s.Start(), ErrNotWaiting)
}

func TestStartBackfillsAutomatedSeats(t *testing.T) {
	rec := &eventRecorder{}
	s, _ := newBareSession(t, rec)

	_, _, err := s.AddHuman("c1", "alice")
	require.NoError(t, err)
	require.NoError(t, s.Start())

	snap, ok := s.SnapshotFor("c1")
	require.True(t, ok)
	assert.True(t, snap.GameActive)
	assert.Len(t, snap.MyHand, deck.HandSize)
	assert.Equal(t, "alice", snap.SeatNames[0])
	assert.Equal(t, "AI Bot 2", snap.SeatNames[1])
	assert.Equal(t, "AI Bot 3", snap.SeatNames[2])
	assert.Equal(t, "AI Bot 4", snap.SeatNames[3])

	total := 0
	for _, n := range snap.CardsRemaining {
		total += n
	}
	assert.Equal(t, deck.Size, total)
}

func TestAutomatedSeatsPlayThroughToRestart(t *testing.T) {
	rec := &eventRecorder{}
	s, mock := newBareSession(t, rec)
	setEndgame(s)
	ctx := context.Background()

	// Human leads the unbeatable two of spades and finishes first.
	require.NoError(t, s.Play("c1", []int{51}))

	// Three automated passes reset the round; then the automated seats
	// play out their last cards in order.
	for i := 0; i < 7; i++ {
		mock.Advance(s.botDelay).MustWait(ctx)
	}

	assert.Equal(t, StatusFinished, s.Status())
	assert.Equal(t, "alice", rec.winner)
	assert.Equal(t, []string{"alice", "AI Bot 2", "AI Bot 3", "AI Bot 4"}, rec.order)

	// The post-game timer returns the table to the lobby.
	mock.Advance(s.restartDelay).MustWait(ctx)
	assert.Equal(t, StatusWaiting, s.Status())
	assert.True(t, rec.restarted)

	snap, ok := s.SnapshotFor("c1")
	require.True(t, ok)
	assert.False(t, snap.GameActive)
	assert.Empty(t, snap.MyHand)
	assert.Equal(t, "alice", snap.SeatNames[0])
}

func TestStaleBotTimerIsNoop(t *testing.T) {
	rec := &eventRecorder{}
	s, mock := newBareSession(t, rec)
	setEndgame(s)
	ctx := context.Background()

	// Human plays; the automated timer for seat 1 is armed.
	require.NoError(t, s.Play("c1", []int{51}))

	// A human claims seat 1 before the timer fires.
	seat, _, err := s.AddHuman("c2", "eve")
	require.NoError(t, err)
	require.Equal(t, 1, seat)

	mock.Advance(s.botDelay).MustWait(ctx)

	// The timer found its seat occupied and did nothing.
	snap, ok := s.SnapshotFor("c2")
	require.True(t, ok)
	assert.Equal(t, 1, snap.CurrentPlayerIndex)
	assert.Len(t, snap.MyHand, 1)
	assert.Empty(t, snap.PassedSeats)
}

func TestRemoveConnHandsSeatToAutomation(t *testing.T) {
	rec := &eventRecorder{}
	s, _ := newBareSession(t, rec)

	_, _, err := s.AddHuman("c1", "alice")
	require.NoError(t, err)
	_, _, err = s.AddHuman("c2", "bob")
	require.NoError(t, err)

	seat, empty := s.RemoveConn("c2")
	assert.Equal(t, 1, seat)
	assert.False(t, empty)

	snap, ok := s.SnapshotFor("c1")
	require.True(t, ok)
	assert.Equal(t, "AI Bot 2", snap.SeatNames[1])

	seat, empty = s.RemoveConn("c1")
	assert.Equal(t, 0, seat)
	assert.True(t, empty)
}
