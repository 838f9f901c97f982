package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playcapsa/capsa-server/internal/deck"
	"github.com/playcapsa/capsa-server/internal/directory"
	"github.com/playcapsa/capsa-server/internal/protocol"
)

// pushRecorder collects messages pushed to one connection
type pushRecorder struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (r *pushRecorder) push(msg *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *pushRecorder) countByType(t protocol.MessageType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Type == t {
			n++
		}
	}
	return n
}

// stubDirectory records directory calls and lets tests inject seat
// claim failures
type stubDirectory struct {
	mu        sync.Mutex
	claimErr  error
	releases  []int
	statuses  []string
	seatNames [][4]string
	publishes int
}

func (d *stubDirectory) Enabled() bool { return true }

func (d *stubDirectory) Publish(context.Context, directory.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.publishes++
	return nil
}

func (d *stubDirectory) List(context.Context) ([]directory.Entry, error) { return nil, nil }

func (d *stubDirectory) ClaimSeat(context.Context, string, int, string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.claimErr
}

func (d *stubDirectory) ReleaseSeat(_ context.Context, _ string, seat int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.releases = append(d.releases, seat)
	return nil
}

func (d *stubDirectory) SetStatus(_ context.Context, _ string, status string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, status)
	return nil
}

func (d *stubDirectory) SetSeatNames(_ context.Context, _ string, names [4]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seatNames = append(d.seatNames, names)
	return nil
}

func (d *stubDirectory) MarkFinished(context.Context, string, time.Duration) error { return nil }
func (d *stubDirectory) Reactivate(context.Context, string) error                  { return nil }
func (d *stubDirectory) Remove(context.Context, string) error                      { return nil }

func newTestManager(t *testing.T) (*Manager, *quartz.Mock) {
	t.Helper()
	mock := quartz.NewMock(t)
	m := NewManager(directory.Noop{}, mock, log.New(io.Discard), DefaultConfig())
	return m, mock
}

func joined(t *testing.T, msg *protocol.Message) protocol.SessionJoinedData {
	t.Helper()
	require.Equal(t, protocol.TypeSessionJoined, msg.Type)
	var data protocol.SessionJoinedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	return data
}

func snapshot(t *testing.T, m *Manager, connID string) protocol.GameUpdateData {
	t.Helper()
	msg, err := m.GameState(connID)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeGameUpdate, msg.Type)
	var data protocol.GameUpdateData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	return data
}

func TestCreateSessionSeatsCreator(t *testing.T) {
	m, _ := newTestManager(t)
	rec := &pushRecorder{}
	m.RegisterConnection("c1", rec.push)

	reply, err := m.CreateSession(context.Background(), "c1", "Friday Game", "Alice")
	require.NoError(t, err)

	data := joined(t, reply)
	assert.Equal(t, "Friday Game", data.SessionName)
	assert.Equal(t, 0, data.PlayerIndex)
	assert.Equal(t, "Alice", data.PlayerName)
	assert.NotEmpty(t, data.SessionID)
}

func TestStartGameBackfillsAndDeals(t *testing.T) {
	m, _ := newTestManager(t)
	rec := &pushRecorder{}
	m.RegisterConnection("c1", rec.push)
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "c1", "Friday Game", "Alice")
	require.NoError(t, err)
	require.NoError(t, m.StartGame(ctx, "c1"))

	snap := snapshot(t, m, "c1")
	assert.True(t, snap.GameActive)
	assert.Len(t, snap.MyHand, deck.HandSize)
	assert.Equal(t, 0, snap.MyPlayerIndex)
	assert.Equal(t, "Alice", snap.SeatNames[0])
	for i := 1; i < 4; i++ {
		assert.Contains(t, snap.SeatNames[i], "AI Bot")
	}
	assert.GreaterOrEqual(t, snap.CurrentPlayerIndex, 0)
	assert.Less(t, snap.CurrentPlayerIndex, 4)

	// Starting pushes every seated connection a state update.
	assert.Greater(t, rec.countByType(protocol.TypeGameUpdate), 0)
}

func TestOpeningCardLeadsFirstTrick(t *testing.T) {
	m, mock := newTestManager(t)
	rec := &pushRecorder{}
	m.RegisterConnection("c1", rec.push)
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "c1", "g", "Alice")
	require.NoError(t, err)
	require.NoError(t, m.StartGame(ctx, "c1"))

	snap := snapshot(t, m, "c1")
	if snap.CurrentPlayerIndex == snap.MyPlayerIndex {
		// The human drew the opening card and must lead with it.
		err := m.PlayCards("c1", []int{int(deck.OpeningCard)})
		require.NoError(t, err)
	} else {
		// An automated seat drew it; its fallback policy leads the
		// lowest legal single, which the opening rule forces to be the
		// opening card itself.
		mock.Advance(m.cfg.BotDelay).MustWait(ctx)
	}

	snap = snapshot(t, m, "c1")
	require.Len(t, snap.TableCards, 1)
	assert.Equal(t, int(deck.OpeningCard), snap.TableCards[0].Number)

	total := 0
	for _, n := range snap.CardsRemaining {
		total += n
	}
	assert.Equal(t, deck.Size-1, total)
}

func TestPlayBeforeStart(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterConnection("c1", func(*protocol.Message) {})

	_, err := m.CreateSession(context.Background(), "c1", "g", "Alice")
	require.NoError(t, err)

	assert.ErrorIs(t, m.PlayCards("c1", []int{0}), ErrGameNotStarted)
	assert.ErrorIs(t, m.PassTurn("c1"), ErrGameNotStarted)
}

func TestJoinSessionDedupesNames(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterConnection("c1", func(*protocol.Message) {})
	m.RegisterConnection("c2", func(*protocol.Message) {})
	ctx := context.Background()

	reply, err := m.CreateSession(ctx, "c1", "g", "Bob")
	require.NoError(t, err)
	id := joined(t, reply).SessionID

	reply, err = m.JoinSession(ctx, "c2", id, "Bob")
	require.NoError(t, err)
	data := joined(t, reply)
	assert.Equal(t, 1, data.PlayerIndex)
	assert.Equal(t, "Bob_1", data.PlayerName)
}

func TestJoinNotifiesExistingPlayers(t *testing.T) {
	m, _ := newTestManager(t)
	rec := &pushRecorder{}
	m.RegisterConnection("c1", rec.push)
	m.RegisterConnection("c2", func(*protocol.Message) {})
	ctx := context.Background()

	reply, err := m.CreateSession(ctx, "c1", "g", "Alice")
	require.NoError(t, err)
	id := joined(t, reply).SessionID

	_, err = m.JoinSession(ctx, "c2", id, "Bob")
	require.NoError(t, err)

	assert.Equal(t, 1, rec.countByType(protocol.TypePlayerJoined))
}

func TestJoinUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterConnection("c1", func(*protocol.Message) {})

	_, err := m.JoinSession(context.Background(), "c1", "nope", "Alice")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessions(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterConnection("c1", func(*protocol.Message) {})
	ctx := context.Background()

	reply, err := m.ListSessions(ctx)
	require.NoError(t, err)
	var menu protocol.SessionMenuData
	require.NoError(t, json.Unmarshal(reply.Data, &menu))
	assert.Empty(t, menu.Sessions)

	_, err = m.CreateSession(ctx, "c1", "Friday Game", "Alice")
	require.NoError(t, err)

	reply, err = m.ListSessions(ctx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(reply.Data, &menu))
	require.Len(t, menu.Sessions, 1)
	assert.Equal(t, "Friday Game", menu.Sessions[0].SessionName)
	assert.Equal(t, "Alice", menu.Sessions[0].CreatorName)
	assert.Equal(t, 1, menu.Sessions[0].PlayerCount)
	assert.Equal(t, string(StatusWaiting), menu.Sessions[0].Status)
}

func TestDisconnectLastHumanDestroysSession(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterConnection("c1", func(*protocol.Message) {})
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "c1", "g", "Alice")
	require.NoError(t, err)

	m.Disconnect("c1")

	_, err = m.GameState("c1")
	assert.ErrorIs(t, err, ErrNotInSession)

	reply, err := m.ListSessions(ctx)
	require.NoError(t, err)
	var menu protocol.SessionMenuData
	require.NoError(t, json.Unmarshal(reply.Data, &menu))
	assert.Empty(t, menu.Sessions)
}

func TestDisconnectHandsSeatToAutomation(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterConnection("c1", func(*protocol.Message) {})
	m.RegisterConnection("c2", func(*protocol.Message) {})
	ctx := context.Background()

	reply, err := m.CreateSession(ctx, "c1", "g", "Alice")
	require.NoError(t, err)
	id := joined(t, reply).SessionID

	_, err = m.JoinSession(ctx, "c2", id, "Bob")
	require.NoError(t, err)

	m.Disconnect("c2")

	snap := snapshot(t, m, "c1")
	assert.Equal(t, "AI Bot 2", snap.SeatNames[1])
}

func TestJoinSurvivesDirectoryMirrorFailure(t *testing.T) {
	dir := &stubDirectory{claimErr: errors.New("redis: connection refused")}
	m := NewManager(dir, quartz.NewMock(t), log.New(io.Discard), DefaultConfig())
	m.RegisterConnection("c1", func(*protocol.Message) {})
	m.RegisterConnection("c2", func(*protocol.Message) {})
	ctx := context.Background()

	reply, err := m.CreateSession(ctx, "c1", "g", "Alice")
	require.NoError(t, err)
	id := joined(t, reply).SessionID

	// A transient directory failure must not unseat the join.
	reply, err = m.JoinSession(ctx, "c2", id, "Bob")
	require.NoError(t, err)
	assert.Equal(t, 1, joined(t, reply).PlayerIndex)

	snap := snapshot(t, m, "c2")
	assert.Equal(t, 1, snap.MyPlayerIndex)
	assert.Equal(t, "Bob", snap.SeatNames[1])
}

func TestJoinRolledBackOnSeatConflict(t *testing.T) {
	dir := &stubDirectory{claimErr: directory.ErrSeatConflict}
	m := NewManager(dir, quartz.NewMock(t), log.New(io.Discard), DefaultConfig())
	m.RegisterConnection("c1", func(*protocol.Message) {})
	m.RegisterConnection("c2", func(*protocol.Message) {})
	ctx := context.Background()

	reply, err := m.CreateSession(ctx, "c1", "g", "Alice")
	require.NoError(t, err)
	id := joined(t, reply).SessionID

	_, err = m.JoinSession(ctx, "c2", id, "Bob")
	assert.ErrorIs(t, err, ErrJoinConflict)

	_, err = m.GameState("c2")
	assert.ErrorIs(t, err, ErrNotInSession)

	// The local seat was rolled back, so a retry can take it.
	dir.mu.Lock()
	dir.claimErr = nil
	dir.mu.Unlock()
	reply, err = m.JoinSession(ctx, "c2", id, "Bob")
	require.NoError(t, err)
	assert.Equal(t, 1, joined(t, reply).PlayerIndex)
}

func TestStartGameMirrorsStatusAndSeatNames(t *testing.T) {
	dir := &stubDirectory{}
	m := NewManager(dir, quartz.NewMock(t), log.New(io.Discard), DefaultConfig())
	m.RegisterConnection("c1", func(*protocol.Message) {})
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "c1", "g", "Alice")
	require.NoError(t, err)
	require.NoError(t, m.StartGame(ctx, "c1"))

	dir.mu.Lock()
	defer dir.mu.Unlock()
	require.Equal(t, []string{string(StatusPlaying)}, dir.statuses)
	require.Len(t, dir.seatNames, 1)
	assert.Equal(t, "Alice", dir.seatNames[0][0])
	for i := 1; i < 4; i++ {
		assert.Contains(t, dir.seatNames[0][i], "AI Bot")
	}
}

func TestWaitingDisconnectReleasesSeat(t *testing.T) {
	dir := &stubDirectory{}
	m := NewManager(dir, quartz.NewMock(t), log.New(io.Discard), DefaultConfig())
	m.RegisterConnection("c1", func(*protocol.Message) {})
	m.RegisterConnection("c2", func(*protocol.Message) {})
	ctx := context.Background()

	reply, err := m.CreateSession(ctx, "c1", "g", "Alice")
	require.NoError(t, err)
	id := joined(t, reply).SessionID
	_, err = m.JoinSession(ctx, "c2", id, "Bob")
	require.NoError(t, err)

	m.Disconnect("c2")

	dir.mu.Lock()
	defer dir.mu.Unlock()
	assert.Equal(t, []int{1}, dir.releases)
}

func TestPlayingDisconnectKeepsSeatMirrored(t *testing.T) {
	dir := &stubDirectory{}
	m := NewManager(dir, quartz.NewMock(t), log.New(io.Discard), DefaultConfig())
	m.RegisterConnection("c1", func(*protocol.Message) {})
	m.RegisterConnection("c2", func(*protocol.Message) {})
	ctx := context.Background()

	reply, err := m.CreateSession(ctx, "c1", "g", "Alice")
	require.NoError(t, err)
	id := joined(t, reply).SessionID
	_, err = m.JoinSession(ctx, "c2", id, "Bob")
	require.NoError(t, err)
	require.NoError(t, m.StartGame(ctx, "c1"))

	dir.mu.Lock()
	before := dir.publishes
	dir.mu.Unlock()

	m.Disconnect("c2")

	// Mid-game the seat goes to an automated player: re-published, not
	// released.
	dir.mu.Lock()
	defer dir.mu.Unlock()
	assert.Empty(t, dir.releases)
	assert.Greater(t, dir.publishes, before)
}

func TestCreateLeavesPreviousSession(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterConnection("c1", func(*protocol.Message) {})
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "c1", "first", "Alice")
	require.NoError(t, err)
	reply, err := m.CreateSession(ctx, "c1", "second", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "second", joined(t, reply).SessionName)

	// The abandoned first session had no other humans, so it is gone.
	list, err := m.ListSessions(ctx)
	require.NoError(t, err)
	var menu protocol.SessionMenuData
	require.NoError(t, json.Unmarshal(list.Data, &menu))
	require.Len(t, menu.Sessions, 1)
	assert.Equal(t, "second", menu.Sessions[0].SessionName)
}

func TestJoinLeavesPreviousSession(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterConnection("c1", func(*protocol.Message) {})
	m.RegisterConnection("c2", func(*protocol.Message) {})
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "c1", "first", "Alice")
	require.NoError(t, err)
	reply, err := m.CreateSession(ctx, "c2", "second", "Bob")
	require.NoError(t, err)
	id := joined(t, reply).SessionID

	_, err = m.JoinSession(ctx, "c1", id, "Alice")
	require.NoError(t, err)

	list, err := m.ListSessions(ctx)
	require.NoError(t, err)
	var menu protocol.SessionMenuData
	require.NoError(t, json.Unmarshal(list.Data, &menu))
	require.Len(t, menu.Sessions, 1)
	assert.Equal(t, "second", menu.Sessions[0].SessionName)
	assert.Equal(t, 2, menu.Sessions[0].PlayerCount)
}

func TestIdleConnectionsEvicted(t *testing.T) {
	m, mock := newTestManager(t)
	m.RegisterConnection("c1", func(*protocol.Message) {})
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "c1", "g", "Alice")
	require.NoError(t, err)

	mock.Advance(m.cfg.IdleTimeout + time.Second).MustWait(ctx)
	m.CleanupIdle()

	_, err = m.GameState("c1")
	assert.ErrorIs(t, err, ErrNotInSession)
}

func TestHandleCommandDispatch(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterConnection("c1", func(*protocol.Message) {})
	ctx := context.Background()

	create, err := protocol.NewMessage(protocol.TypeCreateSession, protocol.CreateSessionData{
		SessionName: "g",
		CreatorName: "Alice",
	})
	require.NoError(t, err)

	reply := m.HandleCommand(ctx, "c1", create)
	require.NotNil(t, reply)
	assert.Equal(t, protocol.TypeSessionJoined, reply.Type)

	list, err := protocol.NewMessage(protocol.TypeListSessions, nil)
	require.NoError(t, err)
	reply = m.HandleCommand(ctx, "c1", list)
	require.NotNil(t, reply)
	assert.Equal(t, protocol.TypeSessionMenu, reply.Type)

	unknown := &protocol.Message{Type: "BOGUS"}
	reply = m.HandleCommand(ctx, "c1", unknown)
	require.NotNil(t, reply)
	assert.Equal(t, protocol.TypeError, reply.Type)
}

func TestHandleCommandErrorsCarryViolationCode(t *testing.T) {
	m, _ := newTestManager(t)
	m.RegisterConnection("c1", func(*protocol.Message) {})
	ctx := context.Background()

	_, err := m.CreateSession(ctx, "c1", "g", "Alice")
	require.NoError(t, err)
	require.NoError(t, m.StartGame(ctx, "c1"))

	snap := snapshot(t, m, "c1")
	if snap.CurrentPlayerIndex == snap.MyPlayerIndex {
		// Leading without the opening card is a rule violation.
		play, err := protocol.NewMessage(protocol.TypePlayCards, protocol.PlayCardsData{
			Cards: []int{snap.MyHand[len(snap.MyHand)-1].Number},
		})
		require.NoError(t, err)
		reply := m.HandleCommand(ctx, "c1", play)
		require.NotNil(t, reply)
		require.Equal(t, protocol.TypeError, reply.Type)

		var data protocol.ErrorData
		require.NoError(t, json.Unmarshal(reply.Data, &data))
		assert.Equal(t, "must-include-opening-card", data.Code)
	} else {
		// Playing out of turn is a rule violation.
		play, err := protocol.NewMessage(protocol.TypePlayCards, protocol.PlayCardsData{
			Cards: []int{snap.MyHand[0].Number},
		})
		require.NoError(t, err)
		reply := m.HandleCommand(ctx, "c1", play)
		require.NotNil(t, reply)
		require.Equal(t, protocol.TypeError, reply.Type)

		var data protocol.ErrorData
		require.NoError(t, json.Unmarshal(reply.Data, &data))
		assert.Equal(t, "wrong-turn", data.Code)
	}
}
