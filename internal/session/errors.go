package session

import "errors"

var (
	// ErrSessionFull reports a join against a session with four seated
	// humans
	ErrSessionFull = errors.New("session is full (4 players max)")

	// ErrSessionNotFound reports a command referencing an unknown
	// session, including sessions whose gameplay lives in another
	// process
	ErrSessionNotFound = errors.New("session not found")

	// ErrConnectionNotFound reports a command from an unregistered
	// connection
	ErrConnectionNotFound = errors.New("connection not registered")

	// ErrNotInSession reports a game command from a connection that has
	// not joined a session
	ErrNotInSession = errors.New("not in a session")

	// ErrNoPlayers reports a start attempt with no humans seated
	ErrNoPlayers = errors.New("cannot start a game with no players")

	// ErrNotWaiting reports a start attempt while a game is running or
	// finishing
	ErrNotWaiting = errors.New("game already in progress")

	// ErrGameNotStarted reports a play or pass before START_GAME
	ErrGameNotStarted = errors.New("game has not started")

	// ErrJoinConflict reports a join that lost an optimistic seat claim
	// against another engine process; the caller should retry
	ErrJoinConflict = errors.New("seat was claimed concurrently, try again")
)
