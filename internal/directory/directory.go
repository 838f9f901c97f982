// Package directory mirrors session metadata into a shared Redis cache
// so multiple engine processes can publish a common session list and
// coordinate seat allocation. Only metadata and seat names are
// mirrored; hands and trick state stay with the single process that
// owns the session's gameplay.
package directory

import (
	"context"
	"errors"
	"time"
)

// Entry is the mirrored metadata for one session
type Entry struct {
	SessionID   string
	SessionName string
	CreatorName string
	CreatedAt   time.Time
	PlayerCount int
	Status      string
	SeatNames   [4]string
}

// ErrSeatConflict reports that an optimistic seat claim lost a race
// with another process. Callers retry the join from scratch.
var ErrSeatConflict = errors.New("seat claim conflicted with a concurrent update")

// ErrNotFound reports that the session is not in the directory
var ErrNotFound = errors.New("session not found in directory")

// Directory is the session discovery and seat-allocation surface. The
// zero-dependency Noop implementation backs single-process deployments.
type Directory interface {
	// Enabled reports whether the directory is backed by shared storage
	Enabled() bool

	// Publish writes or overwrites a session's entry
	Publish(ctx context.Context, e Entry) error

	// List returns every active session's entry
	List(ctx context.Context) ([]Entry, error)

	// ClaimSeat atomically claims the given seat for a player name,
	// failing with ErrSeatConflict if another process got there first.
	ClaimSeat(ctx context.Context, sessionID string, seat int, name string) error

	// ReleaseSeat clears a seat and decrements the player count
	ReleaseSeat(ctx context.Context, sessionID string, seat int) error

	// SetStatus updates the mirrored lifecycle status
	SetStatus(ctx context.Context, sessionID, status string) error

	// SetSeatNames overwrites the mirrored seat names (used at game
	// start, when automated players backfill empty seats)
	SetSeatNames(ctx context.Context, sessionID string, names [4]string) error

	// MarkFinished flags the session finished and bounds its lifetime
	MarkFinished(ctx context.Context, sessionID string, ttl time.Duration) error

	// Reactivate clears a finished session's expiry after auto-restart
	Reactivate(ctx context.Context, sessionID string) error

	// Remove deletes a session's entry entirely
	Remove(ctx context.Context, sessionID string) error
}

// Noop is a Directory that stores nothing. List reports no sessions;
// the session manager falls back to its local registry.
type Noop struct{}

func (Noop) Enabled() bool                                               { return false }
func (Noop) Publish(context.Context, Entry) error                        { return nil }
func (Noop) List(context.Context) ([]Entry, error)                       { return nil, nil }
func (Noop) ClaimSeat(context.Context, string, int, string) error        { return nil }
func (Noop) ReleaseSeat(context.Context, string, int) error              { return nil }
func (Noop) SetStatus(context.Context, string, string) error             { return nil }
func (Noop) SetSeatNames(context.Context, string, [4]string) error       { return nil }
func (Noop) MarkFinished(context.Context, string, time.Duration) error   { return nil }
func (Noop) Reactivate(context.Context, string) error                    { return nil }
func (Noop) Remove(context.Context, string) error                        { return nil }
