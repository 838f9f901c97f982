package game

import (
	"errors"

	"github.com/playcapsa/capsa-server/internal/rules"
)

// ErrNotActive reports a play or pass issued while no game is running
var ErrNotActive = errors.New("game is not active")

// ErrCardsNotHeld reports a play referencing cards outside the hand
var ErrCardsNotHeld = errors.New("invalid cards selected")

// Turn-ownership violations share the rules.Violation shape so that
// transports can surface a stable code alongside the message.
var (
	ErrWrongTurn = &rules.Violation{
		Code:    "wrong-turn",
		Message: "Not your turn!",
	}
	ErrAlreadyPassed = &rules.Violation{
		Code:    "already-passed",
		Message: "You cannot play after passing this round",
	}
	ErrCannotPassLeading = &rules.Violation{
		Code:    "cannot-pass-while-leading",
		Message: "You cannot pass while leading an empty table",
	}
)
