// Package game holds the per-session turn state machine. A State is
// owned by exactly one session and is never accessed without that
// session's lock; rejected operations return a typed error and leave
// the state untouched.
package game

import (
	"math/rand"

	"github.com/playcapsa/capsa-server/internal/deck"
	"github.com/playcapsa/capsa-server/internal/rules"
)

// Seats is the fixed number of seats at a Capsa table
const Seats = 4

// NoSeat marks an unset seat index
const NoSeat = -1

// Player is one seat's state. Name is relabeled when a human leaves or
// (re)joins; the hand survives relabeling.
type Player struct {
	Name string
	Hand []deck.Card
}

// State is the mutable game state for one session
type State struct {
	Players            [Seats]*Player
	CurrentPlayerIndex int
	TableCards         []deck.Card   // active combination, empty when no one has led this round
	History            [][]deck.Card // played hands since the last round reset, display only
	RoundPasses        map[int]bool  // seats that passed since the last successful play
	LastPlayerToPlay   int
	Active             bool
	FinishOrder        []string // seat names in finishing order, winner first
	finished           [Seats]bool
}

// NewState returns an idle state with placeholder seat names
func NewState() *State {
	s := &State{}
	s.Reset()
	return s
}

// Reset returns the state to its pre-deal configuration, keeping seat
// names intact for seats that already have players.
func (s *State) Reset() {
	for i := range s.Players {
		name := ""
		if s.Players[i] != nil {
			name = s.Players[i].Name
		}
		s.Players[i] = &Player{Name: name}
	}
	s.CurrentPlayerIndex = 0
	s.TableCards = nil
	s.History = nil
	s.RoundPasses = make(map[int]bool)
	s.LastPlayerToPlay = NoSeat
	s.Active = false
	s.FinishOrder = nil
	s.finished = [Seats]bool{}
}

// StartRound deals a fresh game and hands the first turn to the seat
// holding the opening card.
func (s *State) StartRound(rng *rand.Rand) {
	names := [Seats]string{}
	for i, p := range s.Players {
		names[i] = p.Name
	}
	s.Reset()

	hands := deck.Deal(Seats, rng)
	for i := range s.Players {
		s.Players[i].Name = names[i]
		s.Players[i].Hand = hands[i]
	}

	s.CurrentPlayerIndex = 0
	for i, p := range s.Players {
		if deck.Contains(p.Hand, deck.OpeningCard) {
			s.CurrentPlayerIndex = i
			break
		}
	}
	s.Active = true
}

// Finished reports whether the game has ended
func (s *State) Finished() bool {
	return len(s.FinishOrder) == Seats
}

// SeatFinished reports whether the given seat has emptied its hand
func (s *State) SeatFinished(seat int) bool {
	return s.finished[seat]
}

// ApplyPlay plays the given cards for a seat. Cards must come from the
// seat's hand and be sorted ascending by number.
func (s *State) ApplyPlay(seat int, cards []deck.Card) error {
	if !s.Active {
		return ErrNotActive
	}
	if seat != s.CurrentPlayerIndex {
		return ErrWrongTurn
	}
	if s.RoundPasses[seat] {
		return ErrAlreadyPassed
	}

	player := s.Players[seat]
	for _, c := range cards {
		if !deck.Contains(player.Hand, c) {
			return ErrCardsNotHeld
		}
	}
	if v := rules.CheckPlay(cards, player.Hand, s.TableCards); v != nil {
		return v
	}

	player.Hand = deck.Remove(player.Hand, cards)
	s.TableCards = cards
	s.History = append(s.History, cards)
	s.LastPlayerToPlay = seat
	s.RoundPasses = make(map[int]bool)

	if len(player.Hand) == 0 {
		s.finish(seat)
		if s.Finished() {
			return nil
		}
	}

	s.advance()
	return nil
}

// ApplyPass records a pass for a seat. An empty table means the seat
// is leading a round, and the leader may not pass.
func (s *State) ApplyPass(seat int) error {
	if !s.Active {
		return ErrNotActive
	}
	if seat != s.CurrentPlayerIndex {
		return ErrWrongTurn
	}
	if len(s.TableCards) == 0 {
		return ErrCannotPassLeading
	}

	s.RoundPasses[seat] = true

	if s.roundOver() {
		// Everyone else has passed: clear the table and give the lead
		// back to the last seat that played.
		s.TableCards = nil
		s.History = nil
		s.RoundPasses = make(map[int]bool)
		if s.LastPlayerToPlay != NoSeat {
			s.CurrentPlayerIndex = s.LastPlayerToPlay
			if s.finished[s.CurrentPlayerIndex] {
				s.advance()
			}
			return nil
		}
	}

	s.advance()
	return nil
}

// roundOver reports whether every active seat except the last player to
// play has passed this round.
func (s *State) roundOver() bool {
	for i := 0; i < Seats; i++ {
		if s.finished[i] || i == s.LastPlayerToPlay {
			continue
		}
		if !s.RoundPasses[i] {
			return false
		}
	}
	return true
}

// advance moves the turn to the next seat that has neither finished nor
// passed this round, probing at most a full cycle.
func (s *State) advance() {
	for probes := 0; probes < Seats; probes++ {
		s.CurrentPlayerIndex = (s.CurrentPlayerIndex + 1) % Seats
		if !s.finished[s.CurrentPlayerIndex] && !s.RoundPasses[s.CurrentPlayerIndex] {
			return
		}
	}
}

// finish records a seat's placement. When three seats have finished the
// one remaining seat is appended automatically and the game ends.
func (s *State) finish(seat int) {
	s.finished[seat] = true
	s.FinishOrder = append(s.FinishOrder, s.Players[seat].Name)

	if len(s.FinishOrder) == Seats-1 {
		for i := 0; i < Seats; i++ {
			if !s.finished[i] {
				s.finished[i] = true
				s.FinishOrder = append(s.FinishOrder, s.Players[i].Name)
				break
			}
		}
		s.Active = false
	}
}

// CardCounts returns the number of cards remaining per seat
func (s *State) CardCounts() [Seats]int {
	var counts [Seats]int
	for i, p := range s.Players {
		counts[i] = len(p.Hand)
	}
	return counts
}

// PassedSeats returns the round-pass set as a sorted slice
func (s *State) PassedSeats() []int {
	passed := make([]int, 0, Seats)
	for i := 0; i < Seats; i++ {
		if s.RoundPasses[i] {
			passed = append(passed, i)
		}
	}
	return passed
}
