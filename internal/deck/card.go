package deck

import "fmt"

// Suit represents a card suit, ordered by Capsa strength (Diamonds lowest)
type Suit int

const (
	Diamonds Suit = iota
	Clubs
	Hearts
	Spades
)

// String returns the string representation of a suit
func (s Suit) String() string {
	switch s {
	case Diamonds:
		return "♦"
	case Clubs:
		return "♣"
	case Hearts:
		return "♥"
	case Spades:
		return "♠"
	default:
		return "?"
	}
}

// Card is one of the 52 cards, identified by its number in [0,51].
// Higher number always means a stronger card: rank first, suit breaking
// ties within the same rank.
type Card int

// OpeningCard is the card whose holder leads the first round (3♦)
const OpeningCard Card = 0

// Suit returns the card's suit
func (c Card) Suit() Suit {
	return Suit(c % 4)
}

// Rank returns the card's rank index in [0,12]. Rank 0 is the 3, rank
// 12 is the 2, the strongest rank in Capsa.
func (c Card) Rank() int {
	return int(c) / 4
}

// Number returns the card's number in [0,51]
func (c Card) Number() int {
	return int(c)
}

// DisplayRank returns the rank as shown to players
func (c Card) DisplayRank() string {
	switch r := c.Rank(); r {
	case 8:
		return "J"
	case 9:
		return "Q"
	case 10:
		return "K"
	case 11:
		return "A"
	case 12:
		return "2"
	default:
		return fmt.Sprintf("%d", r+3)
	}
}

// String returns the string representation of a card (e.g., "3♦")
func (c Card) String() string {
	return c.DisplayRank() + c.Suit().String()
}

// Valid reports whether the card number is within [0,51]
func (c Card) Valid() bool {
	return c >= 0 && c < 52
}
