// Package rules implements the Capsa hand legality checks: whether a
// proposed set of cards is a structurally valid combination and whether
// it beats the combination currently on the table. All checks are pure;
// callers pass sorted card slices and receive a *Violation on failure.
package rules

import "github.com/playcapsa/capsa-server/internal/deck"

// FiveCardClass ranks the 5-card combination shapes. A higher class
// beats any lower class regardless of card values.
type FiveCardClass int

const (
	ClassInvalid       FiveCardClass = -1
	ClassNone          FiveCardClass = 0 // empty table: any valid class beats it
	ClassStraight      FiveCardClass = 1
	ClassFlush         FiveCardClass = 2
	ClassFullHouse     FiveCardClass = 3
	ClassQuads         FiveCardClass = 4
	ClassStraightFlush FiveCardClass = 5
)

// ClassifyFive assigns a class to a sorted 5-card hand. Shapes are
// recognized from rank deltas against the lowest card and from suit
// uniformity.
func ClassifyFive(cards []deck.Card) FiveCardClass {
	if len(cards) == 0 {
		return ClassNone
	}
	if len(cards) != 5 {
		return ClassInvalid
	}

	var v [5]int
	sameSuit := true
	for i, c := range cards {
		v[i] = c.Rank() - cards[0].Rank()
		if c.Suit() != cards[0].Suit() {
			sameSuit = false
		}
	}

	straight := v == [5]int{0, 1, 2, 3, 4}
	switch {
	case straight && sameSuit:
		return ClassStraightFlush
	case straight:
		return ClassStraight
	case sameSuit:
		return ClassFlush
	case v[0] == v[1] && v[3] == v[4] && (v[2] == v[1] || v[2] == v[3]):
		return ClassFullHouse
	case v[0] == v[1] && v[1] == v[2] && v[2] == v[3],
		v[1] == v[2] && v[2] == v[3] && v[3] == v[4]:
		return ClassQuads
	default:
		return ClassInvalid
	}
}

// CheckQuantity verifies the size of a proposed play against the table.
// Leading a new round accepts any size 1-5; otherwise sizes must match.
func CheckQuantity(proposed, table []deck.Card) *Violation {
	switch {
	case len(proposed) == 0:
		return errEmptyPlay
	case len(proposed) > 5:
		return errTooManyCards
	case len(table) != 0 && len(proposed) != len(table):
		return errSizeMismatch
	default:
		return nil
	}
}

// CheckValue verifies that a proposed play is a valid combination and
// beats the table. Both slices must be sorted ascending by number; an
// empty table means the player is leading and any valid combination is
// accepted.
func CheckValue(proposed, table []deck.Card) *Violation {
	switch len(proposed) {
	case 0:
		return errEmptyPlay

	case 1:
		if len(table) == 0 || proposed[0] > table[0] {
			return nil
		}
		return errWeakerSingle

	case 2:
		if proposed[0].Rank() != proposed[1].Rank() {
			return errNotAPair
		}
		if len(table) == 0 || proposed[1] > table[1] {
			return nil
		}
		return errWeakerPair

	case 3:
		if proposed[0].Rank() != proposed[1].Rank() || proposed[1].Rank() != proposed[2].Rank() {
			return errNotATriple
		}
		if len(table) == 0 || proposed[2] > table[2] {
			return nil
		}
		return errWeakerTriple

	case 4:
		// This variant defines no legal 4-card combination.
		return errNoFourCardPlay

	case 5:
		return checkFive(proposed, table)

	default:
		return errTooManyCards
	}
}

func checkFive(proposed, table []deck.Card) *Violation {
	mine := ClassifyFive(proposed)
	if mine == ClassInvalid {
		return errInvalidHand
	}

	theirs := ClassifyFive(table)
	if mine > theirs {
		return nil
	}
	if mine < theirs {
		return errWeakerClass
	}

	// Equal class: flushes and straight flushes compare the suit of the
	// lowest card first, falling through to the highest card's number
	// when the suits match.
	if mine == ClassFlush || mine == ClassStraightFlush {
		if proposed[0].Suit() > table[0].Suit() {
			return nil
		}
		if proposed[0].Suit() < table[0].Suit() {
			return errLowerSuit
		}
	}
	if proposed[4] > table[4] {
		return nil
	}
	return errWeakerHand
}

// CheckPlay runs the full legality check for a play: the opening-card
// rule, then quantity, then value. A seat still holding the opening
// card must include it in every play it makes until the card is played.
func CheckPlay(proposed, hand, table []deck.Card) *Violation {
	if deck.Contains(hand, deck.OpeningCard) && !deck.Contains(proposed, deck.OpeningCard) {
		return errMustIncludeOpening
	}
	if v := CheckQuantity(proposed, table); v != nil {
		return v
	}
	return CheckValue(proposed, table)
}
