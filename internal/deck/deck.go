package deck

import (
	"math/rand"
	"sort"
)

// Size is the number of cards in a full deck
const Size = 52

// HandSize is the number of cards dealt to each of the four seats
const HandSize = Size / 4

// New returns a full 52-card deck in number order
func New() []Card {
	cards := make([]Card, Size)
	for i := range cards {
		cards[i] = Card(i)
	}
	return cards
}

// Shuffle randomizes the order of cards using a Fisher-Yates shuffle
func Shuffle(cards []Card, rng *rand.Rand) {
	for i := len(cards) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
}

// Deal shuffles a fresh deck and splits it into n contiguous hands,
// each sorted ascending by card number. All four seats are occupied at
// deal time, so n is 4 in practice.
func Deal(n int, rng *rand.Rand) [][]Card {
	cards := New()
	Shuffle(cards, rng)

	hands := make([][]Card, n)
	for i := 0; i < n; i++ {
		lo := i * Size / n
		hi := (i + 1) * Size / n
		hand := make([]Card, hi-lo)
		copy(hand, cards[lo:hi])
		Sort(hand)
		hands[i] = hand
	}
	return hands
}

// Sort orders a hand ascending by card number
func Sort(cards []Card) {
	sort.Slice(cards, func(i, j int) bool { return cards[i] < cards[j] })
}

// Contains reports whether the hand holds the given card
func Contains(hand []Card, card Card) bool {
	for _, c := range hand {
		if c == card {
			return true
		}
	}
	return false
}

// Remove returns hand with the given cards removed. The input slice is
// not modified.
func Remove(hand []Card, toRemove []Card) []Card {
	removing := make(map[Card]bool, len(toRemove))
	for _, c := range toRemove {
		removing[c] = true
	}

	updated := make([]Card, 0, len(hand))
	for _, c := range hand {
		if removing[c] {
			continue
		}
		updated = append(updated, c)
	}
	return updated
}
