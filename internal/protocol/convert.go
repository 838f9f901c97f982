package protocol

import "github.com/playcapsa/capsa-server/internal/deck"

// CardFromDeck converts an engine card to its wire representation
func CardFromDeck(c deck.Card) Card {
	return Card{
		Number:      c.Number(),
		Suit:        int(c.Suit()),
		Rank:        c.Rank(),
		DisplayRank: c.DisplayRank(),
	}
}

// CardsFromDeck converts a slice of engine cards, never returning nil
// so the field serializes as an empty array.
func CardsFromDeck(cards []deck.Card) []Card {
	out := make([]Card, len(cards))
	for i, c := range cards {
		out[i] = CardFromDeck(c)
	}
	return out
}
