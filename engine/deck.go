package engine

// shuffleDeck is a Fisher-Yates shuffle driven by the state's RNG.
func (g *GameState) shuffleDeck() {
	for i := len(g.Deck) - 1; i > 0; i-- {
		j := int(g.randN(uint64(i + 1)))
		g.Deck[i], g.Deck[j] = g.Deck[j], g.Deck[i]
	}
}

// draw takes the front card of the deck.
func (g *GameState) draw() (Card, error) {
	if len(g.Deck) == 0 {
		return NoCard, invariant("draw from empty deck")
	}
	c := g.Deck[0]
	g.Deck = g.Deck[1:]
	return c, nil
}

// findCard returns the index of the first concealed copy of card in the
// player's hand. Non-replacing copies are preferred unless none exist.
func (g *GameState) findCard(player int, card Card) int {
	fallback := -1
	for i, c := range g.Hands[player] {
		if c.Flipped || c.Card != card {
			continue
		}
		if !c.Replacing {
			return i
		}
		if fallback < 0 {
			fallback = i
		}
	}
	return fallback
}

// flip reveals card for good and updates the player's elimination status.
func (g *GameState) flip(player int, card Card) error {
	i := g.findCard(player, card)
	if i < 0 {
		return invariant("player %d has no concealed %s to flip", player, card)
	}
	g.Hands[player][i].Flipped = true
	// A flipped card is never swapped out.
	g.Hands[player][i].Replacing = false

	eliminated := true
	for _, c := range g.Hands[player] {
		if !c.Flipped {
			eliminated = false
			break
		}
	}
	g.Players[player].Eliminated = eliminated
	return nil
}

// markReplacing quarantines a card that has just been shown to win a
// challenge. A card already quarantined this round stays as it is.
func (g *GameState) markReplacing(player int, card Card) error {
	i := g.findCard(player, card)
	if i < 0 {
		return invariant("player %d has no concealed %s to return", player, card)
	}
	g.Hands[player][i].Replacing = true
	return nil
}

// discard moves card from the player's hand to the bottom of the deck.
func (g *GameState) discard(player int, card Card) error {
	i := g.findCard(player, card)
	if i < 0 {
		return invariant("player %d has no concealed %s to discard", player, card)
	}
	g.Hands[player] = append(g.Hands[player][:i], g.Hands[player][i+1:]...)
	g.Deck = append(g.Deck, card)
	return nil
}

// replaceQuarantined swaps every replacing card for a fresh draw. The old
// card goes back into the deck and the deck is reshuffled before drawing, so
// the replacement reveals nothing about which card survived.
func (g *GameState) replaceQuarantined() error {
	for p := range g.Hands {
		for i := range g.Hands[p] {
			if !g.Hands[p][i].Replacing {
				continue
			}
			g.Deck = append(g.Deck, g.Hands[p][i].Card)
			g.shuffleDeck()
			fresh, err := g.draw()
			if err != nil {
				return err
			}
			g.Hands[p][i] = CardInHand{Card: fresh}
		}
	}
	return nil
}
