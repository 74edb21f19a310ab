package engine

import "slices"

// IsActionLegal reports whether a was offered to player by the last
// availability pass. It never re-derives the rules: the cached offer is the
// whitelist.
func (g *GameState) IsActionLegal(player int, a Action) bool {
	if a.Type == ActionAssassinate && a.Disabled {
		return false
	}
	if player < 0 || player >= len(g.Actions) {
		return false
	}
	for _, offered := range g.Actions[player].All() {
		if offered.Equal(a) {
			return true
		}
	}
	return false
}

// RecomputeActions rebuilds the offer for every player from the current
// state. Deserialize does not call it; use it after loading a snapshot that
// was stored without its cached actions.
func (g *GameState) RecomputeActions() {
	g.Actions = g.computeActions()
}

// updateActions pushes the end-of-round marker once the stack has unwound
// after a move, then recomputes every player's offer.
func (g *GameState) updateActions() {
	if len(g.ActionStack) == 0 && g.ActionPlayed {
		g.ActionStack = append(g.ActionStack, PlayerAction{Player: g.CurrTurn, Action: Resolving()})
	}
	g.Actions = g.computeActions()
}

func (g *GameState) computeActions() []AvailableActions {
	out := make([]AvailableActions, len(g.Players))
	for p := range g.Players {
		out[p] = g.availableFor(p)
	}
	return out
}

func (g *GameState) availableFor(p int) AvailableActions {
	if g.Players[p].Eliminated || g.IsGameOver() {
		return AvailableActions{}
	}
	top, ok := g.Top()
	if !ok {
		return g.emptyStackActions(p)
	}
	if top.Action.Type.primary() {
		return g.respondToPrimary(p, top)
	}
	switch top.Action.Type {
	case ActionBlock:
		return g.respondToBlock(p, top)
	case ActionChallenge:
		return g.respondToChallenge(p)
	case ActionRevealingInfluence:
		return g.chooseReveal(p, top)
	case ActionExchangingInfluence:
		return g.chooseExchange(p, top)
	}
	// Resolving and Declare Winner wait on Resolve.
	return AvailableActions{}
}

// ---------------------------------------------------------------------------
// Start of turn
// ---------------------------------------------------------------------------

func (g *GameState) emptyStackActions(p int) AvailableActions {
	if p != g.CurrTurn {
		return AvailableActions{}
	}
	targets := g.Opponents(p)
	coins := g.Players[p].Coins

	var a AvailableActions
	if coins > MustCoupAbove {
		for _, t := range targets {
			a.GeneralActions = append(a.GeneralActions, Coup(t))
		}
		return a
	}
	a.GeneralActions = []Action{Income(), ForeignAid()}
	if coins > CanCoupAbove {
		for _, t := range targets {
			a.GeneralActions = append(a.GeneralActions, Coup(t))
		}
	}

	held := g.concealedCards(p)
	for _, c := range AllCards {
		for _, act := range claimableActions(c, targets, coins) {
			if held[c] {
				a.CharacterActions = appendUnique(a.CharacterActions, act)
			} else {
				a.BluffActions = appendUnique(a.BluffActions, act)
			}
		}
	}
	return a
}

// concealedCards returns the set of characters p can truthfully claim.
func (g *GameState) concealedCards(p int) map[Card]bool {
	held := make(map[Card]bool, HandSize)
	for _, c := range g.Hands[p] {
		if !c.Flipped {
			held[c.Card] = true
		}
	}
	return held
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

func (g *GameState) respondToPrimary(p int, top PlayerAction) AvailableActions {
	if p == top.Player || !g.IsWaitingOn(p) {
		return AvailableActions{}
	}
	if t, ok := top.Action.TargetIndex(); ok && top.Action.Type.Targeted() && t != p {
		return AvailableActions{}
	}

	a := AvailableActions{GeneralActions: []Action{Pass()}}
	if g.ChallengeUsable && top.Action.Type.Challengable() {
		a.GeneralActions = append(a.GeneralActions, Challenge())
	}
	held := g.concealedCards(p)
	for _, c := range AllCards {
		if !blocks(c, top.Action.Type) {
			continue
		}
		if held[c] {
			a.CharacterActions = appendUnique(a.CharacterActions, Block(c))
		} else {
			a.BluffActions = appendUnique(a.BluffActions, Block(c))
		}
	}
	return a
}

func (g *GameState) respondToBlock(p int, top PlayerAction) AvailableActions {
	if p == top.Player || !g.IsWaitingOn(p) {
		return AvailableActions{}
	}
	return AvailableActions{GeneralActions: []Action{Challenge(), Pass()}}
}

// respondToChallenge offers the challenged player a reveal of each concealed
// card. Showing the claimed character beats the challenge.
func (g *GameState) respondToChallenge(p int) AvailableActions {
	if len(g.ActionStack) < 2 {
		return AvailableActions{}
	}
	challenged := g.ActionStack[len(g.ActionStack)-2]
	if p != challenged.Player {
		return AvailableActions{}
	}
	required := RequiredCard(challenged.Action)

	choose := &ChooseActions{}
	for _, c := range g.Hands[p] {
		if c.Flipped {
			continue
		}
		choose.Cards = append(choose.Cards, c.Card)
		reason := ReasonFailedBluff
		if c.Card == required {
			reason = ReasonBeatenChallenge
		}
		choose.Actions = appendUnique(choose.Actions, Choose(reason, c.Card))
	}
	return AvailableActions{ChooseActions: choose}
}

func (g *GameState) chooseReveal(p int, top PlayerAction) AvailableActions {
	if p != top.Player {
		return AvailableActions{}
	}
	cards := g.revealable(p)
	choose := &ChooseActions{Cards: cards}
	for _, c := range cards {
		choose.Actions = appendUnique(choose.Actions, Choose(top.Action.Reason, c))
	}
	return AvailableActions{ChooseActions: choose}
}

// revealable lists concealed cards that are not quarantined. If every
// concealed card is quarantined the quarantined ones are offered instead, so
// a forced reveal can always be answered.
func (g *GameState) revealable(p int) []Card {
	var cards, quarantined []Card
	for _, c := range g.Hands[p] {
		switch {
		case c.Flipped:
		case c.Replacing:
			quarantined = append(quarantined, c.Card)
		default:
			cards = append(cards, c.Card)
		}
	}
	if len(cards) == 0 {
		return quarantined
	}
	return cards
}

// chooseExchange offers every unordered pair of cards the exchanging player
// could put back.
func (g *GameState) chooseExchange(p int, top PlayerAction) AvailableActions {
	if p != top.Player {
		return AvailableActions{}
	}
	var cards []Card
	for _, c := range g.Hands[p] {
		if !c.Flipped && !c.Replacing {
			cards = append(cards, c.Card)
		}
	}
	choose := &ChooseActions{Cards: cards}
	for i := 0; i < len(cards); i++ {
		for j := i + 1; j < len(cards); j++ {
			pair := []Card{cards[i], cards[j]}
			slices.Sort(pair)
			choose.Actions = appendUnique(choose.Actions, Choose(ReasonExchange, pair...))
		}
	}
	return AvailableActions{ChooseActions: choose}
}
