package engine

const (
	MinPlayers      = 2
	MaxPlayers      = 6
	CopiesPerCard   = 3
	DeckSize        = CopiesPerCard * len(AllCards)
	StartingCoins   = 2
	HandSize        = 2
	AssassinateCost = 3
	CoupCost        = 7
	MaxStealAmount  = 2

	// A player holding more than MustCoupAbove coins may only Coup.
	MustCoupAbove = 9
	// A player holding more than CanCoupAbove coins may Coup.
	CanCoupAbove = CoupCost - 1
)

// claimableActions returns what holding (or bluffing) card lets the actor do,
// with targeted actions expanded over targets.
func claimableActions(card Card, targets []int, coins int) []Action {
	var out []Action
	switch card {
	case Captain:
		for _, t := range targets {
			out = append(out, Steal(t))
		}
	case Duke:
		out = append(out, Tax())
	case Ambassador:
		out = append(out, Exchange())
	case Assassin:
		for _, t := range targets {
			out = append(out, Assassinate(t, coins < AssassinateCost))
		}
	}
	return out
}

// blocks reports whether card can block an action of type t.
func blocks(card Card, t ActionType) bool {
	switch card {
	case Contessa:
		return t == ActionAssassinate
	case Duke:
		return t == ActionForeignAid
	case Captain, Ambassador:
		return t == ActionSteal
	}
	return false
}

// RequiredCard returns the character whose claim a challenge of a tests.
func RequiredCard(a Action) Card {
	switch a.Type {
	case ActionSteal:
		return Captain
	case ActionTax:
		return Duke
	case ActionExchange:
		return Ambassador
	case ActionAssassinate:
		return Assassin
	case ActionBlock:
		return a.Card
	}
	return NoCard
}
