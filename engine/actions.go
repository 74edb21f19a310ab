package engine

import (
	"fmt"
	"slices"
)

// DoAction applies a move for player. The move must structurally equal one
// of the actions currently offered to that player; otherwise ErrInvalidAction
// is returned and the state is untouched.
func (g *GameState) DoAction(player int, a Action) error {
	if !g.IsActionLegal(player, a) {
		return fmt.Errorf("%w: player %d cannot %s", ErrInvalidAction, player, a)
	}
	entry := PlayerAction{Player: player, Action: a}
	if a.Type != ActionPass {
		g.ActionList = append(g.ActionList, entry)
	}

	if a.Type == ActionChoose {
		if err := g.choose(player, a); err != nil {
			return err
		}
	} else {
		g.ActionPlayed = true
		switch a.Type {
		case ActionPass:
			g.WaitingOnPlayers = slices.DeleteFunc(slices.Clone(g.WaitingOnPlayers),
				func(p int) bool { return p == player })
			if len(g.WaitingOnPlayers) == 0 {
				return g.Resolve()
			}
		case ActionBlock:
			g.ChallengeUsable = false
			g.push(entry)
		case ActionChallenge:
			// The first challenge settles the question for everyone.
			g.WaitingOnPlayers = nil
			g.push(entry)
		default:
			g.push(entry)
		}
	}

	if a.Type != ActionPass {
		g.syncWaiting()
	}
	g.updateActions()
	return nil
}

// choose answers the prompt on top of the stack.
func (g *GameState) choose(player int, a Action) error {
	prompt, err := g.pop()
	if err != nil {
		return err
	}
	if len(a.Cards) == 0 {
		return invariant("choose without cards")
	}
	switch prompt.Action.Type {
	case ActionChallenge:
		return g.revealAfterChallenge(prompt, player, a.Cards[0])
	case ActionRevealingInfluence:
		return g.revealAfterInfluence(player, a.Cards[0])
	case ActionExchangingInfluence:
		return g.returnExchanged(player, a.Cards)
	}
	return invariant("choose answered %s", prompt.Action)
}

// revealAfterChallenge settles a challenge. Showing the claimed character
// quarantines it and costs the challenger an influence; anything else
// cancels the claim and costs the claimant the revealed card.
func (g *GameState) revealAfterChallenge(challenge PlayerAction, player int, card Card) error {
	claim, ok := g.Top()
	if !ok {
		return invariant("challenge with nothing beneath it")
	}
	if card == RequiredCard(claim.Action) {
		if err := g.markReplacing(player, card); err != nil {
			return err
		}
		g.push(PlayerAction{Player: challenge.Player, Action: RevealingInfluence(ReasonFailedChallenge)})
		return nil
	}

	failed, err := g.pop()
	if err != nil {
		return err
	}
	if err := g.flip(player, card); err != nil {
		return err
	}
	if failed.Action.Type == ActionBlock {
		// The block fell through, so the blocked action goes ahead.
		blocked, err := g.pop()
		if err != nil {
			return err
		}
		return g.resolveAction(blocked)
	}
	if len(g.ActionStack) == 2 {
		g.ChallengeUsable = false
	}
	return nil
}

func (g *GameState) revealAfterInfluence(player int, card Card) error {
	if err := g.flip(player, card); err != nil {
		return err
	}
	if len(g.ActionStack) == 0 {
		return nil
	}
	if !g.ChallengeUsable {
		next, err := g.pop()
		if err != nil {
			return err
		}
		return g.resolveAction(next)
	}
	g.ChallengeUsable = false
	return nil
}

// returnExchanged puts the two chosen cards back into the deck and
// reshuffles it, so the exchanger learns nothing about the deck order.
func (g *GameState) returnExchanged(player int, cards []Card) error {
	for _, c := range cards {
		if err := g.discard(player, c); err != nil {
			return err
		}
	}
	g.shuffleDeck()
	return nil
}

// ---------------------------------------------------------------------------
// Stack and waiting set
// ---------------------------------------------------------------------------

func (g *GameState) push(pa PlayerAction) {
	g.ActionStack = append(g.ActionStack, pa)
}

func (g *GameState) pop() (PlayerAction, error) {
	n := len(g.ActionStack)
	if n == 0 {
		return PlayerAction{}, invariant("pop from empty action stack")
	}
	top := g.ActionStack[n-1]
	g.ActionStack = g.ActionStack[:n-1]
	return top, nil
}

// syncWaiting recomputes who must respond to the stack top. Only claims and
// blockable actions collect responses.
func (g *GameState) syncWaiting() {
	top, ok := g.Top()
	if !ok || !(top.Action.Type.Blockable() || top.Action.Type.Challengable()) {
		g.WaitingOnPlayers = nil
		return
	}
	g.updateWaitingOnPlayers(top)
}

func (g *GameState) updateWaitingOnPlayers(top PlayerAction) {
	t := top.Action.Type
	waiting := make([]int, 0, len(g.Players)-1)
	for i := range g.Players {
		if i == top.Player || g.Players[i].Eliminated {
			continue
		}
		if !g.ChallengeUsable && t != ActionBlock && !t.Blockable() {
			continue
		}
		if victim, ok := top.Action.TargetIndex(); ok && t.Targeted() && victim != i {
			continue
		}
		waiting = append(waiting, i)
	}
	g.WaitingOnPlayers = waiting
}
