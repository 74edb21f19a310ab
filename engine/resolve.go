package engine

// Resolve pops the top of the action stack and carries out its effect. It is
// called by the owner of the game once nobody is going to respond, and by
// DoAction when the last waiting player passes.
func (g *GameState) Resolve() error {
	top, ok := g.Top()
	if !ok {
		return ErrEmptyStack
	}
	if top.Action.Type == ActionDeclareWinner {
		return ErrGameOver
	}
	if _, err := g.pop(); err != nil {
		return err
	}
	if err := g.resolveAction(top); err != nil {
		return err
	}
	g.syncWaiting()
	g.updateActions()
	return nil
}

func (g *GameState) resolveAction(pa PlayerAction) error {
	actor := &g.Players[pa.Player]
	switch pa.Action.Type {
	case ActionIncome:
		actor.DeltaCoins++
	case ActionForeignAid:
		actor.DeltaCoins += 2
	case ActionTax:
		actor.DeltaCoins += 3
	case ActionSteal:
		victim, err := g.victim(pa)
		if err != nil {
			return err
		}
		n := min(MaxStealAmount, victim.Coins)
		actor.DeltaCoins += n
		victim.DeltaCoins -= n
	case ActionAssassinate:
		return g.attack(pa, AssassinateCost, ReasonAssassination)
	case ActionCoup:
		return g.attack(pa, CoupCost, ReasonCoup)
	case ActionExchange:
		for range 2 {
			c, err := g.draw()
			if err != nil {
				return err
			}
			g.Hands[pa.Player] = append(g.Hands[pa.Player], CardInHand{Card: c})
		}
		g.push(PlayerAction{Player: pa.Player, Action: ExchangingInfluence()})
	case ActionBlock:
		if _, err := g.pop(); err != nil {
			return err
		}
		g.push(PlayerAction{Player: g.CurrTurn, Action: Resolving()})
	case ActionChallenge:
		if _, err := g.pop(); err != nil {
			return err
		}
		if len(g.ActionStack) == 0 {
			g.push(PlayerAction{Player: g.CurrTurn, Action: Resolving()})
		}
	case ActionResolving:
		return g.commitRound()
	case ActionRevealingInfluence, ActionExchangingInfluence, ActionDeclareWinner:
	default:
		return invariant("cannot resolve %s", pa.Action)
	}
	return nil
}

func (g *GameState) victim(pa PlayerAction) (*Player, error) {
	t, ok := pa.Action.TargetIndex()
	if !ok || t < 0 || t >= len(g.Players) {
		return nil, invariant("%s has no valid target", pa.Action)
	}
	return &g.Players[t], nil
}

// attack pays for an Assassinate or Coup up front and makes the victim give
// up an influence, unless they are already out.
func (g *GameState) attack(pa PlayerAction, cost int, reason Reason) error {
	actor := &g.Players[pa.Player]
	if actor.Coins < cost {
		return invariant("player %d cannot pay %d for %s", pa.Player, cost, pa.Action.Type)
	}
	victim, err := g.victim(pa)
	if err != nil {
		return err
	}
	actor.Coins -= cost
	if !victim.Eliminated {
		g.push(PlayerAction{Player: victim.Index, Action: RevealingInfluence(reason)})
	}
	return nil
}

// ---------------------------------------------------------------------------
// Round commit
// ---------------------------------------------------------------------------

func (g *GameState) commitRound() error {
	g.ActionList = nil
	g.ActionPlayed = false
	g.ChallengeUsable = true
	g.WaitingOnPlayers = nil

	alive := 0
	for _, p := range g.Players {
		if !p.Eliminated {
			alive++
		}
	}
	if alive == 0 {
		return invariant("no players left standing")
	}

	if winner, ok := g.Winner(); ok {
		decl := PlayerAction{Player: winner, Action: DeclareWinner()}
		g.push(decl)
		g.ActionList = append(g.ActionList, decl)
		return g.applyDeltas()
	}

	if err := g.replaceQuarantined(); err != nil {
		return err
	}
	if err := g.applyDeltas(); err != nil {
		return err
	}
	g.advanceTurn()
	return nil
}

func (g *GameState) applyDeltas() error {
	for i := range g.Players {
		p := &g.Players[i]
		if p.Coins+p.DeltaCoins < 0 {
			return invariant("player %d would end the round with %d coins", i, p.Coins+p.DeltaCoins)
		}
		p.Coins += p.DeltaCoins
		p.DeltaCoins = 0
	}
	return nil
}

// advanceTurn moves to the next player still in the game.
func (g *GameState) advanceTurn() {
	n := len(g.Players)
	for i := 1; i <= n; i++ {
		next := (g.CurrTurn + i) % n
		if !g.Players[next].Eliminated {
			g.CurrTurn = next
			return
		}
	}
}
