// internal/game/engine_adapter.go
package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lukebatchelor/coup/engine"
)

// ErrBadPayload is returned when a client message cannot be turned into an
// engine action.
var ErrBadPayload = errors.New("malformed action")

// ActionPayload is the client's encoding of a move. Targets may be given by
// seat (Target) or by player id (TargetID); TargetID wins when both are set.
type ActionPayload struct {
	Type     engine.ActionType `json:"type"`
	Target   *int              `json:"target,omitempty"`
	TargetID *uuid.UUID        `json:"targetId,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
	Card     engine.Card       `json:"card,omitempty"`
	Cards    []engine.Card     `json:"cards,omitempty"`
	Reason   engine.Reason     `json:"reason,omitempty"`
}

// ParseActionPayload decodes a raw client payload.
func ParseActionPayload(raw json.RawMessage) (ActionPayload, error) {
	var p ActionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ActionPayload{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return p, nil
}

// toEngineAction maps a payload onto an engine action, translating player
// ids to seats. Legality is left to the engine.
func (g *CoupGame) toEngineAction(p ActionPayload) (engine.Action, error) {
	if p.Type == "" {
		return engine.Action{}, fmt.Errorf("%w: missing type", ErrBadPayload)
	}
	a := engine.Action{
		Type:     p.Type,
		Target:   p.Target,
		Disabled: p.Disabled,
		Card:     p.Card,
		Cards:    p.Cards,
		Reason:   p.Reason,
	}
	if p.TargetID != nil {
		seat, ok := g.PlayerToEngine[*p.TargetID]
		if !ok {
			return engine.Action{}, fmt.Errorf("%w: target %s is not seated", ErrBadPayload, *p.TargetID)
		}
		a.Target = &seat
	}
	return a, nil
}

// publicAction hides the cards a player keeps after an exchange.
func publicAction(a engine.Action) engine.Action {
	if a.Type == engine.ActionChoose && a.Reason == engine.ReasonExchange {
		a.Cards = nil
	}
	return a
}

// observation is the part of the state compared before and after a mutation
// to decide which announcements to make.
type observation struct {
	turn       int
	eliminated []bool
}

func (g *CoupGame) observe() observation {
	o := observation{turn: g.Engine.CurrTurn, eliminated: make([]bool, len(g.Engine.Players))}
	for i, p := range g.Engine.Players {
		o.eliminated[i] = p.Eliminated
	}
	return o
}

// applyEngineAction applies a move to the engine and announces it. An engine
// fault rolls the state back to before the call.
// Assumes lock is held by caller.
func (g *CoupGame) applyEngineAction(playerID uuid.UUID, action engine.Action) error {
	seat := g.PlayerToEngine[playerID]
	before := g.observe()
	snap := g.Engine.Save()

	if err := g.Engine.DoAction(seat, action); err != nil {
		if errors.Is(err, engine.ErrInvalidAction) {
			g.logger.WithField("player", playerID).Warnf("rejected %s: %v", action, err)
		} else {
			g.Engine.Restore(snap)
			g.logger.WithError(err).WithField("player", playerID).Errorf("engine fault applying %s, state restored", action)
		}
		g.fireError(playerID, err)
		return err
	}

	g.logger.WithField("player", playerID).Infof("played %s", action)
	g.logAction(playerID, string(action.Type), map[string]any{"seat": seat, "action": action})
	pub := publicAction(action)
	g.fireEvent(GameEvent{Type: EventPlayerAction, User: g.eventUser(playerID), Action: &pub})
	g.afterMutation(before)
	return nil
}

// resolve pops and applies the top of the stack. actorID is Nil when the
// resolve timer fired.
// Assumes lock is held by caller.
func (g *CoupGame) resolve(actorID uuid.UUID) error {
	top, hadTop := g.Engine.Top()
	before := g.observe()
	snap := g.Engine.Save()

	if err := g.Engine.Resolve(); err != nil {
		if errors.Is(err, engine.ErrEmptyStack) || errors.Is(err, engine.ErrGameOver) {
			g.logger.Warnf("resolve refused: %v", err)
		} else {
			g.Engine.Restore(snap)
			g.logger.WithError(err).Error("engine fault while resolving, state restored")
		}
		if actorID != uuid.Nil {
			g.fireError(actorID, err)
		}
		return err
	}

	ev := GameEvent{Type: EventGameResolve}
	if hadTop {
		pub := publicAction(top.Action)
		ev.Action = &pub
		ev.User = g.eventUser(g.EngineToPlayer[top.Player])
		g.logger.Debugf("resolved %s for seat %d", top.Action, top.Player)
	}
	g.logAction(actorID, "resolve", map[string]any{"resolved": top})
	g.fireEvent(ev)
	g.afterMutation(before)
	return nil
}

// afterMutation persists the new state, tells every player what changed and
// arms the resolve timer.
// Assumes lock is held by caller.
func (g *CoupGame) afterMutation(before observation) {
	g.seq++
	declared := g.Engine.WinnerDeclared()
	if !declared {
		g.persist() // endGame writes the final snapshot with the result
	}

	for i, was := range before.eliminated {
		if !was && g.Engine.Players[i].Eliminated {
			id := g.EngineToPlayer[i]
			g.logger.WithField("player", id).Info("player eliminated")
			g.fireEvent(GameEvent{Type: EventPlayerEliminated, User: g.eventUser(id)})
		}
	}
	g.broadcastSyncStateToAll()

	if declared {
		g.endGame()
		return
	}
	if g.Engine.CurrTurn != before.turn {
		g.broadcastPlayerTurn()
	}
	g.scheduleResolve()
}

// scheduleResolve arms the timer that resolves the stack when nobody acts.
// Nothing is scheduled while a player owes a choice or it is the current
// player's turn to move. When anyone may still respond the timer runs for
// ResponseWindow, otherwise for ResolveDelay.
// Assumes lock is held by caller.
func (g *CoupGame) scheduleResolve() {
	g.stopResolveTimer()
	if g.GameOver || g.closed || len(g.Engine.ActionStack) == 0 {
		return
	}
	delay := g.ResolveDelay
	for p := range g.Engine.Players {
		a := g.Engine.ActionsFor(p)
		if a.MustChoose() {
			return
		}
		if !a.Empty() {
			delay = g.ResponseWindow
		}
	}
	if delay <= 0 {
		return
	}

	expected := g.seq
	g.resolveTimer = time.AfterFunc(delay, func() {
		g.Mu.Lock()
		defer g.Mu.Unlock()
		if g.GameOver || g.closed || g.seq != expected {
			return
		}
		g.logger.Debugf("resolve timer fired after %s", delay)
		g.resolve(uuid.Nil)
	})
}

func (g *CoupGame) stopResolveTimer() {
	if g.resolveTimer != nil {
		g.resolveTimer.Stop()
		g.resolveTimer = nil
	}
}
