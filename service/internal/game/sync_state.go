// internal/game/sync_state.go
package game

import (
	"github.com/google/uuid"
	"github.com/lukebatchelor/coup/engine"
)

// Spectator is the viewer index for someone with no seat.
const Spectator = -1

// ObfCard represents a card's state for client synchronization, potentially hiding details.
type ObfCard struct {
	Known     bool        `json:"known"` // True if Card is revealed to the requesting client.
	Card      engine.Card `json:"card,omitempty"`
	Flipped   bool        `json:"flipped"`
	Replacing bool        `json:"replacing"`
}

// ObfPlayerState represents the state of a single player, obfuscated for a specific observer.
type ObfPlayerState struct {
	PlayerID      uuid.UUID `json:"playerId"`
	Nickname      string    `json:"nickname"`
	Seat          int       `json:"seat"`
	Coins         int       `json:"coins"`
	DeltaCoins    int       `json:"deltaCoins"`
	Influence     int       `json:"influence"`
	Eliminated    bool      `json:"eliminated"`
	Connected     bool      `json:"connected"`
	IsCurrentTurn bool      `json:"isCurrentTurn"`
	Hand          []ObfCard `json:"hand"`
}

// ObfPlayerAction is a stack or history entry as seen by the observer.
type ObfPlayerAction struct {
	PlayerID uuid.UUID     `json:"playerId"`
	Seat     int           `json:"seat"`
	Action   engine.Action `json:"action"`
}

// ObfGameState represents the overall game state, obfuscated for a specific observer.
type ObfGameState struct {
	GameID          uuid.UUID         `json:"gameId"`
	RoomCode        string            `json:"roomCode"`
	GameOver        bool              `json:"gameOver"`
	WinnerID        string            `json:"winnerId,omitempty"`
	CurrentPlayerID uuid.UUID         `json:"currentPlayerId"`
	DeckSize        int               `json:"deckSize"`
	ChallengeUsable bool              `json:"challengeUsable"`
	Players         []ObfPlayerState  `json:"players"`
	ActionStack     []ObfPlayerAction `json:"actionStack"`
	ActionList      []ObfPlayerAction `json:"actionList"`
	WaitingOn       []uuid.UUID       `json:"waitingOn"`
	// Actions is what the observer may play now; nil for spectators.
	Actions *engine.AvailableActions `json:"actions,omitempty"`
}

// BuildView renders state as seen from seat viewer, or from the stands when
// viewer is Spectator. Player ids are read from the engine's player records.
//
// The viewer sees their own hand in full. Other players' concealed cards are
// hidden unless they are quarantined after winning a challenge, which shows
// them publicly. The deck is reduced to its size, and the cards a player
// keeps from an exchange are visible only to that player.
func BuildView(state *engine.GameState, viewer int) ObfGameState {
	ids := make([]uuid.UUID, len(state.Players))
	for i, p := range state.Players {
		ids[i], _ = uuid.Parse(p.ID)
	}

	obf := ObfGameState{
		GameOver:        state.IsGameOver(),
		CurrentPlayerID: ids[state.CurrTurn],
		DeckSize:        len(state.Deck),
		ChallengeUsable: state.ChallengeUsable,
		Players:         make([]ObfPlayerState, len(state.Players)),
		ActionStack:     viewActions(state.ActionStack, ids, viewer),
		ActionList:      viewActions(state.ActionList, ids, viewer),
		WaitingOn:       make([]uuid.UUID, 0, len(state.WaitingOnPlayers)),
	}
	if w, ok := state.Winner(); ok {
		obf.WinnerID = ids[w].String()
	}
	for _, p := range state.WaitingOnPlayers {
		obf.WaitingOn = append(obf.WaitingOn, ids[p])
	}

	for i, p := range state.Players {
		ps := ObfPlayerState{
			PlayerID:      ids[i],
			Nickname:      p.Nickname,
			Seat:          i,
			Coins:         p.Coins,
			DeltaCoins:    p.DeltaCoins,
			Influence:     state.InfluenceCount(i),
			Eliminated:    p.Eliminated,
			IsCurrentTurn: i == state.CurrTurn && !obf.GameOver,
			Hand:          make([]ObfCard, len(state.Hands[i])),
		}
		for j, c := range state.Hands[i] {
			oc := ObfCard{Flipped: c.Flipped, Replacing: c.Replacing}
			if i == viewer || c.Flipped || c.Replacing {
				oc.Known = true
				oc.Card = c.Card
			}
			ps.Hand[j] = oc
		}
		obf.Players[i] = ps
	}

	if viewer >= 0 && viewer < len(state.Players) {
		actions := state.ActionsFor(viewer)
		obf.Actions = &actions
	}
	return obf
}

func viewActions(list []engine.PlayerAction, ids []uuid.UUID, viewer int) []ObfPlayerAction {
	out := make([]ObfPlayerAction, len(list))
	for i, pa := range list {
		a := pa.Action
		if pa.Player != viewer {
			a = publicAction(a)
		}
		out[i] = ObfPlayerAction{PlayerID: ids[pa.Player], Seat: pa.Player, Action: a}
	}
	return out
}

// GetCurrentObfuscatedGameState generates a snapshot of the game state,
// tailored to the perspective of the requesting user (`forUser`).
// Users with no seat get the spectator view.
// This function assumes the game lock is HELD by the caller.
func (g *CoupGame) GetCurrentObfuscatedGameState(forUser uuid.UUID) ObfGameState {
	viewer := Spectator
	if seat, ok := g.PlayerToEngine[forUser]; ok {
		viewer = seat
	}
	obf := BuildView(g.Engine, viewer)
	obf.GameID = g.ID
	obf.RoomCode = g.RoomCode
	for i := range obf.Players {
		if p := g.getPlayerByID(obf.Players[i].PlayerID); p != nil {
			obf.Players[i].Connected = p.Connected
		}
	}
	return obf
}
