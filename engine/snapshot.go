package engine

import (
	"encoding/json"
	"fmt"
)

// Serialize encodes the whole game, including concealed cards, the deck
// order and the RNG position. It is meant for storage, not for players.
func (g *GameState) Serialize() ([]byte, error) {
	return json.Marshal(g)
}

// Deserialize restores a game written by Serialize. The cached offer is
// taken as stored; call RecomputeActions if it may be missing.
func Deserialize(data []byte) (*GameState, error) {
	var g GameState
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode game state: %w", err)
	}
	if len(g.Players) < MinPlayers || len(g.Players) > MaxPlayers {
		return nil, fmt.Errorf("decode game state: %w: %d", ErrPlayerCount, len(g.Players))
	}
	if len(g.Hands) != len(g.Players) {
		return nil, fmt.Errorf("decode game state: %d hands for %d players", len(g.Hands), len(g.Players))
	}
	if g.Actions == nil {
		g.Actions = make([]AvailableActions, len(g.Players))
	}
	return &g, nil
}
