// Package models holds the identities and message shapes shared by the
// lobby, the game sessions and the transport.
package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// User is an authenticated person, identified by the session token.
type User struct {
	ID       uuid.UUID `json:"id"`
	Nickname string    `json:"nickname"`
}

// Player is a User seated in a room. Connected tracks whether a websocket
// is currently attached.
type Player struct {
	ID        uuid.UUID `json:"id"`
	User      *User     `json:"user"`
	Connected bool      `json:"connected"`
}

// NewPlayer seats u.
func NewPlayer(u *User) *Player {
	return &Player{ID: u.ID, User: u}
}

// Nickname returns the display name, or "" for a player with no user.
func (p *Player) Nickname() string {
	if p == nil || p.User == nil {
		return ""
	}
	return p.User.Nickname
}

// GameAction is the envelope every client message arrives in. Payload is
// decoded according to ActionType by the handler.
type GameAction struct {
	ActionType string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
