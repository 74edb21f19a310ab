// Package engine implements the rules of Coup.
//
// A GameState is the single source of truth for one table: it validates
// every move against the actions it last offered, sequences claims, blocks
// and challenges on an action stack, and applies their consequences. It has
// no notion of time, transport or storage and is not safe for concurrent
// use; callers serialize access per game.
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAction is returned when a move was not offered to the player.
	ErrInvalidAction = errors.New("invalid action")
	// ErrEmptyStack is returned by Resolve when nothing is pending.
	ErrEmptyStack = errors.New("action stack is empty")
	// ErrGameOver is returned by Resolve once a winner has been declared.
	ErrGameOver = errors.New("game is over")
	// ErrInvariant marks internal corruption. The state must not be used
	// after an operation returns it.
	ErrInvariant = errors.New("engine invariant violated")
	// ErrPlayerCount is returned by NewGame for tables outside 2–6 players.
	ErrPlayerCount = errors.New("unsupported player count")
)

func invariant(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// Player is one seat at the table. DeltaCoins is income or loss earned this
// round that is applied when the round commits.
type Player struct {
	Index      int    `json:"index"`
	Coins      int    `json:"coins"`
	DeltaCoins int    `json:"deltaCoins"`
	Nickname   string `json:"nickname"`
	ID         string `json:"id"`
	Eliminated bool   `json:"eliminated"`
}

// PlayerInfo identifies a seat when creating a game.
type PlayerInfo struct {
	Nickname string
	ID       string
}

// GameState is the complete, serializable state of one game.
type GameState struct {
	Players          []Player           `json:"players"`
	Deck             []Card             `json:"deck"`
	Hands            [][]CardInHand     `json:"hands"`
	CurrTurn         int                `json:"currTurn"`
	ActionPlayed     bool               `json:"actionPlayed"`
	ChallengeUsable  bool               `json:"challengeUsable"`
	ActionStack      []PlayerAction     `json:"actionStack"`
	ActionList       []PlayerAction     `json:"actionList"`
	Actions          []AvailableActions `json:"actions"`
	WaitingOnPlayers []int              `json:"waitingOnPlayers"`
	RNG              uint64             `json:"rng"`
}

// ---------------------------------------------------------------------------
// xorshift64 RNG
// ---------------------------------------------------------------------------

func (g *GameState) nextRand() uint64 {
	x := g.RNG
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	g.RNG = x
	return x
}

// randN returns a random number in [0, n).
func (g *GameState) randN(n uint64) uint64 {
	return g.nextRand() % n
}

// ---------------------------------------------------------------------------
// NewGame
// ---------------------------------------------------------------------------

// NewGame seats players in the given order, shuffles a fresh deck with seed,
// deals two cards to each player and computes the opening actions. Player 0
// moves first.
func NewGame(seed uint64, players []PlayerInfo) (*GameState, error) {
	if len(players) < MinPlayers || len(players) > MaxPlayers {
		return nil, fmt.Errorf("%w: %d", ErrPlayerCount, len(players))
	}
	g := &GameState{
		RNG:             seed,
		ChallengeUsable: true,
	}
	if g.RNG == 0 {
		g.RNG = 1 // xorshift can't start at 0
	}

	g.Deck = make([]Card, 0, DeckSize)
	for _, c := range AllCards {
		for range CopiesPerCard {
			g.Deck = append(g.Deck, c)
		}
	}
	g.shuffleDeck()

	g.Players = make([]Player, len(players))
	g.Hands = make([][]CardInHand, len(players))
	for i, p := range players {
		g.Players[i] = Player{Index: i, Coins: StartingCoins, Nickname: p.Nickname, ID: p.ID}
		for range HandSize {
			c, err := g.draw()
			if err != nil {
				return nil, err
			}
			g.Hands[i] = append(g.Hands[i], CardInHand{Card: c})
		}
	}

	g.updateActions()
	return g, nil
}

// ---------------------------------------------------------------------------
// Query methods
// ---------------------------------------------------------------------------

// Top returns the entry on top of the action stack.
func (g *GameState) Top() (PlayerAction, bool) {
	if len(g.ActionStack) == 0 {
		return PlayerAction{}, false
	}
	return g.ActionStack[len(g.ActionStack)-1], true
}

// Winner returns the sole surviving player, if exactly one remains.
func (g *GameState) Winner() (int, bool) {
	winner, alive := -1, 0
	for i := range g.Players {
		if !g.Players[i].Eliminated {
			winner = i
			alive++
		}
	}
	return winner, alive == 1
}

// IsGameOver reports whether only one player is left standing.
func (g *GameState) IsGameOver() bool {
	_, ok := g.Winner()
	return ok
}

// WinnerDeclared reports whether the round has committed with a winner.
// No further moves are accepted after this.
func (g *GameState) WinnerDeclared() bool {
	top, ok := g.Top()
	return ok && top.Action.Type == ActionDeclareWinner
}

// ActionsFor returns the cached offer for player.
func (g *GameState) ActionsFor(player int) AvailableActions {
	if player < 0 || player >= len(g.Actions) {
		return AvailableActions{}
	}
	return g.Actions[player]
}

// IsWaitingOn reports whether player still has to respond to the stack top.
func (g *GameState) IsWaitingOn(player int) bool {
	for _, p := range g.WaitingOnPlayers {
		if p == player {
			return true
		}
	}
	return false
}

// Opponents returns the living players other than player, in seat order.
func (g *GameState) Opponents(player int) []int {
	opps := make([]int, 0, len(g.Players)-1)
	for i := range g.Players {
		if i != player && !g.Players[i].Eliminated {
			opps = append(opps, i)
		}
	}
	return opps
}

// InfluenceCount returns how many concealed cards player still holds.
func (g *GameState) InfluenceCount(player int) int {
	n := 0
	for _, c := range g.Hands[player] {
		if !c.Flipped {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Snapshot Undo (Save / Restore)
// ---------------------------------------------------------------------------

// Snapshot is a deep copy of a GameState for undo support.
type Snapshot struct{ state GameState }

// Save returns a snapshot of the current game state.
func (g *GameState) Save() Snapshot { return Snapshot{state: *g.Clone()} }

// Restore replaces the game state with the given snapshot.
func (g *GameState) Restore(s Snapshot) { *g = *s.state.Clone() }

// Clone returns a deep copy of g. Actions are treated as immutable values,
// so their target pointers and card slices are shared.
func (g *GameState) Clone() *GameState {
	c := *g
	c.Players = append([]Player(nil), g.Players...)
	c.Deck = append([]Card(nil), g.Deck...)
	c.Hands = make([][]CardInHand, len(g.Hands))
	for i, h := range g.Hands {
		c.Hands[i] = append([]CardInHand(nil), h...)
	}
	c.ActionStack = append([]PlayerAction(nil), g.ActionStack...)
	c.ActionList = append([]PlayerAction(nil), g.ActionList...)
	c.Actions = append([]AvailableActions(nil), g.Actions...)
	c.WaitingOnPlayers = append([]int(nil), g.WaitingOnPlayers...)
	return &c
}
