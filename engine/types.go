package engine

import (
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// Cards
// ---------------------------------------------------------------------------

// Card is one of the five characters. The zero value is NoCard.
type Card uint8

const (
	NoCard Card = iota
	Captain
	Contessa
	Duke
	Assassin
	Ambassador
)

// AllCards lists every character in catalog order. Availability and deck
// construction iterate in this order, so offers are deterministic.
var AllCards = [...]Card{Captain, Contessa, Duke, Assassin, Ambassador}

var cardNames = [...]string{
	NoCard:     "",
	Captain:    "Captain",
	Contessa:   "Contessa",
	Duke:       "Duke",
	Assassin:   "Assassin",
	Ambassador: "Ambassador",
}

func (c Card) String() string {
	if int(c) < len(cardNames) {
		return cardNames[c]
	}
	return fmt.Sprintf("Card(%d)", uint8(c))
}

// Valid reports whether c names a character.
func (c Card) Valid() bool { return c >= Captain && c <= Ambassador }

// ParseCard maps a character name back to its Card.
func ParseCard(s string) (Card, error) {
	for _, c := range AllCards {
		if cardNames[c] == s {
			return c, nil
		}
	}
	return NoCard, fmt.Errorf("unknown card %q", s)
}

func (c Card) MarshalText() ([]byte, error) {
	if c != NoCard && !c.Valid() {
		return nil, fmt.Errorf("cannot encode card %d", uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Card) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*c = NoCard
		return nil
	}
	parsed, err := ParseCard(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// CardInHand is a dealt card. Flipped cards are permanently revealed.
// Replacing cards were proven in a challenge and are swapped for a fresh
// draw when the round commits; until then they stay concealed but cannot be
// offered for reveals or exchanges.
type CardInHand struct {
	Card      Card `json:"card"`
	Flipped   bool `json:"flipped"`
	Replacing bool `json:"replacing"`
}

// ---------------------------------------------------------------------------
// Action types
// ---------------------------------------------------------------------------

// ActionType discriminates the Action union. Values double as wire names.
type ActionType string

const (
	// General actions.
	ActionIncome     ActionType = "Income"
	ActionForeignAid ActionType = "Foreign Aid"
	ActionCoup       ActionType = "Coup"
	ActionChallenge  ActionType = "Challenge"
	ActionPass       ActionType = "Pass"
	ActionReveal     ActionType = "Reveal" // never offered; Choose carries reveals

	// Character actions, claimed truthfully or bluffed.
	ActionTax         ActionType = "Tax"
	ActionAssassinate ActionType = "Assassinate"
	ActionExchange    ActionType = "Exchange"
	ActionSteal       ActionType = "Steal"
	ActionBlock       ActionType = "Block"

	// Stack markers pushed by the engine itself.
	ActionRevealingInfluence  ActionType = "Revealing Influence"
	ActionExchangingInfluence ActionType = "Exchanging Influence"
	ActionResolving           ActionType = "Resolving"
	ActionDeclareWinner       ActionType = "Declare Winner"

	ActionChoose ActionType = "Choose"
)

// Blockable reports whether some character can block this action.
func (t ActionType) Blockable() bool {
	switch t {
	case ActionAssassinate, ActionForeignAid, ActionSteal:
		return true
	}
	return false
}

// Challengable reports whether the actor's character claim can be challenged.
func (t ActionType) Challengable() bool {
	switch t {
	case ActionAssassinate, ActionExchange, ActionSteal, ActionTax, ActionBlock:
		return true
	}
	return false
}

// Targeted reports whether the action names a single victim who alone may respond.
func (t ActionType) Targeted() bool {
	return t == ActionSteal || t == ActionAssassinate
}

// primary reports whether t starts a turn.
func (t ActionType) primary() bool {
	switch t {
	case ActionIncome, ActionForeignAid, ActionCoup, ActionTax,
		ActionAssassinate, ActionExchange, ActionSteal:
		return true
	}
	return false
}

// Reason explains why a player must choose a card.
type Reason string

const (
	ReasonExchange        Reason = "Exchange"
	ReasonAssassination   Reason = "Assassination"
	ReasonCoup            Reason = "Coup"
	ReasonFailedBluff     Reason = "Failed Bluff"
	ReasonFailedChallenge Reason = "Failed Challenge"
	ReasonBeatenChallenge Reason = "Beaten Challenge"
)

// ---------------------------------------------------------------------------
// Action
// ---------------------------------------------------------------------------

// Action is a tagged union keyed by Type. Only the fields that belong to a
// type are set; use the constructors below rather than literals so that
// structural comparison against offered actions lines up.
type Action struct {
	Type     ActionType `json:"type"`
	Target   *int       `json:"target,omitempty"`
	Disabled bool       `json:"disabled,omitempty"`
	Card     Card       `json:"card,omitempty"`
	Cards    []Card     `json:"cards,omitempty"`
	Reason   Reason     `json:"reason,omitempty"`
}

func target(t int) *int { return &t }

func Income() Action     { return Action{Type: ActionIncome} }
func ForeignAid() Action { return Action{Type: ActionForeignAid} }
func Challenge() Action  { return Action{Type: ActionChallenge} }
func Pass() Action       { return Action{Type: ActionPass} }
func Tax() Action        { return Action{Type: ActionTax} }
func Exchange() Action   { return Action{Type: ActionExchange} }

func Coup(t int) Action  { return Action{Type: ActionCoup, Target: target(t)} }
func Steal(t int) Action { return Action{Type: ActionSteal, Target: target(t)} }

// Assassinate is offered disabled while the actor cannot pay for it.
func Assassinate(t int, disabled bool) Action {
	return Action{Type: ActionAssassinate, Target: target(t), Disabled: disabled}
}

// Block claims card to stop the action beneath it on the stack.
func Block(card Card) Action { return Action{Type: ActionBlock, Card: card} }

func RevealingInfluence(r Reason) Action {
	return Action{Type: ActionRevealingInfluence, Reason: r}
}

func ExchangingInfluence() Action { return Action{Type: ActionExchangingInfluence} }
func Resolving() Action           { return Action{Type: ActionResolving} }
func DeclareWinner() Action       { return Action{Type: ActionDeclareWinner} }

// Choose answers a reveal or exchange prompt with one or two cards.
func Choose(r Reason, cards ...Card) Action {
	return Action{Type: ActionChoose, Cards: slices.Clone(cards), Reason: r}
}

// TargetIndex returns the victim of a targeted action.
func (a Action) TargetIndex() (int, bool) {
	if a.Target == nil {
		return 0, false
	}
	return *a.Target, true
}

// Equal compares two actions field by field.
func (a Action) Equal(b Action) bool {
	if a.Type != b.Type || a.Disabled != b.Disabled || a.Card != b.Card || a.Reason != b.Reason {
		return false
	}
	if (a.Target == nil) != (b.Target == nil) {
		return false
	}
	if a.Target != nil && *a.Target != *b.Target {
		return false
	}
	return slices.Equal(a.Cards, b.Cards)
}

func (a Action) String() string {
	switch {
	case a.Target != nil:
		return fmt.Sprintf("%s(%d)", a.Type, *a.Target)
	case a.Type == ActionBlock:
		return fmt.Sprintf("%s(%s)", a.Type, a.Card)
	case a.Type == ActionChoose:
		return fmt.Sprintf("%s(%v, %s)", a.Type, a.Cards, a.Reason)
	case a.Reason != "":
		return fmt.Sprintf("%s(%s)", a.Type, a.Reason)
	}
	return string(a.Type)
}

// PlayerAction is an action attributed to the player who took it.
type PlayerAction struct {
	Player int    `json:"player"`
	Action Action `json:"action"`
}

// ChooseActions lists the cards a player is being asked about together with
// the Choose actions they may answer with.
type ChooseActions struct {
	Cards   []Card   `json:"cards"`
	Actions []Action `json:"actions"`
}

// AvailableActions is everything one player may legally do right now.
type AvailableActions struct {
	GeneralActions   []Action       `json:"generalActions"`
	CharacterActions []Action       `json:"characterActions"`
	BluffActions     []Action       `json:"bluffActions"`
	ChooseActions    *ChooseActions `json:"chooseActions,omitempty"`
}

// Empty reports whether nothing at all is on offer.
func (a AvailableActions) Empty() bool {
	return len(a.GeneralActions) == 0 && len(a.CharacterActions) == 0 &&
		len(a.BluffActions) == 0 && (a.ChooseActions == nil || len(a.ChooseActions.Actions) == 0)
}

// MustChoose reports whether the player owes a card choice.
func (a AvailableActions) MustChoose() bool {
	return a.ChooseActions != nil && len(a.ChooseActions.Actions) > 0
}

// All flattens every offered action in offer order.
func (a AvailableActions) All() []Action {
	out := make([]Action, 0, len(a.GeneralActions)+len(a.CharacterActions)+len(a.BluffActions))
	out = append(out, a.GeneralActions...)
	out = append(out, a.CharacterActions...)
	out = append(out, a.BluffActions...)
	if a.ChooseActions != nil {
		out = append(out, a.ChooseActions.Actions...)
	}
	return out
}

// appendUnique appends a unless an equal action is already present.
func appendUnique(list []Action, a Action) []Action {
	for _, existing := range list {
		if existing.Equal(a) {
			return list
		}
	}
	return append(list, a)
}
