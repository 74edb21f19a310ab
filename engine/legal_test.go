package engine

import (
	"bytes"
	"errors"
	"testing"
)

func containsAction(list []Action, a Action) bool {
	for _, x := range list {
		if x.Equal(a) {
			return true
		}
	}
	return false
}

func assertActions(t *testing.T, name string, got, want []Action) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s = %v, want %v", name, got, want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("%s[%d] = %s, want %s (full: %v)", name, i, got[i], want[i], got)
		}
	}
}

// TestOpeningOffer verifies the start-of-turn split between truthful claims
// and bluffs.
func TestOpeningOffer(t *testing.T) {
	g := newDuel(t)
	a := g.ActionsFor(0)

	assertActions(t, "general", a.GeneralActions, []Action{Income(), ForeignAid()})
	assertActions(t, "character", a.CharacterActions, []Action{Steal(1), Tax()})
	assertActions(t, "bluff", a.BluffActions, []Action{Assassinate(1, true), Exchange()})
	if a.ChooseActions != nil {
		t.Errorf("unexpected choose actions %+v", a.ChooseActions)
	}
	if !g.ActionsFor(1).Empty() {
		t.Errorf("off-turn player offered %v", g.ActionsFor(1).All())
	}
}

func TestCoupThresholds(t *testing.T) {
	tests := []struct {
		coins      int
		wantIncome bool
		wantCoup   bool
		wantClaims bool
	}{
		{coins: 6, wantIncome: true, wantCoup: false, wantClaims: true},
		{coins: 7, wantIncome: true, wantCoup: true, wantClaims: true},
		{coins: 9, wantIncome: true, wantCoup: true, wantClaims: true},
		{coins: 10, wantIncome: false, wantCoup: true, wantClaims: false},
	}
	for _, tt := range tests {
		g := newDuel(t)
		g.Players[0].Coins = tt.coins
		g.RecomputeActions()
		a := g.ActionsFor(0)

		if got := containsAction(a.GeneralActions, Income()); got != tt.wantIncome {
			t.Errorf("coins=%d: Income offered = %v, want %v", tt.coins, got, tt.wantIncome)
		}
		if got := containsAction(a.GeneralActions, Coup(1)); got != tt.wantCoup {
			t.Errorf("coins=%d: Coup offered = %v, want %v", tt.coins, got, tt.wantCoup)
		}
		if got := len(a.CharacterActions)+len(a.BluffActions) > 0; got != tt.wantClaims {
			t.Errorf("coins=%d: claims offered = %v, want %v", tt.coins, got, tt.wantClaims)
		}
	}
}

// TestAssassinateDisabledBelowCost verifies the disabled flag tracks coins and
// that a disabled Assassinate is never accepted.
func TestAssassinateDisabledBelowCost(t *testing.T) {
	g := newDuel(t)
	if !containsAction(g.ActionsFor(0).BluffActions, Assassinate(1, true)) {
		t.Fatalf("expected disabled Assassinate in %v", g.ActionsFor(0).BluffActions)
	}
	if g.IsActionLegal(0, Assassinate(1, true)) {
		t.Error("disabled Assassinate was accepted")
	}
	if g.IsActionLegal(0, Assassinate(1, false)) {
		t.Error("enabled Assassinate accepted while it was offered disabled")
	}

	g.Players[0].Coins = AssassinateCost
	g.RecomputeActions()
	if !g.IsActionLegal(0, Assassinate(1, false)) {
		t.Errorf("Assassinate rejected with %d coins", AssassinateCost)
	}
}

// TestIllegalActionLeavesStateUntouched checks rejection happens before any
// mutation.
func TestIllegalActionLeavesStateUntouched(t *testing.T) {
	g := newDuel(t)
	before, err := g.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	illegal := []struct {
		player int
		action Action
	}{
		{1, Income()},                  // not their turn
		{0, Pass()},                    // nothing to pass on
		{0, Steal(0)},                  // self-target
		{0, Coup(1)},                   // cannot afford
		{0, Block(Duke)},               // nothing to block
		{0, Choose(ReasonCoup, Duke)},  // no prompt
		{5, Income()},                  // no such player
		{0, Action{Type: ActionSteal}}, // missing target
	}
	for _, tt := range illegal {
		if err := g.DoAction(tt.player, tt.action); !errors.Is(err, ErrInvalidAction) {
			t.Errorf("DoAction(%d, %s) err = %v, want ErrInvalidAction", tt.player, tt.action, err)
		}
	}

	after, _ := g.Serialize()
	if !bytes.Equal(before, after) {
		t.Errorf("state changed after rejected actions:\nbefore %s\nafter  %s", before, after)
	}
}

// TestEveryOfferIsLegal walks a game and checks each offered action passes
// the whitelist.
func TestEveryOfferIsLegal(t *testing.T) {
	g, err := NewGame(2024, []PlayerInfo{{"a", "1"}, {"b", "2"}, {"c", "3"}})
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	for step := 0; step < 200 && !g.WinnerDeclared(); step++ {
		var offers []PlayerAction
		for p := range g.Players {
			for _, a := range g.ActionsFor(p).All() {
				if a.Type == ActionAssassinate && a.Disabled {
					if g.IsActionLegal(p, a) {
						t.Fatalf("disabled %s legal for %d", a, p)
					}
					continue
				}
				if !g.IsActionLegal(p, a) {
					t.Fatalf("step %d: offered %s is not legal for player %d", step, a, p)
				}
				offers = append(offers, PlayerAction{Player: p, Action: a})
			}
		}
		if len(offers) == 0 {
			mustResolve(t, g)
			continue
		}
		pick := offers[step%len(offers)]
		mustDo(t, g, pick.Player, pick.Action)
		checkInvariants(t, g)
	}
}

// checkInvariants asserts the properties that hold after every move.
func checkInvariants(t *testing.T, g *GameState) {
	t.Helper()
	for i, p := range g.Players {
		allFlipped := true
		for _, c := range g.Hands[i] {
			if !c.Flipped {
				allFlipped = false
			}
		}
		if p.Eliminated != allFlipped {
			t.Fatalf("player %d eliminated=%v but all flipped=%v", i, p.Eliminated, allFlipped)
		}
		if p.Coins < 0 {
			t.Fatalf("player %d has %d coins", i, p.Coins)
		}
	}
	if len(g.ActionStack) == 0 {
		for i, h := range g.Hands {
			if len(h) != HandSize {
				t.Fatalf("player %d holds %d cards between rounds", i, len(h))
			}
		}
	}
}

// TestRespondersToTargetedAction verifies only the victim of a Steal may
// respond in a three-player game.
func TestRespondersToTargetedAction(t *testing.T) {
	g := newFixedGame(t, stockDeck,
		[]Card{Duke, Captain}, []Card{Contessa, Assassin}, []Card{Ambassador, Duke})
	mustDo(t, g, 0, Steal(2))

	if len(g.WaitingOnPlayers) != 1 || g.WaitingOnPlayers[0] != 2 {
		t.Fatalf("WaitingOnPlayers = %v, want [2]", g.WaitingOnPlayers)
	}
	if !g.ActionsFor(1).Empty() {
		t.Errorf("bystander offered %v", g.ActionsFor(1).All())
	}
	a := g.ActionsFor(2)
	assertActions(t, "general", a.GeneralActions, []Action{Pass(), Challenge()})
	assertActions(t, "character", a.CharacterActions, []Action{Block(Ambassador)})
	assertActions(t, "bluff", a.BluffActions, []Action{Block(Captain)})
}

// TestIncomeHasNoResponders verifies unchallengeable, unblockable actions
// wait only on Resolve.
func TestIncomeHasNoResponders(t *testing.T) {
	g := newDuel(t)
	mustDo(t, g, 0, Income())
	if len(g.WaitingOnPlayers) != 0 {
		t.Errorf("WaitingOnPlayers = %v, want none", g.WaitingOnPlayers)
	}
	for p := range g.Players {
		if !g.ActionsFor(p).Empty() {
			t.Errorf("player %d offered %v while Income is pending", p, g.ActionsFor(p).All())
		}
	}
}

// TestExchangeChoices verifies the exchange prompt offers each unordered
// pair once.
func TestExchangeChoices(t *testing.T) {
	g := newDuel(t)
	mustDo(t, g, 0, Exchange())
	mustDo(t, g, 1, Pass())

	if topType(g) != ActionExchangingInfluence {
		t.Fatalf("top = %q, want Exchanging Influence", topType(g))
	}
	choose := g.ActionsFor(0).ChooseActions
	if choose == nil {
		t.Fatal("no exchange prompt")
	}
	wantCards := []Card{Duke, Captain, Ambassador, Ambassador}
	if len(choose.Cards) != len(wantCards) {
		t.Fatalf("cards = %v, want %v", choose.Cards, wantCards)
	}
	for i := range wantCards {
		if choose.Cards[i] != wantCards[i] {
			t.Fatalf("cards = %v, want %v", choose.Cards, wantCards)
		}
	}
	assertActions(t, "choose", choose.Actions, []Action{
		Choose(ReasonExchange, Captain, Duke),
		Choose(ReasonExchange, Duke, Ambassador),
		Choose(ReasonExchange, Captain, Ambassador),
		Choose(ReasonExchange, Ambassador, Ambassador),
	})
	if !g.ActionsFor(1).Empty() {
		t.Errorf("opponent offered %v during exchange", g.ActionsFor(1).All())
	}
}

// TestRevealOffersOnlyUnquarantinedCards verifies a card that just beat a
// challenge is not offered when its owner must lose influence.
func TestRevealOffersOnlyUnquarantinedCards(t *testing.T) {
	g := newDuel(t)
	g.Hands[1][0].Replacing = true
	g.ActionStack = []PlayerAction{{Player: 1, Action: RevealingInfluence(ReasonCoup)}}
	g.RecomputeActions()

	choose := g.ActionsFor(1).ChooseActions
	if choose == nil {
		t.Fatal("no reveal prompt")
	}
	assertActions(t, "choose", choose.Actions, []Action{Choose(ReasonCoup, Assassin)})

	// With nothing else concealed the quarantined card has to go.
	g.Hands[1][1].Flipped = true
	g.RecomputeActions()
	assertActions(t, "choose", g.ActionsFor(1).ChooseActions.Actions, []Action{Choose(ReasonCoup, Captain)})
}

func TestActionEqual(t *testing.T) {
	if !Steal(1).Equal(Steal(1)) {
		t.Error("identical steals differ")
	}
	if Steal(1).Equal(Steal(0)) {
		t.Error("steals with different targets are equal")
	}
	if Assassinate(1, false).Equal(Assassinate(1, true)) {
		t.Error("disabled flag ignored")
	}
	if Block(Duke).Equal(Block(Contessa)) {
		t.Error("block card ignored")
	}
	if Choose(ReasonExchange, Duke, Captain).Equal(Choose(ReasonExchange, Captain, Duke)) {
		t.Error("choose card order ignored")
	}
	if Choose(ReasonFailedBluff, Duke).Equal(Choose(ReasonBeatenChallenge, Duke)) {
		t.Error("choose reason ignored")
	}
	if (Action{Type: ActionSteal}).Equal(Steal(0)) {
		t.Error("missing target equals target 0")
	}
}
