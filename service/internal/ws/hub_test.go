package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/lukebatchelor/coup/engine"
	"github.com/lukebatchelor/coup/service/internal/auth"
	"github.com/lukebatchelor/coup/service/internal/game"
	"github.com/lukebatchelor/coup/service/internal/lobby"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Type    string          `json:"type"`
	User    *game.EventUser `json:"user"`
	Action  *engine.Action  `json:"action"`
	Payload json.RawMessage `json:"payload"`
	State   json.RawMessage `json:"state"`
}

type testEnv struct {
	srv    *httptest.Server
	tokens *auth.Issuer
	hub    *Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens := auth.NewIssuer("test-secret", time.Hour)
	hub := NewHub(tokens, nil, nil)
	rooms := lobby.NewManager(hub.Send, game.Options{Seed: 3})
	hub.SetLobby(rooms)

	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		srv.Close()
		rooms.Close()
	})
	return &testEnv{srv: srv, tokens: tokens, hub: hub}
}

func (e *testEnv) dial(t *testing.T, nickname string) (*websocket.Conn, uuid.UUID) {
	t.Helper()
	id := uuid.New()
	token, err := e.tokens.Issue(id, nickname)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, id
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": msgType, "payload": json.RawMessage(raw)}))
}

// expect reads until a message of msgType arrives.
func expect(t *testing.T, conn *websocket.Conn, msgType string) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var env envelope
		require.NoError(t, wsjson.Read(ctx, conn, &env), "waiting for %s", msgType)
		if env.Type == msgType {
			return env
		}
	}
}

func TestRejectsMissingToken(t *testing.T) {
	e := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(e.srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoomAndGameOverSocket(t *testing.T) {
	e := newTestEnv(t)
	alice, aliceID := e.dial(t, "alice")
	bob, bobID := e.dial(t, "bob")

	send(t, alice, MsgRoomCreate, map[string]string{})
	var room lobby.RoomView
	require.NoError(t, json.Unmarshal(expect(t, alice, ReplyRoomJoined).Payload, &room))
	assert.Equal(t, aliceID, room.HostID)

	send(t, bob, MsgRoomJoin, map[string]string{"roomCode": room.Code})
	require.NoError(t, json.Unmarshal(expect(t, bob, ReplyRoomJoined).Payload, &room))
	require.Len(t, room.Players, 2)

	send(t, bob, MsgGameStart, nil)
	var errPayload map[string]string
	require.NoError(t, json.Unmarshal(expect(t, bob, ReplyError).Payload, &errPayload))
	assert.Equal(t, "not_host", errPayload["code"])

	send(t, alice, MsgGameStart, nil)
	var view game.ObfGameState
	require.NoError(t, json.Unmarshal(expect(t, bob, string(game.EventPrivateSyncState)).State, &view))
	require.Len(t, view.Players, 2)
	assert.Equal(t, aliceID, view.CurrentPlayerID)
	for _, c := range view.Players[0].Hand {
		assert.False(t, c.Known, "bob cannot see alice's cards")
	}
	for _, c := range view.Players[1].Hand {
		assert.True(t, c.Known)
	}
	expect(t, alice, string(game.EventPrivateSyncState))

	send(t, alice, MsgGameAction, game.ActionPayload{Type: engine.ActionIncome})
	played := expect(t, bob, string(game.EventPlayerAction))
	require.NotNil(t, played.Action)
	assert.Equal(t, engine.ActionIncome, played.Action.Type)
	require.NotNil(t, played.User)
	assert.Equal(t, aliceID, played.User.ID)

	// Out of turn: rejected privately.
	send(t, bob, MsgGameAction, game.ActionPayload{Type: engine.ActionTax})
	require.NoError(t, json.Unmarshal(expect(t, bob, string(game.EventPrivateError)).Payload, &errPayload))
	assert.Equal(t, "invalid_action", errPayload["code"])

	bob.Close(websocket.StatusNormalClosure, "bye")
	gone := expect(t, alice, string(game.EventPlayerDisconnect))
	require.NotNil(t, gone.User)
	assert.Equal(t, bobID, gone.User.ID)
}

func TestUnknownMessageType(t *testing.T) {
	e := newTestEnv(t)
	conn, _ := e.dial(t, "carol")
	send(t, conn, "room:dance", nil)
	var errPayload map[string]string
	require.NoError(t, json.Unmarshal(expect(t, conn, ReplyError).Payload, &errPayload))
	assert.Equal(t, "bad_request", errPayload["code"])

	send(t, conn, MsgGameResolve, nil)
	require.NoError(t, json.Unmarshal(expect(t, conn, ReplyError).Payload, &errPayload))
	assert.Equal(t, "not_in_room", errPayload["code"])
}
