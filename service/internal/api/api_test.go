package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lukebatchelor/coup/service/internal/auth"
	"github.com/lukebatchelor/coup/service/internal/database"
	"github.com/lukebatchelor/coup/service/internal/game"
	"github.com/lukebatchelor/coup/service/internal/lobby"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	tokens *auth.Issuer
	store  *database.SQLiteStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "coup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rooms := lobby.NewManager(func(uuid.UUID, any) {}, game.Options{Seed: 1})
	t.Cleanup(rooms.Close)

	tokens := auth.NewIssuer("test-secret", time.Hour)
	s := &Server{Rooms: rooms, Tokens: tokens, Store: store}
	return &testServer{router: s.Router(), tokens: tokens, store: store}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) session(t *testing.T, nickname string) sessionResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/session", "", gin.H{"nickname": nickname})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)
}

func TestCreateSession(t *testing.T) {
	ts := newTestServer(t)

	first := ts.session(t, "alice")
	id, nick, err := ts.tokens.Parse(first.Token)
	require.NoError(t, err)
	assert.Equal(t, first.PlayerID, id)
	assert.Equal(t, "alice", nick)

	// A valid token keeps the player id.
	w := ts.do(t, http.MethodPost, "/api/session", first.Token, gin.H{"nickname": "alicia"})
	require.Equal(t, http.StatusOK, w.Code)
	var renewed sessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &renewed))
	assert.Equal(t, first.PlayerID, renewed.PlayerID)
	assert.Equal(t, "alicia", renewed.Nickname)

	w = ts.do(t, http.MethodPost, "/api/session", "", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = ts.do(t, http.MethodPost, "/api/rooms", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoomLifecycle(t *testing.T) {
	ts := newTestServer(t)
	alice, bob := ts.session(t, "alice"), ts.session(t, "bob")

	w := ts.do(t, http.MethodPost, "/api/rooms", alice.Token, gin.H{"password": "pw"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var room lobby.RoomView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	assert.True(t, room.HasPassword)

	w = ts.do(t, http.MethodPost, "/api/rooms/"+room.Code+"/join", bob.Token, gin.H{"password": "nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(t, http.MethodPost, "/api/rooms/"+room.Code+"/join", bob.Token, gin.H{"password": "pw"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodGet, "/api/rooms/"+room.Code, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	require.Len(t, room.Players, 2)
	assert.Equal(t, "bob", room.Players[1].Nickname)

	w = ts.do(t, http.MethodPost, "/api/rooms/"+room.Code+"/start", bob.Token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(t, http.MethodPost, "/api/rooms/"+room.Code+"/start", alice.Token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "gameId")

	w = ts.do(t, http.MethodGet, "/api/rooms/"+room.Code+"/snapshot", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "a running game is never exposed")

	w = ts.do(t, http.MethodGet, "/api/rooms/ZZZZZ", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotFromStore(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	w := ts.do(t, http.MethodGet, "/api/rooms/QWERT/snapshot", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, ts.store.SaveSnapshot(ctx, database.Snapshot{
		GameID: uuid.New(), RoomCode: "QWERT", Version: 3, InGame: false, State: []byte(`{"currTurn":1}`),
	}))
	w = ts.do(t, http.MethodGet, "/api/rooms/QWERT/snapshot", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"currTurn":1}`, w.Body.String())

	require.NoError(t, ts.store.SaveSnapshot(ctx, database.Snapshot{
		GameID: uuid.New(), RoomCode: "ASDFG", Version: 1, InGame: true, State: []byte(`{}`),
	}))
	w = ts.do(t, http.MethodGet, "/api/rooms/ASDFG/snapshot", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGameResult(t *testing.T) {
	ts := newTestServer(t)
	gameID, winner := uuid.New(), uuid.New()
	require.NoError(t, ts.store.SaveResult(context.Background(), database.Result{
		GameID: gameID, RoomCode: "ABCDE", WinnerID: winner, State: []byte(`{"currTurn":0}`),
	}))

	w := ts.do(t, http.MethodGet, "/api/games/"+gameID.String(), "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res resultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, winner, res.WinnerID)
	assert.Equal(t, "ABCDE", res.RoomCode)
	assert.JSONEq(t, `{"currTurn":0}`, string(res.State))

	w = ts.do(t, http.MethodGet, "/api/games/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodGet, "/api/games/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// No redis configured: the log is simply missing.
	w = ts.do(t, http.MethodGet, "/api/games/"+gameID.String()+"/actions", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
