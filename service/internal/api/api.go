// Package api exposes the HTTP surface: session handshake, room REST
// endpoints, finished-game lookups and the websocket upgrade.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lukebatchelor/coup/service/internal/auth"
	"github.com/lukebatchelor/coup/service/internal/cache"
	"github.com/lukebatchelor/coup/service/internal/database"
	"github.com/lukebatchelor/coup/service/internal/lobby"
	"github.com/lukebatchelor/coup/service/internal/models"
	log "github.com/sirupsen/logrus"
)

// Server holds the dependencies of the HTTP handlers. Store and Cache may
// be nil.
type Server struct {
	Rooms  *lobby.Manager
	Tokens *auth.Issuer
	Store  database.SnapshotStore
	Cache  *cache.Client
	// Socket serves GET /ws. Nil leaves the route unregistered.
	Socket http.Handler
	Logger *log.Entry
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	if s.Logger == nil {
		s.Logger = log.NewEntry(log.StandardLogger())
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	api := r.Group("/api")
	api.POST("/session", s.createSession)
	api.GET("/rooms/:code", s.getRoom)
	api.GET("/rooms/:code/snapshot", s.getRoomSnapshot)
	api.GET("/games/:id", s.getGameResult)
	api.GET("/games/:id/actions", s.getGameActions)

	authed := api.Group("", requireAuth(s.Tokens))
	authed.POST("/rooms", s.createRoom)
	authed.POST("/rooms/:code/join", s.joinRoom)
	authed.POST("/rooms/:code/start", s.startGame)

	if s.Socket != nil {
		r.GET("/ws", gin.WrapH(s.Socket))
	}
	return r
}

type sessionRequest struct {
	Nickname string `json:"nickname" binding:"required,max=32"`
}

type sessionResponse struct {
	PlayerID uuid.UUID `json:"playerId"`
	Nickname string    `json:"nickname"`
	Token    string    `json:"token"`
}

// createSession hands out a player id and token. A caller presenting a
// valid token keeps its id and may change nickname.
func (s *Server) createSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	id, _, err := s.Tokens.Parse(bearerToken(c))
	if err != nil {
		if id, err = uuid.NewRandom(); err != nil {
			abortWithError(c, http.StatusInternalServerError, "internal", err)
			return
		}
	}
	token, err := s.Tokens.Issue(id, req.Nickname)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	s.Logger.WithField("player", id).Info("session issued")
	c.JSON(http.StatusOK, sessionResponse{PlayerID: id, Nickname: req.Nickname, Token: token})
}

type roomRequest struct {
	Password string `json:"password"`
}

func (s *Server) createRoom(c *gin.Context) {
	var req roomRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	view, err := s.Rooms.Create(currentUser(c), req.Password)
	if err != nil {
		abortWithLobbyError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (s *Server) joinRoom(c *gin.Context) {
	var req roomRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	view, err := s.Rooms.Join(c.Param("code"), currentUser(c), req.Password)
	if err != nil {
		abortWithLobbyError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) startGame(c *gin.Context) {
	g, err := s.Rooms.StartGame(c.Param("code"), currentUser(c).ID)
	if err != nil {
		abortWithLobbyError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"gameId": g.ID})
}

func (s *Server) getRoom(c *gin.Context) {
	view, err := s.Rooms.Room(c.Param("code"))
	if err != nil {
		abortWithLobbyError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// getRoomSnapshot returns the full state of a room's last finished game.
// Snapshots of running games hold every hidden card and are never served.
func (s *Server) getRoomSnapshot(c *gin.Context) {
	code := c.Param("code")
	ctx := c.Request.Context()

	view, err := s.Rooms.Room(code)
	if err == nil {
		if view.InGame {
			abortWithError(c, http.StatusConflict, "in_game", lobby.ErrAlreadyStarted)
			return
		}
		if data, err := s.Cache.CachedSnapshot(ctx, code); err == nil {
			c.Data(http.StatusOK, "application/json", data)
			return
		} else if !errors.Is(err, cache.ErrMiss) {
			s.Logger.WithError(err).Warn("read cached snapshot")
		}
	}

	if s.Store == nil {
		abortWithError(c, http.StatusNotFound, "not_found", database.ErrSnapshotNotFound)
		return
	}
	snap, err := s.Store.LatestSnapshot(ctx, code)
	switch {
	case errors.Is(err, database.ErrSnapshotNotFound):
		abortWithError(c, http.StatusNotFound, "not_found", err)
		return
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, "internal", err)
		return
	case snap.InGame:
		abortWithError(c, http.StatusConflict, "in_game", lobby.ErrAlreadyStarted)
		return
	}
	c.Data(http.StatusOK, "application/json", snap.State)
}

type resultResponse struct {
	GameID   uuid.UUID       `json:"gameId"`
	RoomCode string          `json:"roomCode"`
	WinnerID uuid.UUID       `json:"winnerId"`
	State    json.RawMessage `json:"state"`
}

func (s *Server) getGameResult(c *gin.Context) {
	res, ok := s.result(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, resultResponse{
		GameID:   res.GameID,
		RoomCode: res.RoomCode,
		WinnerID: res.WinnerID,
		State:    res.State,
	})
}

// getGameActions returns the action log of a finished game. The log holds
// private choices, so running games are refused the same way as unknown
// ones.
func (s *Server) getGameActions(c *gin.Context) {
	res, ok := s.result(c)
	if !ok {
		return
	}
	actions, err := s.Cache.GameActions(c.Request.Context(), res.GameID)
	switch {
	case errors.Is(err, cache.ErrMiss):
		abortWithError(c, http.StatusNotFound, "not_found", err)
		return
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, "internal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gameId": res.GameID, "actions": actions})
}

func (s *Server) result(c *gin.Context) (database.Result, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", err)
		return database.Result{}, false
	}
	if s.Store == nil {
		abortWithError(c, http.StatusNotFound, "not_found", database.ErrResultNotFound)
		return database.Result{}, false
	}
	res, err := s.Store.Result(c.Request.Context(), id)
	switch {
	case errors.Is(err, database.ErrResultNotFound):
		abortWithError(c, http.StatusNotFound, "not_found", err)
		return database.Result{}, false
	case err != nil:
		abortWithError(c, http.StatusInternalServerError, "internal", err)
		return database.Result{}, false
	}
	return res, true
}

func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}

func currentUser(c *gin.Context) *models.User {
	return c.MustGet(userKey).(*models.User)
}
