package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lukebatchelor/coup/service/internal/auth"
	"github.com/lukebatchelor/coup/service/internal/lobby"
	"github.com/lukebatchelor/coup/service/internal/models"
	log "github.com/sirupsen/logrus"
)

const userKey = "user"

// requestLogger logs one line per request. Websocket upgrades are logged
// by the hub instead.
func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if path == "/ws" {
			return
		}
		logger.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   path,
			"status": c.Writer.Status(),
			"dur":    time.Since(start),
		}).Info("http")
	}
}

func requireAuth(tokens *auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, nickname, err := tokens.Parse(bearerToken(c))
		if err != nil {
			abortWithError(c, http.StatusUnauthorized, "unauthorized", err)
			return
		}
		c.Set(userKey, &models.User{ID: id, Nickname: nickname})
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func abortWithError(c *gin.Context, status int, code string, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": err.Error()})
}

func abortWithLobbyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lobby.ErrRoomNotFound):
		abortWithError(c, http.StatusNotFound, "room_not_found", err)
	case errors.Is(err, lobby.ErrNoGame):
		abortWithError(c, http.StatusNotFound, "no_game", err)
	case errors.Is(err, lobby.ErrWrongPassword):
		abortWithError(c, http.StatusForbidden, "wrong_password", err)
	case errors.Is(err, lobby.ErrNotHost):
		abortWithError(c, http.StatusForbidden, "not_host", err)
	case errors.Is(err, lobby.ErrRoomFull):
		abortWithError(c, http.StatusConflict, "room_full", err)
	case errors.Is(err, lobby.ErrAlreadyStarted):
		abortWithError(c, http.StatusConflict, "already_started", err)
	case errors.Is(err, lobby.ErrInGame):
		abortWithError(c, http.StatusConflict, "in_game", err)
	case errors.Is(err, lobby.ErrNotEnoughPlayers):
		abortWithError(c, http.StatusConflict, "not_enough_players", err)
	default:
		abortWithError(c, http.StatusInternalServerError, "internal", err)
	}
}
