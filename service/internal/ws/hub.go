// Package ws carries the realtime protocol: one websocket per player,
// JSON envelopes in both directions.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/lukebatchelor/coup/service/internal/auth"
	"github.com/lukebatchelor/coup/service/internal/lobby"
	"github.com/lukebatchelor/coup/service/internal/models"
	log "github.com/sirupsen/logrus"
)

const (
	sendBuffer   = 64
	pingInterval = 15 * time.Second
	writeTimeout = 5 * time.Second
)

// Client is one open socket.
type Client struct {
	user   *models.User
	conn   *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// Hub maps players to their socket. A player has at most one; a new
// connection replaces the old one.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client

	rooms   *lobby.Manager
	tokens  *auth.Issuer
	origins []string
	logger  *log.Entry
}

// NewHub creates a hub that authenticates sockets with tokens. origins are
// the accepted Origin host patterns; same-origin requests are always
// accepted.
func NewHub(tokens *auth.Issuer, origins []string, logger *log.Entry) *Hub {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Hub{
		clients: make(map[uuid.UUID]*Client),
		tokens:  tokens,
		origins: origins,
		logger:  logger.WithField("component", "ws"),
	}
}

// SetLobby attaches the room manager. The manager is built with Hub.Send
// as its sender, so it cannot be passed to NewHub.
func (h *Hub) SetLobby(m *lobby.Manager) {
	h.rooms = m
}

// Send queues msg for playerID. It never blocks: a client whose queue is
// full is dropped and will resync when it reconnects.
func (h *Hub) Send(playerID uuid.UUID, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Error("marshal outgoing message")
		return
	}
	h.mu.RLock()
	c := h.clients[playerID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	select {
	case c.send <- data:
	default:
		h.logger.WithField("player", playerID).Warn("send queue full, dropping client")
		c.cancel()
	}
}

// Connected reports whether playerID has an open socket.
func (h *Hub) Connected(playerID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[playerID] != nil
}

// ServeHTTP upgrades an authenticated request to a websocket and runs the
// connection until either side closes it. The token comes from the
// "token" query parameter or a bearer Authorization header.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, nickname, err := h.tokens.Parse(requestToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.WithError(err).Warn("websocket accept")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &Client{
		user:   &models.User{ID: id, Nickname: nickname},
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		cancel: cancel,
	}
	h.register(c)
	logger := h.logger.WithField("player", id)
	logger.Info("client connected")

	if code, ok := h.rooms.Connect(id); ok {
		logger.WithField("room", code).Info("rejoined room")
	}

	go h.writeLoop(ctx, c)
	h.readLoop(ctx, c, logger)

	cancel()
	if h.unregister(c) {
		h.rooms.Disconnect(id)
	}
	logger.Info("client disconnected")
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	old := h.clients[c.user.ID]
	h.clients[c.user.ID] = c
	h.mu.Unlock()
	if old != nil {
		old.cancel()
	}
}

// unregister removes c if it is still the player's current client.
func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.user.ID] != c {
		return false
	}
	delete(h.clients, c.user.ID)
	return true
}

func (h *Hub) readLoop(ctx context.Context, c *Client, logger *log.Entry) {
	for {
		var msg models.GameAction
		if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				logger.WithError(err).Debug("read failed")
			}
			return
		}
		h.dispatch(c, msg, logger)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *Client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			c.conn.Close(websocket.StatusNormalClosure, "closing")
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.cancel()
			}
		case <-ping.C:
			if err := c.conn.Ping(ctx); err != nil {
				c.cancel()
			}
		}
	}
}

func requestToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}
