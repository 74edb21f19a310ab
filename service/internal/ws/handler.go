package ws

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lukebatchelor/coup/service/internal/game"
	"github.com/lukebatchelor/coup/service/internal/lobby"
	"github.com/lukebatchelor/coup/service/internal/models"
	log "github.com/sirupsen/logrus"
)

// Client message types.
const (
	MsgRoomCreate  = "room:create"
	MsgRoomJoin    = "room:join"
	MsgRoomLeave   = "room:leave"
	MsgGameStart   = "game:start"
	MsgGameAction  = "game:action"
	MsgGameResolve = "game:resolve"
	MsgGameSync    = "game:sync"
)

// Reply types sent only to the requesting client.
const (
	ReplyRoomJoined = "room_joined"
	ReplyRoomLeft   = "room_left"
	ReplyError      = "error"
)

// Reply is the envelope for direct answers to a client request.
type Reply struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type roomRequest struct {
	RoomCode string `json:"roomCode"`
	Password string `json:"password"`
}

func (h *Hub) dispatch(c *Client, msg models.GameAction, logger *log.Entry) {
	id := c.user.ID
	logger = logger.WithField("msg", msg.ActionType)

	switch msg.ActionType {
	case MsgRoomCreate, MsgRoomJoin:
		var req roomRequest
		if err := decodePayload(msg.Payload, &req); err != nil {
			h.replyError(c, "bad_request", err)
			return
		}
		var (
			view lobby.RoomView
			err  error
		)
		if msg.ActionType == MsgRoomCreate {
			view, err = h.rooms.Create(c.user, req.Password)
		} else {
			view, err = h.rooms.Join(req.RoomCode, c.user, req.Password)
		}
		if err != nil {
			h.replyError(c, lobbyErrorCode(err), err)
			return
		}
		h.reply(c, Reply{Type: ReplyRoomJoined, Payload: view})

	case MsgRoomLeave:
		if err := h.rooms.Leave(id); err != nil {
			h.replyError(c, lobbyErrorCode(err), err)
			return
		}
		h.reply(c, Reply{Type: ReplyRoomLeft})

	case MsgGameStart:
		code, ok := h.rooms.RoomOf(id)
		if !ok {
			h.replyError(c, lobbyErrorCode(lobby.ErrNotInRoom), lobby.ErrNotInRoom)
			return
		}
		if _, err := h.rooms.StartGame(code, id); err != nil {
			h.replyError(c, lobbyErrorCode(err), err)
		}

	case MsgGameAction, MsgGameResolve, MsgGameSync:
		g, err := h.currentGame(c)
		if err != nil {
			h.replyError(c, lobbyErrorCode(err), err)
			return
		}
		g.Mu.Lock()
		defer g.Mu.Unlock()
		switch msg.ActionType {
		case MsgGameAction:
			payload, err := game.ParseActionPayload(msg.Payload)
			if err != nil {
				h.replyError(c, "invalid_action", err)
				return
			}
			// Rejections reach the player as a private_error event.
			if err := g.HandlePlayerAction(id, payload); err != nil {
				logger.WithError(err).Debug("action rejected")
			}
		case MsgGameResolve:
			if err := g.HandleResolve(id); err != nil {
				logger.WithError(err).Debug("resolve rejected")
			}
		case MsgGameSync:
			g.SendSyncState(id)
		}

	default:
		logger.Warn("unknown message type")
		h.replyError(c, "bad_request", fmt.Errorf("unknown message type %q", msg.ActionType))
	}
}

func (h *Hub) currentGame(c *Client) (*game.CoupGame, error) {
	code, ok := h.rooms.RoomOf(c.user.ID)
	if !ok {
		return nil, lobby.ErrNotInRoom
	}
	return h.rooms.Game(code)
}

func (h *Hub) reply(c *Client, r Reply) {
	h.Send(c.user.ID, r)
}

func (h *Hub) replyError(c *Client, code string, err error) {
	h.reply(c, Reply{Type: ReplyError, Payload: map[string]string{"code": code, "message": err.Error()}})
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func lobbyErrorCode(err error) string {
	switch {
	case errors.Is(err, lobby.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, lobby.ErrRoomFull):
		return "room_full"
	case errors.Is(err, lobby.ErrWrongPassword):
		return "wrong_password"
	case errors.Is(err, lobby.ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, lobby.ErrNotHost):
		return "not_host"
	case errors.Is(err, lobby.ErrNotEnoughPlayers):
		return "not_enough_players"
	case errors.Is(err, lobby.ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, lobby.ErrInGame):
		return "in_game"
	case errors.Is(err, lobby.ErrNoGame):
		return "no_game"
	default:
		return "internal"
	}
}
