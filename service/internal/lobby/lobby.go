// Package lobby manages rooms: players gather under a short code, the host
// starts a game, and the room forwards game events to its members.
package lobby

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lukebatchelor/coup/engine"
	"github.com/lukebatchelor/coup/service/internal/database"
	"github.com/lukebatchelor/coup/service/internal/game"
	"github.com/lukebatchelor/coup/service/internal/models"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room is full")
	ErrWrongPassword    = errors.New("wrong room password")
	ErrAlreadyStarted   = errors.New("game already started")
	ErrNotHost          = errors.New("only the host can do that")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrNotInRoom        = errors.New("player is not in this room")
	ErrInGame           = errors.New("player is seated in a running game")
	ErrNoGame           = errors.New("no game has been started in this room")
)

const codeLength = 5

// EventType names the lobby's own messages. Game events are forwarded as
// game.GameEvent values.
type EventType string

const (
	EventRoomStatus       EventType = "room_status"
	EventHostDisconnected EventType = "host_disconnected"
	EventGameStarted      EventType = "game_started"
)

// Event is a lobby message sent to room members.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// Sender delivers a message to one player. It must not block.
type Sender func(playerID uuid.UUID, msg any)

// PlayerView is a room member as shown in room status messages.
type PlayerView struct {
	ID        uuid.UUID `json:"id"`
	Nickname  string    `json:"nickname"`
	Connected bool      `json:"connected"`
	Host      bool      `json:"host"`
}

// RoomView is the public description of a room.
type RoomView struct {
	Code        string       `json:"roomCode"`
	HostID      uuid.UUID    `json:"hostId"`
	Players     []PlayerView `json:"players"`
	InGame      bool         `json:"inGame"`
	GameID      *uuid.UUID   `json:"gameId,omitempty"`
	HasPassword bool         `json:"hasPassword"`
}

type room struct {
	code         string
	hostID       uuid.UUID
	players      []*models.Player
	passwordHash []byte
	createdAt    time.Time
	game         *game.CoupGame // last game played here, nil before the first start
	inGame       bool
}

// Manager owns every room. Lock order is Manager.mu, then a game's Mu.
type Manager struct {
	mu         sync.RWMutex
	rooms      map[string]*room
	playerRoom map[uuid.UUID]string

	send     Sender
	gameOpts game.Options
	logger   *log.Entry
}

// NewManager creates an empty manager. Games are created with opts.
func NewManager(send Sender, opts game.Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Manager{
		rooms:      make(map[string]*room),
		playerRoom: make(map[uuid.UUID]string),
		send:       send,
		gameOpts:   opts,
		logger:     logger.WithField("component", "lobby"),
	}
}

// Create opens a room hosted by u, who joins it straight away. A non-empty
// password is required from everyone else who joins.
func (m *Manager) Create(u *models.User, password string) (RoomView, error) {
	var hash []byte
	if password != "" {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost); err != nil {
			return RoomView{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seatedInGame(u.ID) {
		return RoomView{}, ErrInGame
	}
	code := randomCode(codeLength)
	for m.rooms[code] != nil {
		code = randomCode(codeLength)
	}
	m.leaveLocked(u.ID)

	r := &room{
		code:         code,
		hostID:       u.ID,
		passwordHash: hash,
		createdAt:    time.Now().UTC(),
	}
	p := models.NewPlayer(u)
	p.Connected = true
	r.players = append(r.players, p)
	m.rooms[code] = r
	m.playerRoom[u.ID] = code

	m.logger.WithFields(log.Fields{"room": code, "host": u.ID}).Info("room created")
	m.broadcastStatus(r)
	return m.viewLocked(r), nil
}

// Join seats u in the room with code. A member of a room whose game has
// started may rejoin; newcomers may not.
func (m *Manager) Join(code string, u *models.User, password string) (RoomView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rooms[code]
	if r == nil {
		return RoomView{}, ErrRoomNotFound
	}
	if p := r.member(u.ID); p != nil {
		m.reconnectLocked(r, p)
		return m.viewLocked(r), nil
	}
	if r.inGame {
		return RoomView{}, ErrAlreadyStarted
	}
	if m.seatedInGame(u.ID) {
		return RoomView{}, ErrInGame
	}
	if len(r.players) >= engine.MaxPlayers {
		return RoomView{}, ErrRoomFull
	}
	if r.passwordHash != nil {
		if err := bcrypt.CompareHashAndPassword(r.passwordHash, []byte(password)); err != nil {
			return RoomView{}, ErrWrongPassword
		}
	}

	m.leaveLocked(u.ID)
	p := models.NewPlayer(u)
	p.Connected = true
	r.players = append(r.players, p)
	m.playerRoom[u.ID] = code

	m.logger.WithFields(log.Fields{"room": code, "player": u.ID}).Info("player joined")
	m.broadcastStatus(r)
	return m.viewLocked(r), nil
}

// Leave removes playerID from their room. During a game the seat is kept
// and the player is only marked disconnected.
func (m *Manager) Leave(playerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.playerRoom[playerID]; !ok {
		return ErrNotInRoom
	}
	m.leaveLocked(playerID)
	return nil
}

func (m *Manager) leaveLocked(playerID uuid.UUID) {
	code, ok := m.playerRoom[playerID]
	if !ok {
		return
	}
	r := m.rooms[code]
	if r.inGame {
		m.disconnectLocked(r, playerID)
		return
	}

	delete(m.playerRoom, playerID)
	for i, p := range r.players {
		if p.ID == playerID {
			r.players = append(r.players[:i], r.players[i+1:]...)
			break
		}
	}
	m.logger.WithFields(log.Fields{"room": code, "player": playerID}).Info("player left")

	if len(r.players) == 0 {
		m.closeRoomLocked(r)
		return
	}
	if r.hostID == playerID {
		r.hostID = r.players[0].ID
		m.broadcast(r, Event{Type: EventHostDisconnected, Payload: map[string]any{"hostId": r.hostID}})
	}
	m.broadcastStatus(r)
}

func (m *Manager) closeRoomLocked(r *room) {
	delete(m.rooms, r.code)
	for _, p := range r.players {
		delete(m.playerRoom, p.ID)
	}
	if r.game != nil {
		go r.game.Close()
	}
	m.logger.WithField("room", r.code).Info("room closed")
}

// StartGame deals a game for the room's members in join order.
func (m *Manager) StartGame(code string, playerID uuid.UUID) (*game.CoupGame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rooms[code]
	if r == nil {
		return nil, ErrRoomNotFound
	}
	if r.hostID != playerID {
		return nil, ErrNotHost
	}
	if r.inGame {
		return nil, ErrAlreadyStarted
	}
	if len(r.players) < engine.MinPlayers {
		return nil, ErrNotEnoughPlayers
	}

	seated := append([]*models.Player(nil), r.players...)
	g, err := game.NewCoupGame(code, seated, m.gameOpts)
	if err != nil {
		return nil, err
	}
	if r.game != nil {
		go r.game.Close()
	}
	m.attachLocked(r, g)
	m.broadcast(r, Event{Type: EventGameStarted, Payload: map[string]any{"gameId": g.ID}})

	g.Mu.Lock()
	g.Start()
	g.Mu.Unlock()

	m.logger.WithFields(log.Fields{"room": code, "game": g.ID, "players": len(seated)}).Info("game started")
	m.broadcastStatus(r)
	return g, nil
}

// attachLocked makes g the running game of r and routes its events to the
// seated players.
func (m *Manager) attachLocked(r *room, g *game.CoupGame) {
	seated := g.Players
	g.BroadcastFn = func(ev game.GameEvent) {
		for _, p := range seated {
			if p.Connected {
				m.send(p.ID, ev)
			}
		}
	}
	g.BroadcastToPlayerFn = func(id uuid.UUID, ev game.GameEvent) { m.send(id, ev) }
	g.OnGameEnd = m.onGameEnd
	r.game = g
	r.inGame = true
}

// SnapshotSource lists the games that were still running when the server
// last stopped.
type SnapshotSource interface {
	ActiveSnapshots(ctx context.Context, since time.Time) ([]database.Snapshot, error)
}

// Restore reopens a room for every running game found in src that was
// updated within maxAge (zero means no limit). The first seat hosts, room
// passwords are not kept, and players rejoin by reconnecting. Snapshots that
// cannot be resumed are logged and skipped. It returns the number of games
// resumed.
func (m *Manager) Restore(ctx context.Context, src SnapshotSource, maxAge time.Duration) (int, error) {
	var since time.Time
	if maxAge > 0 {
		since = time.Now().Add(-maxAge)
	}
	snaps, err := src.ActiveSnapshots(ctx, since)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	resumed := 0
	for _, snap := range snaps {
		logger := m.logger.WithFields(log.Fields{"room": snap.RoomCode, "game": snap.GameID})
		if _, taken := m.rooms[snap.RoomCode]; taken {
			logger.Warn("room already open, not resuming game")
			continue
		}
		g, err := game.ResumeCoupGame(snap, m.gameOpts)
		if err != nil {
			logger.WithError(err).Warn("cannot resume game")
			continue
		}
		if m.anySeatedLocked(g.Players) {
			logger.Warn("a player already sits in another room, not resuming game")
			g.Close()
			continue
		}

		r := &room{
			code:      snap.RoomCode,
			hostID:    g.Players[0].ID,
			players:   append([]*models.Player(nil), g.Players...),
			createdAt: time.Now(),
		}
		m.rooms[r.code] = r
		for _, p := range r.players {
			m.playerRoom[p.ID] = r.code
		}
		m.attachLocked(r, g)

		g.Mu.Lock()
		g.Resume()
		g.Mu.Unlock()
		resumed++
	}
	return resumed, nil
}

func (m *Manager) anySeatedLocked(players []*models.Player) bool {
	for _, p := range players {
		if _, ok := m.playerRoom[p.ID]; ok {
			return true
		}
	}
	return false
}

// onGameEnd reopens the room for another game. Players who left while the
// game ran are dropped now.
func (m *Manager) onGameEnd(code string, gameID uuid.UUID, winner uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.rooms[code]
	if r == nil || r.game == nil || r.game.ID != gameID {
		return
	}
	r.inGame = false
	m.logger.WithFields(log.Fields{"room": code, "game": gameID, "winner": winner}).Info("game finished")

	var gone []uuid.UUID
	r.game.Mu.Lock()
	for _, p := range r.players {
		if !p.Connected {
			gone = append(gone, p.ID)
		}
	}
	r.game.Mu.Unlock()
	for _, id := range gone {
		m.leaveLocked(id)
	}
	if m.rooms[code] != nil {
		m.broadcastStatus(r)
	}
}

// Connect marks playerID as connected to their room, if any, and resends
// the game state. It returns the room code.
func (m *Manager) Connect(playerID uuid.UUID) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.playerRoom[playerID]
	if !ok {
		return "", false
	}
	r := m.rooms[code]
	m.reconnectLocked(r, r.member(playerID))
	return code, true
}

// Disconnect marks playerID as gone without giving up their seat.
func (m *Manager) Disconnect(playerID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.playerRoom[playerID]
	if !ok {
		return
	}
	m.disconnectLocked(m.rooms[code], playerID)
}

func (m *Manager) reconnectLocked(r *room, p *models.Player) {
	if r.inGame {
		r.game.Mu.Lock()
		r.game.HandleReconnect(p.ID)
		r.game.Mu.Unlock()
	} else {
		m.setConnected(r, p, true)
	}
	m.broadcastStatus(r)
}

func (m *Manager) disconnectLocked(r *room, playerID uuid.UUID) {
	if r.inGame {
		r.game.Mu.Lock()
		r.game.HandleDisconnect(playerID)
		r.game.Mu.Unlock()
	} else if p := r.member(playerID); p != nil {
		m.setConnected(r, p, false)
	}
	if r.hostID == playerID {
		m.broadcast(r, Event{Type: EventHostDisconnected, Payload: map[string]any{"hostId": r.hostID}})
	}
	m.broadcastStatus(r)
}

// setConnected flips the flag outside of a running game. A finished game
// still reads the flag of its players, so its lock is taken too.
func (m *Manager) setConnected(r *room, p *models.Player, connected bool) {
	if r.game != nil {
		r.game.Mu.Lock()
		defer r.game.Mu.Unlock()
	}
	p.Connected = connected
}

// Room returns the public view of a room.
func (m *Manager) Room(code string) (RoomView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.rooms[code]
	if r == nil {
		return RoomView{}, ErrRoomNotFound
	}
	return m.viewLocked(r), nil
}

// RoomOf returns the code of the room playerID belongs to.
func (m *Manager) RoomOf(playerID uuid.UUID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	code, ok := m.playerRoom[playerID]
	return code, ok
}

// Game returns the room's current or most recent game.
func (m *Manager) Game(code string) (*game.CoupGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r := m.rooms[code]
	if r == nil {
		return nil, ErrRoomNotFound
	}
	if r.game == nil {
		return nil, ErrNoGame
	}
	return r.game, nil
}

// Close shuts down every game.
func (m *Manager) Close() {
	m.mu.Lock()
	games := make([]*game.CoupGame, 0, len(m.rooms))
	for _, r := range m.rooms {
		if r.game != nil {
			games = append(games, r.game)
		}
	}
	m.mu.Unlock()
	for _, g := range games {
		g.Close()
	}
}

func (m *Manager) seatedInGame(playerID uuid.UUID) bool {
	code, ok := m.playerRoom[playerID]
	return ok && m.rooms[code].inGame
}

func (r *room) member(playerID uuid.UUID) *models.Player {
	for _, p := range r.players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// viewLocked reads connection flags under the game lock once a game owns
// them.
func (m *Manager) viewLocked(r *room) RoomView {
	v := RoomView{
		Code:        r.code,
		HostID:      r.hostID,
		InGame:      r.inGame,
		HasPassword: r.passwordHash != nil,
		Players:     make([]PlayerView, len(r.players)),
	}
	if r.game != nil {
		id := r.game.ID
		v.GameID = &id
		r.game.Mu.Lock()
		defer r.game.Mu.Unlock()
	}
	for i, p := range r.players {
		v.Players[i] = PlayerView{
			ID:        p.ID,
			Nickname:  p.Nickname(),
			Connected: p.Connected,
			Host:      p.ID == r.hostID,
		}
	}
	return v
}

func (m *Manager) broadcastStatus(r *room) {
	m.broadcast(r, Event{Type: EventRoomStatus, Payload: m.viewLocked(r)})
}

func (m *Manager) broadcast(r *room, ev Event) {
	if m.send == nil {
		return
	}
	for _, p := range r.players {
		m.send(p.ID, ev)
	}
}

func randomCode(n int) string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.IntN(len(letters))]
	}
	return string(b)
}
