// internal/game/game.go
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lukebatchelor/coup/engine"
	"github.com/lukebatchelor/coup/service/internal/cache"
	"github.com/lukebatchelor/coup/service/internal/database"
	"github.com/lukebatchelor/coup/service/internal/models"
	log "github.com/sirupsen/logrus"
)

// OnGameEndFunc defines the signature for a callback function executed when a game ends.
// It receives the room code, the game ID and the winner's player ID.
type OnGameEndFunc func(roomCode string, gameID uuid.UUID, winner uuid.UUID)

// GameEventType represents the type of a game-related event broadcast via WebSockets.
type GameEventType string

// Constants defining the various GameEvent types used for WebSocket communication.
const (
	EventPlayerAction     GameEventType = "player_action"      // Public: A player's move was accepted.
	EventGameResolve      GameEventType = "game_resolve"       // Public: The top of the stack was resolved.
	EventPlayerEliminated GameEventType = "player_eliminated"  // Public: A player lost their last influence.
	EventGamePlayerTurn   GameEventType = "game_player_turn"   // Public: Notification of the current player's turn.
	EventPlayerDisconnect GameEventType = "player_disconnect"  // Public: A seated player's socket closed.
	EventPlayerReconnect  GameEventType = "player_reconnect"   // Public: A seated player is back.
	EventPrivateSyncState GameEventType = "private_sync_state" // Private: Full game state sync for a player.
	EventPrivateError     GameEventType = "private_error"      // Private: A request from this player was rejected.
	EventGameEnd          GameEventType = "game_end"           // Public: Game has ended, includes the winner.
)

// Errors returned to callers of the session API. Engine errors
// (engine.ErrInvalidAction, engine.ErrEmptyStack, engine.ErrGameOver) are
// passed through unchanged.
var (
	ErrNotInGame        = errors.New("player is not seated in this game")
	ErrResponsesPending = errors.New("players may still respond")
	ErrClosed           = errors.New("game is closed")
	ErrGameFinished     = errors.New("snapshot holds a finished game")
)

// EventUser identifies a user within a GameEvent payload.
type EventUser struct {
	ID       uuid.UUID `json:"id"`
	Nickname string    `json:"nickname,omitempty"`
	Seat     int       `json:"seat"`
}

// GameEvent is the standard structure for broadcasting game state changes and actions.
type GameEvent struct {
	Type   GameEventType  `json:"type"`
	User   *EventUser     `json:"user,omitempty"`   // The user initiating or targeted by the event.
	Action *engine.Action `json:"action,omitempty"` // The move played or resolved, redacted for public events.

	Payload map[string]any `json:"payload,omitempty"` // Additional arbitrary data.

	State *ObfGameState `json:"state,omitempty"` // Full obfuscated state for sync events.
}

// Options configure a new game. Zero values fall back to defaults.
type Options struct {
	// Seed drives the engine's shuffles. Zero seeds from the clock.
	Seed uint64
	// ResolveDelay is how long to wait before resolving an action no one can
	// respond to. ResponseWindow is how long players get to respond before
	// silence counts as a pass. Zero disables the corresponding timer.
	ResolveDelay   time.Duration
	ResponseWindow time.Duration

	Store  database.SnapshotStore
	Cache  *cache.Client
	Logger *log.Entry
}

// persistJob is one write handed to the persistence worker.
type persistJob struct {
	snapshot database.Snapshot
	result   *database.Result
}

// CoupGame represents the state and logic for a single instance of a Coup game.
type CoupGame struct {
	ID       uuid.UUID // Unique identifier for this game instance.
	RoomCode string    // Code of the room that created this game.

	Players []*models.Player // Seated players, in seat order.

	// Engine integration: authoritative game state.
	Engine         *engine.GameState // The authoritative game state.
	PlayerToEngine map[uuid.UUID]int // Service player UUID -> engine index.
	EngineToPlayer []uuid.UUID       // Engine index -> service player UUID.

	// Resolve timing.
	ResolveDelay   time.Duration
	ResponseWindow time.Duration
	resolveTimer   *time.Timer
	seq            int // Increments on every mutation; stale timers compare against it.
	actionIndex    int // Sequential index for logging actions to the cache.

	// Game Lifecycle State
	Started  bool
	GameOver bool
	closed   bool

	Mu sync.Mutex // Mutex protecting concurrent access to game state.

	// Communication Callbacks
	BroadcastFn         func(ev GameEvent)                     // Sends an event to all connected players.
	BroadcastToPlayerFn func(playerID uuid.UUID, ev GameEvent) // Sends an event to a single player.
	OnGameEnd           OnGameEndFunc                          // Callback executed when the game finishes.

	store       database.SnapshotStore
	cache       *cache.Client
	persistCh   chan persistJob
	persistDone chan struct{}
	logger      *log.Entry
}

// NewCoupGame deals a new game for players, seated in the order given.
func NewCoupGame(roomCode string, players []*models.Player, opts Options) (*CoupGame, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	infos := make([]engine.PlayerInfo, len(players))
	for i, p := range players {
		infos[i] = engine.PlayerInfo{Nickname: p.Nickname(), ID: p.ID.String()}
	}
	state, err := engine.NewGame(seed, infos)
	if err != nil {
		return nil, err
	}
	return newCoupGame(id, roomCode, players, state, opts), nil
}

// ResumeCoupGame rebuilds a running game from a stored snapshot. Seats come
// from the engine state and every player starts disconnected. Call Resume
// once the callbacks are wired.
func ResumeCoupGame(snap database.Snapshot, opts Options) (*CoupGame, error) {
	state, err := engine.Deserialize(snap.State)
	if err != nil {
		return nil, err
	}
	if state.WinnerDeclared() {
		return nil, ErrGameFinished
	}
	state.RecomputeActions()

	players := make([]*models.Player, len(state.Players))
	for i, p := range state.Players {
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return nil, fmt.Errorf("seat %d: %w", i, err)
		}
		players[i] = models.NewPlayer(&models.User{ID: id, Nickname: p.Nickname})
	}

	g := newCoupGame(snap.GameID, snap.RoomCode, players, state, opts)
	g.seq = int(snap.Version)
	g.Started = true
	return g, nil
}

func newCoupGame(id uuid.UUID, roomCode string, players []*models.Player, state *engine.GameState, opts Options) *CoupGame {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	g := &CoupGame{
		ID:             id,
		RoomCode:       roomCode,
		Players:        players,
		Engine:         state,
		PlayerToEngine: make(map[uuid.UUID]int, len(players)),
		EngineToPlayer: make([]uuid.UUID, len(players)),
		ResolveDelay:   opts.ResolveDelay,
		ResponseWindow: opts.ResponseWindow,
		store:          opts.Store,
		cache:          opts.Cache,
		persistCh:      make(chan persistJob, 64),
		persistDone:    make(chan struct{}),
		logger:         logger.WithFields(log.Fields{"game": id, "room": roomCode}),
	}
	for i, p := range players {
		g.PlayerToEngine[p.ID] = i
		g.EngineToPlayer[i] = p.ID
	}
	go g.persistLoop()
	return g
}

// Start announces the deal and the first turn.
// Assumes lock is held by caller.
func (g *CoupGame) Start() {
	if g.Started || g.GameOver {
		g.logger.Warnf("Start called in invalid state (started=%v, over=%v)", g.Started, g.GameOver)
		return
	}
	g.Started = true
	g.logger.WithField("players", len(g.Players)).Info("game started")
	g.logAction(uuid.Nil, "game_start", map[string]any{"players": g.EngineToPlayer})

	g.persist()
	g.broadcastSyncStateToAll()
	g.broadcastPlayerTurn()
}

// Resume restarts the timers of a game built by ResumeCoupGame. Players
// get their state as they reconnect.
// Assumes lock is held by caller.
func (g *CoupGame) Resume() {
	g.logger.WithFields(log.Fields{"players": len(g.Players), "version": g.seq}).Info("game resumed")
	g.logAction(uuid.Nil, "game_resume", map[string]any{"players": g.EngineToPlayer})
	g.scheduleResolve()
}

// Close stops the resolve timer and waits for pending writes to finish.
func (g *CoupGame) Close() {
	g.Mu.Lock()
	if g.closed {
		g.Mu.Unlock()
		return
	}
	g.closed = true
	g.stopResolveTimer()
	close(g.persistCh)
	g.Mu.Unlock()

	<-g.persistDone
}

// HandlePlayerAction applies a move sent by playerID. Rejected moves are
// reported to the player as a private error and returned.
// Assumes lock is held by the caller.
func (g *CoupGame) HandlePlayerAction(playerID uuid.UUID, payload ActionPayload) error {
	if err := g.checkActive(playerID); err != nil {
		g.fireError(playerID, err)
		return err
	}
	action, err := g.toEngineAction(payload)
	if err != nil {
		g.fireError(playerID, err)
		return err
	}
	return g.applyEngineAction(playerID, action)
}

// HandleResolve resolves the top of the stack on a player's request. It is
// refused while any player can still respond or owes a choice.
// Assumes lock is held by the caller.
func (g *CoupGame) HandleResolve(playerID uuid.UUID) error {
	if err := g.checkActive(playerID); err != nil {
		g.fireError(playerID, err)
		return err
	}
	if g.anyoneCanAct() {
		g.fireError(playerID, ErrResponsesPending)
		return ErrResponsesPending
	}
	return g.resolve(playerID)
}

// checkActive reports why playerID cannot act right now, if anything.
func (g *CoupGame) checkActive(playerID uuid.UUID) error {
	switch {
	case g.closed:
		return ErrClosed
	case g.GameOver:
		return engine.ErrGameOver
	}
	if _, ok := g.PlayerToEngine[playerID]; !ok {
		return ErrNotInGame
	}
	return nil
}

// anyoneCanAct reports whether some player has an offer pending.
func (g *CoupGame) anyoneCanAct() bool {
	for p := range g.Engine.Players {
		if !g.Engine.ActionsFor(p).Empty() {
			return true
		}
	}
	return false
}

// fireEvent broadcasts an event to all players via the BroadcastFn callback.
// Assumes lock is held by caller.
func (g *CoupGame) fireEvent(ev GameEvent) {
	if g.BroadcastFn != nil {
		g.BroadcastFn(ev)
	} else {
		g.logger.Debugf("BroadcastFn is nil, dropping event %s", ev.Type)
	}
}

// fireEventToPlayer sends an event to a specific player via the BroadcastToPlayerFn callback.
// Checks if the player is connected before sending.
// Assumes lock is held by caller.
func (g *CoupGame) fireEventToPlayer(playerID uuid.UUID, ev GameEvent) {
	if g.BroadcastToPlayerFn == nil {
		g.logger.Debugf("BroadcastToPlayerFn is nil, dropping event %s for %s", ev.Type, playerID)
		return
	}
	if p := g.getPlayerByID(playerID); p != nil && p.Connected {
		g.BroadcastToPlayerFn(playerID, ev)
	}
}

// fireError tells playerID why their request was refused.
func (g *CoupGame) fireError(playerID uuid.UUID, err error) {
	g.fireEventToPlayer(playerID, GameEvent{
		Type: EventPrivateError,
		Payload: map[string]any{
			"code":    errorCode(err),
			"message": err.Error(),
		},
	})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidAction), errors.Is(err, ErrBadPayload):
		return "invalid_action"
	case errors.Is(err, engine.ErrEmptyStack):
		return "nothing_to_resolve"
	case errors.Is(err, engine.ErrGameOver):
		return "game_over"
	case errors.Is(err, ErrNotInGame):
		return "not_in_game"
	case errors.Is(err, ErrResponsesPending):
		return "responses_pending"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "internal"
	}
}

// HandleDisconnect marks a player as disconnected. The game carries on:
// response windows still expire, and a pending choice waits for the player
// to come back.
// Assumes lock is held by caller.
func (g *CoupGame) HandleDisconnect(playerID uuid.UUID) {
	p := g.getPlayerByID(playerID)
	if p == nil {
		g.logger.Warnf("disconnected player %s not found", playerID)
		return
	}
	if !p.Connected {
		return
	}
	p.Connected = false
	g.logger.WithField("player", playerID).Info("player disconnected")
	g.logAction(playerID, string(EventPlayerDisconnect), nil)

	g.fireEvent(GameEvent{Type: EventPlayerDisconnect, User: g.eventUser(playerID)})
	g.broadcastSyncStateToAll()
}

// HandleReconnect marks a player as connected and sends them the current game state.
// Assumes lock is held by caller.
func (g *CoupGame) HandleReconnect(playerID uuid.UUID) {
	p := g.getPlayerByID(playerID)
	if p == nil {
		g.logger.Warnf("reconnecting player %s not found", playerID)
		return
	}
	p.Connected = true
	g.logger.WithField("player", playerID).Info("player reconnected")
	g.logAction(playerID, string(EventPlayerReconnect), map[string]any{"nickname": p.Nickname()})

	g.fireEvent(GameEvent{Type: EventPlayerReconnect, User: g.eventUser(playerID)})
	g.broadcastSyncStateToAll()
}

// SendSyncState sends the current obfuscated game state to a single player.
// Assumes lock is held by caller.
func (g *CoupGame) SendSyncState(playerID uuid.UUID) {
	state := g.GetCurrentObfuscatedGameState(playerID)
	g.fireEventToPlayer(playerID, GameEvent{Type: EventPrivateSyncState, State: &state})
}

// broadcastSyncStateToAll sends each connected player their own view.
// Assumes lock is held by caller.
func (g *CoupGame) broadcastSyncStateToAll() {
	for _, p := range g.Players {
		if p.Connected {
			g.SendSyncState(p.ID)
		}
	}
}

// broadcastPlayerTurn announces whose turn it is.
// Assumes lock is held by caller.
func (g *CoupGame) broadcastPlayerTurn() {
	if g.GameOver {
		return
	}
	current := g.EngineToPlayer[g.Engine.CurrTurn]
	g.fireEvent(GameEvent{Type: EventGamePlayerTurn, User: g.eventUser(current)})
	g.logAction(current, string(EventGamePlayerTurn), map[string]any{"seat": g.Engine.CurrTurn})
}

// endGame marks the game finished once a winner has been declared.
// Assumes lock is held by caller.
func (g *CoupGame) endGame() {
	if g.GameOver {
		return
	}
	g.GameOver = true
	g.stopResolveTimer()

	var winner uuid.UUID
	if w, ok := g.Engine.Winner(); ok {
		winner = g.EngineToPlayer[w]
	}
	g.logger.WithField("winner", winner).Info("game over")
	g.logAction(winner, string(EventGameEnd), map[string]any{"winner": winner})
	g.persistResult(winner)

	g.fireEvent(GameEvent{
		Type: EventGameEnd,
		User: g.eventUser(winner),
		Payload: map[string]any{
			"winner": winner.String(),
		},
	})
	if g.OnGameEnd != nil {
		// Runs outside Mu: the callback takes the lobby lock.
		go g.OnGameEnd(g.RoomCode, g.ID, winner)
	}
}

// getPlayerByID returns the seated player with playerID, or nil.
func (g *CoupGame) getPlayerByID(playerID uuid.UUID) *models.Player {
	for _, p := range g.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

func (g *CoupGame) eventUser(playerID uuid.UUID) *EventUser {
	seat, ok := g.PlayerToEngine[playerID]
	if !ok {
		return nil
	}
	return &EventUser{ID: playerID, Nickname: g.getPlayerByID(playerID).Nickname(), Seat: seat}
}

// logAction records an action to the game's Redis log.
// Assumes lock is held by caller.
func (g *CoupGame) logAction(actorID uuid.UUID, actionType string, payload map[string]any) {
	g.actionIndex++
	if g.cache == nil {
		return
	}
	if payload == nil {
		payload = make(map[string]any)
	}
	record := cache.GameActionRecord{
		GameID:        g.ID,
		ActionIndex:   g.actionIndex,
		ActorUserID:   actorID, // Nil for game events.
		ActionType:    actionType,
		ActionPayload: payload,
		Timestamp:     time.Now().UnixMilli(),
	}

	go func(rec cache.GameActionRecord) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.cache.PublishGameAction(ctx, rec); err != nil {
			g.logger.WithError(err).Warnf("failed publishing action %d (%s)", rec.ActionIndex, rec.ActionType)
		}
	}(record)
}

// persist queues a snapshot of the current state.
// Assumes lock is held by caller.
func (g *CoupGame) persist() {
	if job, ok := g.snapshotJob(); ok {
		g.enqueue(job)
	}
}

// persistResult queues the final snapshot together with the result row.
// Assumes lock is held by caller.
func (g *CoupGame) persistResult(winner uuid.UUID) {
	job, ok := g.snapshotJob()
	if !ok {
		return
	}
	job.result = &database.Result{
		GameID:   g.ID,
		RoomCode: g.RoomCode,
		WinnerID: winner,
		State:    job.snapshot.State,
	}
	g.enqueue(job)
}

func (g *CoupGame) snapshotJob() (persistJob, bool) {
	data, err := g.Engine.Serialize()
	if err != nil {
		g.logger.WithError(err).Error("serialize snapshot")
		return persistJob{}, false
	}
	return persistJob{snapshot: database.Snapshot{
		GameID:   g.ID,
		RoomCode: g.RoomCode,
		Version:  int64(g.seq),
		InGame:   !g.Engine.WinnerDeclared(),
		State:    data,
	}}, true
}

func (g *CoupGame) enqueue(job persistJob) {
	if g.closed {
		return
	}
	select {
	case g.persistCh <- job:
		return
	default:
	}
	if job.result == nil {
		// A later snapshot supersedes this one.
		g.logger.Warnf("persist queue full, dropping snapshot v%d", job.snapshot.Version)
		return
	}
	// Results are never dropped. Evict the oldest queued snapshot instead;
	// the result carries a newer one. Every enqueue happens under Mu, so
	// the freed slot stays free for this send.
	for {
		select {
		case g.persistCh <- job:
			return
		default:
		}
		select {
		case old := <-g.persistCh:
			g.logger.Warnf("persist queue full, dropping snapshot v%d", old.snapshot.Version)
		default:
		}
	}
}

// persistLoop writes snapshots in the order they were queued.
func (g *CoupGame) persistLoop() {
	defer close(g.persistDone)
	for job := range g.persistCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if g.store != nil {
			if err := g.store.SaveSnapshot(ctx, job.snapshot); err != nil {
				g.logger.WithError(err).Warn("save snapshot")
			}
			if job.result != nil {
				if err := g.store.SaveResult(ctx, *job.result); err != nil {
					g.logger.WithError(err).Error("save result")
				}
			}
		}
		if err := g.cache.CacheSnapshot(ctx, g.RoomCode, job.snapshot.State); err != nil {
			g.logger.WithError(err).Warn("cache snapshot")
		}
		cancel()
	}
}
