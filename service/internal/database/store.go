// Package database persists game snapshots and finished-game results.
//
// Two backends share one schema: Postgres (pgx) for deployments and an
// embedded SQLite file for single-host setups and tests.
package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lukebatchelor/coup/service/internal/config"
)

var (
	// ErrSnapshotNotFound is returned when a room has no stored snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrResultNotFound   = errors.New("result not found")
)

// Snapshot is one persisted copy of a game. State is the engine's JSON
// serialization. Version increases with every mutation of the game and
// guards against an older write landing after a newer one.
type Snapshot struct {
	GameID    uuid.UUID
	RoomCode  string
	Version   int64
	InGame    bool
	State     []byte
	UpdatedAt time.Time
}

// Result records how a game finished.
type Result struct {
	GameID   uuid.UUID
	RoomCode string
	WinnerID uuid.UUID
	State    []byte
}

// SnapshotStore is implemented by every backend.
type SnapshotStore interface {
	// SaveSnapshot upserts s unless a snapshot with a higher version is
	// already stored for the same game.
	SaveSnapshot(ctx context.Context, s Snapshot) error
	// LatestSnapshot returns the most recently updated snapshot for a room.
	LatestSnapshot(ctx context.Context, roomCode string) (Snapshot, error)
	// ActiveSnapshots returns, newest first, every game still in progress
	// that is the latest game of its room and was updated at or after since.
	ActiveSnapshots(ctx context.Context, since time.Time) ([]Snapshot, error)
	SaveResult(ctx context.Context, r Result) error
	Result(ctx context.Context, gameID uuid.UUID) (Result, error)
	Close() error
}

// Open picks a backend from cfg: Postgres when DatabaseURL is set,
// otherwise SQLite at SQLitePath. It returns a nil store when both are
// empty.
func Open(ctx context.Context, cfg config.Config) (SnapshotStore, error) {
	switch {
	case cfg.DatabaseURL != "":
		return OpenPostgres(ctx, cfg.DatabaseURL)
	case cfg.SQLitePath != "":
		return OpenSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, nil
	}
}

// activeSnapshotsQuery backs ActiveSnapshots in both backends; only the
// placeholder syntax differs.
const activeSnapshotsQuery = `
	SELECT g.game_id, g.room_code, g.version, g.in_game, g.game_state, g.updated_at
	FROM games g
	WHERE g.in_game AND g.updated_at >= %s
		AND NOT EXISTS (
			SELECT 1 FROM games n
			WHERE n.room_code = g.room_code AND n.updated_at > g.updated_at)
	ORDER BY g.updated_at DESC, g.version DESC`

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
