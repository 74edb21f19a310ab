package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS games (
	game_id    TEXT PRIMARY KEY,
	room_code  TEXT NOT NULL,
	version    INTEGER NOT NULL,
	in_game    INTEGER NOT NULL,
	game_state TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS games_room_code_idx ON games (room_code, updated_at);
CREATE TABLE IF NOT EXISTS results (
	game_id     TEXT PRIMARY KEY,
	room_code   TEXT NOT NULL,
	winner_id   TEXT NOT NULL,
	game_state  TEXT NOT NULL,
	finished_at INTEGER NOT NULL
);`

// SQLiteStore keeps snapshots in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// A single writer avoids SQLITE_BUSY between the per-game persisters.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create sqlite schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	now := millis(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO games (game_id, room_code, version, in_game, game_state, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (game_id) DO UPDATE SET
			version = excluded.version,
			in_game = excluded.in_game,
			game_state = excluded.game_state,
			updated_at = excluded.updated_at
		WHERE games.version < excluded.version`,
		snap.GameID.String(), snap.RoomCode, snap.Version, snap.InGame, string(snap.State), now, now)
	return errors.Wrapf(err, "save snapshot %s v%d", snap.GameID, snap.Version)
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, roomCode string) (Snapshot, error) {
	var (
		snap    Snapshot
		state   string
		updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT game_id, room_code, version, in_game, game_state, updated_at
		FROM games WHERE room_code = ?
		ORDER BY updated_at DESC, version DESC LIMIT 1`, roomCode).
		Scan(&snap.GameID, &snap.RoomCode, &snap.Version, &snap.InGame, &state, &updated)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "load snapshot for room %s", roomCode)
	}
	snap.State = []byte(state)
	snap.UpdatedAt = fromMillis(updated)
	return snap, nil
}

func (s *SQLiteStore) ActiveSnapshots(ctx context.Context, since time.Time) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(activeSnapshotsQuery, "?"), millis(since))
	if err != nil {
		return nil, errors.Wrap(err, "list active snapshots")
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap    Snapshot
			state   string
			updated int64
		)
		if err := rows.Scan(&snap.GameID, &snap.RoomCode, &snap.Version, &snap.InGame, &state, &updated); err != nil {
			return nil, errors.Wrap(err, "scan active snapshot")
		}
		snap.State = []byte(state)
		snap.UpdatedAt = fromMillis(updated)
		out = append(out, snap)
	}
	return out, errors.Wrap(rows.Err(), "list active snapshots")
}

func (s *SQLiteStore) SaveResult(ctx context.Context, r Result) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO results (game_id, room_code, winner_id, game_state, finished_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (game_id) DO NOTHING`,
		r.GameID.String(), r.RoomCode, r.WinnerID.String(), string(r.State), millis(time.Now()))
	return errors.Wrapf(err, "save result %s", r.GameID)
}

func (s *SQLiteStore) Result(ctx context.Context, gameID uuid.UUID) (Result, error) {
	var (
		r     Result
		state string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT game_id, room_code, winner_id, game_state FROM results WHERE game_id = ?`, gameID.String()).
		Scan(&r.GameID, &r.RoomCode, &r.WinnerID, &state)
	if stderrors.Is(err, sql.ErrNoRows) {
		return Result{}, ErrResultNotFound
	}
	if err != nil {
		return Result{}, errors.Wrapf(err, "load result %s", gameID)
	}
	r.State = []byte(state)
	return r, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ SnapshotStore = (*SQLiteStore)(nil)
