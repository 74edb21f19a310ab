package database

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS games (
	game_id    UUID PRIMARY KEY,
	room_code  TEXT NOT NULL,
	version    BIGINT NOT NULL,
	in_game    BOOLEAN NOT NULL,
	game_state JSONB NOT NULL,
	started_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS games_room_code_idx ON games (room_code, updated_at DESC);
CREATE TABLE IF NOT EXISTS results (
	game_id     UUID PRIMARY KEY,
	room_code   TEXT NOT NULL,
	winner_id   UUID NOT NULL,
	game_state  JSONB NOT NULL,
	finished_at BIGINT NOT NULL
);`

// PostgresStore keeps snapshots in Postgres through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url and creates the tables if needed.
func OpenPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "create postgres schema")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	now := millis(time.Now())
	_, err := s.pool.Exec(ctx, `
		INSERT INTO games (game_id, room_code, version, in_game, game_state, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (game_id) DO UPDATE SET
			version = excluded.version,
			in_game = excluded.in_game,
			game_state = excluded.game_state,
			updated_at = excluded.updated_at
		WHERE games.version < excluded.version`,
		snap.GameID, snap.RoomCode, snap.Version, snap.InGame, json.RawMessage(snap.State), now)
	return errors.Wrapf(err, "save snapshot %s v%d", snap.GameID, snap.Version)
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, roomCode string) (Snapshot, error) {
	var (
		snap    Snapshot
		updated int64
	)
	err := s.pool.QueryRow(ctx, `
		SELECT game_id, room_code, version, in_game, game_state, updated_at
		FROM games WHERE room_code = $1
		ORDER BY updated_at DESC, version DESC LIMIT 1`, roomCode).
		Scan(&snap.GameID, &snap.RoomCode, &snap.Version, &snap.InGame, &snap.State, &updated)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, errors.Wrapf(err, "load snapshot for room %s", roomCode)
	}
	snap.UpdatedAt = fromMillis(updated)
	return snap, nil
}

func (s *PostgresStore) ActiveSnapshots(ctx context.Context, since time.Time) ([]Snapshot, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(activeSnapshotsQuery, "$1"), millis(since))
	if err != nil {
		return nil, errors.Wrap(err, "list active snapshots")
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap    Snapshot
			updated int64
		)
		if err := rows.Scan(&snap.GameID, &snap.RoomCode, &snap.Version, &snap.InGame, &snap.State, &updated); err != nil {
			return nil, errors.Wrap(err, "scan active snapshot")
		}
		snap.UpdatedAt = fromMillis(updated)
		out = append(out, snap)
	}
	return out, errors.Wrap(rows.Err(), "list active snapshots")
}

func (s *PostgresStore) SaveResult(ctx context.Context, r Result) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO results (game_id, room_code, winner_id, game_state, finished_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (game_id) DO NOTHING`,
		r.GameID, r.RoomCode, r.WinnerID, json.RawMessage(r.State), millis(time.Now()))
	return errors.Wrapf(err, "save result %s", r.GameID)
}

func (s *PostgresStore) Result(ctx context.Context, gameID uuid.UUID) (Result, error) {
	var r Result
	err := s.pool.QueryRow(ctx, `
		SELECT game_id, room_code, winner_id, game_state FROM results WHERE game_id = $1`, gameID).
		Scan(&r.GameID, &r.RoomCode, &r.WinnerID, &r.State)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return Result{}, ErrResultNotFound
	}
	if err != nil {
		return Result{}, errors.Wrapf(err, "load result %s", gameID)
	}
	return r, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var _ SnapshotStore = (*PostgresStore)(nil)
