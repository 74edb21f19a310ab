// Package cache publishes game action logs and keeps hot copies of game
// snapshots in Redis. Every method is a no-op on a nil *Client so the
// server runs without Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is absent or the cache is disabled.
var ErrMiss = errors.New("cache miss")

// GameActionRecord is one entry in a game's action log.
type GameActionRecord struct {
	GameID        uuid.UUID      `json:"gameId"`
	ActionIndex   int            `json:"actionIndex"`
	ActorUserID   uuid.UUID      `json:"actorUserId"`
	ActionType    string         `json:"actionType"`
	ActionPayload map[string]any `json:"actionPayload"`
	Timestamp     int64          `json:"timestamp"`
}

// Client wraps a Redis connection.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect dials Redis and checks the connection. ttl bounds how long cached
// snapshots live.
func Connect(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return New(rdb, ttl), nil
}

// New wraps an existing client.
func New(rdb *redis.Client, ttl time.Duration) *Client {
	return &Client{rdb: rdb, ttl: ttl}
}

func actionsKey(gameID uuid.UUID) string { return "game:" + gameID.String() + ":actions" }
func channelKey(gameID uuid.UUID) string { return "game:" + gameID.String() }
func snapshotKey(roomCode string) string { return "room:" + roomCode + ":snapshot" }

// PublishGameAction appends rec to the game's action list and announces it
// on the game's channel.
func (c *Client) PublishGameAction(ctx context.Context, rec GameActionRecord) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal action record: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.RPush(ctx, actionsKey(rec.GameID), data)
	pipe.Expire(ctx, actionsKey(rec.GameID), c.ttl)
	pipe.Publish(ctx, channelKey(rec.GameID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish action %d for game %s: %w", rec.ActionIndex, rec.GameID, err)
	}
	return nil
}

// GameActions returns the logged actions of a game in order.
func (c *Client) GameActions(ctx context.Context, gameID uuid.UUID) ([]GameActionRecord, error) {
	if c == nil {
		return nil, ErrMiss
	}
	raw, err := c.rdb.LRange(ctx, actionsKey(gameID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read actions for game %s: %w", gameID, err)
	}
	out := make([]GameActionRecord, 0, len(raw))
	for _, r := range raw {
		var rec GameActionRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			return nil, fmt.Errorf("decode action record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// CacheSnapshot stores the latest serialized state of a room's game.
func (c *Client) CacheSnapshot(ctx context.Context, roomCode string, state []byte) error {
	if c == nil {
		return nil
	}
	if err := c.rdb.Set(ctx, snapshotKey(roomCode), state, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache snapshot for room %s: %w", roomCode, err)
	}
	return nil
}

// CachedSnapshot returns the cached state of a room's game, or ErrMiss.
func (c *Client) CachedSnapshot(ctx context.Context, roomCode string) ([]byte, error) {
	if c == nil {
		return nil, ErrMiss
	}
	data, err := c.rdb.Get(ctx, snapshotKey(roomCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot for room %s: %w", roomCode, err)
	}
	return data, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
