// Package config loads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Port string

	// Exactly one snapshot store is used: Postgres when DatabaseURL is set,
	// otherwise SQLite at SQLitePath. An empty SQLitePath disables storage.
	DatabaseURL string
	SQLitePath  string

	// Redis is optional; an empty address disables the action log and the
	// snapshot cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SnapshotTTL   time.Duration

	// ResumeWindow bounds how old a running game's snapshot may be for the
	// game to be resumed at startup. Zero resumes every running game.
	ResumeWindow time.Duration

	JWTSecret string
	TokenTTL  time.Duration

	// ResolveDelay is how long a game waits before resolving an action no
	// one can respond to. ResponseWindow is how long players get to pass,
	// block or challenge before silence counts as a pass. Zero disables.
	ResolveDelay   time.Duration
	ResponseWindow time.Duration

	AllowedOrigins []string

	LogLevel  string
	LogFormat string
	GinMode   string
}

// Load reads .env if present, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment alone.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:          getenv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SQLitePath:    getenv("SQLITE_PATH", "coup.db"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		LogFormat:     getenv("LOG_FORMAT", "text"),
		GinMode:       getenv("GIN_MODE", "release"),
	}

	var err error
	if cfg.RedisDB, err = getint("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotTTL, err = getduration("SNAPSHOT_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ResumeWindow, err = getduration("RESUME_WINDOW", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = getduration("TOKEN_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ResolveDelay, err = getduration("RESOLVE_DELAY", 1500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.ResponseWindow, err = getduration("RESPONSE_WINDOW", 10*time.Second); err != nil {
		return Config{}, err
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET must be set")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getduration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", key, d)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
