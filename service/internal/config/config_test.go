package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	for _, k := range []string{"PORT", "DATABASE_URL", "SQLITE_PATH", "REDIS_ADDR", "RESOLVE_DELAY", "RESPONSE_WINDOW", "RESUME_WINDOW", "ALLOWED_ORIGINS"} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "coup.db", cfg.SQLitePath)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 1500*time.Millisecond, cfg.ResolveDelay)
	assert.Equal(t, 10*time.Second, cfg.ResponseWindow)
	assert.Equal(t, 24*time.Hour, cfg.ResumeWindow)
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORT", "9000")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("RESOLVE_DELAY", "0s")
	t.Setenv("RESPONSE_WINDOW", "30s")
	t.Setenv("RESUME_WINDOW", "0s")
	t.Setenv("ALLOWED_ORIGINS", "example.com, localhost:3000,,")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Zero(t, cfg.ResolveDelay)
	assert.Equal(t, 30*time.Second, cfg.ResponseWindow)
	assert.Zero(t, cfg.ResumeWindow)
	assert.Equal(t, []string{"example.com", "localhost:3000"}, cfg.AllowedOrigins)
}

func TestFromEnvErrors(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := FromEnv()
		assert.Error(t, err)
	})
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("RESPONSE_WINDOW", "soon")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "RESPONSE_WINDOW")
	})
	t.Run("negative duration", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("RESOLVE_DELAY", "-1s")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "RESOLVE_DELAY")
	})
	t.Run("bad int", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "secret")
		t.Setenv("REDIS_DB", "one")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "REDIS_DB")
	})
}
