package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 24*time.Hour, cfg.RoomTTL)
	assert.Equal(t, ":5000", cfg.Addr())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"PORT":             "8080",
		"CORS_ORIGIN":      "https://a.example, https://b.example",
		"REDIS_URL":        "redis://:pw@cache:6380/1",
		"REDIS_HOST":       "cache",
		"REDIS_PORT":       "6380",
		"ROOM_TTL":         "3600",
		"SHUTDOWN_TIMEOUT": "15s",
		"MAX_UPLOAD_BYTES": "2048",
		"RATE_LIMIT_RPS":   "2.5",
		"RATE_LIMIT_BURST": "3",
		"LOG_LEVEL":        "debug",
		"LOG_FORMAT":       "console",
	}))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "redis://:pw@cache:6380/1", cfg.Redis.URL)
	assert.Equal(t, "cache", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, time.Hour, cfg.RoomTTL)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, int64(2048), cfg.MaxUploadBytes)
	assert.Equal(t, 2.5, cfg.RateLimit.RPS)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(env(map[string]string{
		"ROOM_TTL":         "forever",
		"RATE_LIMIT_BURST": "lots",
		"REDIS_PORT":       "six",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_PORT")
	assert.Contains(t, err.Error(), "ROOM_TTL")
	assert.Contains(t, err.Error(), "RATE_LIMIT_BURST")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.RoomTTL = 0
	cfg.MaxUploadBytes = -1
	cfg.Log.Format = "xml"
	cfg.Redis.Port = 70000

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room ttl")
	assert.Contains(t, err.Error(), "max upload")
	assert.Contains(t, err.Error(), "xml")
	assert.Contains(t, err.Error(), "redis port")
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ghostroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
room_ttl: 2h
redis:
  host: redis.internal
  port: 6390
rate_limit:
  rps: 1
  burst: 2
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "7100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7100", cfg.Port)
	assert.Equal(t, 2*time.Hour, cfg.RoomTTL)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6390, cfg.Redis.Port)
	assert.Equal(t, 2, cfg.RateLimit.Burst)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
