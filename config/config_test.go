package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
jwt:
  secret: from-file
game:
  turn_timeout: 12s
registry:
  shards: 4
`), 0o600))
	t.Setenv("BLOCKJACK_REDIS_ADDR", "redis:6379")
	t.Setenv("BLOCKJACK_BRIDGE_MAX_ATTEMPTS", "9")

	require.NoError(t, Load(path))
	assert.Equal(t, "from-file", C.JWT.Secret)
	assert.Equal(t, 12*time.Second, C.Game.TurnTimeout)
	assert.Equal(t, 4, C.Registry.Shards)
	assert.Equal(t, "redis:6379", C.Redis.Addr)
	assert.Equal(t, 9, C.Bridge.MaxAttempts)

	// 默认值
	assert.Equal(t, ":8080", C.Server.Port)
	assert.Equal(t, 30*time.Second, C.Game.BettingCountdown)
	assert.Equal(t, 2, C.Bridge.Threshold)
	assert.Equal(t, 24*time.Hour, C.Credential.TokenLifetime)
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("BLOCKJACK_JWT_SECRET", "from-env")
	require.NoError(t, Load(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Equal(t, "from-env", C.JWT.Secret)
	assert.Equal(t, "info", C.Log.Level)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("BLOCKJACK_JWT_SECRET", "")
	assert.Error(t, Load(""))
}
