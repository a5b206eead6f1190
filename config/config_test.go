package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bartab/config"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "./data/bartab.db", cfg.Database.Path)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9191
autolock:
  lockbelow: "-50"
  unlockabove: "-20"
log:
  level: debug
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)

	policy, err := cfg.AutolockPolicy()
	require.NoError(t, err)
	assert.Equal(t, "-50", policy.LockBelow.String())
	assert.Equal(t, "-20", policy.UnlockAbove.String())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o644))
	t.Setenv("BARTAB_SERVER_PORT", "9999")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoad_RejectsBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestAutolockPolicy_Ordering(t *testing.T) {
	cfg := config.Default()
	cfg.Autolock.LockBelow = "-10"
	cfg.Autolock.UnlockAbove = "-20"

	_, err := cfg.AutolockPolicy()
	assert.Error(t, err, "unlock line below the lock line would flap forever")

	cfg.Autolock.UnlockAbove = "-10"
	_, err = cfg.AutolockPolicy()
	assert.NoError(t, err)
}

func TestAutolockPolicy_RejectsGarbage(t *testing.T) {
	cfg := config.Default()
	cfg.Autolock.LockBelow = "lots"

	_, err := cfg.AutolockPolicy()
	assert.Error(t, err)
}
