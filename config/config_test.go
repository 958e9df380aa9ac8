package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":3690", cfg.Listen)
	assert.Equal(t, ":7448", cfg.AdminListen)
	assert.Equal(t, "./repos", cfg.ReposDir)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "master", cfg.Branch)
	assert.Equal(t, "git-as-svn", cfg.Realm)
	assert.Equal(t, 64, cfg.MaxOpenRepos)
	assert.Equal(t, 10*time.Minute, cfg.IdleTTL)
	assert.Equal(t, 30*time.Second, cfg.IndexInterval)
	assert.Equal(t, 1024, cfg.SnapshotCache)
	assert.Equal(t, 50.0, cfg.AcceptRate)
	assert.Equal(t, 100, cfg.AcceptBurst)
	assert.Equal(t, int64(64*1024*1024), cfg.MaxStringSize)
	assert.Equal(t, "0.1.0", cfg.Version)
	assert.False(t, cfg.Debug)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("GITSVN_LISTEN", ":13690")
	t.Setenv("GITSVN_BRANCH", "main")
	t.Setenv("GITSVN_MAX_OPEN", "8")
	t.Setenv("GITSVN_IDLE_TTL", "90s")
	t.Setenv("GITSVN_ACCEPT_RATE", "2.5")
	t.Setenv("GITSVN_MAX_STRING", "1024")
	t.Setenv("GITSVN_DEBUG", "true")

	cfg := FromEnv()
	assert.Equal(t, ":13690", cfg.Listen)
	assert.Equal(t, "main", cfg.Branch)
	assert.Equal(t, 8, cfg.MaxOpenRepos)
	assert.Equal(t, 90*time.Second, cfg.IdleTTL)
	assert.Equal(t, 2.5, cfg.AcceptRate)
	assert.Equal(t, int64(1024), cfg.MaxStringSize)
	assert.True(t, cfg.Debug)
}

func TestFromEnvInvalidFallsBack(t *testing.T) {
	t.Setenv("GITSVN_MAX_OPEN", "many")
	t.Setenv("GITSVN_IDLE_TTL", "soon")
	t.Setenv("GITSVN_DEBUG", "maybe")

	cfg := FromEnv()
	assert.Equal(t, 64, cfg.MaxOpenRepos)
	assert.Equal(t, 10*time.Minute, cfg.IdleTTL)
	assert.False(t, cfg.Debug)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gitsvnd.yaml")
	data := []byte(`
listen: ":4000"
repos: /srv/git
branch: trunk
index_interval: 5m
accept_rate: 10
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg := FromEnv()
	require.NoError(t, LoadFile(cfg, path))

	assert.Equal(t, ":4000", cfg.Listen)
	assert.Equal(t, "/srv/git", cfg.ReposDir)
	assert.Equal(t, "trunk", cfg.Branch)
	assert.Equal(t, 5*time.Minute, cfg.IndexInterval)
	assert.Equal(t, 10.0, cfg.AcceptRate)
	// Untouched keys keep their previous values.
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 64, cfg.MaxOpenRepos)
}

func TestLoadFileErrors(t *testing.T) {
	cfg := FromEnv()
	assert.Error(t, LoadFile(cfg, filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unterminated"), 0o644))
	assert.Error(t, LoadFile(cfg, path))
}
