package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mfaure/git-as-svn/vfs"
	"github.com/mfaure/git-as-svn/vfs/vfstest"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteListing(t *testing.T) {
	repo := vfstest.New("00000000-0000-5000-8000-000000000000")
	_, err := repo.Commit("alice", "init", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), func(tx *vfstest.Txn) {
		tx.AddDir("/trunk", nil)
		tx.AddFile("/trunk/README", "hello", nil)
	})
	require.NoError(t, err)

	info, err := repo.RevisionInfo(context.Background(), 1)
	require.NoError(t, err)
	root, err := info.Node(context.Background(), vfs.Root)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, writeListing(context.Background(), &out, root))
	assert.Equal(t, []string{"1", "alice", "Mar", "01", "2024", "trunk/"}, strings.Fields(out.String()))

	trunk, err := info.Node(context.Background(), "/trunk")
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, writeListing(context.Background(), &out, trunk))
	assert.Equal(t, []string{"1", "alice", "5", "Mar", "01", "2024", "README"}, strings.Fields(out.String()))
}

func TestListDirErrors(t *testing.T) {
	repo := vfstest.New("00000000-0000-5000-8000-000000000000")
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(&bytes.Buffer{})

	err := listDir(cmd, repo, "/missing", -1)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "directory not found"))

	err = listDir(cmd, repo, vfs.Root, 3)
	assert.ErrorIs(t, err, vfs.ErrNoSuchRevision)
}

func TestLoadConfigPrecedence(t *testing.T) {
	t.Setenv("GITSVN_BRANCH", "env-branch")
	t.Setenv("GITSVN_REPOS", "/env/repos")

	path := filepath.Join(t.TempDir(), "gitsvnd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("branch: file-branch\ndata: /file/data\n"), 0644))

	cmd := &cobra.Command{}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, cmd.Flags().Parse([]string{"--config", path, "--data", "/flag/data"}))
	t.Cleanup(func() { flagConfig, flagData = "", "" })

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "/env/repos", cfg.ReposDir)
	assert.Equal(t, "file-branch", cfg.Branch)
	assert.Equal(t, "/flag/data", cfg.DataDir)
}
