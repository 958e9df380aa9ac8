package gitrepo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/mfaure/git-as-svn/cas"
	"github.com/mfaure/git-as-svn/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncAssignsRevisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write("trunk/README", "hello\n")
	f.commit("alice", "add readme")
	f.writeMode("trunk/lib/build.sh", "#!/bin/sh\n", filemode.Executable)
	f.commit("bob", "add lib")
	f.write("trunk/README", "hello again\n")
	f.commit("alice", "edit readme")

	r, _ := f.open("demo")
	latest, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)

	// Syncing again is a no-op.
	latest, err = r.LatestRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)

	info, err := r.RevisionInfo(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.ID())
	assert.Equal(t, "bob", info.Author())
	assert.Equal(t, "add lib", info.Message())

	changes, err := info.Changes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []vfs.Change{
		{Path: "/trunk/lib", Action: vfs.ActionAdd, Kind: vfs.KindDir},
		{Path: "/trunk/lib/build.sh", Action: vfs.ActionAdd, Kind: vfs.KindFile},
	}, changes)

	info, err = r.RevisionInfo(ctx, 1)
	require.NoError(t, err)
	changes, err = info.Changes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []vfs.Change{
		{Path: "/trunk", Action: vfs.ActionAdd, Kind: vfs.KindDir},
		{Path: "/trunk/README", Action: vfs.ActionAdd, Kind: vfs.KindFile},
	}, changes)

	info, err = r.RevisionInfo(ctx, 3)
	require.NoError(t, err)
	changes, err = info.Changes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []vfs.Change{
		{Path: "/trunk/README", Action: vfs.ActionModify, Kind: vfs.KindFile},
	}, changes)
}

func TestLastChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write("trunk/README", "v1")
	f.commit("alice", "r1")
	f.write("trunk/lib/a.go", "package a")
	f.commit("alice", "r2")
	f.write("other.txt", "x")
	f.commit("alice", "r3")

	r, _ := f.open("demo")
	_, err := r.Sync(ctx)
	require.NoError(t, err)

	tests := []struct {
		path string
		rev  int64
		want int64
	}{
		{"/trunk/README", 3, 1},
		{"/trunk", 1, 1},
		{"/trunk", 3, 2},
		{"/trunk/lib", 3, 2},
		{"/", 3, 3},
		{"/other.txt", 3, 3},
	}
	for _, tt := range tests {
		n := mustNode(t, r, tt.rev, tt.path)
		last, err := n.LastChange(ctx)
		require.NoError(t, err)
		assert.Equal(t, tt.want, last.ID(), "%s@%d", tt.path, tt.rev)
		assert.LessOrEqual(t, last.ID(), tt.rev)
	}
}

func TestFirstParentHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write("a", "1")
	base := f.commit("alice", "base")

	f.write("side", "s")
	side := f.commitWithParents("carol", "side work", base)

	f.remove("side")
	f.write("a", "2")
	main := f.commitWithParents("alice", "main work", base)

	f.write("side", "s")
	f.commitWithParents("alice", "merge side", main, side)

	r, _ := f.open("demo")
	latest, err := r.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)

	for rev, msg := range map[int64]string{1: "base", 2: "main work", 3: "merge side"} {
		info, err := r.RevisionInfo(ctx, rev)
		require.NoError(t, err)
		assert.Equal(t, msg, info.Message())
	}

	info, err := r.RevisionInfo(ctx, 3)
	require.NoError(t, err)
	changes, err := info.Changes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []vfs.Change{{Path: "/side", Action: vfs.ActionAdd, Kind: vfs.KindFile}}, changes)
}

func TestDirectoryDeleteAndReplace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write("lib/a", "a")
	f.write("lib/sub/b", "b")
	f.write("thing", "file")
	f.commit("alice", "r1")

	f.remove("lib")
	f.remove("thing")
	f.write("thing/inner", "now a dir")
	f.commit("alice", "r2")

	r, _ := f.open("demo")
	_, err := r.Sync(ctx)
	require.NoError(t, err)

	info, err := r.RevisionInfo(ctx, 2)
	require.NoError(t, err)
	changes, err := info.Changes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []vfs.Change{
		{Path: "/lib", Action: vfs.ActionDelete, Kind: vfs.KindDir},
		{Path: "/thing", Action: vfs.ActionReplace, Kind: vfs.KindDir},
		{Path: "/thing/inner", Action: vfs.ActionAdd, Kind: vfs.KindFile},
	}, changes)

	n, err := info.Node(ctx, "/lib/a")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestRevisionZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write("a", "1")
	f.commit("alice", "r1")

	r, _ := f.open("demo")
	_, err := r.Sync(ctx)
	require.NoError(t, err)

	root := mustNode(t, r, 0, "/")
	assert.Equal(t, vfs.KindDir, root.Kind())
	for range root.Entries(ctx) {
		t.Fatal("revision 0 must be empty")
	}
	last, err := root.LastChange(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), last.ID())

	info, err := r.RevisionInfo(ctx, 0)
	require.NoError(t, err)
	n, err := info.Node(ctx, "/a")
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.Empty(t, info.Message())

	_, err = r.RevisionInfo(ctx, 2)
	assert.True(t, errors.Is(err, vfs.ErrNoSuchRevision))
	_, err = r.RevisionInfo(ctx, -1)
	assert.True(t, errors.Is(err, vfs.ErrNoSuchRevision))
}

func TestHistoryRewritten(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write("a", "1")
	f.commit("alice", "r1")
	f.write("a", "2")
	f.commit("alice", "r2")

	r, _ := f.open("demo")
	_, err := r.Sync(ctx)
	require.NoError(t, err)

	f.parent = plumbing.ZeroHash
	f.write("a", "rewritten")
	f.commit("mallory", "force push")

	_, err = r.Sync(ctx)
	assert.True(t, errors.Is(err, ErrHistoryRewritten), "got %v", err)

	latest, err := r.LatestRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest)
	assert.Equal(t, "2", readAll(t, mustNode(t, r, 2, "/a")))
}

func TestMissingBranch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r, _ := f.open("empty")

	latest, err := r.Sync(ctx)
	assert.True(t, errors.Is(err, ErrBranchNotFound))
	assert.Equal(t, int64(0), latest)

	latest, err = r.LatestRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)
}

func TestNodeContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write("README", "hello world")
	f.writeMode("current", "releases/1.0", filemode.Symlink)
	f.writeMode("vendor/dep", "0123456789abcdef", filemode.Submodule)
	f.write("vendor/keep", "k")
	f.commit("alice", "r1")

	r, _ := f.open("demo")
	_, err := r.Sync(ctx)
	require.NoError(t, err)

	readme := mustNode(t, r, 1, "/README")
	assert.Equal(t, "README", readme.Name())
	assert.Equal(t, vfs.KindFile, readme.Kind())
	size, err := readme.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(11), size)
	assert.Equal(t, "hello world", readAll(t, readme))

	link := mustNode(t, r, 1, "/current")
	assert.Equal(t, "link releases/1.0", readAll(t, link))
	size, err = link.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(len("link releases/1.0")), size)
	props, err := link.Properties(ctx)
	require.NoError(t, err)
	assert.Equal(t, vfs.Properties{vfs.PropSpecial: "*"}, props)

	info, err := r.RevisionInfo(ctx, 1)
	require.NoError(t, err)
	sub, err := info.Node(ctx, "/vendor/dep")
	require.NoError(t, err)
	assert.Nil(t, sub)

	var names []string
	for n, err := range mustNode(t, r, 1, "/vendor").Entries(ctx) {
		require.NoError(t, err)
		names = append(names, n.Name())
	}
	assert.Equal(t, []string{"keep"}, names)

	dir := mustNode(t, r, 1, "/vendor")
	size, err = dir.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
	_, err = dir.Open(ctx)
	assert.Error(t, err)
}

func TestEntriesObserveCancellation(t *testing.T) {
	f := newFixture(t)
	f.write("a", "1")
	f.write("b", "2")
	f.commit("alice", "r1")

	r, _ := f.open("demo")
	_, err := r.Sync(context.Background())
	require.NoError(t, err)

	root := mustNode(t, r, 1, "/")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var gotErr error
	for _, err := range root.Entries(ctx) {
		gotErr = err
		break
	}
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestUUIDIsStable(t *testing.T) {
	f := newFixture(t)
	r, db := f.open("demo")
	assert.Equal(t, cas.NameUUID("demo"), r.UUID())

	again, err := New(f.git, db, Options{Name: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, r.UUID(), again.UUID())

	_, err = New(f.git, db, Options{Name: "demo", Branch: "develop"})
	assert.Error(t, err)
}

func TestRevisionAtDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.write("a", "1")
	f.commit("alice", "r1")
	first := f.when
	f.write("a", "2")
	f.commit("alice", "r2")

	r, _ := f.open("demo")
	rev, err := r.RevisionAtDate(ctx, first.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev)

	rev, err = r.RevisionAtDate(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	rev, err = r.RevisionAtDate(ctx, f.when.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)
}

type nodeView struct {
	kind  vfs.Kind
	size  int64
	props vfs.Properties
	last  int64
}

func view(r *Repository, rev int64, p string) (*nodeView, error) {
	ctx := context.Background()
	info, err := r.RevisionInfo(ctx, rev)
	if err != nil {
		return nil, err
	}
	n, err := info.Node(ctx, p)
	if err != nil || n == nil {
		return nil, err
	}
	size, err := n.Size(ctx)
	if err != nil {
		return nil, err
	}
	props, err := n.Properties(ctx)
	if err != nil {
		return nil, err
	}
	last, err := n.LastChange(ctx)
	if err != nil {
		return nil, err
	}
	return &nodeView{kind: n.Kind(), size: size, props: props, last: last.ID()}, nil
}

func viewOf(t *testing.T, r *Repository, rev int64, p string) *nodeView {
	t.Helper()
	v, err := view(r, rev, p)
	require.NoError(t, err)
	return v
}

func TestRevisionInfoIsStable(t *testing.T) {
	f := newFixture(t)
	f.write("trunk/README", "one")
	f.write("trunk/.gitattributes", "*.sh eol=lf\n")
	f.commit("alice", "r1")
	f.write("trunk/run.sh", "echo")
	f.remove("trunk/README")
	f.commit("bob", "r2")

	r, _ := f.open("demo")
	_, err := r.Sync(context.Background())
	require.NoError(t, err)

	paths := []string{"/", "/trunk", "/trunk/README", "/trunk/run.sh", "/missing"}
	for rev := int64(0); rev <= 2; rev++ {
		for _, p := range paths {
			assert.Equal(t, viewOf(t, r, rev, p), viewOf(t, r, rev, p), "%s@%d", p, rev)
		}
	}

	want := viewOf(t, r, 2, "/trunk/run.sh")
	require.NotNil(t, want)
	views := make([]*nodeView, 8)
	errs := make([]error, 8)
	var wg sync.WaitGroup
	for i := range views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			views[i], errs[i] = view(r, 2, "/trunk/run.sh")
		}()
	}
	wg.Wait()
	for i := range views {
		require.NoError(t, errs[i])
		assert.Equal(t, want, views[i])
	}
}
