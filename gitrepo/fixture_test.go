package gitrepo

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/mfaure/git-as-svn/store"
	"github.com/mfaure/git-as-svn/vfs"
	"github.com/stretchr/testify/require"
)

type testFile struct {
	content string
	mode    filemode.FileMode
}

// fixture builds commits directly in an in-memory object store.
type fixture struct {
	t      *testing.T
	git    *git.Repository
	files  map[string]testFile
	parent plumbing.Hash
	when   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g, err := git.Init(memory.NewStorage(), nil)
	require.NoError(t, err)
	return &fixture{
		t:     t,
		git:   g,
		files: make(map[string]testFile),
		when:  time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) write(p, content string) {
	f.files[p] = testFile{content: content, mode: filemode.Regular}
}

func (f *fixture) writeMode(p, content string, mode filemode.FileMode) {
	f.files[p] = testFile{content: content, mode: mode}
}

// remove drops p and everything below it.
func (f *fixture) remove(p string) {
	for k := range f.files {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(f.files, k)
		}
	}
}

func (f *fixture) commit(author, msg string) plumbing.Hash {
	var parents []plumbing.Hash
	if !f.parent.IsZero() {
		parents = append(parents, f.parent)
	}
	return f.commitWithParents(author, msg, parents...)
}

func (f *fixture) commitWithParents(author, msg string, parents ...plumbing.Hash) plumbing.Hash {
	f.t.Helper()
	f.when = f.when.Add(time.Hour)
	sig := object.Signature{Name: author, Email: author + "@example.com", When: f.when}
	c := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      msg,
		TreeHash:     f.buildTree(""),
		ParentHashes: parents,
	}
	obj := f.git.Storer.NewEncodedObject()
	require.NoError(f.t, c.Encode(obj))
	h, err := f.git.Storer.SetEncodedObject(obj)
	require.NoError(f.t, err)
	f.setBranch("master", h)
	f.parent = h
	return h
}

func (f *fixture) setBranch(name string, h plumbing.Hash) {
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), h)
	require.NoError(f.t, f.git.Storer.SetReference(ref))
}

// buildTree writes the tree for the directory prefix ("" is the root).
func (f *fixture) buildTree(prefix string) plumbing.Hash {
	children := make(map[string]bool)
	for p := range f.files {
		rest := p
		if prefix != "" {
			if !strings.HasPrefix(p, prefix+"/") {
				continue
			}
			rest = p[len(prefix)+1:]
		}
		name, _, isDir := strings.Cut(rest, "/")
		children[name] = children[name] || isDir
	}

	var entries []object.TreeEntry
	for name, isDir := range children {
		full := name
		if prefix != "" {
			full = prefix + "/" + name
		}
		if isDir {
			entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: f.buildTree(full)})
			continue
		}
		file := f.files[full]
		var h plumbing.Hash
		if file.mode == filemode.Submodule {
			h = plumbing.ComputeHash(plumbing.CommitObject, []byte(file.content))
		} else {
			h = f.writeBlob(file.content)
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: file.mode, Hash: h})
	}
	sort.Sort(object.TreeEntrySorter(entries))

	tree := &object.Tree{Entries: entries}
	obj := f.git.Storer.NewEncodedObject()
	require.NoError(f.t, tree.Encode(obj))
	h, err := f.git.Storer.SetEncodedObject(obj)
	require.NoError(f.t, err)
	return h
}

func (f *fixture) writeBlob(content string) plumbing.Hash {
	obj := f.git.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	require.NoError(f.t, err)
	_, err = io.WriteString(w, content)
	require.NoError(f.t, err)
	require.NoError(f.t, w.Close())
	h, err := f.git.Storer.SetEncodedObject(obj)
	require.NoError(f.t, err)
	return h
}

// open wraps the fixture in a Repository with a fresh index.
func (f *fixture) open(name string) (*Repository, *store.DB) {
	f.t.Helper()
	db, err := store.OpenRepoDB(f.t.TempDir(), name)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { db.Close() })
	r, err := New(f.git, db, Options{Name: name})
	require.NoError(f.t, err)
	return r, db
}

func mustNode(t *testing.T, r *Repository, rev int64, p string) vfs.Node {
	t.Helper()
	info, err := r.RevisionInfo(context.Background(), rev)
	require.NoError(t, err)
	n, err := info.Node(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, n, "%s@%d", p, rev)
	return n
}

func readAll(t *testing.T, n vfs.Node) string {
	t.Helper()
	rc, err := n.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}
