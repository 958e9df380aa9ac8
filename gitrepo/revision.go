package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/mfaure/git-as-svn/pack"
	"github.com/mfaure/git-as-svn/store"
	"github.com/mfaure/git-as-svn/vfs"
)

// symlinkPrefix precedes the target in the content of a special file.
const symlinkPrefix = "link "

// revision is an immutable snapshot of one indexed revision.
type revision struct {
	repo    *Repository
	id      int64
	root    plumbing.Hash
	author  string
	date    time.Time
	message string
	changes []byte
}

func (rv *revision) ID() int64       { return rv.id }
func (rv *revision) Author() string  { return rv.author }
func (rv *revision) Date() time.Time { return rv.date }
func (rv *revision) Message() string { return rv.message }

func (rv *revision) Node(ctx context.Context, p string) (vfs.Node, error) {
	p = vfs.Clean(p)
	entry, err := rv.repo.lookup(ctx, rv.root, p)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	return &node{rev: rv, path: p, entry: *entry}, nil
}

func (rv *revision) Changes(ctx context.Context) ([]vfs.Change, error) {
	if len(rv.changes) == 0 {
		return nil, nil
	}
	changes, err := pack.DecodeChanges(rv.changes)
	if err != nil {
		return nil, fmt.Errorf("decoding changes of r%d: %w", rv.id, err)
	}
	return changes, nil
}

// node is a path within a revision. entry.Hash is the tree hash for
// directories and the blob hash for files.
type node struct {
	rev   *revision
	path  string
	entry object.TreeEntry
}

func (n *node) Name() string   { return vfs.Base(n.path) }
func (n *node) Kind() vfs.Kind { return kindOf(n.entry.Mode) }

func (n *node) Size(ctx context.Context) (int64, error) {
	if n.entry.Mode == filemode.Dir {
		return 0, nil
	}
	size, err := n.rev.repo.blobSize(n.entry.Hash)
	if err != nil {
		return 0, fmt.Errorf("reading size of %s: %w", n.path, err)
	}
	if n.entry.Mode == filemode.Symlink {
		size += int64(len(symlinkPrefix))
	}
	return size, nil
}

func (n *node) Properties(ctx context.Context) (vfs.Properties, error) {
	if n.entry.Mode == filemode.Dir {
		return n.rev.repo.dirProperties(ctx, n.entry.Hash)
	}
	return n.rev.repo.fileProperties(ctx, n.rev.root, n.path, n.entry.Mode)
}

func (n *node) LastChange(ctx context.Context) (vfs.RevisionInfo, error) {
	last, err := n.rev.repo.db.LastChange(n.path, n.rev.id)
	if errors.Is(err, store.ErrRevisionNotFound) {
		return nil, fmt.Errorf("no change recorded for %s at r%d", n.path, n.rev.id)
	}
	if err != nil {
		return nil, err
	}
	return n.rev.repo.RevisionInfo(ctx, last)
}

func (n *node) Entries(ctx context.Context) iter.Seq2[vfs.Node, error] {
	return func(yield func(vfs.Node, error) bool) {
		if n.entry.Mode != filemode.Dir {
			return
		}
		entries, err := n.rev.repo.entries(n.entry.Hash)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if e.Mode == filemode.Submodule {
				continue
			}
			child := &node{rev: n.rev, path: vfs.Join(n.path, e.Name), entry: e}
			if !yield(child, nil) {
				return
			}
		}
	}
}

func (n *node) Open(ctx context.Context) (io.ReadCloser, error) {
	if n.entry.Mode == filemode.Dir {
		return nil, fmt.Errorf("%s is a directory", n.path)
	}
	rc, err := n.rev.repo.blobReader(n.entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", n.path, err)
	}
	if n.entry.Mode != filemode.Symlink {
		return rc, nil
	}
	return prefixedReader{Reader: io.MultiReader(strings.NewReader(symlinkPrefix), rc), Closer: rc}, nil
}

type prefixedReader struct {
	io.Reader
	io.Closer
}
