// Package vfstest provides an in-memory vfs.Repository for tests.
package vfstest

import (
	"context"
	"fmt"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mfaure/git-as-svn/vfs"
)

type entry struct {
	kind       vfs.Kind
	content    string
	props      vfs.Properties
	lastChange int64
}

type revision struct {
	repo    *Repository
	id      int64
	author  string
	date    time.Time
	message string
	nodes   map[string]*entry
	changes []vfs.Change
}

// Repository is an append-only in-memory history.
type Repository struct {
	uuid string
	mu   sync.RWMutex
	revs []*revision
}

// New returns a repository holding only revision 0, an empty root.
func New(uuid string) *Repository {
	r := &Repository{uuid: uuid}
	r.revs = []*revision{{
		repo:  r,
		date:  time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		nodes: map[string]*entry{vfs.Root: {kind: vfs.KindDir, props: vfs.Properties{}}},
	}}
	return r
}

// Txn stages the edits of one commit.
type Txn struct {
	rev     int64
	nodes   map[string]*entry
	changes []vfs.Change
	err     error
}

// Commit applies edit as a new revision and returns its number.
func (r *Repository) Commit(author, message string, date time.Time, edit func(tx *Txn)) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.revs[len(r.revs)-1]
	tx := &Txn{
		rev:   int64(len(r.revs)),
		nodes: make(map[string]*entry, len(prev.nodes)),
	}
	for p, e := range prev.nodes {
		tx.nodes[p] = e
	}
	edit(tx)
	if tx.err != nil {
		return 0, tx.err
	}

	r.revs = append(r.revs, &revision{
		repo:    r,
		id:      tx.rev,
		author:  author,
		date:    date.UTC(),
		message: message,
		nodes:   tx.nodes,
		changes: tx.changes,
	})
	return tx.rev, nil
}

// AddDir creates a directory; its parent must exist.
func (tx *Txn) AddDir(p string, props vfs.Properties) {
	tx.put(p, &entry{kind: vfs.KindDir, props: props}, vfs.ActionAdd)
}

// AddFile creates or replaces a file; its parent must exist.
func (tx *Txn) AddFile(p, content string, props vfs.Properties) {
	p = vfs.Clean(p)
	action := vfs.ActionAdd
	if old, ok := tx.nodes[p]; ok && old.kind == vfs.KindFile {
		action = vfs.ActionModify
	}
	tx.put(p, &entry{kind: vfs.KindFile, content: content, props: props}, action)
}

// Delete removes a node and everything below it.
func (tx *Txn) Delete(p string) {
	p = vfs.Clean(p)
	old, ok := tx.nodes[p]
	if !ok {
		tx.fail(fmt.Errorf("delete %s: not found", p))
		return
	}
	for q := range tx.nodes {
		if vfs.IsWithin(q, p) {
			delete(tx.nodes, q)
		}
	}
	tx.changes = append(tx.changes, vfs.Change{Path: p, Action: vfs.ActionDelete, Kind: old.kind})
	tx.touch(vfs.Parent(p))
}

func (tx *Txn) put(p string, e *entry, action vfs.Action) {
	p = vfs.Clean(p)
	parent, ok := tx.nodes[vfs.Parent(p)]
	if !ok || parent.kind != vfs.KindDir {
		tx.fail(fmt.Errorf("add %s: parent is not a directory", p))
		return
	}
	if e.props == nil {
		e.props = vfs.Properties{}
	}
	e.lastChange = tx.rev
	tx.nodes[p] = e
	tx.changes = append(tx.changes, vfs.Change{Path: p, Action: action, Kind: e.kind})
	tx.touch(vfs.Parent(p))
}

// touch marks p and its ancestors as changed in this revision.
func (tx *Txn) touch(p string) {
	for _, a := range vfs.Ancestors(p) {
		old := tx.nodes[a]
		if old == nil || old.lastChange == tx.rev {
			continue
		}
		cp := *old
		cp.lastChange = tx.rev
		tx.nodes[a] = &cp
	}
}

func (tx *Txn) fail(err error) {
	if tx.err == nil {
		tx.err = err
	}
}

func (r *Repository) UUID() string { return r.uuid }

func (r *Repository) LatestRevision(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.revs) - 1), nil
}

func (r *Repository) RevisionInfo(ctx context.Context, rev int64) (vfs.RevisionInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rev < 0 || rev >= int64(len(r.revs)) {
		return nil, fmt.Errorf("revision %d: %w", rev, vfs.ErrNoSuchRevision)
	}
	return r.revs[rev], nil
}

func (rv *revision) ID() int64       { return rv.id }
func (rv *revision) Author() string  { return rv.author }
func (rv *revision) Date() time.Time { return rv.date }
func (rv *revision) Message() string { return rv.message }

func (rv *revision) Node(ctx context.Context, p string) (vfs.Node, error) {
	p = vfs.Clean(p)
	e, ok := rv.nodes[p]
	if !ok {
		return nil, nil
	}
	return &node{rev: rv, path: p, e: e}, nil
}

func (rv *revision) Changes(ctx context.Context) ([]vfs.Change, error) {
	return rv.changes, nil
}

type node struct {
	rev  *revision
	path string
	e    *entry
}

func (n *node) Name() string   { return vfs.Base(n.path) }
func (n *node) Kind() vfs.Kind { return n.e.kind }

func (n *node) Size(ctx context.Context) (int64, error) {
	return int64(len(n.e.content)), nil
}

func (n *node) Properties(ctx context.Context) (vfs.Properties, error) {
	return n.e.props, nil
}

func (n *node) LastChange(ctx context.Context) (vfs.RevisionInfo, error) {
	return n.rev.repo.RevisionInfo(ctx, n.e.lastChange)
}

func (n *node) Entries(ctx context.Context) iter.Seq2[vfs.Node, error] {
	return func(yield func(vfs.Node, error) bool) {
		if n.e.kind != vfs.KindDir {
			return
		}
		var names []string
		for p := range n.rev.nodes {
			if p != vfs.Root && vfs.Parent(p) == n.path {
				names = append(names, p)
			}
		}
		sort.Strings(names)
		for _, p := range names {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(&node{rev: n.rev, path: p, e: n.rev.nodes[p]}, nil) {
				return
			}
		}
	}
}

func (n *node) Open(ctx context.Context) (io.ReadCloser, error) {
	if n.e.kind != vfs.KindFile {
		return nil, fmt.Errorf("%s is not a file", n.path)
	}
	return io.NopCloser(strings.NewReader(n.e.content)), nil
}
