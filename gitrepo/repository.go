// Package gitrepo exposes a Git branch as a vfs.Repository. Each commit on
// the branch's first-parent chain becomes one revision; the mapping and the
// per-path change history live in a store.DB index kept current by Sync.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/golang/groupcache/lru"
	"github.com/mfaure/git-as-svn/cas"
	"github.com/mfaure/git-as-svn/store"
	"github.com/mfaure/git-as-svn/vfs"
	"github.com/sirupsen/logrus"
)

var (
	ErrHistoryRewritten = errors.New("branch history was rewritten")
	ErrBranchNotFound   = errors.New("branch not found")
)

const (
	DefaultBranch    = "master"
	DefaultCacheSize = 1024
)

// Options configures a Repository.
type Options struct {
	// Name identifies the repository; the UUID is derived from it.
	Name      string
	Branch    string
	CacheSize int
	Log       *logrus.Entry
}

// Repository is a vfs.Repository over one branch of a Git repository.
type Repository struct {
	git    *git.Repository
	db     *store.DB
	name   string
	branch string
	uuid   string
	log    *logrus.Entry

	// gitMu serialises object access; go-git objects and storage are not
	// safe for concurrent use.
	gitMu sync.Mutex

	// syncMu serialises index synchronisation.
	syncMu sync.Mutex

	// mu guards the caches below. The snapshot cache is the only place a
	// revision is published, and published revisions are never mutated.
	mu        sync.Mutex
	snapshots *lru.Cache
	attrs     *lru.Cache
	ignores   *lru.Cache
}

// Open opens the Git repository at path.
func Open(path string, db *store.DB, opts Options) (*Repository, error) {
	g, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return New(g, db, opts)
}

// New wraps an opened Git repository. The UUID is read from the index,
// or derived from the name and recorded on first use.
func New(g *git.Repository, db *store.DB, opts Options) (*Repository, error) {
	if opts.Branch == "" {
		opts.Branch = DefaultBranch
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	r := &Repository{
		git:       g,
		db:        db,
		name:      opts.Name,
		branch:    opts.Branch,
		log:       opts.Log.WithField("repo", opts.Name),
		snapshots: lru.New(opts.CacheSize),
		attrs:     lru.New(opts.CacheSize),
		ignores:   lru.New(opts.CacheSize),
	}

	id, err := db.GetMeta(store.MetaUUID)
	switch {
	case errors.Is(err, store.ErrMetaNotFound):
		id = cas.NameUUID(opts.Name)
		if err := db.SetMeta(store.MetaUUID, id); err != nil {
			return nil, err
		}
		if err := db.SetMeta(store.MetaBranch, opts.Branch); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}
	r.uuid = id

	if indexed, err := db.GetMeta(store.MetaBranch); err == nil && indexed != opts.Branch {
		return nil, fmt.Errorf("index was built for branch %q, configured branch is %q", indexed, opts.Branch)
	}

	return r, nil
}

// Name returns the repository name.
func (r *Repository) Name() string { return r.name }

// Branch returns the exposed branch.
func (r *Repository) Branch() string { return r.branch }

// UUID returns the repository UUID.
func (r *Repository) UUID() string { return r.uuid }

// LatestRevision synchronises the index with the branch head and returns
// the latest revision. When synchronisation fails the already indexed
// revisions stay served.
func (r *Repository) LatestRevision(ctx context.Context) (int64, error) {
	latest, err := r.Sync(ctx)
	if err == nil {
		return latest, nil
	}
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	switch {
	case errors.Is(err, ErrBranchNotFound):
		r.log.WithError(err).Debug("branch missing, serving indexed revisions")
	default:
		r.log.WithError(err).Warn("index sync failed, serving indexed revisions")
	}
	indexed, dbErr := r.db.LatestRevision()
	if dbErr != nil {
		return 0, dbErr
	}
	if indexed < 0 {
		return 0, err
	}
	return indexed, nil
}

// RevisionInfo returns the snapshot of an indexed revision.
func (r *Repository) RevisionInfo(ctx context.Context, rev int64) (vfs.RevisionInfo, error) {
	if rev < 0 {
		return nil, fmt.Errorf("revision %d: %w", rev, vfs.ErrNoSuchRevision)
	}

	r.mu.Lock()
	if v, ok := r.snapshots.Get(rev); ok {
		r.mu.Unlock()
		return v.(*revision), nil
	}
	r.mu.Unlock()

	rec, err := r.db.GetRevision(rev)
	if errors.Is(err, store.ErrRevisionNotFound) {
		return nil, fmt.Errorf("revision %d: %w", rev, vfs.ErrNoSuchRevision)
	}
	if err != nil {
		return nil, err
	}

	rv := &revision{
		repo:    r,
		id:      rec.Rev,
		author:  rec.Author,
		date:    rec.Date,
		message: rec.Message,
		changes: rec.Changes,
	}
	if rec.Commit != "" {
		commit, err := r.commitObject(plumbing.NewHash(rec.Commit))
		if err != nil {
			return nil, fmt.Errorf("loading commit of r%d: %w", rev, err)
		}
		rv.root = commit.TreeHash
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.snapshots.Get(rev); ok {
		return v.(*revision), nil
	}
	r.snapshots.Add(rev, rv)
	return rv, nil
}

// RevisionAtDate returns the latest revision dated at or before the
// given time, or 0.
func (r *Repository) RevisionAtDate(ctx context.Context, t time.Time) (int64, error) {
	if _, err := r.LatestRevision(ctx); err != nil {
		return 0, err
	}
	return r.db.RevisionAtDate(t)
}

// ----- Object access -----

func (r *Repository) commitObject(h plumbing.Hash) (*object.Commit, error) {
	r.gitMu.Lock()
	defer r.gitMu.Unlock()
	return r.git.CommitObject(h)
}

func (r *Repository) treeObject(h plumbing.Hash) (*object.Tree, error) {
	r.gitMu.Lock()
	defer r.gitMu.Unlock()
	return r.git.TreeObject(h)
}

func (r *Repository) blobSize(h plumbing.Hash) (int64, error) {
	r.gitMu.Lock()
	defer r.gitMu.Unlock()
	blob, err := r.git.BlobObject(h)
	if err != nil {
		return 0, err
	}
	return blob.Size, nil
}

func (r *Repository) blobReader(h plumbing.Hash) (io.ReadCloser, error) {
	r.gitMu.Lock()
	defer r.gitMu.Unlock()
	blob, err := r.git.BlobObject(h)
	if err != nil {
		return nil, err
	}
	return blob.Reader()
}

// readBlob reads a small blob such as .gitattributes fully.
func (r *Repository) readBlob(h plumbing.Hash) ([]byte, error) {
	rc, err := r.blobReader(h)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// entries returns the entries of a tree. A zero hash is the empty tree
// of revision 0.
func (r *Repository) entries(h plumbing.Hash) ([]object.TreeEntry, error) {
	if h.IsZero() {
		return nil, nil
	}
	t, err := r.treeObject(h)
	if err != nil {
		return nil, fmt.Errorf("loading tree %s: %w", h, err)
	}
	return t.Entries, nil
}

// lookup walks from the root tree to the entry at p. It returns nil when
// the path is absent or names a submodule.
func (r *Repository) lookup(ctx context.Context, root plumbing.Hash, p string) (*object.TreeEntry, error) {
	cur := &object.TreeEntry{Mode: filemode.Dir, Hash: root}
	rel := vfs.Relative(p)
	if rel == "" {
		return cur, nil
	}
	for _, name := range strings.Split(rel, "/") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cur.Mode != filemode.Dir {
			return nil, nil
		}
		entries, err := r.entries(cur.Hash)
		if err != nil {
			return nil, err
		}
		var next *object.TreeEntry
		for i := range entries {
			if entries[i].Name == name {
				next = &entries[i]
				break
			}
		}
		if next == nil || next.Mode == filemode.Submodule {
			return nil, nil
		}
		cur = next
	}
	return cur, nil
}

func kindOf(mode filemode.FileMode) vfs.Kind {
	switch mode {
	case filemode.Dir:
		return vfs.KindDir
	case filemode.Submodule:
		return vfs.KindNone
	default:
		return vfs.KindFile
	}
}
