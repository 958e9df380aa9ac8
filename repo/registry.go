// Package repo provides multi-repo management with LRU caching.
package repo

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mfaure/git-as-svn/background"
	"github.com/mfaure/git-as-svn/gitrepo"
	"github.com/mfaure/git-as-svn/store"
	"github.com/mfaure/git-as-svn/vfs"
	"github.com/sirupsen/logrus"
)

var (
	ErrRepoNotFound   = errors.New("repo not found")
	ErrRegistryClosed = errors.New("registry closed")
)

// Handle represents an open repository with its index and indexer.
type Handle struct {
	Name string
	Path string
	Repo *gitrepo.Repository
	DB   *store.DB

	indexer  *background.Indexer
	lastUsed time.Time
	active   int32 // number of active users
	mu       sync.Mutex
	element  *list.Element // position in LRU list
}

// RegistryConfig configures the repo registry.
type RegistryConfig struct {
	ReposDir string // Directory holding the Git repositories
	DataDir  string // Directory holding the revision indexes
	Branch   string
	MaxOpen  int           // Maximum number of open repos (LRU capacity)
	IdleTTL  time.Duration // Close repos idle longer than this
	// IndexInterval is the background sync period; negative disables it.
	IndexInterval time.Duration
	SnapshotCache int
	Log           *logrus.Entry
}

// Registry manages multiple repositories with LRU caching.
type Registry struct {
	cfg    RegistryConfig
	mu     sync.RWMutex
	repos  map[string]*Handle
	lru    *list.List // LRU list of repo names
	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	closed bool
}

// NewRegistry creates a new repo registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxOpen <= 0 {
		cfg.MaxOpen = 64
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:    cfg,
		repos:  make(map[string]*Handle),
		lru:    list.New(),
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
	}

	go r.reapLoop()

	return r
}

// Acquire returns an open handle to the named repo and marks it in use,
// which prevents eviction until Release.
func (r *Registry) Acquire(ctx context.Context, name string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	h, ok := r.repos[name]
	if !ok {
		path, err := r.locate(name)
		if err != nil {
			return nil, err
		}
		h, err = r.openRepoLocked(name, path)
		if err != nil {
			return nil, err
		}
	}

	h.mu.Lock()
	h.active++
	h.lastUsed = time.Now()
	h.mu.Unlock()
	r.lru.MoveToFront(h.element)
	return h, nil
}

// Release marks a handle as no longer in use.
func (r *Registry) Release(h *Handle) {
	h.mu.Lock()
	h.active--
	h.lastUsed = time.Now()
	h.mu.Unlock()
}

// Open acquires the named repository as a vfs.Repository. The returned
// function releases it.
func (r *Registry) Open(ctx context.Context, name string) (vfs.Repository, func(), error) {
	h, err := r.Acquire(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	return h.Repo, func() { once.Do(func() { r.Release(h) }) }, nil
}

// List returns the names of all repositories under ReposDir.
func (r *Registry) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.cfg.ReposDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if isGitDir(filepath.Join(r.cfg.ReposDir, e.Name())) {
			names = append(names, strings.TrimSuffix(e.Name(), ".git"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close stops all indexers and closes every open repository.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.stop)
	r.cancel()

	var errs []error
	for _, h := range r.repos {
		if err := r.closeRepoLocked(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// locate maps a repository name to its directory. Names are single path
// segments; "name" and "name.git" are both accepted on disk.
func (r *Registry) locate(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%q: %w", name, ErrRepoNotFound)
	}
	for _, dir := range []string{name, name + ".git"} {
		path := filepath.Join(r.cfg.ReposDir, dir)
		if isGitDir(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%q: %w", name, ErrRepoNotFound)
}

// isGitDir reports whether path is a work tree or a bare repository.
func isGitDir(path string) bool {
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		return true
	}
	head, err := os.Stat(filepath.Join(path, "HEAD"))
	if err != nil || head.IsDir() {
		return false
	}
	objects, err := os.Stat(filepath.Join(path, "objects"))
	return err == nil && objects.IsDir()
}

// openRepoLocked opens a repo (must hold write lock).
func (r *Registry) openRepoLocked(name, path string) (*Handle, error) {
	for len(r.repos) >= r.cfg.MaxOpen {
		if !r.evictOneLocked() {
			break // Can't evict any (all active)
		}
	}

	db, err := store.OpenRepoDB(r.cfg.DataDir, name)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	log := r.cfg.Log.WithField("repo", name)
	g, err := gitrepo.Open(path, db, gitrepo.Options{
		Name:      name,
		Branch:    r.cfg.Branch,
		CacheSize: r.cfg.SnapshotCache,
		Log:       r.cfg.Log,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	h := &Handle{
		Name:     name,
		Path:     path,
		Repo:     g,
		DB:       db,
		lastUsed: time.Now(),
	}
	if r.cfg.IndexInterval >= 0 {
		h.indexer = background.NewIndexer(g, r.cfg.IndexInterval, log)
		h.indexer.Start(r.ctx)
	}

	h.element = r.lru.PushFront(name)
	r.repos[name] = h
	log.WithField("path", path).Info("opened repository")

	return h, nil
}

// closeRepoLocked closes a repo (must hold write lock).
func (r *Registry) closeRepoLocked(h *Handle) error {
	if h.indexer != nil {
		h.indexer.Stop()
	}
	if h.element != nil {
		r.lru.Remove(h.element)
	}
	delete(r.repos, h.Name)
	r.cfg.Log.WithField("repo", h.Name).Debug("closed repository")
	return h.DB.Close()
}

// evictOneLocked evicts the least recently used inactive repo.
func (r *Registry) evictOneLocked() bool {
	for e := r.lru.Back(); e != nil; e = e.Prev() {
		h := r.repos[e.Value.(string)]
		h.mu.Lock()
		idle := h.active == 0
		h.mu.Unlock()
		if idle {
			if err := r.closeRepoLocked(h); err != nil {
				r.cfg.Log.WithError(err).WithField("repo", h.Name).Warn("closing evicted repository")
			}
			return true
		}
	}
	return false
}

// reapLoop periodically closes idle repos.
func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.cfg.IdleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reapIdle(time.Now())
		}
	}
}

// reapIdle closes repos that have been idle since before now-IdleTTL.
func (r *Registry) reapIdle(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.cfg.IdleTTL)

	for e := r.lru.Back(); e != nil; {
		h := r.repos[e.Value.(string)]

		h.mu.Lock()
		idle := h.active == 0 && h.lastUsed.Before(cutoff)
		h.mu.Unlock()

		prev := e.Prev()
		if idle {
			if err := r.closeRepoLocked(h); err != nil {
				r.cfg.Log.WithError(err).WithField("repo", h.Name).Warn("closing idle repository")
			}
		}
		e = prev
	}
}

// OpenCount returns the number of open repositories.
func (r *Registry) OpenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.repos)
}
