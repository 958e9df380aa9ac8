package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/mfaure/git-as-svn/config"
	"github.com/mfaure/git-as-svn/gitrepo"
	"github.com/mfaure/git-as-svn/repo"
	"github.com/mfaure/git-as-svn/store"
	"github.com/mfaure/git-as-svn/vfs"
	"github.com/sirupsen/logrus"
)

// Handler wraps the registry and config for HTTP handlers.
type Handler struct {
	reg *repo.Registry
	cfg *config.Config
	log *logrus.Entry
}

// NewHandler creates a new API handler.
func NewHandler(reg *repo.Registry, cfg *config.Config, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{reg: reg, cfg: cfg, log: log}
}

// NewRouter creates the HTTP router with all routes registered.
func NewRouter(reg *repo.Registry, cfg *config.Config, log *logrus.Entry) http.Handler {
	h := NewHandler(reg, cfg, log)
	mux := http.NewServeMux()
	withRepo := WithRepo(reg, h.log)

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	mux.HandleFunc("GET /admin/v1/repos", h.ListRepos)
	mux.Handle("POST /admin/v1/repos/{repo}/sync", withRepo(http.HandlerFunc(h.SyncRepo)))

	mux.Handle("GET /v1/repos/{repo}/revisions/{rev}", withRepo(http.HandlerFunc(h.GetRevision)))
	mux.Handle("GET /v1/repos/{repo}/commits/{commit}", withRepo(http.HandlerFunc(h.GetCommitRevision)))
	mux.Handle("GET /v1/repos/{repo}/tree/{rev}", withRepo(http.HandlerFunc(h.GetTree)))
	mux.Handle("GET /v1/repos/{repo}/tree/{rev}/{path...}", withRepo(http.HandlerFunc(h.GetTree)))

	return mux
}

// ----- Health -----

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.cfg.Version,
	})
}

// Ready reports whether the repositories directory can be listed.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.reg.List(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "repositories unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ready",
		Version: h.cfg.Version,
	})
}

// ----- Admin -----

func (h *Handler) ListRepos(w http.ResponseWriter, r *http.Request) {
	names, err := h.reg.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list repos", err)
		return
	}

	result := make([]RepoInfo, 0, len(names))
	for _, name := range names {
		result = append(result, h.repoInfo(r.Context(), name))
	}
	writeJSON(w, http.StatusOK, ReposResponse{Repos: result})
}

func (h *Handler) repoInfo(ctx context.Context, name string) RepoInfo {
	info := RepoInfo{Name: name}
	rh, err := h.reg.Acquire(ctx, name)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	defer h.reg.Release(rh)

	info.UUID = rh.Repo.UUID()
	if info.LatestRevision, err = rh.DB.LatestRevision(); err != nil {
		info.Error = err.Error()
	}
	return info
}

func (h *Handler) SyncRepo(w http.ResponseWriter, r *http.Request) {
	rh := RepoFrom(r.Context())

	latest, err := rh.Repo.Sync(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, gitrepo.ErrHistoryRewritten):
			writeErrorCode(w, http.StatusInternalServerError, "history rewritten", "history_rewritten", err)
		case errors.Is(err, gitrepo.ErrBranchNotFound):
			writeErrorCode(w, http.StatusNotFound, "branch not found", "branch_not_found", err)
		default:
			writeError(w, http.StatusInternalServerError, "sync failed", err)
		}
		return
	}
	h.log.WithFields(logrus.Fields{"repo": rh.Name, "rev": latest}).Info("index synchronised")
	writeJSON(w, http.StatusOK, SyncResponse{Repo: rh.Name, LatestRevision: latest})
}

// ----- Revisions -----

func (h *Handler) GetRevision(w http.ResponseWriter, r *http.Request) {
	rh := RepoFrom(r.Context())

	info, ok := h.revisionInfo(w, r, rh.Repo)
	if !ok {
		return
	}
	changes, err := info.Changes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read changes", err)
		return
	}
	if changes == nil {
		changes = []vfs.Change{}
	}

	writeJSON(w, http.StatusOK, RevisionResponse{
		Revision: info.ID(),
		Author:   info.Author(),
		Date:     vfs.FormatDate(info.Date()),
		Message:  info.Message(),
		Changes:  changes,
	})
}

// GetCommitRevision maps an indexed git commit to its revision.
func (h *Handler) GetCommitRevision(w http.ResponseWriter, r *http.Request) {
	rh := RepoFrom(r.Context())
	commit := strings.ToLower(r.PathValue("commit"))

	rev, err := rh.DB.RevisionByCommit(commit)
	if errors.Is(err, store.ErrRevisionNotFound) {
		writeErrorCode(w, http.StatusNotFound, "commit not indexed", "commit_not_indexed", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up commit", err)
		return
	}
	writeJSON(w, http.StatusOK, CommitResponse{Repo: rh.Name, Commit: commit, Revision: rev})
}

func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	rh := RepoFrom(r.Context())
	ctx := r.Context()

	info, ok := h.revisionInfo(w, r, rh.Repo)
	if !ok {
		return
	}
	p := vfs.Clean(r.PathValue("path"))
	node, err := info.Node(ctx, p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read tree", err)
		return
	}
	if node == nil {
		writeErrorCode(w, http.StatusNotFound, "path not found", "path_not_found", nil)
		return
	}

	resp := TreeResponse{Revision: info.ID(), Path: p}
	if resp.Node, err = nodeInfo(ctx, node, true); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read node", err)
		return
	}
	if node.Kind() == vfs.KindDir {
		resp.Entries = []NodeInfo{}
		for child, err := range node.Entries(ctx) {
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to list directory", err)
				return
			}
			ni, err := nodeInfo(ctx, child, false)
			if err != nil {
				writeError(w, http.StatusInternalServerError, "failed to read node", err)
				return
			}
			resp.Entries = append(resp.Entries, ni)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// revisionInfo resolves the {rev} path value, which is a number or HEAD.
func (h *Handler) revisionInfo(w http.ResponseWriter, r *http.Request, vr vfs.Repository) (vfs.RevisionInfo, bool) {
	ctx := r.Context()
	raw := r.PathValue("rev")

	var rev int64
	if strings.EqualFold(raw, "HEAD") {
		latest, err := vr.LatestRevision(ctx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read latest revision", err)
			return nil, false
		}
		rev = latest
	} else {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeErrorCode(w, http.StatusBadRequest, "invalid revision", "invalid_revision", nil)
			return nil, false
		}
		rev = n
	}

	info, err := vr.RevisionInfo(ctx, rev)
	if errors.Is(err, vfs.ErrNoSuchRevision) {
		writeErrorCode(w, http.StatusNotFound, "no such revision", "no_such_revision", nil)
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read revision", err)
		return nil, false
	}
	return info, true
}

func nodeInfo(ctx context.Context, n vfs.Node, withProps bool) (NodeInfo, error) {
	size, err := n.Size(ctx)
	if err != nil {
		return NodeInfo{}, err
	}
	last, err := n.LastChange(ctx)
	if err != nil {
		return NodeInfo{}, err
	}
	ni := NodeInfo{
		Name:       n.Name(),
		Kind:       n.Kind(),
		Size:       size,
		LastChange: last.ID(),
		LastAuthor: last.Author(),
		Date:       vfs.FormatDate(last.Date()),
	}
	if withProps {
		if ni.Properties, err = n.Properties(ctx); err != nil {
			return NodeInfo{}, err
		}
	}
	return ni, nil
}

// ----- Helpers -----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	writeErrorCode(w, status, msg, "", err)
}

func writeErrorCode(w http.ResponseWriter, status int, msg, code string, err error) {
	resp := ErrorResponse{Error: msg, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
