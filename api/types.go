package api

import "github.com/mfaure/git-as-svn/vfs"

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// RepoInfo describes one served repository.
type RepoInfo struct {
	Name           string `json:"name"`
	UUID           string `json:"uuid,omitempty"`
	LatestRevision int64  `json:"latestRevision"`
	// Error is set when the repository could not be opened.
	Error string `json:"error,omitempty"`
}

// ReposResponse lists the served repositories.
type ReposResponse struct {
	Repos []RepoInfo `json:"repos"`
}

// SyncResponse is returned after an index synchronisation.
type SyncResponse struct {
	Repo           string `json:"repo"`
	LatestRevision int64  `json:"latestRevision"`
}

// RevisionResponse describes one revision.
type RevisionResponse struct {
	Revision int64        `json:"revision"`
	Author   string       `json:"author"`
	Date     string       `json:"date"`
	Message  string       `json:"message"`
	Changes  []vfs.Change `json:"changes"`
}

// CommitResponse maps a git commit to the revision that indexed it.
type CommitResponse struct {
	Repo     string `json:"repo"`
	Commit   string `json:"commit"`
	Revision int64  `json:"revision"`
}

// NodeInfo describes a file or directory at one revision.
type NodeInfo struct {
	Name       string         `json:"name"`
	Kind       vfs.Kind       `json:"kind"`
	Size       int64          `json:"size"`
	LastChange int64          `json:"lastChange"`
	LastAuthor string         `json:"lastAuthor,omitempty"`
	Date       string         `json:"date"`
	Properties vfs.Properties `json:"properties,omitempty"`
}

// TreeResponse is a node and, for directories, its entries.
type TreeResponse struct {
	Revision int64      `json:"revision"`
	Path     string     `json:"path"`
	Node     NodeInfo   `json:"node"`
	Entries  []NodeInfo `json:"entries,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
