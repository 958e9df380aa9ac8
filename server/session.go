package server

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/mfaure/git-as-svn/proto"
	"github.com/mfaure/git-as-svn/vfs"
	"github.com/sirupsen/logrus"
)

// Session is the per-connection context: the bound repository, the
// session base path and the codec endpoints. Sessions are never shared
// across connections.
type Session struct {
	Repo     vfs.Repository
	RepoName string
	// RootURL is the URL of the repository root, e.g. svn://host/name.
	RootURL string
	// User is the authenticated user; empty for anonymous access.
	User string

	base string
	log  *logrus.Entry
	r    *proto.Reader
	w    *proto.Writer
}

// Resolve maps a client path, relative to the session base, to a
// canonical repository path.
func (s *Session) Resolve(p string) string {
	return vfs.Join(s.base, p)
}

// Reparent moves the session base to the path named by rawURL, which must
// lie inside the repository.
func (s *Session) Reparent(rawURL string) error {
	target, err := parseSvnURL(rawURL)
	if err != nil {
		return clientErrorf(CodeIllegalURL, "Illegal repository URL '%s'", rawURL)
	}
	root, err := parseSvnURL(s.RootURL)
	if err != nil {
		return err
	}
	if target.rootURL() != root.rootURL() || target.repo != root.repo {
		return clientErrorf(CodeIllegalURL, "URL '%s' is not a child of the session's repository root URL '%s'", rawURL, s.RootURL)
	}
	s.base = target.path
	return nil
}

// revisionInfo applies the revision policy: an explicit revision is used
// as given, an absent one resolves the latest revision now.
func (s *Session) revisionInfo(ctx context.Context, rev *int64) (vfs.RevisionInfo, error) {
	var n int64
	if rev != nil {
		n = *rev
	} else {
		latest, err := s.Repo.LatestRevision(ctx)
		if err != nil {
			return nil, err
		}
		n = latest
	}
	info, err := s.Repo.RevisionInfo(ctx, n)
	if errors.Is(err, vfs.ErrNoSuchRevision) {
		return nil, clientErrorf(CodeNoSuchRevision, "No such revision %d", n)
	}
	return info, err
}

// svnURL is a parsed svn:// URL. The first path segment names the
// repository and the remainder is a path inside it.
type svnURL struct {
	scheme string
	host   string
	repo   string
	path   string
}

func parseSvnURL(raw string) (svnURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return svnURL{}, err
	}
	if !strings.HasPrefix(u.Scheme, "svn") || u.Host == "" {
		return svnURL{}, errors.New("not an svn URL")
	}
	rest := strings.Trim(u.Path, "/")
	name, sub, _ := strings.Cut(rest, "/")
	if name == "" {
		return svnURL{}, errors.New("URL names no repository")
	}
	return svnURL{
		scheme: strings.ToLower(u.Scheme),
		host:   strings.ToLower(u.Host),
		repo:   name,
		path:   vfs.Clean(sub),
	}, nil
}

// rootURL returns scheme://host/repo.
func (u svnURL) rootURL() string {
	return u.scheme + "://" + u.host + "/" + (&url.URL{Path: u.repo}).EscapedPath()
}
