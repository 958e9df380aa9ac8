package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/mfaure/git-as-svn/proto"
	"github.com/sirupsen/logrus"
)

const protocolVersion = 2

var (
	serverCaps     = []string{"edit-pipeline", "svndiff1", "absent-entries", "depth", "inherited-props", "log-revprops"}
	repositoryCaps = []string{"mergeinfo"}
)

var errHandshake = errors.New("handshake failed")

var clientGreetingShape = Shape{
	{Name: "version", Type: FieldNumber},
	{Name: "caps", Type: FieldList},
	{Name: "url", Type: FieldString},
	{Name: "ra-client", Type: FieldString, Trailing: true},
	{Name: "client", Type: FieldList, Trailing: true},
}

var authResponseShape = Shape{
	{Name: "mech", Type: FieldWord},
	{Name: "token", Type: FieldString, Optional: true, Trailing: true},
}

// handshake negotiates the protocol, binds the repository named by the
// client URL and authenticates the client anonymously.
func (s *Server) handshake(ctx context.Context, r *proto.Reader, w *proto.Writer, log *logrus.Entry) (*Session, func(), error) {
	w.ListBegin().Word("success").ListBegin().
		Number(protocolVersion).Number(protocolVersion).
		ListBegin().ListEnd().
		ListBegin()
	for _, c := range serverCaps {
		w.Word(c)
	}
	w.ListEnd().ListEnd().ListEnd()
	if err := w.Flush(); err != nil {
		return nil, nil, err
	}

	items, err := r.ReadList()
	if err != nil {
		return nil, nil, err
	}
	greeting, err := clientGreetingShape.Bind(items)
	if err != nil {
		return nil, nil, s.refuse(w, CodeMalformedData, "Malformed network data", err)
	}
	if v := greeting.Number(0); v != protocolVersion {
		return nil, nil, s.refuse(w, CodeBadVersion, "Unsupported ra_svn protocol version", fmt.Errorf("client version %d", v))
	}

	rawURL := greeting.String(2)
	u, err := parseSvnURL(rawURL)
	if err != nil {
		return nil, nil, s.refuse(w, CodeIllegalURL, fmt.Sprintf("Illegal repository URL '%s'", rawURL), err)
	}
	repo, release, err := s.resolver.Open(ctx, u.repo)
	if err != nil {
		return nil, nil, s.refuse(w, CodeReposNotFound, fmt.Sprintf("No repository found in '%s'", rawURL), err)
	}
	ok := false
	defer func() {
		if !ok {
			release()
		}
	}()

	log = log.WithField("repo", u.repo)
	if ua := greeting.String(3); ua != "" {
		log = log.WithField("client", ua)
	}

	w.ListBegin().Word("success").ListBegin().
		ListBegin().Word("ANONYMOUS").ListEnd().
		String(s.cfg.Realm).
		ListEnd().ListEnd()
	if err := w.Flush(); err != nil {
		return nil, nil, err
	}

	items, err = r.ReadList()
	if err != nil {
		return nil, nil, err
	}
	auth, err := authResponseShape.Bind(items)
	if err != nil || auth.Word(0) != "ANONYMOUS" {
		w.ListBegin().Word("failure").ListBegin().String("Unsupported authentication mechanism").ListEnd().ListEnd()
		if ferr := w.Flush(); ferr != nil {
			return nil, nil, ferr
		}
		return nil, nil, fmt.Errorf("%w: mechanism %q", errHandshake, auth.Word(0))
	}

	latestURL := u.rootURL()
	writeSuccessEmpty(w)
	w.ListBegin().Word("success").ListBegin().
		String(repo.UUID()).
		String(latestURL).
		ListBegin()
	for _, c := range repositoryCaps {
		w.Word(c)
	}
	w.ListEnd().ListEnd().ListEnd()
	if err := w.Flush(); err != nil {
		return nil, nil, err
	}

	ok = true
	return &Session{
		Repo:     repo,
		RepoName: u.repo,
		RootURL:  latestURL,
		User:     auth.String(1),
		base:     u.path,
		log:      log,
		r:        r,
		w:        w,
	}, release, nil
}

// refuse sends a failure reply and returns the error that ends the
// connection.
func (s *Server) refuse(w *proto.Writer, code int, message string, cause error) error {
	writeFailure(w, code, message)
	if err := w.Flush(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s: %v", errHandshake, message, cause)
}
