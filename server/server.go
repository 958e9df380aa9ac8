// Package server implements the svn:// (ra_svn) protocol front end: the
// listener, the per-connection session, the handshake, the command
// dispatcher and the read-only command handlers.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/mfaure/git-as-svn/proto"
	"github.com/mfaure/git-as-svn/vfs"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Resolver opens repositories by name. The returned function releases
// the repository when the connection ends.
type Resolver interface {
	Open(ctx context.Context, name string) (vfs.Repository, func(), error)
}

// Config configures a Server.
type Config struct {
	Realm         string
	MaxStringSize int64
	// AcceptRate limits accepted connections per second; zero disables it.
	AcceptRate  float64
	AcceptBurst int
	Log         *logrus.Entry
}

// Server serves svn:// connections.
type Server struct {
	cfg      Config
	resolver Resolver
	commands map[string]Command
	limiter  *rate.Limiter
	log      *logrus.Entry
	conns    sync.WaitGroup
}

// New creates a server resolving repositories through resolver.
func New(resolver Resolver, cfg Config) *Server {
	if cfg.Realm == "" {
		cfg.Realm = "git-as-svn"
	}
	if cfg.MaxStringSize <= 0 {
		cfg.MaxStringSize = proto.DefaultMaxString
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.AcceptRate > 0 {
		burst := cfg.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.AcceptRate), burst)
	}
	return &Server{
		cfg:      cfg,
		resolver: resolver,
		commands: Commands(),
		limiter:  limiter,
		log:      cfg.Log,
	}
}

// Serve accepts connections until ctx is cancelled, then waits for open
// connections to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.conns.Wait()

	s.log.WithField("addr", ln.Addr().String()).Info("svn server listening")
	s.log.WithField("commands", strings.Join(commandNames(s.commands), " ")).Debug("svn commands registered")

	var backoff time.Duration
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil
		}
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.log.WithError(err).Warn("accept failed, retrying")
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.HandleConn(ctx, conn)
		}()
	}
}

// HandleConn drives one connection: handshake, then one command at a time
// until the client disconnects or a framing error occurs.
func (s *Server) HandleConn(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	log := s.log.WithField("remote", conn.RemoteAddr().String())

	r := proto.NewReader(conn)
	r.SetMaxString(s.cfg.MaxStringSize)
	w := proto.NewWriter(bufio.NewWriter(conn))

	sess, release, err := s.handshake(ctx, r, w, log)
	if err != nil {
		logConnError(log, "handshake ended", err)
		return
	}
	defer release()
	sess.log.WithField("user", sess.User).Debug("session started")

	for {
		item, err := r.ReadItem()
		if err != nil {
			logConnError(sess.log, "connection closed", err)
			return
		}
		if err := s.dispatch(ctx, sess, item); err != nil {
			logConnError(sess.log, "connection closed", err)
			return
		}
	}
}

func logConnError(log *logrus.Entry, msg string, err error) {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		log.WithError(err).Debug(msg)
		return
	}
	log.WithError(err).Warn(msg)
}
