// Package api provides the admin HTTP API of the git-as-svn daemon.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/mfaure/git-as-svn/repo"
	"github.com/sirupsen/logrus"
)

// WithDefaults wraps a handler with standard middleware.
func WithDefaults(h http.Handler, log *logrus.Entry) http.Handler {
	return LoggingMiddleware(
		TimeoutMiddleware(
			gzhttp.GzipHandler(h),
			30*time.Second,
		),
		log,
	)
}

// LoggingMiddleware logs all requests.
func LoggingMiddleware(next http.Handler, log *logrus.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lw, r)
		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   lw.status,
			"duration": time.Since(start),
		}).Info("http request")
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lw *loggingResponseWriter) WriteHeader(status int) {
	lw.status = status
	lw.ResponseWriter.WriteHeader(status)
}

// TimeoutMiddleware adds a timeout to requests.
func TimeoutMiddleware(next http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(next, timeout, "request timeout")
}

type ctxKey int

const repoKey ctxKey = iota

// WithRepo is middleware that resolves the {repo} path value and keeps the
// repository acquired for the duration of the request.
func WithRepo(reg *repo.Registry, log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := r.PathValue("repo")
			if name == "" {
				writeError(w, http.StatusBadRequest, "repo required", nil)
				return
			}

			h, err := reg.Acquire(r.Context(), name)
			if err != nil {
				if errors.Is(err, repo.ErrRepoNotFound) {
					writeError(w, http.StatusNotFound, "repo not found", nil)
					return
				}
				log.WithError(err).WithField("repo", name).Error("opening repository")
				writeError(w, http.StatusInternalServerError, "internal error", err)
				return
			}
			defer reg.Release(h)

			ctx := context.WithValue(r.Context(), repoKey, h)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RepoFrom returns the repository handle from request context.
func RepoFrom(ctx context.Context) *repo.Handle {
	if v := ctx.Value(repoKey); v != nil {
		return v.(*repo.Handle)
	}
	return nil
}
