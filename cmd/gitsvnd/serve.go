package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mfaure/git-as-svn/api"
	"github.com/mfaure/git-as-svn/config"
	"github.com/mfaure/git-as-svn/repo"
	"github.com/mfaure/git-as-svn/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the svn:// server and the admin HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var (
	flagListen      string
	flagAdminListen string
)

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "svn:// address to listen on (default: :3690)")
	serveCmd.Flags().StringVar(&flagAdminListen, "admin-listen", "", "Admin HTTP address; empty disables it (default: :7448)")
}

func newRegistry(cfg *config.Config, indexInterval time.Duration, log *logrus.Entry) *repo.Registry {
	return repo.NewRegistry(repo.RegistryConfig{
		ReposDir:      cfg.ReposDir,
		DataDir:       cfg.DataDir,
		Branch:        cfg.Branch,
		MaxOpen:       cfg.MaxOpenRepos,
		IdleTTL:       cfg.IdleTTL,
		IndexInterval: indexInterval,
		SnapshotCache: cfg.SnapshotCache,
		Log:           log.WithField("component", "registry"),
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("listen") {
		cfg.Listen = flagListen
	}
	if cmd.Flags().Changed("admin-listen") {
		cfg.AdminListen = flagAdminListen
	}

	log := logrus.NewEntry(logrus.StandardLogger())
	log.WithFields(logrus.Fields{
		"listen":       cfg.Listen,
		"admin_listen": cfg.AdminListen,
		"repos":        cfg.ReposDir,
		"data":         cfg.DataDir,
		"branch":       cfg.Branch,
		"max_open":     cfg.MaxOpenRepos,
		"idle_ttl":     cfg.IdleTTL,
		"version":      cfg.Version,
	}).Info("gitsvnd starting")

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return err
	}

	registry := newRegistry(cfg, cfg.IndexInterval, log)
	defer registry.Close()

	svn := server.New(registry, server.Config{
		Realm:         cfg.Realm,
		MaxStringSize: cfg.MaxStringSize,
		AcceptRate:    cfg.AcceptRate,
		AcceptBurst:   cfg.AcceptBurst,
		Log:           log.WithField("component", "svn"),
	})
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svn.Serve(gctx, ln)
	})

	if cfg.AdminListen != "" {
		adminLog := log.WithField("component", "admin")
		srv := &http.Server{
			Addr:         cfg.AdminListen,
			Handler:      api.WithDefaults(api.NewRouter(registry, cfg, adminLog), adminLog),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		g.Go(func() error {
			adminLog.WithField("addr", cfg.AdminListen).Info("admin API listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	log.Info("gitsvnd stopped")
	return err
}
