package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NicolasHaas/gomsg/pkg/model"
)

// Run starts the server and blocks until a shutdown signal arrives or a
// listener fails. The repository is closed on return.
func (s *Server) Run() error {
	if s.repo == nil {
		return fmt.Errorf("server: missing repository dependency")
	}
	defer func() { _ = s.repo.Close() }()

	if err := s.Start(); err != nil {
		return err
	}
	slog.Info("gomsg server running",
		"control", s.cfg.ControlAddr,
		"http", s.cfg.HTTPAddr,
		"max_connections", s.cfg.MaxConnections,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case sig := <-sigCh:
		slog.Info("shutting down...", "signal", sig.String())
	case <-s.groupCtx.Done():
		slog.Warn("listener stopped, shutting down...")
	}

	s.Shutdown()
	return s.Wait()
}

// Start seeds the repository and starts the listeners without blocking.
func (s *Server) Start() error {
	if s.repo == nil {
		return fmt.Errorf("server: missing repository dependency")
	}
	if err := s.seed(s.ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(s.ctx)
	s.group = g
	s.groupCtx = gctx

	if err := s.startControl(); err != nil {
		s.Shutdown()
		return err
	}
	if err := s.startHTTP(); err != nil {
		s.Shutdown()
		return err
	}

	s.metrics.StartPeriodicLog(s.cfg.MetricsInterval, s.ctx.Done())
	return nil
}

// Wait blocks until every listener and connection worker has returned.
func (s *Server) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

// Shutdown stops accepting, closes all live connections and releases their
// sessions. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		ln, httpSrv := s.controlLn, s.httpSrv
		s.mu.Unlock()

		if ln != nil {
			_ = ln.Close()
		}
		if httpSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := httpSrv.Shutdown(ctx); err != nil {
				slog.Error("http shutdown", "err", err)
			}
			cancel()
		}
		s.conns.closeAll()
	})
}

// seed creates the default admin and the users from UsersFile.
func (s *Server) seed(ctx context.Context) error {
	if s.cfg.SeedAdmin {
		if err := s.ensureDefaultAdmin(ctx); err != nil {
			return err
		}
	}
	if s.cfg.UsersFile != "" {
		if _, err := LoadUsersFromYAML(ctx, s.cfg.UsersFile, s.repo); err != nil {
			slog.Error("failed to load users file", "path", s.cfg.UsersFile, "err", err)
		}
	}
	return nil
}

// ensureDefaultAdmin creates the admin account only when the username is free.
func (s *Server) ensureDefaultAdmin(ctx context.Context) error {
	admin := &model.User{
		Username:  s.cfg.AdminUsername,
		Password:  s.cfg.AdminPassword,
		Name:      s.cfg.AdminUsername,
		Surname:   "kaplan",
		Birthdate: time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:    "male",
		Email:     s.cfg.AdminUsername + "@domain.com",
		IsAdmin:   true,
	}
	created, err := s.repo.EnsureUser(ctx, admin)
	if err != nil {
		return fmt.Errorf("server: seed admin: %w", err)
	}
	if created {
		slog.Info("created default admin account", "user", admin.Username)
	}
	return nil
}
