package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nickelsh1ts/streamarr/internal/frameworks/service"
	"github.com/nickelsh1ts/streamarr/internal/platform/deps"
	"github.com/nickelsh1ts/streamarr/internal/platform/http/server"

	// Register services and interceptors
	_ "github.com/nickelsh1ts/streamarr/internal/services/loader"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server (default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	// Log effective config with secrets redacted
	logger.Info("effective configuration", "config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Warn("close error", "error", err)
		}
	}()

	deps.SetDeps(a.deps)

	services, err := service.BuildCore(cfg.BuildServiceConfig, logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}

	srv, err := server.New(cfg, logger, services)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	if cfg.JobsEnabled() {
		a.scheduler.Start()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	logger.Info("server started, press Ctrl+C to stop")

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("job scheduler stop error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
