// Package server provides the main server initialization and run logic.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nebari-dev/canvas-templates/internal/api"
	"github.com/nebari-dev/canvas-templates/internal/api/handlers"
	"github.com/nebari-dev/canvas-templates/internal/config"
	"github.com/nebari-dev/canvas-templates/internal/filestore"
	"github.com/nebari-dev/canvas-templates/internal/logger"
	"github.com/nebari-dev/canvas-templates/internal/service"
	"github.com/nebari-dev/canvas-templates/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Config holds the server configuration options.
type Config struct {
	Port    int    // Port to run the server on (0 = use config default)
	Version string // Version string to report
}

// Run starts the server with the given configuration and blocks until the context is canceled.
func Run(ctx context.Context, cfg Config) error {
	// Load configuration
	appCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override port from CLI flag if provided
	if cfg.Port != 0 {
		appCfg.Server.Port = cfg.Port
	}

	if err := appCfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Initialize logger
	logCloser := logger.Init(appCfg.Log.Format, appCfg.Log.Level, logger.FileConfig{
		Path:       appCfg.Log.File,
		MaxSize:    appCfg.Log.MaxSize,
		MaxBackups: appCfg.Log.MaxBackups,
		MaxAge:     appCfg.Log.MaxAge,
		Compress:   appCfg.Log.Compress,
	})
	defer logCloser.Close()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", appCfg.Server.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	return serve(ctx, appCfg, listener, cfg.Version)
}

// serve wires the store, file store and router and serves on listener until
// ctx is canceled.
func serve(ctx context.Context, appCfg *config.Config, listener net.Listener, version string) error {
	if version != "" {
		handlers.Version = version
	}
	slog.Info("Starting template server", "version", handlers.Version, "mode", appCfg.Server.Mode)

	// Propagate app log level to database if not explicitly set
	if appCfg.Database.LogLevel == "" {
		appCfg.Database.LogLevel = appCfg.Log.Level
	}

	// The metadata store connects lazily; connecting here surfaces a bad DSN at startup
	templates := store.Open(appCfg.Database)
	defer templates.Close()
	if err := templates.Connect(ctx); err != nil {
		listener.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("Database initialized", "driver", appCfg.Database.Driver)

	// The file store backend is chosen once per process
	files, err := filestore.New(ctx, appCfg)
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to initialize file store: %w", err)
	}
	slog.Info("File store initialized", "backend", appCfg.StorageBackend())

	router := api.NewRouter(appCfg, service.New(templates, files), files, slog.Default())
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "address", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or a serve failure
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("Server stopped")

	if err := templates.Close(); err != nil {
		return fmt.Errorf("failed to disconnect database: %w", err)
	}
	slog.Info("Template server exited")
	return nil
}

// RunWithSignalHandling starts the server and handles OS signals for graceful shutdown.
func RunWithSignalHandling(cfg Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Run server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- Run(ctx, cfg)
	}()

	// Wait for signal or error
	select {
	case sig := <-quit:
		slog.Info("Received signal", "signal", sig)
		cancel()
		// Wait for server to finish
		return <-errCh
	case err := <-errCh:
		return err
	}
}
