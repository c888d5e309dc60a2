package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/deployproof/internal/config"
	apiserver "github.com/pendergraft/deployproof/internal/server"
)

func createServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the verification HTTP server",
		Long: `Start the HTTP API.

Settings come from the environment: PORT, HOST, STORAGE_TYPE, DATABASE_URL,
SQLITE_PATH, AUTH_TYPE, RPC_URL, METADATA_MARKER, VERIFY_TIMEOUT, LOG_LEVEL,
LOG_FORMAT, RATE_LIMIT_* and METRICS_ENABLED.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), version)
		},
	}
}

func runServe(ctx context.Context, version string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg, os.Stdout)
	logger.Info("starting deployproof server", "version", version)

	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := apiserver.New(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig)
	}

	// In-flight verifications get the full write timeout to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.WriteTimeout)*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// cliLogger logs to stderr so reports on stdout stay machine readable. It is
// quiet unless --verbose or LOG_LEVEL asks otherwise.
func cliLogger(cfg *config.Config) *slog.Logger {
	logging := *cfg
	switch {
	case verbose:
		logging.Logging.Level = "debug"
	case os.Getenv("LOG_LEVEL") == "":
		logging.Logging.Level = "warn"
	}
	return setupLogger(&logging, os.Stderr)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
