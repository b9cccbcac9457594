package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"opsgate/internal/security"
	"opsgate/internal/server"
)

var (
	serveHost     string
	servePort     int
	serveLogFile  string
	serveTestMode bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status server",
	Long: `Start the HTTP status server.

Endpoints:
  GET /health                  liveness and configured environments
  GET /status                  deployment mode, emergency stop and recent deployments
  GET /status/{environment}    latest and recent deployments of one environment
  GET /metrics                 Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveLogFile, "log", "", "Path to server log file (default: <state-dir>/logs/server.log)")
	serveCmd.Flags().BoolVar(&serveTestMode, "test-mode", false, "Disable rate limiting")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	if serveLogFile == "" {
		serveLogFile = filepath.Join(a.paths.Root, "logs", "server.log")
	}
	logger, logFileHandle, err := setupLogging(serveLogFile)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logFileHandle.Close()
	a.logger = logger

	host := a.config.Server.Host
	if serveHost != "" {
		host = serveHost
	}
	port := a.config.Server.Port
	if servePort != 0 {
		port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}

	opts := server.Options{
		Envs:      a.envs,
		Status:    orch,
		Mode:      a.gate(),
		RateLimit: a.config.Server.RateLimit,
		RateBurst: a.config.Server.RateBurst,
		TestMode:  serveTestMode,
		Logger:    logger,
	}
	if hist := a.historyIndex(); hist != nil {
		opts.History = hist
	}
	if checker, err := a.boundaryChecker(); err != nil {
		logger.Warn("emergency stop state unavailable", "error", err)
	} else {
		opts.Stop = checker
	}

	logger.Info("Starting opsgate status server", "environments", a.envs.Count(), "host", host, "port", port)
	if err := server.NewServer(opts).ListenAndServe(ctx, host, port); err != nil {
		logger.Error("Server failed", "error", err)
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// setupLogging configures slog for file logging
// Returns both the logger and the file handle (caller must close the file)
func setupLogging(logPath string) (*slog.Logger, *os.File, error) {
	if err := security.CreateSecureDir(filepath.Dir(logPath), security.PermStateDir); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Create multi-writer to log to both file and console
	multiWriter := io.MultiWriter(os.Stdout, file)

	handler := slog.NewJSONHandler(multiWriter, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})

	return slog.New(handler), file, nil
}
