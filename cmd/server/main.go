package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/great-horn/backup/internal/api"
	"github.com/great-horn/backup/internal/backend"
	"github.com/great-horn/backup/internal/db"
	"github.com/great-horn/backup/internal/metrics"
	"github.com/great-horn/backup/internal/repositories"
	"github.com/great-horn/backup/internal/restore"
	"github.com/great-horn/backup/internal/search"
	"github.com/great-horn/backup/internal/websocket"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type config struct {
	httpAddr     string
	dbDriver     string
	dbDSN        string
	logLevel     string
	rcloneBin    string
	rcloneConfig string
	cacheDir     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config{}

	root := &cobra.Command{
		Use:   "backup-server",
		Short: "Backup server — restore API for local and remote backups",
		Long: `Backup server exposes a REST API for browsing backup archives,
searching across them, and running selective or full restores. Archives
live on local disk or on an rclone remote; progress is streamed to
clients over WebSocket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringVar(&cfg.httpAddr, "http-addr", envOrDefault("BACKUP_HTTP_ADDR", ":8080"), "HTTP API listen address")
	root.PersistentFlags().StringVar(&cfg.dbDriver, "db-driver", envOrDefault("BACKUP_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	root.PersistentFlags().StringVar(&cfg.dbDSN, "db-dsn", envOrDefault("BACKUP_DB_DSN", "./backup.db"), "Database DSN or file path for SQLite")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("BACKUP_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&cfg.rcloneBin, "rclone-bin", envOrDefault("BACKUP_RCLONE_BIN", "rclone"), "rclone binary to invoke for remote jobs")
	root.PersistentFlags().StringVar(&cfg.rcloneConfig, "rclone-config", envOrDefault("BACKUP_RCLONE_CONFIG", ""), "rclone config file path (empty for rclone's default)")
	root.PersistentFlags().StringVar(&cfg.cacheDir, "cache-dir", envOrDefault("BACKUP_CACHE_DIR", "/tmp/restore/_rclone_cache"), "Directory remote archives are cached in")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("backup-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, cfg *config) error {
	logger, err := buildLogger(cfg.logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting backup server",
		zap.String("version", version),
		zap.String("http_addr", cfg.httpAddr),
		zap.String("db_driver", cfg.dbDriver),
		zap.String("log_level", cfg.logLevel),
		zap.String("cache_dir", cfg.cacheDir),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(db.Config{
		Driver: cfg.dbDriver,
		DSN:    cfg.dbDSN,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	jobs := repositories.NewJobConfigRepository(database)

	runner := &backend.ExecRunner{
		RcloneBin:    cfg.rcloneBin,
		RcloneConfig: cfg.rcloneConfig,
	}
	backends := &backend.Factory{
		Runner:   runner,
		CacheDir: cfg.cacheDir,
		Logger:   logger,
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)
	metrics.RegisterWSGauge(hub.ConnectedCount)

	executor := restore.NewExecutor(jobs, backends, runner, websocket.NewProgressSink(hub), logger)
	searcher := search.NewEngine(jobs, backends, logger)

	router := api.NewRouter(api.RouterConfig{
		Jobs:     jobs,
		Backends: backends,
		Executor: executor,
		Search:   searcher,
		Hub:      hub,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.httpAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down backup server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
