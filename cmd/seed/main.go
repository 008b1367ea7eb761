// Package main implements a one-shot seed command that inserts the demo job
// configurations into the backup database. It lives inside the server module
// so it can access internal/* packages.
//
// Usage:
//
//	go run ./cmd/seed [--enable]
//
// Environment variables:
//
//	BACKUP_DB_DSN  SQLite file path or Postgres DSN (default: ./backup.db)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/great-horn/backup/internal/db"
	"github.com/great-horn/backup/internal/repositories"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	enable := flag.Bool("enable", false, "Seed the demo jobs enabled instead of disabled")
	driver := flag.String("db-driver", envOrDefault("BACKUP_DB_DRIVER", "sqlite"), "Database driver (sqlite or postgres)")
	flag.Parse()

	dsn := envOrDefault("BACKUP_DB_DSN", "./backup.db")

	logger, _ := zap.NewDevelopment()

	database, err := db.New(db.Config{
		Driver:   *driver,
		DSN:      dsn,
		Logger:   logger,
		LogLevel: gormlogger.Silent, // suppress GORM query logs in seed output
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

	seeds := []db.JobConfig{
		{
			JobName:     "demo_app",
			DisplayName: "Demo App Backup",
			IconURL:     "https://cdn.jsdelivr.net/gh/selfhst/icons/svg/docker-light.svg",
			SourcePath:  "/source/myapp",
			DestPath:    "/backup/myapp",
			Mode:        db.ModeCompression,
			BackendType: db.BackendLocal,
			Enabled:     *enable,
		},
		{
			JobName:     "demo_media",
			DisplayName: "Demo Media Sync",
			IconURL:     "https://cdn.jsdelivr.net/gh/selfhst/icons/svg/duplicati-light.svg",
			SourcePath:  "/source/media",
			DestPath:    "/backup/media",
			Mode:        db.ModeDirect,
			BackendType: db.BackendLocal,
			Enabled:     *enable,
		},
	}

	ctx := context.Background()
	for i := range seeds {
		if err := jobs.Upsert(ctx, &seeds[i]); err != nil {
			return fmt.Errorf("seed %s: %w", seeds[i].JobName, err)
		}
	}

	fmt.Printf("✓ %d demo jobs seeded (enabled=%v)\n", len(seeds), *enable)
	for _, s := range seeds {
		fmt.Printf("  %-12s %s\n", s.JobName, s.DisplayName)
	}

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
