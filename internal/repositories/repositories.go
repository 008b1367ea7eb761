// Package repositories defines the data access interfaces consumed by the
// restore core and their GORM implementations. The restore core only ever
// reads job configuration — the write methods exist for the seed command
// and for the configuration subsystem that owns the records.
package repositories

import (
	"context"

	"github.com/great-horn/backup/internal/db"
)

// JobConfigRepository provides read access to configured backup jobs.
type JobConfigRepository interface {
	// GetByName returns the job with the given unique name.
	// Returns ErrNotFound if no such job exists.
	GetByName(ctx context.Context, jobName string) (*db.JobConfig, error)

	// ListEnabled returns all enabled jobs ordered by job name.
	// Listing, restore and search only ever consider enabled jobs.
	ListEnabled(ctx context.Context) ([]db.JobConfig, error)

	// List returns all jobs ordered by job name, enabled or not.
	List(ctx context.Context) ([]db.JobConfig, error)

	// Upsert inserts the job config or updates the existing record with the
	// same job name. Used by the seed command.
	Upsert(ctx context.Context, cfg *db.JobConfig) error
}
