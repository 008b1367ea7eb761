package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/great-horn/backup/internal/db"
)

// gormJobConfigRepository is the GORM implementation of JobConfigRepository.
type gormJobConfigRepository struct {
	db *gorm.DB
}

// NewJobConfigRepository returns a JobConfigRepository backed by the
// provided *gorm.DB.
func NewJobConfigRepository(db *gorm.DB) JobConfigRepository {
	return &gormJobConfigRepository{db: db}
}

// GetByName retrieves a job config by its unique job name.
// Returns ErrNotFound if no record exists.
func (r *gormJobConfigRepository) GetByName(ctx context.Context, jobName string) (*db.JobConfig, error) {
	var cfg db.JobConfig
	err := r.db.WithContext(ctx).First(&cfg, "job_name = ?", jobName).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("job configs: get by name: %w", err)
	}
	return &cfg, nil
}

// ListEnabled returns all enabled job configs ordered by job name.
func (r *gormJobConfigRepository) ListEnabled(ctx context.Context) ([]db.JobConfig, error) {
	var configs []db.JobConfig
	if err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("job_name ASC").
		Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("job configs: list enabled: %w", err)
	}
	return configs, nil
}

// List returns all job configs ordered by job name.
func (r *gormJobConfigRepository) List(ctx context.Context) ([]db.JobConfig, error) {
	var configs []db.JobConfig
	if err := r.db.WithContext(ctx).
		Order("job_name ASC").
		Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("job configs: list: %w", err)
	}
	return configs, nil
}

// Upsert inserts cfg or, when a record with the same job name already
// exists, updates its mutable fields in place.
func (r *gormJobConfigRepository) Upsert(ctx context.Context, cfg *db.JobConfig) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "job_name"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "icon_url", "source_path", "dest_path",
				"mode", "backend_type", "remote_name", "remote_path",
				"enabled", "updated_at",
			}),
		}).
		Create(cfg).Error
	if err != nil {
		return fmt.Errorf("job configs: upsert: %w", err)
	}
	return nil
}
