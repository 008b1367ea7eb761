package db

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base contains the common fields shared by all models.
// ID uses UUID v7 (time-ordered) so records sort chronologically without a
// separate created_at index. CreatedAt and UpdatedAt are managed by GORM.
type Base struct {
	ID        uuid.UUID `gorm:"type:text;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// BeforeCreate generates a new UUID v7 if the ID is not already set.
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == (uuid.UUID{}) {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

// Mode describes how a job's backups are stored at the destination.
type Mode string

const (
	// ModeCompression means each backup run produces a discrete
	// point-in-time .tar.zst archive at the destination.
	ModeCompression Mode = "compression"

	// ModeDirect means the destination is a continuously synced mirror of
	// the source tree, with no per-run snapshots.
	ModeDirect Mode = "direct"
)

// BackendType describes where a job's destination physically lives.
type BackendType string

const (
	// BackendLocal means the destination is a directory on the local
	// filesystem, reachable with plain file I/O.
	BackendLocal BackendType = "local"

	// BackendRemote means the destination lives on an rclone remote and is
	// reachable only through rclone's list/copy primitives.
	BackendRemote BackendType = "remote"
)

// JobConfig describes a single configured backup job. The restore core reads
// these records and never mutates them — lifecycle belongs to the
// configuration subsystem.
//
// For BackendLocal jobs, DestPath is the root directory holding either the
// .tar.zst archives (ModeCompression) or the mirrored tree (ModeDirect).
// For BackendRemote jobs, RemoteName and RemotePath form the rclone locator
// "remote:path"; DestPath is unused.
type JobConfig struct {
	Base
	JobName     string      `gorm:"uniqueIndex;not null"`
	DisplayName string      `gorm:"not null;default:''"`
	IconURL     string      `gorm:"not null;default:''"`
	SourcePath  string      `gorm:"not null"`
	DestPath    string      `gorm:"not null;default:''"`
	Mode        Mode        `gorm:"not null;default:'compression'"`
	BackendType BackendType `gorm:"not null;default:'local'"`
	RemoteName  string      `gorm:"not null;default:''"`
	RemotePath  string      `gorm:"not null;default:''"`
	Enabled     bool        `gorm:"not null;default:true"`
}

// RemoteLocator returns the rclone "remote:path" locator for the job, or ""
// if the job is not configured for a remote backend. A remote job with an
// incomplete locator degrades to empty listings rather than erroring — the
// misconfiguration is visible in logs, not to API clients.
func (j *JobConfig) RemoteLocator() string {
	if j.BackendType != BackendRemote {
		return ""
	}
	if j.RemoteName == "" || j.RemotePath == "" {
		return ""
	}
	return j.RemoteName + ":" + j.RemotePath
}
