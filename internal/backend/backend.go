// Package backend abstracts the physical storage location of a job's backup
// destination. Two variants exist: LocalBackend for destinations on the
// local filesystem, and RcloneBackend for destinations on an rclone remote
// reachable only through its list/copy primitives.
//
// Listing operations are advisory: a degraded or failed backend call logs
// its cause and returns an empty result, never an error to the caller.
// Operations that feed a restore (opening an archive, copying files) do
// return errors, because the restore executor must convert those failures
// into terminal progress events.
package backend

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/great-horn/backup/internal/archive"
	"github.com/great-horn/backup/internal/db"
)

// ErrPathEscapes is returned when an archive or cache path canonicalizes
// outside its containing root. Mapped to 403 at the HTTP boundary.
var ErrPathEscapes = errors.New("path escapes storage root")

const (
	// listTimeout bounds remote list operations issued on the request path.
	listTimeout = 30 * time.Second

	// copyTimeout bounds remote downloads and per-file remote copies.
	copyTimeout = 60 * time.Second
)

// ArchiveDescriptor describes one backup archive at a job's destination.
// Recomputed per request, never persisted.
type ArchiveDescriptor struct {
	// Filename is the bare archive filename, e.g. app_20240102_030000.tar.zst.
	Filename string

	// SizeBytes is the archive size as reported by the backend.
	SizeBytes int64

	// Timestamp is parsed from the filename suffix pattern
	// *_YYYYMMDD_HHMMSS.tar.zst when derivable; local backends fall back to
	// file mtime. Zero when neither source is available.
	Timestamp time.Time
}

// RemoteFile is one record of a remote listing, parsed from rclone's
// "size;path" output format.
type RemoteFile struct {
	Path string
	Size int64
	Dir  bool
}

// MirrorInfo is the result of probing a direct-mode job's mirror root.
type MirrorInfo struct {
	// Exists reports whether the mirror root is reachable.
	Exists bool

	// ModTime is the root's modification time. Zero for remote mirrors,
	// where rclone's one-level probe does not report it.
	ModTime time.Time
}

// Backend is the capability set shared by both storage variants.
// The restore executor and search engine reach variant-specific operations
// (remote copy, recursive remote listing) through a type switch on the
// concrete types — the two-variant enumeration is closed.
type Backend interface {
	// Kind reports which variant this backend is.
	Kind() db.BackendType

	// ListArchives returns the job's archive descriptors sorted by filename
	// descending, i.e. most recent first since filenames embed timestamps
	// lexically. Advisory: failures yield an empty slice.
	ListArchives(ctx context.Context) []ArchiveDescriptor

	// OpenEntryStream opens the named archive for sequential reading.
	// Remote backends download the archive into the local cache first.
	// The caller owns the returned reader and must Close it.
	OpenEntryStream(ctx context.Context, filename string) (*archive.Reader, error)

	// StatMirrorRoot probes a direct-mode job's mirror root.
	// Advisory: failures report Exists=false.
	StatMirrorRoot(ctx context.Context) MirrorInfo
}

// Factory builds the right Backend variant for a job config.
type Factory struct {
	// Runner executes external transfer commands (rclone, rsync).
	Runner Runner

	// CacheDir is the directory remote archives are downloaded into.
	CacheDir string

	Logger *zap.Logger

	// downloads is handed to every remote backend built here, so
	// concurrent operations on the same not-yet-cached archive collapse
	// into one transfer no matter which backend instance they go through.
	downloads singleflight.Group
}

// ForJob resolves the backend variant for cfg. A job marked remote but
// missing its locator degrades to the local variant, matching how the rest
// of the core treats incomplete remote configuration.
func (f *Factory) ForJob(cfg *db.JobConfig) Backend {
	if locator := cfg.RemoteLocator(); locator != "" {
		return NewRcloneBackend(locator, f.CacheDir, f.Runner, f.Logger, &f.downloads)
	}
	return NewLocalBackend(cfg.DestPath, f.Logger)
}

// sortDescriptors orders archives by filename descending in place.
func sortDescriptors(archives []ArchiveDescriptor) {
	sort.Slice(archives, func(i, j int) bool {
		return archives[i].Filename > archives[j].Filename
	})
}
