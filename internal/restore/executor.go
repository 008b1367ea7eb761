// Package restore executes partial and full restores from backup
// destinations into a sandboxed target directory. Validation happens on
// the request path; the extraction or copy itself runs in a detached
// background unit of work that reports progress over the injected event
// sink and never propagates failures back to the original caller.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/great-horn/backup/internal/archive"
	"github.com/great-horn/backup/internal/backend"
	"github.com/great-horn/backup/internal/db"
	"github.com/great-horn/backup/internal/metrics"
	"github.com/great-horn/backup/internal/repositories"
)

// DefaultAllowedTargetRoots is the allow-list for caller-supplied restore
// targets. A request naming a target outside these roots is rejected
// before any I/O. The job's own configured source path is exempt — it is
// trusted configuration, not user input.
var DefaultAllowedTargetRoots = []string{"/data/", "/tmp/restore/"}

// rsyncTimeout bounds the full-tree rsync of a local mirror restore.
// Generous because tree size is unbounded; the transfer is local disk I/O.
const rsyncTimeout = 30 * time.Minute

// Validation errors surfaced synchronously by Start. The HTTP layer maps
// them onto client error responses.
var (
	// ErrUnauthorizedPath means the requested target escapes the allowed
	// restore roots.
	ErrUnauthorizedPath = errors.New("unauthorized destination path")

	// ErrJobDisabled means the job exists but is disabled.
	ErrJobDisabled = errors.New("job is disabled")

	// ErrMissingBackupFile means an archive-mode restore did not name the
	// archive to restore from.
	ErrMissingBackupFile = errors.New("backup_file is required for archive restores")
)

// Status is the lifecycle state reported in progress events.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ProgressEvent is the payload pushed to the event sink as a restore
// advances. Transient — there is no persistence or replay.
type ProgressEvent struct {
	JobName string `json:"job_name"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// Sink receives progress events. The websocket hub satisfies this through
// its progress adapter; tests use a recording fake.
type Sink interface {
	Emit(topic string, payload any)
}

// Request describes one restore operation. Validated once by Start, then
// handed to the background unit; never persisted.
type Request struct {
	JobName    string   `json:"job_name"`
	BackupFile string   `json:"backup_file"`
	Files      []string `json:"files"`
	TargetPath string   `json:"target_path"`
}

// Executor validates restore requests and runs them in the background.
type Executor struct {
	jobs         repositories.JobConfigRepository
	backends     *backend.Factory
	runner       backend.Runner
	sink         Sink
	logger       *zap.Logger
	allowedRoots []string
}

// NewExecutor creates an Executor. runner is used for the rsync invocation
// of local mirror full restores; remote transfers go through the backend.
func NewExecutor(jobs repositories.JobConfigRepository, backends *backend.Factory, runner backend.Runner, sink Sink, logger *zap.Logger) *Executor {
	return &Executor{
		jobs:         jobs,
		backends:     backends,
		runner:       runner,
		sink:         sink,
		logger:       logger.Named("restore"),
		allowedRoots: DefaultAllowedTargetRoots,
	}
}

// Start validates req and, on success, launches the restore in a detached
// goroutine and returns the resolved target path immediately. From that
// point on, progress is observable only via the event sink.
//
// Synchronous failures: repositories.ErrNotFound (unknown job),
// ErrJobDisabled, ErrMissingBackupFile, ErrUnauthorizedPath.
func (e *Executor) Start(ctx context.Context, req Request) (string, error) {
	cfg, err := e.jobs.GetByName(ctx, req.JobName)
	if err != nil {
		return "", err
	}
	if !cfg.Enabled {
		return "", ErrJobDisabled
	}
	if cfg.Mode == db.ModeCompression && req.BackupFile == "" {
		return "", ErrMissingBackupFile
	}

	target := req.TargetPath
	if target != "" {
		if !e.targetAllowed(target) {
			return "", ErrUnauthorizedPath
		}
	} else {
		// No explicit target: restore in place over the job's source.
		target = cfg.SourcePath
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("restore: create target %q: %w", target, err)
	}

	metrics.RestoresStarted.Inc()

	// The request context dies when the handler returns; the background
	// unit runs to completion or failure with no cancellation wired in.
	go e.run(context.Background(), cfg, req, target)

	return target, nil
}

// targetAllowed reports whether the canonicalized target falls under one
// of the allowed restore roots.
func (e *Executor) targetAllowed(target string) bool {
	for _, root := range e.allowedRoots {
		if backend.PathWithin(target, strings.TrimSuffix(root, "/")) {
			return true
		}
	}
	return false
}

// run is the detached background unit of work. Every branch emits a
// running event at start and exactly one terminal success or error event;
// failures never propagate past this boundary.
func (e *Executor) run(ctx context.Context, cfg *db.JobConfig, req Request, target string) {
	topic := "restore:" + cfg.JobName
	e.emit(topic, cfg.JobName, StatusRunning, fmt.Sprintf("Restoring %s...", cfg.JobName))

	msg, err := e.dispatch(ctx, cfg, req, target, topic)
	if err != nil {
		metrics.RestoresFailed.Inc()
		e.logger.Error("restore failed",
			zap.String("job", cfg.JobName),
			zap.String("target", target),
			zap.Error(err),
		)
		e.emit(topic, cfg.JobName, StatusError, err.Error())
		return
	}

	metrics.RestoresSucceeded.Inc()
	e.logger.Info("restore finished",
		zap.String("job", cfg.JobName),
		zap.String("target", target),
		zap.String("result", msg),
	)
	e.emit(topic, cfg.JobName, StatusSuccess, msg)
}

// dispatch selects the restore branch from the job's backend type and mode
// and returns the human-readable completion message.
func (e *Executor) dispatch(ctx context.Context, cfg *db.JobConfig, req Request, target, topic string) (string, error) {
	b := e.backends.ForJob(cfg)

	if rb, ok := b.(*backend.RcloneBackend); ok {
		switch cfg.Mode {
		case db.ModeCompression:
			return e.remoteArchiveRestore(ctx, cfg, rb, req, target, topic)
		case db.ModeDirect:
			return e.remoteMirrorRestore(ctx, rb, req.Files, target)
		}
		return "", fmt.Errorf("restore: unsupported mode %q", cfg.Mode)
	}

	switch cfg.Mode {
	case db.ModeCompression:
		lb := b.(*backend.LocalBackend)
		return e.archiveRestore(ctx, lb, req, target)
	case db.ModeDirect:
		return e.mirrorRestore(ctx, cfg.DestPath, req.Files, target)
	}
	return "", fmt.Errorf("restore: unsupported mode %q", cfg.Mode)
}

// ----------------------------------------------------------------------------
// Archive mode
// ----------------------------------------------------------------------------

// archiveRestore extracts from a local archive into target: the explicit
// file set when given, the whole archive otherwise.
func (e *Executor) archiveRestore(ctx context.Context, lb *backend.LocalBackend, req Request, target string) (string, error) {
	r, err := lb.OpenEntryStream(ctx, req.BackupFile)
	if err != nil {
		return "", err
	}
	defer r.Close()

	if len(req.Files) > 0 {
		restored, err := e.extractSubset(r, req.Files, target)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d file(s) restored", restored), nil
	}

	if err := e.extractAll(r, target); err != nil {
		return "", err
	}
	return "Full restore completed", nil
}

// remoteArchiveRestore downloads the archive into the cache, then extracts
// like the local branch. The download step reports its own progress.
func (e *Executor) remoteArchiveRestore(ctx context.Context, cfg *db.JobConfig, rb *backend.RcloneBackend, req Request, target, topic string) (string, error) {
	e.emit(topic, cfg.JobName, StatusRunning, "Downloading archive from remote...")

	r, err := rb.OpenEntryStream(ctx, req.BackupFile)
	if err != nil {
		return "", err
	}
	defer r.Close()

	e.emit(topic, cfg.JobName, StatusRunning, "Extracting archive...")

	if len(req.Files) > 0 {
		restored, err := e.extractSubset(r, req.Files, target)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d file(s) restored from remote archive", restored), nil
	}

	if err := e.extractAll(r, target); err != nil {
		return "", err
	}
	return "Full restore completed from remote archive", nil
}

// extractSubset streams entries and extracts those whose name exactly
// matches a requested relative path. Reading stops as soon as every
// requested name has been seen. Requested names absent from the archive,
// and requested members that are not plain files or directories, are
// silently omitted from the count.
func (e *Executor) extractSubset(r *archive.Reader, files []string, target string) (int, error) {
	wanted := make(map[string]struct{}, len(files))
	for _, f := range files {
		wanted[f] = struct{}{}
	}

	restored := 0
	for restored < len(wanted) {
		entry, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return restored, err
		}
		if _, ok := wanted[entry.Name]; !ok {
			continue
		}
		if !entry.Dir && !entry.Regular {
			continue
		}
		if err := extractEntry(r, entry, target); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

// extractAll extracts every plain file and directory in the stream into
// target.
func (e *Executor) extractAll(r *archive.Reader, target string) error {
	for {
		entry, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !entry.Dir && !entry.Regular {
			continue
		}
		if err := extractEntry(r, entry, target); err != nil {
			return err
		}
	}
}

// extractEntry writes one archive entry under target. Only directories and
// plain files reach here — symlinks and other special members never
// materialize on disk. Entry names that canonicalize outside the target
// are rejected — archives are data, not trusted input.
func extractEntry(r *archive.Reader, entry archive.Entry, target string) error {
	dst := filepath.Join(target, filepath.FromSlash(strings.TrimSuffix(entry.Name, "/")))
	if !backend.PathWithin(dst, target) {
		return fmt.Errorf("restore: archive entry %q escapes target", entry.Name)
	}

	if entry.Dir {
		return os.MkdirAll(dst, dirMode(entry.Mode))
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("restore: create parent for %q: %w", entry.Name, err)
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode(entry.Mode))
	if err != nil {
		return fmt.Errorf("restore: create %q: %w", entry.Name, err)
	}
	if _, err := io.Copy(f, r.Body()); err != nil {
		f.Close()
		return fmt.Errorf("restore: write %q: %w", entry.Name, err)
	}
	return f.Close()
}

func dirMode(m os.FileMode) os.FileMode {
	if m == 0 {
		return 0o755
	}
	return m
}

func fileMode(m os.FileMode) os.FileMode {
	if m == 0 {
		return 0o644
	}
	return m
}

// ----------------------------------------------------------------------------
// Mirror mode
// ----------------------------------------------------------------------------

// mirrorRestore copies from a local mirror at srcRoot into target. With an
// explicit file set, each requested path is copied individually (recursively
// for directories); paths that canonicalize outside the mirror are skipped.
// With no file set, the whole tree is synced with rsync, preserving
// permissions and overwriting existing destination files.
func (e *Executor) mirrorRestore(ctx context.Context, srcRoot string, files []string, target string) (string, error) {
	if len(files) > 0 {
		for _, rel := range files {
			src := filepath.Join(srcRoot, filepath.FromSlash(rel))
			if !backend.PathWithin(src, srcRoot) {
				continue
			}
			dst := filepath.Join(target, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return "", fmt.Errorf("restore: create parent for %q: %w", rel, err)
			}
			if err := copyPath(src, dst); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("%d file(s) restored", len(files)), nil
	}

	_, err := e.runner.Run(ctx, rsyncTimeout, "rsync",
		"-av", "--no-owner", "--no-group", srcRoot+"/", target+"/")
	if err != nil {
		return "", err
	}
	return "Full restore completed (rsync)", nil
}

// remoteMirrorRestore copies from a remote mirror: per-file rclone copies
// for an explicit set, one bulk rclone copy for a full restore. Individual
// file failures are logged and excluded from the reported count.
func (e *Executor) remoteMirrorRestore(ctx context.Context, rb *backend.RcloneBackend, files []string, target string) (string, error) {
	if len(files) > 0 {
		restored := 0
		for _, rel := range files {
			dst := filepath.Join(target, filepath.FromSlash(rel))
			if !backend.PathWithin(dst, target) {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return "", fmt.Errorf("restore: create parent for %q: %w", rel, err)
			}
			if err := rb.CopyFile(ctx, rel, dst); err != nil {
				e.logger.Warn("remote file restore failed", zap.String("file", rel), zap.Error(err))
				continue
			}
			restored++
		}
		return fmt.Sprintf("%d file(s) restored from remote", restored), nil
	}

	if err := rb.CopyAll(ctx, target); err != nil {
		return "", err
	}
	return "Full restore completed from remote (rclone copy)", nil
}

// copyPath copies a file or directory tree from src to dst, preserving
// permission bits and overwriting existing files.
func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("restore: stat %q: %w", src, err)
	}

	if info.IsDir() {
		entries, err := os.ReadDir(src)
		if err != nil {
			return fmt.Errorf("restore: read dir %q: %w", src, err)
		}
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return fmt.Errorf("restore: create dir %q: %w", dst, err)
		}
		for _, de := range entries {
			if err := copyPath(filepath.Join(src, de.Name()), filepath.Join(dst, de.Name())); err != nil {
				return err
			}
		}
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("restore: open %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("restore: create %q: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("restore: copy %q: %w", src, err)
	}
	return out.Close()
}

// emit publishes one progress event.
func (e *Executor) emit(topic, jobName string, status Status, message string) {
	e.sink.Emit(topic, ProgressEvent{
		JobName: jobName,
		Status:  status,
		Message: message,
	})
}
