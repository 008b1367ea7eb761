// Package search implements bounded, case-insensitive filename search
// across the most recent backups of every enabled job. Archive-mode jobs
// are searched by streaming their latest archives; mirror-mode jobs by
// walking the destination tree.
package search

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/great-horn/backup/internal/backend"
	"github.com/great-horn/backup/internal/db"
	"github.com/great-horn/backup/internal/metrics"
	"github.com/great-horn/backup/internal/repositories"
)

const (
	// MinQueryLength is the shortest accepted query. Shorter substrings
	// match too much to be useful and make archive scans expensive.
	MinQueryLength = 3

	// MaxResults caps the total result set across all jobs. Once hit,
	// remaining jobs are not searched.
	MaxResults = 50

	// MaxMirrorResultsPerJob caps matches contributed by a single
	// mirror-mode job, so one big mirror cannot crowd out the others.
	MaxMirrorResultsPerJob = 10

	// LocalArchiveScanDepth is how many of a job's most recent local
	// archives are scanned.
	LocalArchiveScanDepth = 3

	// RemoteArchiveScanDepth is how many of a job's most recent remote
	// archives are scanned. Kept at one because each scan downloads the
	// whole archive.
	RemoteArchiveScanDepth = 1
)

// ErrQueryTooShort is returned for queries below MinQueryLength.
var ErrQueryTooShort = errors.New("query must be at least 3 characters")

// Result is one filename match.
type Result struct {
	JobName     string  `json:"job_name"`
	DisplayName string  `json:"display_name"`
	Mode        db.Mode `json:"mode"`

	// BackupFile is the archive the match was found in; empty for
	// mirror-mode jobs.
	BackupFile string `json:"backup_file"`

	// FilePath is the match's path relative to the archive root or the
	// mirror root.
	FilePath string `json:"file_path"`

	Size int64 `json:"size"`
}

// Engine fans a query out over every enabled job.
type Engine struct {
	jobs     repositories.JobConfigRepository
	backends *backend.Factory
	logger   *zap.Logger
}

// NewEngine creates a search Engine.
func NewEngine(jobs repositories.JobConfigRepository, backends *backend.Factory, logger *zap.Logger) *Engine {
	return &Engine{
		jobs:     jobs,
		backends: backends,
		logger:   logger.Named("search"),
	}
}

// Search returns up to MaxResults matches for query across all enabled
// jobs. Results arrive in job-iteration order, not relevance order. A job
// whose backend is unavailable contributes nothing — indistinguishable
// from a job with no matches except in the logs.
func (e *Engine) Search(ctx context.Context, query string) ([]Result, error) {
	if utf8.RuneCountInString(strings.TrimSpace(query)) < MinQueryLength {
		return nil, ErrQueryTooShort
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	jobs, err := e.jobs.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	metrics.SearchesServed.Inc()

	var results []Result
	for i := range jobs {
		if len(results) >= MaxResults {
			break
		}
		job := &jobs[i]
		b := e.backends.ForJob(job)

		switch job.Mode {
		case db.ModeCompression:
			results = e.searchArchives(ctx, job, b, needle, results)
		case db.ModeDirect:
			if rb, ok := b.(*backend.RcloneBackend); ok {
				results = e.searchRemoteMirror(ctx, job, rb, needle, results)
			} else {
				results = e.searchLocalMirror(job, needle, results)
			}
		}
	}
	return results, nil
}

// searchArchives streams the job's most recent archives and matches entry
// names. The scan depth differs by backend: remote scans download whole
// archives, so only the single latest one is fetched.
func (e *Engine) searchArchives(ctx context.Context, job *db.JobConfig, b backend.Backend, needle string, results []Result) []Result {
	depth := LocalArchiveScanDepth
	if b.Kind() == db.BackendRemote {
		depth = RemoteArchiveScanDepth
	}

	archives := b.ListArchives(ctx)
	if len(archives) > depth {
		archives = archives[:depth]
	}

	for _, desc := range archives {
		if len(results) >= MaxResults {
			break
		}
		results = e.scanArchive(ctx, job, b, desc.Filename, needle, results)
	}
	return results
}

// scanArchive streams one archive, appending matches until the global cap.
// Directory entries are skipped; the match is against the full entry path.
// Scanning stops early once the cap is reached — the stream supports that.
func (e *Engine) scanArchive(ctx context.Context, job *db.JobConfig, b backend.Backend, filename, needle string, results []Result) []Result {
	r, err := b.OpenEntryStream(ctx, filename)
	if err != nil {
		e.logger.Warn("archive scan skipped",
			zap.String("job", job.JobName),
			zap.String("archive", filename),
			zap.Error(err),
		)
		return results
	}
	defer r.Close()

	for len(results) < MaxResults {
		entry, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			e.logger.Warn("archive scan aborted",
				zap.String("job", job.JobName),
				zap.String("archive", filename),
				zap.Error(err),
			)
			break
		}
		if entry.Dir {
			continue
		}
		if strings.Contains(strings.ToLower(entry.Name), needle) {
			results = append(results, Result{
				JobName:     job.JobName,
				DisplayName: job.DisplayName,
				Mode:        db.ModeCompression,
				BackupFile:  filename,
				FilePath:    entry.Name,
				Size:        entry.Size,
			})
		}
	}
	return results
}

// searchLocalMirror walks the mirror tree, matching against base names.
func (e *Engine) searchLocalMirror(job *db.JobConfig, needle string, results []Result) []Result {
	count := 0
	root := job.DestPath

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree — skip it, keep walking.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !strings.Contains(strings.ToLower(d.Name()), needle) {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		var size int64
		if info, infoErr := d.Info(); infoErr == nil {
			size = info.Size()
		}

		results = append(results, Result{
			JobName:     job.JobName,
			DisplayName: job.DisplayName,
			Mode:        db.ModeDirect,
			FilePath:    filepath.ToSlash(rel),
			Size:        size,
		})
		count++
		if count >= MaxMirrorResultsPerJob || len(results) >= MaxResults {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("mirror walk failed", zap.String("job", job.JobName), zap.Error(err))
	}
	return results
}

// searchRemoteMirror matches against base names of a recursive flat remote
// listing.
func (e *Engine) searchRemoteMirror(ctx context.Context, job *db.JobConfig, rb *backend.RcloneBackend, needle string, results []Result) []Result {
	count := 0
	for _, rf := range rb.ListRecursive(ctx) {
		if count >= MaxMirrorResultsPerJob || len(results) >= MaxResults {
			break
		}
		if !strings.Contains(strings.ToLower(filepath.Base(rf.Path)), needle) {
			continue
		}
		results = append(results, Result{
			JobName:     job.JobName,
			DisplayName: job.DisplayName,
			Mode:        db.ModeDirect,
			FilePath:    rf.Path,
			Size:        rf.Size,
		})
		count++
	}
	return results
}
