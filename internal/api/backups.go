package api

import (
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/great-horn/backup/internal/backend"
	"github.com/great-horn/backup/internal/browse"
	"github.com/great-horn/backup/internal/db"
	"github.com/great-horn/backup/internal/repositories"
)

// BackupsHandler serves the backup listing and browse endpoints.
type BackupsHandler struct {
	jobs     repositories.JobConfigRepository
	backends *backend.Factory
	logger   *zap.Logger
}

// NewBackupsHandler creates a new BackupsHandler.
func NewBackupsHandler(jobs repositories.JobConfigRepository, backends *backend.Factory, logger *zap.Logger) *BackupsHandler {
	return &BackupsHandler{
		jobs:     jobs,
		backends: backends,
		logger:   logger.Named("backups_handler"),
	}
}

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

// backupInfo is one archive (or the mirror placeholder) in a job listing.
type backupInfo struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	// Date is the archive timestamp in RFC 3339, or "" when not derivable.
	Date string `json:"date"`
}

// jobBackupsResponse lists the available backups of one job.
type jobBackupsResponse struct {
	JobName     string         `json:"job_name"`
	DisplayName string         `json:"display_name"`
	IconURL     string         `json:"icon_url"`
	Mode        db.Mode        `json:"mode"`
	BackendType db.BackendType `json:"backend_type"`
	DestPath    string         `json:"dest_path"`
	Backups     []backupInfo   `json:"backups"`
}

// browseResponse is one level of a virtual or mirror directory.
type browseResponse struct {
	JobName string                  `json:"job_name"`
	Mode    db.Mode                 `json:"mode"`
	Path    string                  `json:"path"`
	Entries []browse.DirectoryEntry `json:"entries"`
	Total   int                     `json:"total"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// List handles GET /api/v1/restore/backups.
// For every enabled job it reports the backend type, the mode, and the
// available archives (most recent first) or a mirror placeholder. A job
// whose backend is unreachable reports an empty backup list.
func (h *BackupsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListEnabled(r.Context())
	if err != nil {
		h.logger.Error("failed to list job configs", zap.Error(err))
		ErrInternal(w)
		return
	}

	result := make([]jobBackupsResponse, 0, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		resp := jobBackupsResponse{
			JobName:     job.JobName,
			DisplayName: job.DisplayName,
			IconURL:     job.IconURL,
			Mode:        job.Mode,
			BackendType: job.BackendType,
			DestPath:    job.DestPath,
			Backups:     []backupInfo{},
		}

		b := h.backends.ForJob(job)
		switch job.Mode {
		case db.ModeCompression:
			for _, desc := range b.ListArchives(r.Context()) {
				info := backupInfo{
					Filename:  desc.Filename,
					SizeBytes: desc.SizeBytes,
				}
				if !desc.Timestamp.IsZero() {
					info.Date = desc.Timestamp.Format(time.RFC3339)
				}
				resp.Backups = append(resp.Backups, info)
			}

		case db.ModeDirect:
			if mi := b.StatMirrorRoot(r.Context()); mi.Exists {
				info := backupInfo{Filename: mirrorPlaceholder(b.Kind())}
				if !mi.ModTime.IsZero() {
					info.Date = mi.ModTime.Format(time.RFC3339)
				}
				resp.Backups = append(resp.Backups, info)
			}
		}

		result = append(result, resp)
	}

	Ok(w, envelope{"jobs": result})
}

// mirrorPlaceholder is the pseudo-filename shown for direct-mode jobs,
// which have no discrete archives to list.
func mirrorPlaceholder(kind db.BackendType) string {
	if kind == db.BackendRemote {
		return "(remote direct mirror)"
	}
	return "(direct mirror)"
}

// Browse handles GET /api/v1/restore/browse/{jobName}?file=...&path=...
// It returns one level of the virtual directory tree inside an archive
// (archive mode, `file` required) or of the mirror tree (direct mode).
func (h *BackupsHandler) Browse(w http.ResponseWriter, r *http.Request) {
	jobName := chi.URLParam(r, "jobName")
	fileParam := r.URL.Query().Get("file")
	pathParam := r.URL.Query().Get("path")

	job, err := h.jobs.GetByName(r.Context(), jobName)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w, "job not found")
			return
		}
		h.logger.Error("failed to load job config", zap.String("job", jobName), zap.Error(err))
		ErrInternal(w)
		return
	}
	if !job.Enabled {
		ErrNotFound(w, "job not found")
		return
	}

	var entries []browse.DirectoryEntry

	switch {
	case job.Mode == db.ModeCompression:
		if fileParam == "" {
			ErrBadRequest(w, "file parameter is required for archive-mode jobs")
			return
		}
		entries, err = h.browseArchive(r, job, fileParam, pathParam)

	case job.Mode == db.ModeDirect:
		entries, err = h.browseMirror(r, job, pathParam)

	default:
		ErrBadRequest(w, "unsupported job mode")
		return
	}

	if err != nil {
		h.writeBrowseError(w, jobName, err)
		return
	}

	Ok(w, browseResponse{
		JobName: jobName,
		Mode:    job.Mode,
		Path:    pathParam,
		Entries: entries,
		Total:   len(entries),
	})
}

// browseArchive projects one directory level out of an archive's entry
// stream. Remote archives are downloaded into the cache first.
func (h *BackupsHandler) browseArchive(r *http.Request, job *db.JobConfig, file, prefix string) ([]browse.DirectoryEntry, error) {
	stream, err := h.backends.ForJob(job).OpenEntryStream(r.Context(), file)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	return browse.Project(stream, prefix)
}

// browseMirror lists one level of a direct-mode job's mirror tree.
func (h *BackupsHandler) browseMirror(r *http.Request, job *db.JobConfig, sub string) ([]browse.DirectoryEntry, error) {
	if rb, ok := h.backends.ForJob(job).(*backend.RcloneBackend); ok {
		files, err := rb.ListDir(r.Context(), sub)
		if err != nil {
			return nil, browse.ErrNotFound
		}
		return browse.FromRemote(files, sub), nil
	}
	return browse.ListDir(job.DestPath, sub)
}

// writeBrowseError maps browse failures onto HTTP statuses: sandbox
// violations are 403, missing archives or paths 404, the rest 500.
func (h *BackupsHandler) writeBrowseError(w http.ResponseWriter, jobName string, err error) {
	switch {
	case errors.Is(err, backend.ErrPathEscapes) || errors.Is(err, browse.ErrPathEscapes):
		ErrForbidden(w, "unauthorized path")
	case errors.Is(err, browse.ErrNotFound) || errors.Is(err, fs.ErrNotExist):
		ErrNotFound(w, "archive or path not found")
	default:
		h.logger.Error("browse failed", zap.String("job", jobName), zap.Error(err))
		ErrInternal(w)
	}
}
