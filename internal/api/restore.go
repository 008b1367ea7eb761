package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/great-horn/backup/internal/repositories"
	"github.com/great-horn/backup/internal/restore"
)

// RestoreHandler serves the restore trigger endpoint.
type RestoreHandler struct {
	executor *restore.Executor
	logger   *zap.Logger
}

// NewRestoreHandler creates a new RestoreHandler.
func NewRestoreHandler(executor *restore.Executor, logger *zap.Logger) *RestoreHandler {
	return &RestoreHandler{
		executor: executor,
		logger:   logger.Named("restore_handler"),
	}
}

// runResponse acknowledges an accepted restore. The actual outcome is only
// observable on the restore:<job_name> WebSocket topic.
type runResponse struct {
	Status     string `json:"status"`
	JobName    string `json:"job_name"`
	TargetPath string `json:"target_path"`
}

// Run handles POST /api/v1/restore/run.
// Validation happens synchronously; on success the extraction or copy runs
// in the background and this call returns 202 immediately.
func (h *RestoreHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req restore.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.JobName == "" {
		ErrBadRequest(w, "job_name is required")
		return
	}

	target, err := h.executor.Start(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrNotFound):
			ErrNotFound(w, "job not found")
		case errors.Is(err, restore.ErrJobDisabled):
			ErrUnprocessable(w, "job is disabled")
		case errors.Is(err, restore.ErrMissingBackupFile):
			ErrBadRequest(w, "backup_file is required for archive-mode jobs")
		case errors.Is(err, restore.ErrUnauthorizedPath):
			ErrForbidden(w, "unauthorized destination path, must be under /data/ or /tmp/restore/")
		default:
			h.logger.Error("failed to start restore", zap.String("job", req.JobName), zap.Error(err))
			ErrInternal(w)
		}
		return
	}

	Accepted(w, runResponse{
		Status:     "started",
		JobName:    req.JobName,
		TargetPath: target,
	})
}
