package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/great-horn/backup/internal/backend"
	"github.com/great-horn/backup/internal/repositories"
	"github.com/great-horn/backup/internal/restore"
	"github.com/great-horn/backup/internal/search"
	"github.com/great-horn/backup/internal/websocket"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// It is populated in main.go after all components are initialized and
// passed to NewRouter as a single struct.
type RouterConfig struct {
	Jobs     repositories.JobConfigRepository
	Backends *backend.Factory
	Executor *restore.Executor
	Search   *search.Engine
	Hub      *websocket.Hub
	Logger   *zap.Logger
}

// NewRouter builds and returns the fully configured Chi router.
// All restore routes are registered under /api/v1.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// RequestID generates a unique ID per request, used in logs for tracing.
	r.Use(middleware.RequestID)

	// RealIP extracts the real client IP from X-Forwarded-For or X-Real-IP
	// when the server runs behind a reverse proxy.
	r.Use(middleware.RealIP)

	r.Use(RequestLogger(cfg.Logger))

	// Recoverer catches handler panics, logs them, and returns a 500
	// instead of crashing the server.
	r.Use(middleware.Recoverer)

	backupsHandler := NewBackupsHandler(cfg.Jobs, cfg.Backends, cfg.Logger)
	restoreHandler := NewRestoreHandler(cfg.Executor, cfg.Logger)
	searchHandler := NewSearchHandler(cfg.Search, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Hub, cfg.Logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler(cfg.Hub))

		r.Route("/restore", func(r chi.Router) {
			r.Get("/backups", backupsHandler.List)
			r.Get("/browse/{jobName}", backupsHandler.Browse)
			r.Post("/run", restoreHandler.Run)
			r.Get("/search", searchHandler.Search)
		})

		r.Get("/ws", wsHandler.ServeWS)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// healthHandler reports liveness plus the connected client count.
func healthHandler(hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		Ok(w, envelope{
			"status":     "ok",
			"ws_clients": hub.ConnectedCount(),
		})
	}
}
