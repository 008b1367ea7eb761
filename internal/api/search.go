package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/great-horn/backup/internal/search"
)

// SearchHandler serves the cross-archive filename search endpoint.
type SearchHandler struct {
	engine *search.Engine
	logger *zap.Logger
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(engine *search.Engine, logger *zap.Logger) *SearchHandler {
	return &SearchHandler{
		engine: engine,
		logger: logger.Named("search_handler"),
	}
}

// searchResponse wraps the match list.
type searchResponse struct {
	Results []search.Result `json:"results"`
	Total   int             `json:"total"`
	Query   string          `json:"query"`
}

// Search handles GET /api/v1/restore/search?q=...
// Queries shorter than three characters are rejected before any backend
// work begins.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	results, err := h.engine.Search(r.Context(), query)
	if err != nil {
		if errors.Is(err, search.ErrQueryTooShort) {
			ErrBadRequest(w, "minimum 3 characters")
			return
		}
		h.logger.Error("search failed", zap.String("query", query), zap.Error(err))
		ErrInternal(w)
		return
	}

	if results == nil {
		results = []search.Result{}
	}
	Ok(w, searchResponse{
		Results: results,
		Total:   len(results),
		Query:   query,
	})
}
