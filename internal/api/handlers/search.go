package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/patchvec/patchvec/internal/auth"
	"github.com/patchvec/patchvec/internal/filter"
	"github.com/patchvec/patchvec/internal/models"
	"github.com/patchvec/patchvec/internal/search"
)

type SearchHandler struct {
	planner *search.Planner
}

func NewSearchHandler(planner *search.Planner) *SearchHandler {
	return &SearchHandler{planner: planner}
}

type searchRequest struct {
	Query          string            `json:"query"`
	CollectionName string            `json:"collection_name"`
	TopK           int               `json:"top_k"`
	Filter         *filter.Predicate `json:"query_filter,omitempty"`
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.CollectionName == "" {
		req.CollectionName = models.CollectionWildcard
	}

	results, err := h.planner.Search(r.Context(), search.Request{
		OwnerID:        user.ID,
		CollectionName: req.CollectionName,
		Query:          req.Query,
		TopK:           req.TopK,
		Filter:         req.Filter,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"results": results,
		"count":   len(results),
	})
}
