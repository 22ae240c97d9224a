package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/patchvec/patchvec/internal/auth"
	"github.com/patchvec/patchvec/internal/collection"
)

type CollectionHandler struct {
	svc *collection.Service
}

func NewCollectionHandler(svc *collection.Service) *CollectionHandler {
	return &CollectionHandler{svc: svc}
}

type createCollectionRequest struct {
	Name     string         `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

func (h *CollectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	c, err := h.svc.Create(r.Context(), user.ID, req.Name, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CollectionHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	cols, err := h.svc.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": cols, "count": len(cols)})
}

func (h *CollectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	c, err := h.svc.Get(r.Context(), user.ID, chi.URLParam(r, "collection"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type patchCollectionRequest struct {
	Name     *string        `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

func (h *CollectionHandler) Patch(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req patchCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	c, err := h.svc.Patch(r.Context(), user.ID, chi.URLParam(r, "collection"), req.Name, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CollectionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	if err := h.svc.Delete(r.Context(), user.ID, chi.URLParam(r, "collection")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
