package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/patchvec/patchvec/internal/auth"
	"github.com/patchvec/patchvec/internal/document"
	"github.com/patchvec/patchvec/internal/models"
	"github.com/patchvec/patchvec/internal/queue"
)

// Enqueuer schedules the background indexing run for an upserted document.
type Enqueuer interface {
	EnqueueDocumentIngest(payload queue.DocumentIngestPayload) error
}

// SourceUploader stores an inline upload and returns its source reference.
type SourceUploader interface {
	PutSource(ctx context.Context, documentID uuid.UUID, filename string, data []byte) (string, error)
}

// URLSigner turns a stored page image path into a downloadable link.
type URLSigner interface {
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

type DocumentHandler struct {
	svc      *document.Service
	enq      Enqueuer
	sources  SourceUploader
	signer   URLSigner
	waitPoll time.Duration
	waitMax  time.Duration
}

func NewDocumentHandler(svc *document.Service, enq Enqueuer, sources SourceUploader, signer URLSigner) *DocumentHandler {
	return &DocumentHandler{
		svc:      svc,
		enq:      enq,
		sources:  sources,
		signer:   signer,
		waitPoll: 500 * time.Millisecond,
		waitMax:  5 * time.Minute,
	}
}

type upsertDocumentRequest struct {
	Name           string         `json:"name"`
	CollectionName string         `json:"collection_name"`
	URL            string         `json:"url,omitempty"`
	Base64         string         `json:"base64,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	Wait           bool           `json:"wait"`
}

// Upsert accepts a document for indexing. The default reply is 202 with the
// pending document; wait=true blocks until indexing reaches a terminal
// status and returns that instead.
func (h *DocumentHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req upsertDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if (req.URL == "") == (req.Base64 == "") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "exactly one of url or base64 is required"})
		return
	}
	if req.CollectionName == "" {
		req.CollectionName = "default"
	}

	var data []byte
	if req.Base64 != "" {
		if h.sources == nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "inline uploads need object storage configured"})
			return
		}
		var err error
		data, err = base64.StdEncoding.DecodeString(req.Base64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "base64 is not valid"})
			return
		}
	}

	doc, err := h.svc.Upsert(r.Context(), user.ID, document.UpsertRequest{
		CollectionName: req.CollectionName,
		Name:           req.Name,
		SourceURL:      req.URL,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if data != nil {
		ref, err := h.sources.PutSource(r.Context(), doc.ID, doc.Name, data)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := h.svc.SetSourceURL(r.Context(), doc.ID, ref); err != nil {
			writeError(w, err)
			return
		}
		doc.SourceURL = ref
	}

	if err := scheduleIngest(h.enq, doc.ID); err != nil {
		writeError(w, err)
		return
	}

	if !req.Wait {
		writeJSON(w, http.StatusAccepted, doc)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.waitMax)
	defer cancel()
	final, err := h.svc.WaitTerminal(ctx, doc.ID, h.waitPoll)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, final)
}

// scheduleIngest enqueues the indexing run for a freshly upserted document.
// The ingest task is unique per document while queued, so a re-upsert that
// lands before the first run is claimed gets ErrDuplicateTask; the already
// queued run will pick up the reset row, so that counts as scheduled.
func scheduleIngest(enq Enqueuer, docID uuid.UUID) error {
	err := enq.EnqueueDocumentIngest(queue.DocumentIngestPayload{DocumentID: docID.String()})
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	docs, err := h.svc.List(r.Context(), user.ID, chi.URLParam(r, "collection"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	doc, err := h.svc.GetByName(r.Context(), user.ID,
		chi.URLParam(r, "collection"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type patchDocumentRequest struct {
	Name     *string        `json:"name"`
	Metadata map[string]any `json:"metadata"`
}

func (h *DocumentHandler) Patch(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req patchDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	doc, err := h.svc.Patch(r.Context(), user.ID,
		chi.URLParam(r, "collection"), chi.URLParam(r, "name"),
		document.PatchRequest{Name: req.Name, Metadata: req.Metadata})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	err := h.svc.Delete(r.Context(), user.ID,
		chi.URLParam(r, "collection"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Status is the lightweight polling endpoint for async upserts.
func (h *DocumentHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	doc, err := h.svc.GetByName(r.Context(), user.ID,
		chi.URLParam(r, "collection"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         doc.ID,
		"status":     doc.Status,
		"num_pages":  doc.NumPages,
		"attempts":   doc.Attempts,
		"last_error": doc.LastError,
	})
}

type pageOut struct {
	models.Page
	ImageURL string `json:"image_url,omitempty"`
}

// Pages lists the visible pages of an indexed document, with short-lived
// download links when object storage is configured.
func (h *DocumentHandler) Pages(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	doc, err := h.svc.GetByName(r.Context(), user.ID,
		chi.URLParam(r, "collection"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}

	pages, err := h.svc.Pages(r.Context(), doc.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]pageOut, len(pages))
	for i, p := range pages {
		out[i] = pageOut{Page: p}
		if h.signer != nil && p.ImagePath != "" {
			if u, err := h.signer.PresignedURL(r.Context(), p.ImagePath, 15*time.Minute); err == nil {
				out[i].ImageURL = u
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": out, "count": len(out)})
}
