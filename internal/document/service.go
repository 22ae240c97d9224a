package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patchvec/patchvec/internal/errdefs"
	"github.com/patchvec/patchvec/internal/models"
)

// ImageStore removes stored page images when their document goes away.
type ImageStore interface {
	RemovePrefix(ctx context.Context, prefix string) error
}

type Service struct {
	db     *pgxpool.Pool
	images ImageStore
}

func NewService(db *pgxpool.Pool, images ImageStore) *Service {
	return &Service{db: db, images: images}
}

const docColumns = `id, collection_id, name, source_url, metadata, status,
	num_pages, attempts, last_error, active_generation, created_at, updated_at`

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.CollectionID, &d.Name, &d.SourceURL, &d.Metadata,
		&d.Status, &d.NumPages, &d.Attempts, &d.LastError, &d.ActiveGeneration,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type UpsertRequest struct {
	CollectionName string
	Name           string
	SourceURL      string
	Metadata       map[string]any
}

// Upsert creates the document row with status pending, or resets an existing
// one back to pending for re-indexing. The guard is a compare-and-swap: a
// document that is currently processing cannot be re-submitted and the call
// fails with Conflict.
func (s *Service) Upsert(ctx context.Context, ownerID uuid.UUID, req UpsertRequest) (*models.Document, error) {
	if req.CollectionName == models.CollectionWildcard {
		return nil, fmt.Errorf("collection name %q is reserved: %w",
			models.CollectionWildcard, errdefs.ErrInvalidArgument)
	}

	var collectionID uuid.UUID
	err := s.db.QueryRow(ctx,
		`INSERT INTO collections (owner_id, name)
		 VALUES ($1, $2)
		 ON CONFLICT (owner_id, name) DO UPDATE SET updated_at = now()
		 RETURNING id`,
		ownerID, req.CollectionName,
	).Scan(&collectionID)
	if err != nil {
		return nil, fmt.Errorf("get or create collection: %w", err)
	}

	metadata, err := json.Marshal(orEmpty(req.Metadata))
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	doc, err := scanDocument(s.db.QueryRow(ctx,
		`INSERT INTO documents (collection_id, name, source_url, metadata, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (collection_id, name) DO UPDATE
		   SET source_url = EXCLUDED.source_url,
		       metadata = EXCLUDED.metadata,
		       status = $5,
		       attempts = 0,
		       last_error = '',
		       updated_at = now()
		   WHERE documents.status <> $6
		 RETURNING `+docColumns,
		collectionID, req.Name, req.SourceURL, metadata,
		models.DocStatusPending, models.DocStatusProcessing,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %q is already being indexed: %w",
				req.Name, errdefs.ErrConflict)
		}
		return nil, fmt.Errorf("upsert document: %w", err)
	}
	return doc, nil
}

// SetSourceURL points a document at its stored upload. Used after an inline
// upload, when the storage key depends on the document id created by Upsert.
func (s *Service) SetSourceURL(ctx context.Context, id uuid.UUID, sourceURL string) error {
	_, err := s.db.Exec(ctx,
		"UPDATE documents SET source_url = $2, updated_at = now() WHERE id = $1",
		id, sourceURL,
	)
	if err != nil {
		return fmt.Errorf("set source url: %w", err)
	}
	return nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx,
		`SELECT `+docColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// GetByName looks a document up within the owner's collections.
// collectionName may be the wildcard "all".
func (s *Service) GetByName(ctx context.Context, ownerID uuid.UUID, collectionName, name string) (*models.Document, error) {
	query := `SELECT d.id, d.collection_id, d.name, d.source_url, d.metadata, d.status,
	                 d.num_pages, d.attempts, d.last_error, d.active_generation, d.created_at, d.updated_at
	          FROM documents d JOIN collections c ON c.id = d.collection_id
	          WHERE c.owner_id = $1 AND d.name = $2`
	args := []any{ownerID, name}
	if collectionName != models.CollectionWildcard {
		query += ` AND c.name = $3`
		args = append(args, collectionName)
	}

	doc, err := scanDocument(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %q: %w", name, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *Service) List(ctx context.Context, ownerID uuid.UUID, collectionName string) ([]models.Document, error) {
	query := `SELECT d.id, d.collection_id, d.name, d.source_url, d.metadata, d.status,
	                 d.num_pages, d.attempts, d.last_error, d.active_generation, d.created_at, d.updated_at
	          FROM documents d JOIN collections c ON c.id = d.collection_id
	          WHERE c.owner_id = $1`
	args := []any{ownerID}
	if collectionName != models.CollectionWildcard {
		query += ` AND c.name = $2`
		args = append(args, collectionName)
	}
	query += ` ORDER BY d.created_at DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

type PatchRequest struct {
	Name     *string
	Metadata map[string]any
}

// Patch updates a document's name and/or metadata without touching its
// pages or status.
func (s *Service) Patch(ctx context.Context, ownerID uuid.UUID, collectionName, name string, req PatchRequest) (*models.Document, error) {
	doc, err := s.GetByName(ctx, ownerID, collectionName, name)
	if err != nil {
		return nil, err
	}

	newName := doc.Name
	if req.Name != nil && *req.Name != "" {
		newName = *req.Name
	}
	metadata := doc.Metadata
	if req.Metadata != nil {
		metadata, err = json.Marshal(req.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	updated, err := scanDocument(s.db.QueryRow(ctx,
		`UPDATE documents SET name = $2, metadata = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING `+docColumns,
		doc.ID, newName, metadata,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("document %q already exists in the collection: %w",
				newName, errdefs.ErrConflict)
		}
		return nil, fmt.Errorf("patch document: %w", err)
	}
	return updated, nil
}

// Delete removes a document; pages and vectors go with it via FK cascade.
// Stored page images are removed best-effort.
func (s *Service) Delete(ctx context.Context, ownerID uuid.UUID, collectionName, name string) error {
	doc, err := s.GetByName(ctx, ownerID, collectionName, name)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(ctx, "DELETE FROM documents WHERE id = $1", doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}

	if s.images != nil {
		if err := s.images.RemovePrefix(ctx, doc.ID.String()); err != nil {
			slog.Warn("failed to remove page images", "document_id", doc.ID, "error", err)
		}
	}
	return nil
}

// Pages returns the visible (active-generation) pages of a document.
func (s *Service) Pages(ctx context.Context, docID uuid.UUID) ([]models.Page, error) {
	rows, err := s.db.Query(ctx,
		`SELECT p.id, p.document_id, p.generation, p.page_number, p.image_path, p.created_at
		 FROM pages p JOIN documents d ON d.id = p.document_id
		 WHERE p.document_id = $1 AND p.generation = d.active_generation
		 ORDER BY p.page_number`,
		docID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []models.Page
	for rows.Next() {
		var p models.Page
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.Generation, &p.PageNumber, &p.ImagePath, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// ClaimProcessing moves a pending document to processing. Exactly one
// claimant wins; a second concurrent claim sees Conflict.
func (s *Service) ClaimProcessing(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc, err := scanDocument(s.db.QueryRow(ctx,
		`UPDATE documents SET status = $2, updated_at = now()
		 WHERE id = $1 AND status = $3
		 RETURNING `+docColumns,
		id, models.DocStatusProcessing, models.DocStatusPending,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := s.GetByID(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, fmt.Errorf("document %s is not pending: %w", id, errdefs.ErrConflict)
		}
		return nil, fmt.Errorf("claim document: %w", err)
	}
	return doc, nil
}

// RecordAttempt bumps the retry counter and remembers the failure reason.
func (s *Service) RecordAttempt(ctx context.Context, id uuid.UUID, attemptErr error) error {
	reason := ""
	if attemptErr != nil {
		reason = attemptErr.Error()
	}
	_, err := s.db.Exec(ctx,
		`UPDATE documents SET attempts = attempts + 1, last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, reason,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// MarkIndexed promotes the staged generation in one transaction: the old
// generation's pages are deleted, the new one becomes active, and the
// document flips to indexed. A query sees either the complete old set or
// the complete new set, never a mix. The displaced generation's stored page
// images are removed best-effort after the commit.
func (s *Service) MarkIndexed(ctx context.Context, id uuid.UUID, generation int64, numPages int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var prevGen int64
	err = tx.QueryRow(ctx,
		`UPDATE documents
		 SET status = $2, active_generation = $3, num_pages = $4, last_error = '', updated_at = now()
		 WHERE id = $1 AND status = $5
		 RETURNING (SELECT active_generation FROM documents WHERE id = $1)`,
		id, models.DocStatusIndexed, generation, numPages, models.DocStatusProcessing,
	).Scan(&prevGen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("document %s is not processing: %w", id, errdefs.ErrConflict)
		}
		return fmt.Errorf("mark indexed: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"DELETE FROM pages WHERE document_id = $1 AND generation <> $2",
		id, generation,
	); err != nil {
		return fmt.Errorf("drop stale generations: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	// Re-index: the displaced generation's images would otherwise pile up
	// in object storage, one prefix per re-index.
	if s.images != nil && prevGen > 0 && prevGen != generation {
		prefix := fmt.Sprintf("%s/%d/", id, prevGen)
		if err := s.images.RemovePrefix(ctx, prefix); err != nil {
			slog.Warn("failed to remove stale page images",
				"document_id", id, "generation", prevGen, "error", err)
		}
	}
	return nil
}

// MarkFailed records the terminal failure. Previously indexed pages (the
// active generation) are left in place so a later successful re-index is
// the only thing that replaces them.
func (s *Service) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE documents SET status = $2, last_error = $3, updated_at = now()
		 WHERE id = $1 AND status = $4`,
		id, models.DocStatusFailed, reason, models.DocStatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s is not processing: %w", id, errdefs.ErrConflict)
	}
	return nil
}

// WaitTerminal polls until the document reaches a terminal status or ctx
// expires, returning the last observed document either way.
func (s *Service) WaitTerminal(ctx context.Context, id uuid.UUID, poll time.Duration) (*models.Document, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		doc, err := s.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if models.IsTerminal(doc.Status) {
			return doc, nil
		}

		select {
		case <-ctx.Done():
			return doc, nil
		case <-ticker.C:
		}
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
