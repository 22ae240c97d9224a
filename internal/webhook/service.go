// Package webhook manages per-user webhook subscriptions and fans document
// lifecycle events out to them. Delivery itself runs on the task queue so a
// slow receiver never blocks the ingest pipeline.
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patchvec/patchvec/internal/errdefs"
	"github.com/patchvec/patchvec/internal/models"
	"github.com/patchvec/patchvec/internal/queue"
)

// Enqueuer hands a delivery to the task queue.
type Enqueuer interface {
	EnqueueWebhookDeliver(payload queue.WebhookDeliverPayload) error
}

type Service struct {
	db     *pgxpool.Pool
	enq    Enqueuer
	logger *slog.Logger
}

func NewService(db *pgxpool.Pool, enq Enqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, enq: enq, logger: logger}
}

type CreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// Create registers a webhook. The signing secret is returned once, on
// creation only.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*models.Webhook, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("webhook url is required: %w", errdefs.ErrInvalidArgument)
	}
	events := req.Events
	if len(events) == 0 {
		events = []string{models.EventDocumentIndexed, models.EventDocumentFailed}
	}
	for _, ev := range events {
		if ev != models.EventDocumentIndexed && ev != models.EventDocumentFailed {
			return nil, fmt.Errorf("unknown event %q: %w", ev, errdefs.ErrInvalidArgument)
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}

	var wh models.Webhook
	err = s.db.QueryRow(ctx,
		`INSERT INTO webhooks (user_id, url, events, secret, is_active)
		 VALUES ($1, $2, $3, $4, true)
		 RETURNING id, user_id, url, events, is_active, created_at`,
		userID, req.URL, eventsJSON, secret,
	).Scan(&wh.ID, &wh.UserID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}

	wh.Secret = secret
	return &wh, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.Webhook, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, url, events, is_active, created_at
		 FROM webhooks WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []models.Webhook
	for rows.Next() {
		var wh models.Webhook
		if err := rows.Scan(&wh.ID, &wh.UserID, &wh.URL, &wh.Events, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, wh)
	}
	return webhooks, rows.Err()
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM webhooks WHERE id = $1 AND user_id = $2", id, userID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook %s: %w", id, errdefs.ErrNotFound)
	}
	return nil
}

// eventPayload is the body POSTed to subscribers.
type eventPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Document  struct {
		ID           uuid.UUID `json:"id"`
		Name         string    `json:"name"`
		CollectionID uuid.UUID `json:"collection_id"`
		Status       string    `json:"status"`
		NumPages     int       `json:"num_pages"`
		Error        string    `json:"error,omitempty"`
	} `json:"document"`
}

// DocumentIndexed and DocumentFailed satisfy the ingest pipeline's notifier.
// Fan-out failures are logged, never surfaced; the document's own status is
// the source of truth.

func (s *Service) DocumentIndexed(ctx context.Context, doc *models.Document, numPages int) {
	s.dispatch(ctx, models.EventDocumentIndexed, doc, models.DocStatusIndexed, numPages, "")
}

func (s *Service) DocumentFailed(ctx context.Context, doc *models.Document, reason string) {
	s.dispatch(ctx, models.EventDocumentFailed, doc, models.DocStatusFailed, 0, reason)
}

func (s *Service) dispatch(ctx context.Context, event string, doc *models.Document, status string, numPages int, reason string) {
	var ownerID uuid.UUID
	err := s.db.QueryRow(ctx,
		"SELECT owner_id FROM collections WHERE id = $1", doc.CollectionID,
	).Scan(&ownerID)
	if err != nil {
		s.logger.Error("failed to resolve webhook owner",
			"document_id", doc.ID, "error", err)
		return
	}

	p := eventPayload{Event: event, Timestamp: time.Now().UTC()}
	p.Document.ID = doc.ID
	p.Document.Name = doc.Name
	p.Document.CollectionID = doc.CollectionID
	p.Document.Status = status
	p.Document.NumPages = numPages
	p.Document.Error = reason
	body, err := json.Marshal(p)
	if err != nil {
		s.logger.Error("failed to encode webhook payload", "error", err)
		return
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, url, secret FROM webhooks
		 WHERE user_id = $1 AND is_active = true AND events @> $2::jsonb`,
		ownerID, fmt.Sprintf(`["%s"]`, event),
	)
	if err != nil {
		s.logger.Error("failed to find webhooks", "error", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var url, secret string
		if err := rows.Scan(&id, &url, &secret); err != nil {
			s.logger.Error("failed to scan webhook", "error", err)
			continue
		}
		err := s.enq.EnqueueWebhookDeliver(queue.WebhookDeliverPayload{
			WebhookID: id.String(),
			URL:       url,
			Secret:    secret,
			Event:     event,
			Payload:   body,
		})
		if err != nil {
			s.logger.Error("failed to enqueue webhook delivery",
				"webhook_id", id, "event", event, "error", err)
		}
	}
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
