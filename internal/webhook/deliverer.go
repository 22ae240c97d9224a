package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patchvec/patchvec/internal/metrics"
	"github.com/patchvec/patchvec/internal/queue"
)

// Deliverer posts one signed event to a subscriber endpoint. It runs as a
// task handler; returning an error lets the queue retry the delivery.
type Deliverer struct {
	db         *pgxpool.Pool
	httpClient *http.Client
	logger     *slog.Logger
}

func NewDeliverer(db *pgxpool.Pool, logger *slog.Logger) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deliverer{
		db:         db,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

func (d *Deliverer) Deliver(ctx context.Context, p queue.WebhookDeliverPayload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(p.Payload))
	if err != nil {
		d.record(ctx, p, 0)
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", p.Event)
	req.Header.Set("X-Webhook-ID", p.WebhookID)
	req.Header.Set("X-Webhook-Signature", Sign(p.Payload, p.Secret))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.record(ctx, p, 0)
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return fmt.Errorf("deliver webhook %s: %w", p.WebhookID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	d.record(ctx, p, resp.StatusCode)

	if resp.StatusCode >= 400 {
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return fmt.Errorf("webhook %s got status %d", p.WebhookID, resp.StatusCode)
	}
	metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	return nil
}

func (d *Deliverer) record(ctx context.Context, p queue.WebhookDeliverPayload, status int) {
	if d.db == nil {
		return
	}
	var deliveredAt *time.Time
	if status > 0 && status < 400 {
		now := time.Now()
		deliveredAt = &now
	}
	_, err := d.db.Exec(ctx,
		`INSERT INTO webhook_deliveries (webhook_id, event, payload, response_status, delivered_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.WebhookID, p.Event, p.Payload, status, deliveredAt,
	)
	if err != nil {
		d.logger.Error("failed to record webhook delivery", "error", err)
	}
}

// Sign computes the hex HMAC-SHA256 tag receivers verify against.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
