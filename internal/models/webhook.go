package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Webhook event names emitted when a document reaches a terminal status.
const (
	EventDocumentIndexed = "document.indexed"
	EventDocumentFailed  = "document.failed"
)

type Webhook struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    uuid.UUID       `json:"user_id" db:"user_id"`
	URL       string          `json:"url" db:"url"`
	Events    json.RawMessage `json:"events" db:"events"`
	Secret    string          `json:"secret,omitempty" db:"secret"`
	IsActive  bool            `json:"is_active" db:"is_active"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
