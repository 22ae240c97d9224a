package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Document struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	CollectionID     uuid.UUID       `json:"collection_id" db:"collection_id"`
	Name             string          `json:"name" db:"name"`
	SourceURL        string          `json:"source_url,omitempty" db:"source_url"`
	Metadata         json.RawMessage `json:"metadata" db:"metadata"`
	Status           string          `json:"status" db:"status"`
	NumPages         int             `json:"num_pages" db:"num_pages"`
	Attempts         int             `json:"attempts" db:"attempts"`
	LastError        string          `json:"last_error,omitempty" db:"last_error"`
	ActiveGeneration int64           `json:"-" db:"active_generation"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

type Page struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	Generation int64     `json:"-" db:"generation"`
	PageNumber int       `json:"page_number" db:"page_number"`
	ImagePath  string    `json:"image_path,omitempty" db:"image_path"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusIndexed    = "indexed"
	DocStatusFailed     = "failed"
)

// IsTerminal reports whether a document in this status will not move again
// without an explicit re-index request.
func IsTerminal(status string) bool {
	return status == DocStatusIndexed || status == DocStatusFailed
}

// CanTransition encodes the status machine: pending→processing→{indexed,
// failed}, plus the explicit terminal→pending reset on re-upsert.
func CanTransition(from, to string) bool {
	switch from {
	case DocStatusPending:
		return to == DocStatusProcessing
	case DocStatusProcessing:
		return to == DocStatusIndexed || to == DocStatusFailed
	case DocStatusIndexed, DocStatusFailed:
		return to == DocStatusPending
	}
	return false
}
