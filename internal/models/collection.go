package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CollectionWildcard is the reserved collection name that scopes an
// operation to every collection of the owner. It is rejected on create.
const CollectionWildcard = "all"

type Collection struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OwnerID   uuid.UUID       `json:"owner_id" db:"owner_id"`
	Name      string          `json:"name" db:"name"`
	Metadata  json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}
