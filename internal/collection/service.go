package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patchvec/patchvec/internal/errdefs"
	"github.com/patchvec/patchvec/internal/models"
)

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// CollectionOut is a collection joined with its document count.
type CollectionOut struct {
	models.Collection
	NumDocuments int `json:"num_documents"`
}

func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, name string, metadata map[string]any) (*models.Collection, error) {
	if name == models.CollectionWildcard {
		return nil, fmt.Errorf("collection name %q is reserved: %w",
			models.CollectionWildcard, errdefs.ErrInvalidArgument)
	}

	meta, err := json.Marshal(metadataOrEmpty(metadata))
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	var c models.Collection
	err = s.db.QueryRow(ctx,
		`INSERT INTO collections (owner_id, name, metadata)
		 VALUES ($1, $2, $3)
		 RETURNING id, owner_id, name, metadata, created_at, updated_at`,
		ownerID, name, meta,
	).Scan(&c.ID, &c.OwnerID, &c.Name, &c.Metadata, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("collection %q already exists: %w", name, errdefs.ErrConflict)
		}
		return nil, fmt.Errorf("create collection: %w", err)
	}
	return &c, nil
}

func (s *Service) Get(ctx context.Context, ownerID uuid.UUID, name string) (*CollectionOut, error) {
	var out CollectionOut
	err := s.db.QueryRow(ctx,
		`SELECT c.id, c.owner_id, c.name, c.metadata, c.created_at, c.updated_at,
		        count(d.id)
		 FROM collections c LEFT JOIN documents d ON d.collection_id = c.id
		 WHERE c.owner_id = $1 AND c.name = $2
		 GROUP BY c.id`,
		ownerID, name,
	).Scan(&out.ID, &out.OwnerID, &out.Name, &out.Metadata, &out.CreatedAt, &out.UpdatedAt, &out.NumDocuments)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("collection %q: %w", name, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("get collection: %w", err)
	}
	return &out, nil
}

func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]CollectionOut, error) {
	rows, err := s.db.Query(ctx,
		`SELECT c.id, c.owner_id, c.name, c.metadata, c.created_at, c.updated_at,
		        count(d.id)
		 FROM collections c LEFT JOIN documents d ON d.collection_id = c.id
		 WHERE c.owner_id = $1
		 GROUP BY c.id
		 ORDER BY c.created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []CollectionOut
	for rows.Next() {
		var c CollectionOut
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Metadata, &c.CreatedAt, &c.UpdatedAt, &c.NumDocuments); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Patch updates name and/or metadata. A nil metadata keeps the old map; an
// empty map overwrites it.
func (s *Service) Patch(ctx context.Context, ownerID uuid.UUID, name string, newName *string, metadata map[string]any) (*models.Collection, error) {
	if newName != nil && *newName == models.CollectionWildcard {
		return nil, fmt.Errorf("collection name %q is reserved: %w",
			models.CollectionWildcard, errdefs.ErrInvalidArgument)
	}

	cur, err := s.Get(ctx, ownerID, name)
	if err != nil {
		return nil, err
	}

	nextName := cur.Name
	if newName != nil && *newName != "" {
		nextName = *newName
	}
	nextMeta := cur.Metadata
	if metadata != nil {
		nextMeta, err = json.Marshal(metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	var c models.Collection
	err = s.db.QueryRow(ctx,
		`UPDATE collections SET name = $2, metadata = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING id, owner_id, name, metadata, created_at, updated_at`,
		cur.ID, nextName, nextMeta,
	).Scan(&c.ID, &c.OwnerID, &c.Name, &c.Metadata, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("collection %q already exists: %w", nextName, errdefs.ErrConflict)
		}
		return nil, fmt.Errorf("patch collection: %w", err)
	}
	return &c, nil
}

// Delete removes the collection; documents, pages and vectors cascade with
// it in the same statement.
func (s *Service) Delete(ctx context.Context, ownerID uuid.UUID, name string) error {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM collections WHERE owner_id = $1 AND name = $2",
		ownerID, name,
	)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("collection %q: %w", name, errdefs.ErrNotFound)
	}
	return nil
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
