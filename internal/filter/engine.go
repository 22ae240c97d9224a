package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/patchvec/patchvec/internal/models"
)

type Engine struct {
	db *pgxpool.Pool
}

func NewEngine(db *pgxpool.Pool) *Engine {
	return &Engine{db: db}
}

// Resolve returns the ids of the owner's documents matching the collection
// scope and the optional metadata predicate. collectionName may be the
// wildcard "all". An error here fails the search; an empty result set is a
// legitimate zero-hit answer.
func (e *Engine) Resolve(ctx context.Context, ownerID uuid.UUID, collectionName string, pred *Predicate) ([]uuid.UUID, error) {
	query, args, err := buildResolveQuery(ownerID, collectionName, pred)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve filter: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("filter rows: %w", err)
	}
	return ids, nil
}

func buildResolveQuery(ownerID uuid.UUID, collectionName string, pred *Predicate) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT d.id FROM documents d JOIN collections c ON c.id = d.collection_id WHERE c.owner_id = $1`)
	args := []any{ownerID}

	if collectionName != "" && collectionName != models.CollectionWildcard {
		args = append(args, collectionName)
		fmt.Fprintf(&sb, " AND c.name = $%d", len(args))
	}

	if pred != nil {
		if err := pred.Validate(); err != nil {
			return "", nil, err
		}
		clause, clauseArgs, err := pred.clause(len(args) + 1)
		if err != nil {
			return "", nil, err
		}
		args = append(args, clauseArgs...)
		sb.WriteString(" AND ")
		sb.WriteString(clause)
	}

	return sb.String(), args, nil
}
