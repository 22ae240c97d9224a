package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/patchvec/patchvec/internal/errdefs"
	"github.com/patchvec/patchvec/internal/models"
)

// Metric names accepted by NewPgStore.
const (
	MetricDot    = "dot"
	MetricCosine = "cosine"
)

type PgStore struct {
	db        *pgxpool.Pool
	dim       int
	patchGrid int
	// ANN order-by against the halfvec expression index; built once so the
	// planner can match the index expression.
	annOrderBy string
}

func NewPgStore(db *pgxpool.Pool, dim, patchGrid int, metric string) *PgStore {
	op := "<#>"
	if metric == MetricCosine {
		op = "<=>"
	}
	return &PgStore{
		db:         db,
		dim:        dim,
		patchGrid:  patchGrid,
		annOrderBy: fmt.Sprintf("(pv.embedding::halfvec(%d)) %s $1", dim, op),
	}
}

func (s *PgStore) Put(ctx context.Context, page PageInsert) (uuid.UUID, error) {
	if len(page.Vectors) != s.patchGrid {
		return uuid.Nil, fmt.Errorf("page %d has %d vectors, model patch grid is %d: %w",
			page.PageNumber, len(page.Vectors), s.patchGrid, errdefs.ErrDimensionMismatch)
	}
	for i, v := range page.Vectors {
		if len(v) != s.dim {
			return uuid.Nil, fmt.Errorf("page %d patch %d has width %d, configured width is %d: %w",
				page.PageNumber, i, len(v), s.dim, errdefs.ErrDimensionMismatch)
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var pageID uuid.UUID
	err = tx.QueryRow(ctx,
		`INSERT INTO pages (document_id, generation, page_number, image_path)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		page.DocumentID, page.Generation, page.PageNumber, page.ImagePath,
	).Scan(&pageID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert page %d: %w", page.PageNumber, err)
	}

	batch := &pgx.Batch{}
	for i, v := range page.Vectors {
		batch.Queue(
			`INSERT INTO page_vectors (page_id, document_id, patch_index, embedding)
			 VALUES ($1, $2, $3, $4)`,
			pageID, page.DocumentID, i, pgvector.NewVector(v),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return uuid.Nil, fmt.Errorf("insert vectors for page %d: %w", page.PageNumber, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit page %d: %w", page.PageNumber, err)
	}
	return pageID, nil
}

func (s *PgStore) CandidateSearch(ctx context.Context, queryVecs [][]float32, scope []uuid.UUID, perVec int) ([]uuid.UUID, error) {
	if len(queryVecs) == 0 || len(scope) == 0 {
		return nil, nil
	}
	if perVec <= 0 {
		return nil, fmt.Errorf("perVec must be positive: %w", errdefs.ErrInvalidArgument)
	}

	query := fmt.Sprintf(
		`SELECT pv.page_id
		 FROM page_vectors pv
		 JOIN documents d ON d.id = pv.document_id
		 JOIN pages p ON p.id = pv.page_id
		 WHERE d.status = '%s'
		   AND p.generation = d.active_generation
		   AND pv.document_id = ANY($2)
		 ORDER BY %s
		 LIMIT $3`,
		models.DocStatusIndexed, s.annOrderBy,
	)

	// One ANN probe per query vector, issued concurrently and joined
	// before stage 2.
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		seen     = make(map[uuid.UUID]struct{})
		union    []uuid.UUID
	)
	for _, qv := range queryVecs {
		wg.Add(1)
		go func(qv []float32) {
			defer wg.Done()

			rows, err := s.db.Query(ctx, query, pgvector.NewHalfVector(qv), scope, perVec)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("candidate search: %w", err)
				}
				mu.Unlock()
				return
			}
			defer rows.Close()

			var ids []uuid.UUID
			for rows.Next() {
				var id uuid.UUID
				if err := rows.Scan(&id); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = fmt.Errorf("scan candidate: %w", err)
					}
					mu.Unlock()
					return
				}
				ids = append(ids, id)
			}
			if err := rows.Err(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("candidate rows: %w", err)
				}
				mu.Unlock()
				return
			}

			mu.Lock()
			for _, id := range ids {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					union = append(union, id)
				}
			}
			mu.Unlock()
		}(qv)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return union, nil
}

func (s *PgStore) FetchVectors(ctx context.Context, pageIDs []uuid.UUID) ([]PageData, error) {
	if len(pageIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT p.id, p.page_number, p.image_path,
		        d.id, d.name, d.metadata, d.created_at,
		        c.id, c.name, c.metadata,
		        pv.embedding
		 FROM pages p
		 JOIN documents d ON d.id = p.document_id
		 JOIN collections c ON c.id = d.collection_id
		 JOIN page_vectors pv ON pv.page_id = p.id
		 WHERE p.id = ANY($1)
		 ORDER BY p.id, pv.patch_index`,
		pageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch vectors: %w", err)
	}
	defer rows.Close()

	var (
		pages []PageData
		cur   *PageData
	)
	for rows.Next() {
		var (
			pd  PageData
			emb pgvector.Vector
		)
		if err := rows.Scan(
			&pd.PageID, &pd.PageNumber, &pd.ImagePath,
			&pd.DocumentID, &pd.DocumentName, &pd.DocumentMetadata, &pd.DocumentCreatedAt,
			&pd.CollectionID, &pd.CollectionName, &pd.CollectionMetadata,
			&emb,
		); err != nil {
			return nil, fmt.Errorf("scan page vector: %w", err)
		}

		if cur == nil || cur.PageID != pd.PageID {
			pages = append(pages, pd)
			cur = &pages[len(pages)-1]
		}
		cur.Vectors = append(cur.Vectors, emb.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch vector rows: %w", err)
	}
	return pages, nil
}

func (s *PgStore) DeleteGeneration(ctx context.Context, documentID uuid.UUID, generation int64) error {
	// page_vectors go with their pages via ON DELETE CASCADE.
	_, err := s.db.Exec(ctx,
		"DELETE FROM pages WHERE document_id = $1 AND generation = $2",
		documentID, generation,
	)
	if err != nil {
		return fmt.Errorf("delete generation %d of document %s: %w", generation, documentID, err)
	}
	return nil
}
