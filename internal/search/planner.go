// Package search implements two-stage late-interaction retrieval: an ANN
// pass over the reduced-precision index collects candidate pages, then the
// full-precision vectors of every candidate are rescored exactly.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/patchvec/patchvec/internal/config"
	"github.com/patchvec/patchvec/internal/errdefs"
	"github.com/patchvec/patchvec/internal/filter"
	"github.com/patchvec/patchvec/internal/metrics"
	"github.com/patchvec/patchvec/internal/vectorstore"
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([][]float32, error)
}

type CandidateStore interface {
	CandidateSearch(ctx context.Context, queryVecs [][]float32, scope []uuid.UUID, perVec int) ([]uuid.UUID, error)
	FetchVectors(ctx context.Context, pageIDs []uuid.UUID) ([]vectorstore.PageData, error)
}

type Scoper interface {
	Resolve(ctx context.Context, ownerID uuid.UUID, collectionName string, pred *filter.Predicate) ([]uuid.UUID, error)
}

type Request struct {
	OwnerID        uuid.UUID
	CollectionName string
	Query          string
	TopK           int
	Filter         *filter.Predicate
}

// Result is one scored page.
type Result struct {
	PageID             uuid.UUID       `json:"page_id"`
	PageNumber         int             `json:"page_number"`
	ImagePath          string          `json:"img_path,omitempty"`
	DocumentID         uuid.UUID       `json:"document_id"`
	DocumentName       string          `json:"document_name"`
	DocumentMetadata   json.RawMessage `json:"document_metadata"`
	CollectionID       uuid.UUID       `json:"collection_id"`
	CollectionName     string          `json:"collection_name"`
	CollectionMetadata json.RawMessage `json:"collection_metadata"`
	RawScore           float64         `json:"raw_score"`
	NormalizedScore    float64         `json:"normalized_score"`
}

type Planner struct {
	embedder QueryEmbedder
	store    CandidateStore
	scoper   Scoper
	cfg      config.SearchConfig
	metric   string
	logger   *slog.Logger
}

func NewPlanner(embedder QueryEmbedder, store CandidateStore, scoper Scoper, cfg config.SearchConfig, metric string, logger *slog.Logger) *Planner {
	if cfg.CandidatesPerVector <= 0 {
		cfg.CandidatesPerVector = 100
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		embedder: embedder,
		store:    store,
		scoper:   scoper,
		cfg:      cfg,
		metric:   metric,
		logger:   logger,
	}
}

// Search runs the full retrieval pipeline. An empty scope (the filter or
// collection matched nothing) short-circuits to an empty result set before
// any embedding work.
func (p *Planner) Search(ctx context.Context, req Request) ([]Result, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("query must not be empty: %w", errdefs.ErrInvalidArgument)
	}
	topK := req.TopK
	if topK == 0 {
		topK = p.cfg.DefaultTopK
	}
	if topK < 0 {
		return nil, fmt.Errorf("top_k must be positive: %w", errdefs.ErrInvalidArgument)
	}

	started := time.Now()

	scope, err := p.scoper.Resolve(ctx, req.OwnerID, req.CollectionName, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("resolve scope: %w", err)
	}
	if len(scope) == 0 {
		return []Result{}, nil
	}

	queryVecs, err := p.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(queryVecs) == 0 {
		return nil, fmt.Errorf("embedder returned no query vectors: %w", errdefs.ErrModelError)
	}

	candidates, err := p.store.CandidateSearch(ctx, queryVecs, scope, p.cfg.CandidatesPerVector)
	if err != nil {
		return nil, fmt.Errorf("candidate search: %w", err)
	}
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	pages, err := p.store.FetchVectors(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("fetch candidate vectors: %w", err)
	}

	results := p.rescore(queryVecs, pages)
	if len(results) > topK {
		results = results[:topK]
	}

	metrics.SearchCandidates.Observe(float64(len(candidates)))
	metrics.SearchDuration.Observe(time.Since(started).Seconds())
	p.logger.Debug("search completed",
		"candidates", len(candidates),
		"results", len(results),
		"duration", time.Since(started))
	return results, nil
}

// rescore computes exact late-interaction scores for every candidate page
// and orders them best first. Ties break on older document, then lower page
// number, so paging through results is stable.
func (p *Planner) rescore(queryVecs [][]float32, pages []vectorstore.PageData) []Result {
	type scored struct {
		Result
		createdAt time.Time
	}

	out := make([]scored, 0, len(pages))
	for _, page := range pages {
		raw := lateInteraction(queryVecs, page.Vectors, p.metric)
		out = append(out, scored{
			Result: Result{
				PageID:             page.PageID,
				PageNumber:         page.PageNumber,
				ImagePath:          page.ImagePath,
				DocumentID:         page.DocumentID,
				DocumentName:       page.DocumentName,
				DocumentMetadata:   page.DocumentMetadata,
				CollectionID:       page.CollectionID,
				CollectionName:     page.CollectionName,
				CollectionMetadata: page.CollectionMetadata,
				RawScore:           raw,
				NormalizedScore:    normalize(raw, len(queryVecs)),
			},
			createdAt: page.DocumentCreatedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RawScore != out[j].RawScore {
			return out[i].RawScore > out[j].RawScore
		}
		if !out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].createdAt.Before(out[j].createdAt)
		}
		return out[i].PageNumber < out[j].PageNumber
	})

	results := make([]Result, len(out))
	for i := range out {
		results[i] = out[i].Result
	}
	return results
}
