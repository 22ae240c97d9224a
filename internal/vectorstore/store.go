package vectorstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PageInsert is one page and its complete patch-vector set. A page is never
// written with a partial set.
type PageInsert struct {
	DocumentID uuid.UUID
	Generation int64
	PageNumber int
	ImagePath  string
	Vectors    [][]float32
}

// PageData is a candidate page loaded for exact rescoring, joined with the
// identity the result surface needs.
type PageData struct {
	PageID             uuid.UUID
	PageNumber         int
	ImagePath          string
	DocumentID         uuid.UUID
	DocumentName       string
	DocumentMetadata   json.RawMessage
	DocumentCreatedAt  time.Time
	CollectionID       uuid.UUID
	CollectionName     string
	CollectionMetadata json.RawMessage
	Vectors            [][]float32
}

// Store persists patch vectors and serves the two retrieval stages.
// Candidate search probes the reduced-precision ANN index; FetchVectors
// returns full-precision vectors for exact scoring.
type Store interface {
	// Put writes a page and all of its vectors in one transaction,
	// validating vector count and width against the configured model shape.
	Put(ctx context.Context, page PageInsert) (uuid.UUID, error)

	// CandidateSearch returns the union of page ids whose vectors land in
	// any query vector's top-perVec nearest neighbors, restricted to
	// indexed documents within scope.
	CandidateSearch(ctx context.Context, queryVecs [][]float32, scope []uuid.UUID, perVec int) ([]uuid.UUID, error)

	// FetchVectors bulk-loads the full vector sets of the given pages.
	FetchVectors(ctx context.Context, pageIDs []uuid.UUID) ([]PageData, error)

	// DeleteGeneration removes a document's staged pages and vectors for
	// one generation.
	DeleteGeneration(ctx context.Context, documentID uuid.UUID, generation int64) error
}
