package search

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchvec/patchvec/internal/config"
	"github.com/patchvec/patchvec/internal/errdefs"
	"github.com/patchvec/patchvec/internal/filter"
	"github.com/patchvec/patchvec/internal/vectorstore"
)

type fakeEmbedder struct {
	vecs  [][]float32
	calls int
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([][]float32, error) {
	f.calls++
	return f.vecs, nil
}

type fakeStore struct {
	candidates     []uuid.UUID
	pages          []vectorstore.PageData
	gotScope       []uuid.UUID
	gotPerVec      int
	searchCalls    int
	fetchedPageIDs []uuid.UUID
}

func (f *fakeStore) CandidateSearch(ctx context.Context, queryVecs [][]float32, scope []uuid.UUID, perVec int) ([]uuid.UUID, error) {
	f.searchCalls++
	f.gotScope = scope
	f.gotPerVec = perVec
	return f.candidates, nil
}

func (f *fakeStore) FetchVectors(ctx context.Context, pageIDs []uuid.UUID) ([]vectorstore.PageData, error) {
	f.fetchedPageIDs = pageIDs
	return f.pages, nil
}

type fakeScoper struct {
	ids     []uuid.UUID
	gotPred *filter.Predicate
}

func (f *fakeScoper) Resolve(ctx context.Context, ownerID uuid.UUID, collectionName string, pred *filter.Predicate) ([]uuid.UUID, error) {
	f.gotPred = pred
	return f.ids, nil
}

func newPlanner(embedder *fakeEmbedder, store *fakeStore, scoper *fakeScoper) *Planner {
	return NewPlanner(embedder, store, scoper,
		config.SearchConfig{CandidatesPerVector: 50, DefaultTopK: 3},
		MetricDot, slog.New(slog.DiscardHandler))
}

func page(docID uuid.UUID, pageNum int, createdAt time.Time, vectors [][]float32) vectorstore.PageData {
	return vectorstore.PageData{
		PageID:            uuid.New(),
		PageNumber:        pageNum,
		DocumentID:        docID,
		DocumentName:      "doc",
		DocumentCreatedAt: createdAt,
		Vectors:           vectors,
	}
}

func TestSearchScoresAndRanks(t *testing.T) {
	// Two pages, query of two vectors. Page one's patches line up with the
	// query, page two's do not.
	docA := uuid.New()
	docB := uuid.New()
	now := time.Now()

	pages := []vectorstore.PageData{
		page(docA, 1, now, [][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0, 0, 0.5, 0},
			{0, 0, 0, 0.5},
		}),
		page(docB, 1, now, [][]float32{
			{0, 0, 1, 0},
			{0, 0, 0, 1},
			{0.2, 0, 0, 0},
			{0, 0.2, 0, 0},
		}),
	}
	store := &fakeStore{
		candidates: []uuid.UUID{pages[0].PageID, pages[1].PageID},
		pages:      pages,
	}
	embedder := &fakeEmbedder{vecs: [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}}}
	scoper := &fakeScoper{ids: []uuid.UUID{docA, docB}}

	results, err := newPlanner(embedder, store, scoper).Search(context.Background(), Request{
		OwnerID:        uuid.New(),
		CollectionName: "demo",
		Query:          "what is in the chart",
		TopK:           10,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// MaxSim: page A scores 1+1=2, page B scores 0.2+0.2=0.4.
	assert.Equal(t, docA, results[0].DocumentID)
	assert.InDelta(t, 2.0, results[0].RawScore, 1e-9)
	assert.InDelta(t, 0.4, results[1].RawScore, 1e-9)
	assert.InDelta(t, 2.0/14.0, results[0].NormalizedScore, 1e-9, "raw over query count plus offset")

	assert.Equal(t, []uuid.UUID{docA, docB}, store.gotScope)
	assert.Equal(t, 50, store.gotPerVec)
}

func TestSearchTieBreaksOnAgeThenPage(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	docOld := uuid.New()
	docNew := uuid.New()
	vecs := [][]float32{{1, 0}}

	pages := []vectorstore.PageData{
		page(docNew, 1, newer, vecs),
		page(docOld, 2, older, vecs),
		page(docOld, 1, older, vecs),
	}
	ids := make([]uuid.UUID, len(pages))
	for i := range pages {
		ids[i] = pages[i].PageID
	}
	store := &fakeStore{candidates: ids, pages: pages}
	embedder := &fakeEmbedder{vecs: [][]float32{{1, 0}}}
	scoper := &fakeScoper{ids: []uuid.UUID{docOld, docNew}}

	results, err := newPlanner(embedder, store, scoper).Search(context.Background(), Request{
		Query: "q", TopK: 3,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, docOld, results[0].DocumentID)
	assert.Equal(t, 1, results[0].PageNumber)
	assert.Equal(t, docOld, results[1].DocumentID)
	assert.Equal(t, 2, results[1].PageNumber)
	assert.Equal(t, docNew, results[2].DocumentID)
}

func TestSearchTruncatesToTopK(t *testing.T) {
	now := time.Now()
	var pages []vectorstore.PageData
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		p := page(uuid.New(), i+1, now, [][]float32{{float32(i), 0}})
		pages = append(pages, p)
		ids = append(ids, p.PageID)
	}
	store := &fakeStore{candidates: ids, pages: pages}
	embedder := &fakeEmbedder{vecs: [][]float32{{1, 0}}}
	scoper := &fakeScoper{ids: []uuid.UUID{uuid.New()}}

	results, err := newPlanner(embedder, store, scoper).Search(context.Background(), Request{
		Query: "q", TopK: 2,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.GreaterOrEqual(t, results[0].RawScore, results[1].RawScore)
}

func TestSearchDefaultsTopK(t *testing.T) {
	now := time.Now()
	var pages []vectorstore.PageData
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		p := page(uuid.New(), i+1, now, [][]float32{{1, 0}})
		pages = append(pages, p)
		ids = append(ids, p.PageID)
	}
	store := &fakeStore{candidates: ids, pages: pages}
	embedder := &fakeEmbedder{vecs: [][]float32{{1, 0}}}
	scoper := &fakeScoper{ids: []uuid.UUID{uuid.New()}}

	results, err := newPlanner(embedder, store, scoper).Search(context.Background(), Request{
		Query: "q",
	})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearchEmptyScopeSkipsEmbedding(t *testing.T) {
	store := &fakeStore{}
	embedder := &fakeEmbedder{vecs: [][]float32{{1, 0}}}
	scoper := &fakeScoper{ids: nil}

	results, err := newPlanner(embedder, store, scoper).Search(context.Background(), Request{
		Query: "q", TopK: 3,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, embedder.calls)
	assert.Equal(t, 0, store.searchCalls)
}

func TestSearchRejectsBadInput(t *testing.T) {
	p := newPlanner(&fakeEmbedder{}, &fakeStore{}, &fakeScoper{})

	_, err := p.Search(context.Background(), Request{Query: "", TopK: 3})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	_, err = p.Search(context.Background(), Request{Query: "q", TopK: -1})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

func TestSearchPassesFilterThrough(t *testing.T) {
	pred := &filter.Predicate{On: filter.OnDocument, Key: "team", Value: "infra", Lookup: filter.LookupKey}
	scoper := &fakeScoper{ids: nil}

	_, err := newPlanner(&fakeEmbedder{}, &fakeStore{}, scoper).Search(context.Background(), Request{
		Query: "q", TopK: 1, Filter: pred,
	})
	require.NoError(t, err)
	assert.Equal(t, pred, scoper.gotPred)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 3}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 1}))
}
