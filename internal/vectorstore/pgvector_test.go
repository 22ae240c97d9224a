package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/patchvec/patchvec/internal/errdefs"
)

// Shape validation runs before any database work, so the invalid cases are
// testable without a pool.

func TestPutRejectsWrongPatchCount(t *testing.T) {
	s := NewPgStore(nil, 4, 2, MetricDot)

	_, err := s.Put(context.Background(), PageInsert{
		DocumentID: uuid.New(),
		PageNumber: 1,
		Vectors:    [][]float32{{1, 2, 3, 4}}, // grid wants 2 vectors
	})
	assert.ErrorIs(t, err, errdefs.ErrDimensionMismatch)
}

func TestPutRejectsWrongWidth(t *testing.T) {
	s := NewPgStore(nil, 4, 2, MetricDot)

	_, err := s.Put(context.Background(), PageInsert{
		DocumentID: uuid.New(),
		PageNumber: 1,
		Vectors:    [][]float32{{1, 2, 3, 4}, {1, 2, 3}},
	})
	assert.ErrorIs(t, err, errdefs.ErrDimensionMismatch)
}

func TestCandidateSearchEmptyInputs(t *testing.T) {
	s := NewPgStore(nil, 4, 2, MetricDot)

	ids, err := s.CandidateSearch(context.Background(), nil, []uuid.UUID{uuid.New()}, 10)
	assert.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = s.CandidateSearch(context.Background(), [][]float32{{1, 2, 3, 4}}, nil, 10)
	assert.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCandidateSearchRejectsNonPositiveLimit(t *testing.T) {
	s := NewPgStore(nil, 4, 2, MetricDot)

	_, err := s.CandidateSearch(context.Background(),
		[][]float32{{1, 2, 3, 4}}, []uuid.UUID{uuid.New()}, 0)
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

func TestMetricOperatorSelection(t *testing.T) {
	dot := NewPgStore(nil, 128, 16, MetricDot)
	cos := NewPgStore(nil, 128, 16, MetricCosine)

	assert.Contains(t, dot.annOrderBy, "<#>")
	assert.Contains(t, dot.annOrderBy, "halfvec(128)")
	assert.Contains(t, cos.annOrderBy, "<=>")
}
