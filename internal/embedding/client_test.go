package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchvec/patchvec/internal/config"
	"github.com/patchvec/patchvec/internal/errdefs"
)

func newTestClient(url string, dim, batchSize int) *Client {
	return NewClient(config.EmbedderConfig{
		URL:       url,
		Token:     "secret",
		Dim:       dim,
		BatchSize: batchSize,
	})
}

func embedHandler(t *testing.T, dim int, calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var resp embedResponse
		for i := range req.Input.InputData {
			vec := make([]float32, dim)
			vec[0] = float32(i)
			resp.Output.Data = append(resp.Output.Data, struct {
				Embedding [][]float32 `json:"embedding"`
				Index     int         `json:"index"`
			}{Embedding: [][]float32{vec, vec}, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func TestEmbedPagesBatches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(embedHandler(t, 4, &calls))
	defer srv.Close()

	c := newTestClient(srv.URL, 4, 2)

	sets, err := c.EmbedPages(context.Background(), [][]byte{
		[]byte("p1"), []byte("p2"), []byte("p3"), []byte("p4"), []byte("p5"),
	})
	require.NoError(t, err)

	assert.Len(t, sets, 5)
	for _, set := range sets {
		assert.Len(t, set, 2)
		assert.Len(t, set[0], 4)
	}
	// 5 images at batch size 2 -> 3 requests.
	assert.Equal(t, int32(3), calls.Load())
}

func TestEmbedQuery(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(embedHandler(t, 4, &calls))
	defer srv.Close()

	c := newTestClient(srv.URL, 4, 3)

	vecs, err := c.EmbedQuery(context.Background(), "a dog on a skateboard")
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 4)
}

func TestEmbedModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 4, 3)

	_, err := c.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, errdefs.ErrModelError)
}

func TestEmbedWidthMismatch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(embedHandler(t, 4, &calls))
	defer srv.Close()

	// Client expects width 8, server answers width 4.
	c := newTestClient(srv.URL, 8, 3)

	_, err := c.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, errdefs.ErrDimensionMismatch)
}

func TestEmbedCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 4, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.EmbedQuery(ctx, "q")
	assert.Error(t, err)
}
