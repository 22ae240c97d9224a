package rasterize

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchvec/patchvec/internal/config"
	"github.com/patchvec/patchvec/internal/errdefs"
)

func TestRasterizeIteratesPagesInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rasterizeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://example.com/doc.pdf", req.URL)

		json.NewEncoder(w).Encode(rasterizeResponse{Pages: []string{
			base64.StdEncoding.EncodeToString([]byte("page-one")),
			base64.StdEncoding.EncodeToString([]byte("page-two")),
		}})
	}))
	defer srv.Close()

	c := NewClient(config.RasterizerConfig{URL: srv.URL})

	it, err := c.Rasterize(context.Background(), Source{URL: "https://example.com/doc.pdf"})
	require.NoError(t, err)

	img, n, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte("page-one"), img)

	img, n, err = it.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte("page-two"), img)

	_, _, err = it.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRasterizeUnsupportedFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cannot convert", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(config.RasterizerConfig{URL: srv.URL})

	_, err := c.Rasterize(context.Background(), Source{URL: "https://example.com/doc.xyz"})
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedFormat)
}

func TestRasterizeFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(config.RasterizerConfig{URL: srv.URL})

	_, err := c.Rasterize(context.Background(), Source{URL: "https://example.com/doc.pdf"})
	assert.ErrorIs(t, err, errdefs.ErrFetchError)
}

func TestRasterizeRejectsOversizedInline(t *testing.T) {
	c := NewClient(config.RasterizerConfig{URL: "http://unused", MaxSizeBytes: 8})

	_, err := c.Rasterize(context.Background(), Source{Data: []byte("way more than eight bytes")})
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedFormat)
}

func TestRasterizeRequiresSource(t *testing.T) {
	c := NewClient(config.RasterizerConfig{URL: "http://unused"})

	_, err := c.Rasterize(context.Background(), Source{})
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}
