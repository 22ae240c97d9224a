package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 128, cfg.Embedder.Dim)
	assert.Equal(t, 1030, cfg.Embedder.PatchGrid)
	assert.Equal(t, "dot", cfg.Embedder.Metric)
	assert.Equal(t, 3, cfg.Ingest.MaxAttempts)
	assert.Equal(t, 100, cfg.Search.CandidatesPerVector)
	assert.Equal(t, int64(50<<20), cfg.Rasterizer.MaxSizeBytes)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("EMBEDDER_DIM", "64")
	t.Setenv("EMBEDDER_METRIC", "cosine")
	t.Setenv("INGEST_BACKOFF_BASE", "2s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 64, cfg.Embedder.Dim)
	assert.Equal(t, "cosine", cfg.Embedder.Metric)
	assert.Equal(t, 2*time.Second, cfg.Ingest.BackoffBase)
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	// Required URLs missing by default.
	assert.Error(t, cfg.Validate())

	cfg.Database.URL = "postgres://localhost/patchvec"
	cfg.Embedder.URL = "http://localhost:8001"
	cfg.Rasterizer.URL = "http://localhost:3000"
	assert.NoError(t, cfg.Validate())

	cfg.Embedder.Metric = "euclidean"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMismatchedDim(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Database.URL = "postgres://localhost/patchvec"
	cfg.Embedder.URL = "http://localhost:8001"
	cfg.Rasterizer.URL = "http://localhost:3000"
	require.NoError(t, cfg.Validate())

	// The schema hard-codes the vector width; any other EMBEDDER_DIM would
	// only surface as a Postgres error on the first insert.
	cfg.Embedder.Dim = 64
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector(128)")
}
