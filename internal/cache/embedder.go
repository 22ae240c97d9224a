package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// QueryEmbedder matches the embedding client's query call.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([][]float32, error)
}

// CachedQueryEmbedder memoizes query embeddings. Embedding a query is the
// slowest part of a cold search, and repeated queries are common, so hits
// skip the model round trip entirely. Failures fall through to the inner
// embedder.
type CachedQueryEmbedder struct {
	inner  QueryEmbedder
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedQueryEmbedder(inner QueryEmbedder, cache *Cache, ttl time.Duration, logger *slog.Logger) *CachedQueryEmbedder {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedQueryEmbedder{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

func (e *CachedQueryEmbedder) EmbedQuery(ctx context.Context, query string) ([][]float32, error) {
	key := queryKey(query)

	var cached [][]float32
	err := e.cache.Get(ctx, key, &cached)
	if err == nil && len(cached) > 0 {
		return cached, nil
	}
	if err != nil && err != ErrMiss {
		e.logger.Warn("query embedding cache read failed", "error", err)
	}

	vecs, err := e.inner.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := e.cache.Set(ctx, key, vecs, e.ttl); err != nil {
		e.logger.Warn("query embedding cache write failed", "error", err)
	}
	return vecs, nil
}

func queryKey(query string) string {
	h := sha256.Sum256([]byte(query))
	return "qemb:" + hex.EncodeToString(h[:])
}
