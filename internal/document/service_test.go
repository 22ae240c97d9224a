package document

// Integration tests for the status machine: set TEST_DATABASE_URL to a
// Postgres with the pgvector extension to run them, e.g.
//
//	TEST_DATABASE_URL=postgres://localhost/patchvec_test go test ./internal/document/

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchvec/patchvec/internal/database"
	"github.com/patchvec/patchvec/internal/errdefs"
	"github.com/patchvec/patchvec/internal/models"
)

type recordingImageStore struct {
	removed []string
}

func (r *recordingImageStore) RemovePrefix(ctx context.Context, prefix string) error {
	r.removed = append(r.removed, prefix)
	return nil
}

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.RunMigrations(ctx, pool, "../../migrations"))
	return pool
}

func testUser(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()

	ctx := context.Background()
	suffix := uuid.NewString()

	var id uuid.UUID
	err := pool.QueryRow(ctx,
		"INSERT INTO users (email, token_hash) VALUES ($1, $2) RETURNING id",
		fmt.Sprintf("doc-test-%s@example.com", suffix), suffix,
	).Scan(&id)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Exec(context.Background(), "DELETE FROM users WHERE id = $1", id)
	})
	return id
}

func TestUpsertConflictsWhileProcessing(t *testing.T) {
	pool := testPool(t)
	owner := testUser(t, pool)
	svc := NewService(pool, nil)
	ctx := context.Background()

	req := UpsertRequest{CollectionName: "reports", Name: "q1", SourceURL: "https://example.com/q1.pdf"}

	doc, err := svc.Upsert(ctx, owner, req)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusPending, doc.Status)

	// A pending document can be re-upserted freely.
	again, err := svc.Upsert(ctx, owner, req)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)

	// Once a worker claims it, a concurrent upsert must see Conflict.
	claimed, err := svc.ClaimProcessing(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, models.DocStatusProcessing, claimed.Status)

	_, err = svc.Upsert(ctx, owner, req)
	require.ErrorIs(t, err, errdefs.ErrConflict)

	// Terminal states accept a re-upsert again.
	require.NoError(t, svc.MarkFailed(ctx, doc.ID, "rasterizer unreachable"))
	reset, err := svc.Upsert(ctx, owner, req)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusPending, reset.Status)
	assert.Equal(t, 0, reset.Attempts)
}

func TestWaitTerminal(t *testing.T) {
	pool := testPool(t)
	owner := testUser(t, pool)
	svc := NewService(pool, nil)
	ctx := context.Background()

	doc, err := svc.Upsert(ctx, owner, UpsertRequest{
		CollectionName: "reports", Name: "wait", SourceURL: "https://example.com/w.pdf",
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		if _, err := svc.ClaimProcessing(context.Background(), doc.ID); err != nil {
			return
		}
		svc.MarkIndexed(context.Background(), doc.ID, doc.ActiveGeneration+1, 2)
	}()

	final, err := svc.WaitTerminal(ctx, doc.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusIndexed, final.Status)
	assert.Equal(t, 2, final.NumPages)

	// An expired context hands back the last observed document, not an error.
	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	doc2, err := svc.Upsert(ctx, owner, UpsertRequest{
		CollectionName: "reports", Name: "stuck", SourceURL: "https://example.com/s.pdf",
	})
	require.NoError(t, err)
	observed, err := svc.WaitTerminal(short, doc2.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.DocStatusPending, observed.Status)
}

func TestMarkIndexedRemovesDisplacedImages(t *testing.T) {
	pool := testPool(t)
	owner := testUser(t, pool)
	images := &recordingImageStore{}
	svc := NewService(pool, images)
	ctx := context.Background()

	req := UpsertRequest{CollectionName: "reports", Name: "reindex", SourceURL: "https://example.com/r.pdf"}

	doc, err := svc.Upsert(ctx, owner, req)
	require.NoError(t, err)

	// First index: generation 0 -> 1, nothing stored to clean up yet.
	_, err = svc.ClaimProcessing(ctx, doc.ID)
	require.NoError(t, err)
	require.NoError(t, svc.MarkIndexed(ctx, doc.ID, 1, 1))
	assert.Empty(t, images.removed)

	// Re-index: generation 1 -> 2 must drop generation 1's image prefix.
	_, err = svc.Upsert(ctx, owner, req)
	require.NoError(t, err)
	_, err = svc.ClaimProcessing(ctx, doc.ID)
	require.NoError(t, err)
	require.NoError(t, svc.MarkIndexed(ctx, doc.ID, 2, 1))

	require.Len(t, images.removed, 1)
	assert.Equal(t, fmt.Sprintf("%s/1/", doc.ID), images.removed[0])
}
