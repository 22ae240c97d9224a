// Package ingest runs the indexing pipeline for a single document: rasterize
// the source into page images, embed each page into patch vectors, and stage
// the vectors under a fresh generation that becomes visible only when the
// whole document succeeded.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/patchvec/patchvec/internal/errdefs"
	"github.com/patchvec/patchvec/internal/models"
	"github.com/patchvec/patchvec/internal/rasterize"
	"github.com/patchvec/patchvec/internal/storage"
	"github.com/patchvec/patchvec/internal/vectorstore"
)

// Docs is the slice of the document service the pipeline drives.
type Docs interface {
	ClaimProcessing(ctx context.Context, id uuid.UUID) (*models.Document, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, attemptErr error) error
	MarkIndexed(ctx context.Context, id uuid.UUID, generation int64, numPages int) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type Rasterizer interface {
	Rasterize(ctx context.Context, source rasterize.Source) (*rasterize.PageIter, error)
}

type Embedder interface {
	EmbedPages(ctx context.Context, images [][]byte) ([][][]float32, error)
}

type Store interface {
	Put(ctx context.Context, page vectorstore.PageInsert) (uuid.UUID, error)
	DeleteGeneration(ctx context.Context, documentID uuid.UUID, generation int64) error
}

// ObjectStore persists rendered page images and serves back uploaded
// document bodies.
type ObjectStore interface {
	PutPage(ctx context.Context, documentID uuid.UUID, generation int64, pageNumber int, image []byte) (string, error)
	GetSource(ctx context.Context, ref string) ([]byte, error)
}

// Notifier is told about terminal outcomes. Implementations must not block
// the pipeline; delivery happens out of band.
type Notifier interface {
	DocumentIndexed(ctx context.Context, doc *models.Document, numPages int)
	DocumentFailed(ctx context.Context, doc *models.Document, reason string)
}

type Coordinator struct {
	docs     Docs
	raster   Rasterizer
	embedder Embedder
	store    Store
	objects  ObjectStore
	notifier Notifier
	backoff  Backoff
	logger   *slog.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewCoordinator(docs Docs, raster Rasterizer, embedder Embedder, store Store, objects ObjectStore, notifier Notifier, backoff Backoff, logger *slog.Logger) *Coordinator {
	if backoff.MaxAttempts < 1 {
		backoff.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		docs:     docs,
		raster:   raster,
		embedder: embedder,
		store:    store,
		objects:  objects,
		notifier: notifier,
		backoff:  backoff,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Process indexes one document end to end. The caller (the queue worker)
// invokes it exactly once per enqueued task; all retrying happens here so
// the schedule stays in one place.
//
// The document must be pending. A document another worker already claimed
// yields Conflict and the task is dropped rather than retried.
func (c *Coordinator) Process(ctx context.Context, docID uuid.UUID) error {
	doc, err := c.docs.ClaimProcessing(ctx, docID)
	if err != nil {
		if errors.Is(err, errdefs.ErrConflict) || errors.Is(err, errdefs.ErrNotFound) {
			c.logger.Warn("skipping document", "document_id", docID, "error", err)
			return nil
		}
		return fmt.Errorf("claim document %s: %w", docID, err)
	}

	// Stage the new pages under the next generation. The active one stays
	// queryable until MarkIndexed swaps it out.
	staged := doc.ActiveGeneration + 1

	var lastErr error
	for attempt := 1; attempt <= c.backoff.MaxAttempts; attempt++ {
		numPages, err := c.index(ctx, doc, staged)
		if err == nil {
			if err := c.docs.MarkIndexed(ctx, docID, staged, numPages); err != nil {
				return fmt.Errorf("promote generation %d: %w", staged, err)
			}
			c.logger.Info("document indexed",
				"document_id", docID, "pages", numPages, "attempt", attempt)
			if c.notifier != nil {
				c.notifier.DocumentIndexed(ctx, doc, numPages)
			}
			return nil
		}
		lastErr = err

		// Wipe the half-staged generation so a retry starts clean and a
		// failure leaves only the previously active pages behind.
		if delErr := c.store.DeleteGeneration(ctx, docID, staged); delErr != nil {
			c.logger.Error("failed to clear staged pages",
				"document_id", docID, "generation", staged, "error", delErr)
		}
		if recErr := c.docs.RecordAttempt(ctx, docID, err); recErr != nil {
			c.logger.Error("failed to record attempt", "document_id", docID, "error", recErr)
		}
		c.logger.Warn("indexing attempt failed",
			"document_id", docID, "attempt", attempt, "error", err)

		if !retryable(err) || attempt == c.backoff.MaxAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoff.Delay(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	if err := c.docs.MarkFailed(ctx, docID, lastErr.Error()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	c.logger.Error("document failed", "document_id", docID, "error", lastErr)
	if c.notifier != nil {
		c.notifier.DocumentFailed(ctx, doc, lastErr.Error())
	}
	return nil
}

// index performs one attempt: rasterize, store page images, embed, and write
// each page's vectors under the staged generation.
func (c *Coordinator) index(ctx context.Context, doc *models.Document, generation int64) (int, error) {
	src := rasterize.Source{URL: doc.SourceURL, Filename: doc.Name}
	if storage.IsSourceRef(doc.SourceURL) {
		if c.objects == nil {
			return 0, fmt.Errorf("document source %q needs object storage: %w",
				doc.SourceURL, errdefs.ErrInvalidArgument)
		}
		data, err := c.objects.GetSource(ctx, doc.SourceURL)
		if err != nil {
			return 0, fmt.Errorf("fetch stored source: %v: %w", err, errdefs.ErrFetchError)
		}
		src = rasterize.Source{Data: data, Filename: doc.Name}
	}

	iter, err := c.raster.Rasterize(ctx, src)
	if err != nil {
		return 0, err
	}

	var (
		images [][]byte
		paths  []string
	)
	for {
		img, pageNum, err := iter.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		path := ""
		if c.objects != nil {
			path, err = c.objects.PutPage(ctx, doc.ID, generation, pageNum, img)
			if err != nil {
				return 0, fmt.Errorf("store page %d image: %w", pageNum, err)
			}
		}
		images = append(images, img)
		paths = append(paths, path)
	}
	if len(images) == 0 {
		return 0, fmt.Errorf("document has no pages: %w", errdefs.ErrUnsupportedFormat)
	}

	vectorSets, err := c.embedder.EmbedPages(ctx, images)
	if err != nil {
		return 0, err
	}
	if len(vectorSets) != len(images) {
		return 0, fmt.Errorf("embedder returned %d vector sets for %d pages: %w",
			len(vectorSets), len(images), errdefs.ErrModelError)
	}

	for i, vectors := range vectorSets {
		_, err := c.store.Put(ctx, vectorstore.PageInsert{
			DocumentID: doc.ID,
			Generation: generation,
			PageNumber: i + 1,
			ImagePath:  paths[i],
			Vectors:    vectors,
		})
		if err != nil {
			return 0, fmt.Errorf("store page %d vectors: %w", i+1, err)
		}
	}
	return len(images), nil
}

// retryable reports whether another attempt could change the outcome.
// Malformed documents and mismatched model output fail the same way every
// time, so they go terminal immediately.
func retryable(err error) bool {
	switch {
	case errors.Is(err, errdefs.ErrUnsupportedFormat),
		errors.Is(err, errdefs.ErrDimensionMismatch),
		errors.Is(err, errdefs.ErrInvalidArgument),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
