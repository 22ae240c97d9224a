// Package workers holds the asynq task handlers the worker binary serves.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/patchvec/patchvec/internal/ingest"
	"github.com/patchvec/patchvec/internal/metrics"
	"github.com/patchvec/patchvec/internal/queue"
)

type IngestWorker struct {
	coordinator *ingest.Coordinator
}

func NewIngestWorker(coordinator *ingest.Coordinator) *IngestWorker {
	return &IngestWorker{coordinator: coordinator}
}

func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.DocumentIngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	docID, err := uuid.Parse(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("parse document id: %w", err)
	}

	slog.Info("ingesting document", "document_id", docID)
	started := time.Now()

	if err := w.coordinator.Process(ctx, docID); err != nil {
		metrics.IngestRuns.WithLabelValues("error").Inc()
		return fmt.Errorf("ingest document %s: %w", docID, err)
	}

	metrics.IngestRuns.WithLabelValues("ok").Inc()
	metrics.IngestDuration.Observe(time.Since(started).Seconds())
	return nil
}
