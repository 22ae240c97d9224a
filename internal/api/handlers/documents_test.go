package handlers

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patchvec/patchvec/internal/queue"
)

type fakeEnqueuer struct {
	payloads []queue.DocumentIngestPayload
	err      error
}

func (f *fakeEnqueuer) EnqueueDocumentIngest(payload queue.DocumentIngestPayload) error {
	f.payloads = append(f.payloads, payload)
	return f.err
}

func TestScheduleIngest(t *testing.T) {
	docID := uuid.New()

	t.Run("enqueues the document id", func(t *testing.T) {
		enq := &fakeEnqueuer{}
		require.NoError(t, scheduleIngest(enq, docID))
		require.Len(t, enq.payloads, 1)
		assert.Equal(t, docID.String(), enq.payloads[0].DocumentID)
	})

	t.Run("duplicate task means a run is already scheduled", func(t *testing.T) {
		// A re-upsert while the first ingest task is still queued resets
		// the row but trips asynq's uniqueness lock. The queued run will
		// index the reset row, so the caller must not see an error.
		enq := &fakeEnqueuer{err: asynq.ErrDuplicateTask}
		assert.NoError(t, scheduleIngest(enq, docID))
	})

	t.Run("other enqueue failures propagate", func(t *testing.T) {
		enq := &fakeEnqueuer{err: errors.New("redis down")}
		assert.Error(t, scheduleIngest(enq, docID))
	})
}
