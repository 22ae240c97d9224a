package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/patchvec/patchvec/internal/queue"
	"github.com/patchvec/patchvec/internal/webhook"
)

type WebhookWorker struct {
	deliverer *webhook.Deliverer
}

func NewWebhookWorker(deliverer *webhook.Deliverer) *WebhookWorker {
	return &WebhookWorker{deliverer: deliverer}
}

func (w *WebhookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return w.deliverer.Deliver(ctx, payload)
}
