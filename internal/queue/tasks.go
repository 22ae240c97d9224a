package queue

import "encoding/json"

const (
	TypeDocumentIngest = "document:ingest"
	TypeWebhookDeliver = "webhook:deliver"
)

type DocumentIngestPayload struct {
	DocumentID string `json:"document_id"`
}

type WebhookDeliverPayload struct {
	WebhookID string          `json:"webhook_id"`
	URL       string          `json:"url"`
	Secret    string          `json:"secret"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
}
