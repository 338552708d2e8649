package types

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

var (
	QueueTypeWebhookDeliver = "webhook:deliver"
	QueueWebhooks           = "webhooks"
)

// WebhookTask is one delivery attempt of a webhook lineage
type WebhookTask struct {
	DeliveryID string          `json:"deliveryId" validate:"required"`
	URL        string          `json:"url" validate:"required,url"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
	Attempt    int             `json:"attempt" validate:"required,min=1"`
}

func NewWebhookDeliveryTask(task *WebhookTask) (*asynq.Task, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(QueueTypeWebhookDeliver, payload), nil
}
