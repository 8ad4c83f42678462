package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const WebhookStream = "webhooks:delivery"

// WebhookProducer queues webhook deliveries on a Redis stream consumed by
// the notification dispatcher.
type WebhookProducer struct {
	client redis.UniversalClient
	stream string
	now    func() time.Time
}

func NewWebhookProducer(client redis.UniversalClient, stream string) *WebhookProducer {
	if stream == "" {
		stream = WebhookStream
	}
	return &WebhookProducer{client: client, stream: stream, now: time.Now}
}

func (p *WebhookProducer) QueueWebhook(ctx context.Context, userID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"user_id":    userID,
			"event_type": eventType,
			"payload":    string(body),
			"timestamp":  p.now().Unix(),
		},
	}

	if _, err := p.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to queue webhook %s: %w", eventType, err)
	}
	return nil
}
