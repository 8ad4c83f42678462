package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const DefaultWebhookTopic = "chainpay.webhooks"

// MessageWriter is the subset of *kafka.Writer used by WebhookPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// WebhookPublisher queues webhook deliveries on a Kafka topic, keyed by
// user so a user's events stay ordered within a partition.
type WebhookPublisher struct {
	writer MessageWriter
	now    func() time.Time
}

// NewWriter builds a synchronous writer for the given brokers and topic.
func NewWriter(brokers []string, topic string, logger zerolog.Logger) *kafka.Writer {
	if topic == "" {
		topic = DefaultWebhookTopic
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			logger.Error().Msgf(msg, args...)
		}),
	}
}

func NewWebhookPublisher(writer MessageWriter) *WebhookPublisher {
	return &WebhookPublisher{writer: writer, now: time.Now}
}

type envelope struct {
	UserID    string         `json:"user_id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

func (p *WebhookPublisher) QueueWebhook(ctx context.Context, userID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(envelope{
		UserID:    userID,
		EventType: eventType,
		Payload:   payload,
		Timestamp: p.now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(userID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish webhook %s: %w", eventType, err)
	}
	return nil
}

func (p *WebhookPublisher) Close() error {
	return p.writer.Close()
}
