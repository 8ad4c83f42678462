// Package notify holds the webhook notifier used when no broker is configured.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes webhook events to the log instead of a broker.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (n *LogNotifier) QueueWebhook(_ context.Context, userID, eventType string, payload map[string]any) error {
	n.logger.Info().
		Str("user_id", userID).
		Str("event_type", eventType).
		Interface("payload", payload).
		Msg("Webhook event (no broker configured)")
	return nil
}
