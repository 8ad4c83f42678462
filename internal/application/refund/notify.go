package refund

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/chainpay/internal/domain/refund"
)

// Webhook event types.
const (
	EventRefundCreated    = "refund.created"
	EventRefundProcessing = "refund.processing"
	EventRefundCompleted  = "refund.completed"
	EventRefundFailed     = "refund.failed"
)

// notify queues a webhook on a detached goroutine. The caller's outcome never
// depends on it: cancellation of ctx, notifier errors and panics all stop here.
func (s *Service) notify(ctx context.Context, event string, r *refund.Refund) {
	payload := Payload(r)
	userID := r.UserID
	base := context.WithoutCancel(ctx)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				err := fmt.Errorf("notifier panic: %v", rec)
				s.metrics.RecordNotification(event, err)
				s.logger.Error().Err(err).Str("event", event).Msg("webhook notification panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(base, s.notifyTimeout)
		defer cancel()

		start := time.Now()
		err := s.notifier.QueueWebhook(ctx, userID, event, payload)
		s.metrics.RecordNotification(event, err)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("event", event).
				Str("refund_id", payload["refund_id"].(string)).
				Dur("elapsed", time.Since(start)).
				Msg("failed to queue webhook")
		}
	}()
}
