package refund

import (
	"time"

	"github.com/cassiomorais/chainpay/internal/domain/refund"
)

// Payload renders r as a webhook body. Every value is a plain JSON type;
// the amount is a float64 so receivers see a number, not a decimal struct.
func Payload(r *refund.Refund) map[string]any {
	p := map[string]any{
		"refund_id":          r.ID.String(),
		"payment_session_id": r.PaymentSessionID.String(),
		"amount":             r.Amount.InexactFloat64(),
		"status":             string(r.Status),
		"created_at":         r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if r.Reason != nil {
		p["reason"] = *r.Reason
	}
	if r.TxHash != nil {
		p["tx_hash"] = *r.TxHash
	}
	if r.BlockNumber != nil {
		p["block_number"] = *r.BlockNumber
	}
	if r.FailureReason != nil {
		p["error"] = *r.FailureReason
	}
	if r.CompletedAt != nil {
		p["completed_at"] = r.CompletedAt.UTC().Format(time.RFC3339)
	}
	return p
}
