package controller

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/cassiomorais/chainpay/internal/blockchain"
	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/domain/refund"
	"github.com/shopspring/decimal"
)

// --- Request DTOs ---
// Amounts arrive as json.Number (a JSON number or a numeric string) and are
// parsed straight into decimals, never through float64.

// CreateRefundRequest holds the input for creating a refund.
type CreateRefundRequest struct {
	Amount json.Number `json:"amount" validate:"required"`
	Reason *string     `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// VerifyPaymentRequest holds the input for verifying a payment transaction.
type VerifyPaymentRequest struct {
	TxHash           string `json:"tx_hash" validate:"required"`
	MinConfirmations int    `json:"min_confirmations" validate:"gte=0,lte=1000"`
}

// --- Response DTOs ---
// Monetary fields are plain JSON numbers.

// RefundResponse represents a refund in API responses.
type RefundResponse struct {
	ID               string     `json:"id"`
	PaymentSessionID string     `json:"payment_session_id"`
	Amount           float64    `json:"amount"`
	Reason           *string    `json:"reason,omitempty"`
	Status           string     `json:"status"`
	TxHash           *string    `json:"tx_hash,omitempty"`
	BlockNumber      *uint64    `json:"block_number,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// VerificationResponse is the outcome of a payment verification.
type VerificationResponse struct {
	Valid         bool   `json:"valid"`
	Confirmations int    `json:"confirmations"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	Sender        string `json:"sender,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromRefund converts a domain refund to API response.
func FromRefund(r *refund.Refund) *RefundResponse {
	return &RefundResponse{
		ID:               r.ID.String(),
		PaymentSessionID: r.PaymentSessionID.String(),
		Amount:           r.Amount.InexactFloat64(),
		Reason:           r.Reason,
		Status:           string(r.Status),
		TxHash:           r.TxHash,
		BlockNumber:      r.BlockNumber,
		FailureReason:    r.FailureReason,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		CompletedAt:      r.CompletedAt,
	}
}

// FromVerification converts a verification result to API response.
func FromVerification(v *blockchain.VerificationResult) *VerificationResponse {
	return &VerificationResponse{
		Valid:         v.Valid,
		Confirmations: v.Confirmations,
		BlockNumber:   v.BlockNumber,
		Sender:        v.Sender,
		Error:         v.Error,
	}
}

// parseAmount converts a request amount to an exact decimal.
func parseAmount(n json.Number) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(n.String()))
	if err != nil {
		return decimal.Zero, domainErrors.NewValidationError("amount", "must be a decimal number")
	}
	return d, nil
}
