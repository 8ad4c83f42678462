package testutil

import (
	"strings"
	"time"

	"github.com/cassiomorais/chainpay/internal/domain/payment"
	"github.com/cassiomorais/chainpay/internal/domain/refund"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	MerchantAddress = "0x1111111111111111111111111111111111111111"
	CustomerAddress = "0x2222222222222222222222222222222222222222"
)

// NewTestSession returns a settled USDC payment session on ethereum.
func NewTestSession(userID, amount string) *payment.Session {
	now := time.Now().UTC()
	customer := CustomerAddress
	txHash := "0x" + strings.Repeat("ab", 32)
	block := uint64(19_000_000)
	return &payment.Session{
		ID:              uuid.New(),
		UserID:          userID,
		Network:         "ethereum",
		Token:           "USDC",
		Amount:          decimal.RequireFromString(amount),
		MerchantAddress: MerchantAddress,
		CustomerAddress: &customer,
		Status:          payment.StatusCompleted,
		TxHash:          &txHash,
		BlockNumber:     &block,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewTestRefund returns a refund of amount in the given status. createdAt
// orders refunds in claim queries.
func NewTestRefund(sessionID uuid.UUID, userID, amount string, status refund.Status, createdAt time.Time) *refund.Refund {
	return &refund.Refund{
		ID:               uuid.New(),
		PaymentSessionID: sessionID,
		UserID:           userID,
		Amount:           decimal.RequireFromString(amount),
		Status:           status,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}
}

func StringPtr(s string) *string { return &s }
