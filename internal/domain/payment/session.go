package payment

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus represents the lifecycle status of a payment session
type SessionStatus string

const (
	StatusPending           SessionStatus = "PENDING"
	StatusConfirming        SessionStatus = "CONFIRMING"
	StatusCompleted         SessionStatus = "COMPLETED"
	StatusFailed            SessionStatus = "FAILED"
	StatusExpired           SessionStatus = "EXPIRED"
	StatusPartiallyRefunded SessionStatus = "PARTIALLY_REFUNDED"
	StatusRefunded          SessionStatus = "REFUNDED"
)

// Session is a stablecoin payment session. Sessions are created and
// settled outside this service; refunds and verification only read them.
type Session struct {
	ID              uuid.UUID
	UserID          string
	Network         string
	Token           string
	Amount          decimal.Decimal
	MerchantAddress string
	CustomerAddress *string
	Status          SessionStatus
	TxHash          *string
	BlockNumber     *uint64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsRefundable reports whether refunds may be created against the session.
func (s *Session) IsRefundable() bool {
	return s.Status == StatusCompleted || s.Status == StatusPartiallyRefunded
}

// ExpectedSender returns the customer address the payment must originate
// from, or "" when any sender is accepted.
func (s *Session) ExpectedSender() string {
	if s.CustomerAddress == nil {
		return ""
	}
	return strings.TrimSpace(*s.CustomerAddress)
}

// RefundStatusFor returns the session status after refunds totalling
// refunded have settled on-chain.
func (s *Session) RefundStatusFor(refunded decimal.Decimal) SessionStatus {
	if refunded.Sign() <= 0 {
		return s.Status
	}
	if refunded.GreaterThanOrEqual(s.Amount) {
		return StatusRefunded
	}
	return StatusPartiallyRefunded
}
