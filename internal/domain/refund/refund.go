package refund

import (
	"strings"
	"time"

	"github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status represents the refund status in the state machine
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Refund represents an on-chain refund of (part of) a payment session
type Refund struct {
	ID               uuid.UUID
	PaymentSessionID uuid.UUID
	UserID           string
	Amount           decimal.Decimal
	Reason           *string
	IdempotencyKey   *string
	Status           Status
	TxHash           *string
	BlockNumber      *uint64
	FailureReason    *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// New creates a pending refund. The caller is responsible for balance checks.
func New(paymentSessionID uuid.UUID, userID string, amount decimal.Decimal, reason, idempotencyKey *string) (*Refund, error) {
	if !amount.IsPositive() {
		return nil, errors.NewValidationError("amount", "must be greater than 0")
	}

	now := time.Now().UTC()
	return &Refund{
		ID:               uuid.New(),
		PaymentSessionID: paymentSessionID,
		UserID:           userID,
		Amount:           amount,
		Reason:           normalize(reason),
		IdempotencyKey:   normalize(idempotencyKey),
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {}, // Terminal state
	StatusFailed:     {}, // Terminal state
}

// CanTransitionTo checks if the refund can transition to the given status
func (r *Refund) CanTransitionTo(newStatus Status) bool {
	for _, allowed := range transitions[r.Status] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo transitions the refund to a new status
func (r *Refund) TransitionTo(newStatus Status) error {
	if !r.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_state",
			"cannot transition refund from "+string(r.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}

	now := time.Now().UTC()
	r.Status = newStatus
	r.UpdatedAt = now
	if r.IsTerminal() {
		r.CompletedAt = &now
	}
	return nil
}

// MarkProcessing transitions the refund to processing status
func (r *Refund) MarkProcessing() error {
	return r.TransitionTo(StatusProcessing)
}

// MarkCompleted transitions the refund to completed status
func (r *Refund) MarkCompleted(txHash string, blockNumber *uint64) error {
	if err := r.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	r.SetTransaction(txHash, blockNumber)
	return nil
}

// MarkFailed transitions the refund to failed status
func (r *Refund) MarkFailed(reason string) error {
	if err := r.TransitionTo(StatusFailed); err != nil {
		return err
	}
	r.FailureReason = &reason
	return nil
}

// SetTransaction records the on-chain transaction carrying the refund.
// Empty values leave the current ones untouched.
func (r *Refund) SetTransaction(txHash string, blockNumber *uint64) {
	if txHash != "" {
		r.TxHash = &txHash
	}
	if blockNumber != nil {
		bn := *blockNumber
		r.BlockNumber = &bn
	}
	r.UpdatedAt = time.Now().UTC()
}

// IsTerminal checks if the refund is in a terminal state
func (r *Refund) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// SameRequest reports whether a replayed create request carries the same
// parameters as the one that created r.
func (r *Refund) SameRequest(amount decimal.Decimal, reason *string) bool {
	return r.Amount.Equal(amount) && deref(r.Reason) == deref(normalize(reason))
}

func normalize(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
