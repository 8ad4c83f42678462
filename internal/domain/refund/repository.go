package refund

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Repository defines the interface for refund persistence
type Repository interface {
	// Create inserts a new refund
	Create(ctx context.Context, r *Refund) error

	// GetByID retrieves a refund by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Refund, error)

	// GetByIdempotencyKey retrieves the refund created for (session, key), or nil
	GetByIdempotencyKey(ctx context.Context, paymentSessionID uuid.UUID, key string) (*Refund, error)

	// Update persists r only if the stored status still equals from
	Update(ctx context.Context, r *Refund, from Status) error

	// SumActiveAmount totals every non-FAILED refund of a session
	SumActiveAmount(ctx context.Context, paymentSessionID uuid.UUID) (decimal.Decimal, error)

	// SumCompletedAmount totals the COMPLETED refunds of a session
	SumCompletedAmount(ctx context.Context, paymentSessionID uuid.UUID) (decimal.Decimal, error)

	// ClaimPending locks up to limit pending refunds, oldest first, skipping
	// rows locked elsewhere. Must run inside a transaction.
	ClaimPending(ctx context.Context, limit int) ([]*Refund, error)

	// ListPending returns up to limit pending refunds, oldest first, without locking
	ListPending(ctx context.Context, limit int) ([]*Refund, error)

	// ListAwaitingFinality returns processing refunds that carry a tx hash
	ListAwaitingFinality(ctx context.Context, limit int) ([]*Refund, error)
}
