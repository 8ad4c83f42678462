package payment

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the read/lock access this service needs to payment sessions
type Repository interface {
	// GetByID retrieves a payment session by ID
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)

	// LockByID retrieves a payment session and holds an exclusive row lock
	// until the surrounding transaction ends
	LockByID(ctx context.Context, id uuid.UUID) (*Session, error)

	// UpdateStatus sets the session status
	UpdateStatus(ctx context.Context, id uuid.UUID, status SessionStatus) error
}
