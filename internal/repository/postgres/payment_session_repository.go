package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, user_id, network, token, amount::text, merchant_address, customer_address,
	status, tx_hash, block_number, created_at, updated_at`

// PaymentSessionRepository implements payment.Repository using PostgreSQL.
type PaymentSessionRepository struct {
	pool *pgxpool.Pool
}

// NewPaymentSessionRepository creates a new PaymentSessionRepository.
func NewPaymentSessionRepository(pool *pgxpool.Pool) *PaymentSessionRepository {
	return &PaymentSessionRepository{pool: pool}
}

func (r *PaymentSessionRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// GetByID retrieves a payment session by its ID.
func (r *PaymentSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Session, error) {
	return scanSession(r.db(ctx).QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM payment_sessions WHERE id = $1`, id))
}

// LockByID acquires a row-level lock on the session (SELECT FOR UPDATE).
func (r *PaymentSessionRepository) LockByID(ctx context.Context, id uuid.UUID) (*payment.Session, error) {
	if err := requireTx(ctx, "lock payment session"); err != nil {
		return nil, err
	}
	return scanSession(r.db(ctx).QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM payment_sessions WHERE id = $1 FOR UPDATE`, id))
}

// UpdateStatus sets the session status.
func (r *PaymentSessionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status payment.SessionStatus) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payment_sessions SET status = $1, updated_at = NOW() WHERE id = $2`,
		string(status), id,
	)
	if err != nil {
		return fmt.Errorf("update payment session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrPaymentSessionNotFound
	}
	return nil
}

func scanSession(s scanner) (*payment.Session, error) {
	ps := &payment.Session{}
	var (
		amount      string
		status      string
		blockNumber *int64
	)
	err := s.Scan(
		&ps.ID, &ps.UserID, &ps.Network, &ps.Token, &amount, &ps.MerchantAddress, &ps.CustomerAddress,
		&status, &ps.TxHash, &blockNumber, &ps.CreatedAt, &ps.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPaymentSessionNotFound
		}
		return nil, fmt.Errorf("scan payment session: %w", err)
	}

	if ps.Amount, err = parseNumeric(amount); err != nil {
		return nil, fmt.Errorf("parse session amount: %w", err)
	}
	ps.Status = payment.SessionStatus(status)
	ps.BlockNumber = fromInt8(blockNumber)
	return ps, nil
}
