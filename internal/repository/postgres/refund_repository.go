package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/domain/refund"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const refundColumns = `id, payment_session_id, user_id, amount::text, reason, idempotency_key,
	status, tx_hash, block_number, failure_reason, created_at, updated_at, completed_at`

// RefundRepository implements refund.Repository using PostgreSQL.
type RefundRepository struct {
	pool *pgxpool.Pool
}

// NewRefundRepository creates a new RefundRepository.
func NewRefundRepository(pool *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{pool: pool}
}

func (r *RefundRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new refund.
func (r *RefundRepository) Create(ctx context.Context, rf *refund.Refund) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO refunds
		 (id, payment_session_id, user_id, amount, reason, idempotency_key,
		  status, tx_hash, block_number, failure_reason, created_at, updated_at, completed_at)
		 VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rf.ID, rf.PaymentSessionID, rf.UserID, formatNumeric(rf.Amount), rf.Reason, rf.IdempotencyKey,
		string(rf.Status), rf.TxHash, toInt8(rf.BlockNumber), rf.FailureReason, rf.CreatedAt, rf.UpdatedAt, rf.CompletedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domainErrors.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

// GetByID retrieves a refund by its ID.
func (r *RefundRepository) GetByID(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
	rf, err := scanRefund(r.db(ctx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domainErrors.ErrRefundNotFound
	}
	return rf, err
}

// GetByIdempotencyKey returns nil without error when no refund uses the key.
func (r *RefundRepository) GetByIdempotencyKey(ctx context.Context, paymentSessionID uuid.UUID, key string) (*refund.Refund, error) {
	rf, err := scanRefund(r.db(ctx).QueryRow(ctx,
		`SELECT `+refundColumns+` FROM refunds
		 WHERE payment_session_id = $1 AND idempotency_key = $2`, paymentSessionID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rf, err
}

// Update writes the mutable refund fields, guarded by the status the
// caller last observed.
func (r *RefundRepository) Update(ctx context.Context, rf *refund.Refund, from refund.Status) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE refunds SET
		  status=$1, tx_hash=$2, block_number=$3, failure_reason=$4, updated_at=$5, completed_at=$6
		 WHERE id=$7 AND status=$8`,
		string(rf.Status), rf.TxHash, toInt8(rf.BlockNumber), rf.FailureReason, rf.UpdatedAt, rf.CompletedAt,
		rf.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: refund %s is no longer %s", domainErrors.ErrStaleRefundState, rf.ID, from)
	}
	return nil
}

// SumActiveAmount totals every refund of the session that has not failed.
func (r *RefundRepository) SumActiveAmount(ctx context.Context, paymentSessionID uuid.UUID) (decimal.Decimal, error) {
	return r.sum(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM refunds
		 WHERE payment_session_id = $1 AND status <> 'FAILED'`, paymentSessionID)
}

// SumCompletedAmount totals the settled refunds of the session.
func (r *RefundRepository) SumCompletedAmount(ctx context.Context, paymentSessionID uuid.UUID) (decimal.Decimal, error) {
	return r.sum(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM refunds
		 WHERE payment_session_id = $1 AND status = 'COMPLETED'`, paymentSessionID)
}

func (r *RefundRepository) sum(ctx context.Context, query string, sessionID uuid.UUID) (decimal.Decimal, error) {
	var total string
	if err := r.db(ctx).QueryRow(ctx, query, sessionID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum refunds: %w", err)
	}
	return parseNumeric(total)
}

// ClaimPending locks up to limit pending refunds, oldest first. Rows already
// locked by another transaction are skipped. The locks live as long as the
// surrounding transaction.
func (r *RefundRepository) ClaimPending(ctx context.Context, limit int) ([]*refund.Refund, error) {
	if err := requireTx(ctx, "claim pending refunds"); err != nil {
		return nil, err
	}
	return r.list(ctx,
		`SELECT `+refundColumns+` FROM refunds
		 WHERE status = 'PENDING'
		 ORDER BY created_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, limit)
}

// ListPending returns up to limit pending refunds, oldest first, without locking.
func (r *RefundRepository) ListPending(ctx context.Context, limit int) ([]*refund.Refund, error) {
	return r.list(ctx,
		`SELECT `+refundColumns+` FROM refunds
		 WHERE status = 'PENDING'
		 ORDER BY created_at ASC
		 LIMIT $1`, limit)
}

// ListAwaitingFinality returns submitted refunds still waiting for confirmations.
func (r *RefundRepository) ListAwaitingFinality(ctx context.Context, limit int) ([]*refund.Refund, error) {
	return r.list(ctx,
		`SELECT `+refundColumns+` FROM refunds
		 WHERE status = 'PROCESSING' AND tx_hash IS NOT NULL
		 ORDER BY updated_at ASC
		 LIMIT $1`, limit)
}

func (r *RefundRepository) list(ctx context.Context, query string, limit int) ([]*refund.Refund, error) {
	rows, err := r.db(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*refund.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, rf)
	}
	return refunds, rows.Err()
}

// --- scanning helpers ---

func scanRefund(s scanner) (*refund.Refund, error) {
	rf := &refund.Refund{}
	var (
		amount      string
		status      string
		blockNumber *int64
		completedAt *time.Time
	)
	err := s.Scan(
		&rf.ID, &rf.PaymentSessionID, &rf.UserID, &amount, &rf.Reason, &rf.IdempotencyKey,
		&status, &rf.TxHash, &blockNumber, &rf.FailureReason, &rf.CreatedAt, &rf.UpdatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan refund: %w", err)
	}

	if rf.Amount, err = parseNumeric(amount); err != nil {
		return nil, fmt.Errorf("parse refund amount: %w", err)
	}
	rf.Status = refund.Status(status)
	rf.BlockNumber = fromInt8(blockNumber)
	rf.CompletedAt = completedAt
	return rf, nil
}

func requireTx(ctx context.Context, op string) error {
	if !InTx(ctx) {
		return fmt.Errorf("%s: %w", op, errTxRequired)
	}
	return nil
}

func toInt8(v *uint64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(*v)
	return &n
}

func fromInt8(v *int64) *uint64 {
	if v == nil || *v < 0 {
		return nil
	}
	n := uint64(*v)
	return &n
}
