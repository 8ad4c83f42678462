package refund

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/domain/payment"
	"github.com/cassiomorais/chainpay/internal/domain/refund"
	"github.com/cassiomorais/chainpay/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultNotifyTimeout = 10 * time.Second

// CreateRefundRequest is the input for CreateRefund.
type CreateRefundRequest struct {
	Amount         decimal.Decimal
	Reason         *string
	IdempotencyKey *string
}

// Service owns the refund lifecycle: creation, execution handoff and finality.
type Service struct {
	refunds       refund.Repository
	sessions      payment.Repository
	txManager     TransactionManager
	executor      Executor
	notifier      Notifier
	confirmations ConfirmationSource
	tokens        TokenPrecision
	logger        zerolog.Logger
	metrics       *observability.Metrics
	tracer        trace.Tracer

	notifyTimeout time.Duration
	inflight      sync.WaitGroup
}

// NewService creates a new refund Service.
func NewService(
	refunds refund.Repository,
	sessions payment.Repository,
	txManager TransactionManager,
	executor Executor,
	notifier Notifier,
	confirmations ConfirmationSource,
	tokens TokenPrecision,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		refunds:       refunds,
		sessions:      sessions,
		txManager:     txManager,
		executor:      executor,
		notifier:      notifier,
		confirmations: confirmations,
		tokens:        tokens,
		logger:        logger.With().Str("component", "refund-service").Logger(),
		metrics:       metrics,
		tracer:        observability.Tracer("chainpay/refund"),
		notifyTimeout: defaultNotifyTimeout,
	}
}

// CreateRefund records a PENDING refund against a payment session owned by
// userID. Replaying a request with the same idempotency key returns the
// original refund; changing its parameters is a conflict.
func (s *Service) CreateRefund(ctx context.Context, userID string, sessionID uuid.UUID, req CreateRefundRequest) (*refund.Refund, error) {
	ctx, span := s.tracer.Start(ctx, "refund.CreateRefund", trace.WithAttributes(
		attribute.String("payment_session_id", sessionID.String()),
	))
	defer span.End()

	r, replayed, err := s.createRefund(ctx, userID, sessionID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RecordRefund("create", "rejected")
		return nil, err
	}
	span.SetAttributes(attribute.String("refund_id", r.ID.String()), attribute.Bool("replayed", replayed))
	if replayed {
		s.metrics.RecordRefund("create", "replayed")
		return r, nil
	}

	s.metrics.RecordRefund("create", string(r.Status))
	s.logger.Info().
		Str("refund_id", r.ID.String()).
		Str("payment_session_id", sessionID.String()).
		Str("amount", r.Amount.String()).
		Msg("refund created")
	s.notify(ctx, EventRefundCreated, r)
	return r, nil
}

func (s *Service) createRefund(ctx context.Context, userID string, sessionID uuid.UUID, req CreateRefundRequest) (*refund.Refund, bool, error) {
	if !req.Amount.IsPositive() {
		return nil, false, domainErrors.NewValidationError("amount", "must be greater than 0")
	}

	key := ""
	if req.IdempotencyKey != nil {
		key = strings.TrimSpace(*req.IdempotencyKey)
	}
	if key != "" {
		existing, err := s.refunds.GetByIdempotencyKey(ctx, sessionID, key)
		if err != nil {
			return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
		}
		if existing != nil {
			r, err := replay(existing, userID, req)
			return r, err == nil, err
		}
	}

	var created *refund.Refund
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		session, err := s.sessions.LockByID(txCtx, sessionID)
		if err != nil {
			return err
		}
		if session.UserID != userID {
			return domainErrors.ErrPaymentSessionNotFound
		}
		if !session.IsRefundable() {
			return domainErrors.NewDomainError(
				"not_refundable",
				fmt.Sprintf("payment session in status %s cannot be refunded", session.Status),
				domainErrors.ErrPaymentNotRefundable,
			)
		}
		if err := s.checkPrecision(session, req.Amount); err != nil {
			return err
		}

		refunded, err := s.refunds.SumActiveAmount(txCtx, sessionID)
		if err != nil {
			return fmt.Errorf("sum refunds: %w", err)
		}
		remaining := session.Amount.Sub(refunded)
		if req.Amount.GreaterThan(remaining) {
			return domainErrors.NewDomainError(
				"over_refund",
				fmt.Sprintf("refund amount %s exceeds remaining balance %s", req.Amount, remaining),
				domainErrors.ErrOverRefund,
			)
		}

		r, err := refund.New(sessionID, userID, req.Amount, req.Reason, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if err := s.refunds.Create(txCtx, r); err != nil {
			return err
		}
		created = r
		return nil
	})

	// A concurrent request with the same key won the insert; answer with its refund.
	if errors.Is(err, domainErrors.ErrDuplicateIdempotencyKey) && key != "" {
		existing, lookupErr := s.refunds.GetByIdempotencyKey(ctx, sessionID, key)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("lookup idempotency key: %w", lookupErr)
		}
		if existing != nil {
			r, err := replay(existing, userID, req)
			return r, err == nil, err
		}
	}
	if err != nil {
		return nil, false, err
	}
	return created, false, nil
}

// GetRefund returns the refund if it belongs to userID.
func (s *Service) GetRefund(ctx context.Context, userID string, id uuid.UUID) (*refund.Refund, error) {
	r, err := s.refunds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.UserID != userID {
		return nil, domainErrors.ErrRefundNotFound
	}
	return r, nil
}

// checkPrecision rejects amounts that cannot be expressed in the token's base units.
func (s *Service) checkPrecision(session *payment.Session, amount decimal.Decimal) error {
	decimals, err := s.tokens.Decimals(session.Network, session.Token)
	if err != nil {
		return err
	}
	if !amount.Equal(amount.Truncate(decimals)) {
		return domainErrors.NewValidationError("amount",
			fmt.Sprintf("%s supports at most %d decimal places", strings.ToUpper(session.Token), decimals))
	}
	return nil
}

func replay(existing *refund.Refund, userID string, req CreateRefundRequest) (*refund.Refund, error) {
	if existing.UserID != userID || !existing.SameRequest(req.Amount, req.Reason) {
		return nil, domainErrors.NewDomainError(
			"idempotency_conflict",
			"idempotency key already used for a refund with different parameters",
			domainErrors.ErrIdempotencyConflict,
		)
	}
	return existing, nil
}

// Wait blocks until every queued notification has been handed to the notifier.
func (s *Service) Wait() {
	s.inflight.Wait()
}
