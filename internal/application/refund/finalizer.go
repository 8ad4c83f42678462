package refund

import (
	"context"
	"fmt"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/domain/refund"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CompleteRefund finalizes a PROCESSING refund as COMPLETED and moves the
// payment session to PARTIALLY_REFUNDED or REFUNDED. txHash and blockNumber
// are optional and only fill in values not recorded yet.
func (s *Service) CompleteRefund(ctx context.Context, id uuid.UUID, txHash string, blockNumber *uint64) (*refund.Refund, error) {
	var completed *refund.Refund
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		r, err := s.loadProcessing(txCtx, id)
		if err != nil {
			return err
		}
		if r.TxHash != nil {
			txHash = ""
		}
		if r.BlockNumber != nil {
			blockNumber = nil
		}
		if err := r.MarkCompleted(txHash, blockNumber); err != nil {
			return err
		}
		if err := s.refunds.Update(txCtx, r, refund.StatusProcessing); err != nil {
			return err
		}

		session, err := s.sessions.LockByID(txCtx, r.PaymentSessionID)
		if err != nil {
			return fmt.Errorf("lock payment session: %w", err)
		}
		refunded, err := s.refunds.SumCompletedAmount(txCtx, r.PaymentSessionID)
		if err != nil {
			return fmt.Errorf("sum completed refunds: %w", err)
		}
		if status := session.RefundStatusFor(refunded); status != session.Status {
			if err := s.sessions.UpdateStatus(txCtx, session.ID, status); err != nil {
				return fmt.Errorf("update payment session status: %w", err)
			}
		}
		completed = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finalized(ctx, completed, EventRefundCompleted)
	return completed, nil
}

// FailRefund finalizes a PROCESSING refund as FAILED with reason.
func (s *Service) FailRefund(ctx context.Context, id uuid.UUID, reason string) (*refund.Refund, error) {
	var failed *refund.Refund
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		r, err := s.loadProcessing(txCtx, id)
		if err != nil {
			return err
		}
		if err := r.MarkFailed(reason); err != nil {
			return err
		}
		if err := s.refunds.Update(txCtx, r, refund.StatusProcessing); err != nil {
			return err
		}
		failed = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.finalized(ctx, failed, EventRefundFailed)
	return failed, nil
}

func (s *Service) loadProcessing(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
	r, err := s.refunds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != refund.StatusProcessing {
		return nil, domainErrors.NewDomainError(
			"invalid_state",
			fmt.Sprintf("refund %s is %s, expected %s", r.ID, r.Status, refund.StatusProcessing),
			domainErrors.ErrInvalidStateTransition,
		)
	}
	return r, nil
}

// fail marks an in-flight refund FAILED after the executor handoff went wrong.
// Persistence errors are logged; the caller reports the original failure.
func (s *Service) fail(ctx context.Context, r *refund.Refund, reason string) {
	from := r.Status
	if err := r.MarkFailed(reason); err != nil {
		s.logger.Error().Err(err).Str("refund_id", r.ID.String()).Msg("mark refund failed")
		return
	}
	if err := s.save(ctx, r, from); err != nil {
		s.logger.Error().Err(err).Str("refund_id", r.ID.String()).Msg("persist failed refund")
		return
	}
	s.finalized(ctx, r, EventRefundFailed)
}

func (s *Service) finalized(ctx context.Context, r *refund.Refund, event string) {
	s.metrics.RecordRefund("finalize", string(r.Status))
	level := zerolog.InfoLevel
	if r.Status == refund.StatusFailed {
		level = zerolog.WarnLevel
	}
	ev := s.logger.WithLevel(level).Str("refund_id", r.ID.String()).Str("status", string(r.Status))
	if r.FailureReason != nil {
		ev = ev.Str("reason", *r.FailureReason)
	}
	ev.Msg("refund finalized")
	s.notify(ctx, event, r)
}
