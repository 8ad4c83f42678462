package refund

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/domain/refund"
	"github.com/cassiomorais/chainpay/pkg/saga"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ProcessRefund hands a PENDING refund to the executor. On success the
// refund stays PROCESSING with its tx hash recorded until finality is
// confirmed. Any failure after the claim marks it FAILED and is returned to
// the caller.
func (s *Service) ProcessRefund(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
	ctx, span := s.tracer.Start(ctx, "refund.ProcessRefund", trace.WithAttributes(
		attribute.String("refund_id", id.String()),
	))
	defer span.End()

	r, err := s.processRefund(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return r, err
}

func (s *Service) processRefund(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
	r, err := s.refunds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != refund.StatusPending {
		return nil, domainErrors.NewDomainError(
			"invalid_state",
			fmt.Sprintf("refund %s is %s, expected %s", r.ID, r.Status, refund.StatusPending),
			domainErrors.ErrInvalidStateTransition,
		)
	}

	session, err := s.sessions.GetByID(ctx, r.PaymentSessionID)
	if err != nil {
		return nil, fmt.Errorf("load payment session: %w", err)
	}

	var (
		recipient string
		res       *TransferResult
		reason    string
	)
	// The refund is failed as soon as the claim is undone, which releases
	// its amount back to the session's refundable balance.
	flow := saga.New("process refund "+r.ID.String()).
		AddStep(saga.Step{
			Name: "claim",
			Execute: func(ctx context.Context) error {
				if err := r.MarkProcessing(); err != nil {
					return err
				}
				if err := s.save(ctx, r, refund.StatusPending); err != nil {
					return err
				}
				s.metrics.RecordRefund("process", string(r.Status))
				return nil
			},
			Compensate: func(ctx context.Context) error {
				if reason == "" {
					reason = "refund processing interrupted"
				}
				s.fail(ctx, r, reason)
				return nil
			},
		}).
		AddStep(saga.Step{
			Name: "resolve recipient",
			Execute: func(context.Context) error {
				if recipient = session.ExpectedSender(); recipient == "" {
					reason = "customer address not available"
					return domainErrors.NewDomainError(
						"missing_customer_address",
						fmt.Sprintf("payment session %s has no customer address to refund", session.ID),
						domainErrors.ErrMissingCustomerAddress,
					)
				}
				return nil
			},
		}).
		AddStep(saga.Step{
			Name: "transfer",
			Execute: func(ctx context.Context) error {
				var err error
				res, err = s.executor.ExecuteRefund(ctx, TransferRequest{
					Reference:        r.ID.String(),
					Network:          session.Network,
					Token:            session.Token,
					RecipientAddress: recipient,
					Amount:           r.Amount,
				})
				if err != nil {
					reason = err.Error()
					return err
				}
				if !res.Success {
					reason = res.Error
					if reason == "" {
						reason = "executor rejected the transfer"
					}
					return fmt.Errorf("%w: %s", domainErrors.ErrExecutorFailed, reason)
				}
				return nil
			},
		})

	if err := flow.Execute(ctx); err != nil {
		var stepErr *saga.StepError
		if errors.As(err, &stepErr) && stepErr.Index == 0 {
			return nil, stepErr.Err
		}
		return r, err
	}

	r.SetTransaction(res.TxHash, res.BlockNumber)
	if err := s.save(ctx, r, refund.StatusProcessing); err != nil {
		return r, fmt.Errorf("record refund transaction %s: %w", res.TxHash, err)
	}

	if res.TxHash == "" {
		// The finality sweep only polls refunds with a tx hash.
		s.metrics.RecordRefund("process", "untracked")
		s.logger.Warn().
			Str("refund_id", r.ID.String()).
			Msg("executor reported success without a tx hash, refund stays PROCESSING until an operator completes it")
	} else {
		s.logger.Info().
			Str("refund_id", r.ID.String()).
			Str("tx_hash", res.TxHash).
			Int("pending_confirmations", res.PendingConfirmations).
			Msg("refund submitted on-chain")
	}
	s.notify(ctx, EventRefundProcessing, r)
	return r, nil
}

// ConfirmRefundFinality polls confirmations for txHash once and completes
// the refund when the network's threshold is met.
func (s *Service) ConfirmRefundFinality(ctx context.Context, refundID uuid.UUID, txHash, network string) (bool, error) {
	confirmations := s.confirmations.GetConfirmations(ctx, network, txHash)
	required := s.confirmations.RequiredConfirmations(network)
	if confirmations < required {
		s.logger.Debug().
			Str("refund_id", refundID.String()).
			Int("confirmations", confirmations).
			Int("required", required).
			Msg("refund awaiting finality")
		return false, nil
	}

	if _, err := s.CompleteRefund(ctx, refundID, txHash, nil); err != nil {
		return false, err
	}
	return true, nil
}

// FinalityReport summarizes one ConfirmProcessingRefunds pass.
type FinalityReport struct {
	Checked   int
	Completed int
	Failed    int
}

// ConfirmProcessingRefunds runs ConfirmRefundFinality for up to limit
// submitted refunds, oldest update first. Per-refund errors are logged and
// counted; they do not stop the pass.
func (s *Service) ConfirmProcessingRefunds(ctx context.Context, limit int) (FinalityReport, error) {
	var report FinalityReport

	awaiting, err := s.refunds.ListAwaitingFinality(ctx, limit)
	if err != nil {
		return report, fmt.Errorf("list refunds awaiting finality: %w", err)
	}

	for _, r := range awaiting {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if r.TxHash == nil {
			continue
		}
		report.Checked++

		session, err := s.sessions.GetByID(ctx, r.PaymentSessionID)
		if err != nil {
			report.Failed++
			s.logger.Error().Err(err).Str("refund_id", r.ID.String()).Msg("load payment session for finality check")
			continue
		}
		done, err := s.ConfirmRefundFinality(ctx, r.ID, *r.TxHash, session.Network)
		if err != nil {
			report.Failed++
			s.logger.Error().Err(err).Str("refund_id", r.ID.String()).Msg("confirm refund finality")
			continue
		}
		if done {
			report.Completed++
		}
	}
	return report, nil
}

// save persists r in its own (nested) transaction, conditional on from.
func (s *Service) save(ctx context.Context, r *refund.Refund, from refund.Status) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.refunds.Update(txCtx, r, from)
	})
}
