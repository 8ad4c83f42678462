package refund_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	refundApp "github.com/cassiomorais/chainpay/internal/application/refund"
	"github.com/cassiomorais/chainpay/internal/blockchain"
	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/domain/payment"
	"github.com/cassiomorais/chainpay/internal/domain/refund"
	"github.com/cassiomorais/chainpay/internal/testutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = "user-1"

type fixture struct {
	svc           *refundApp.Service
	refunds       *testutil.MockRefundRepository
	sessions      *testutil.MockPaymentSessionRepository
	executor      *testutil.MockExecutor
	notifier      *testutil.MockNotifier
	confirmations *testutil.MockConfirmationSource
	session       *payment.Session
}

func newFixture(t *testing.T, amount string) *fixture {
	t.Helper()
	f := &fixture{
		refunds:       testutil.NewMockRefundRepository(),
		sessions:      testutil.NewMockPaymentSessionRepository(),
		executor:      &testutil.MockExecutor{},
		notifier:      &testutil.MockNotifier{},
		confirmations: &testutil.MockConfirmationSource{Required: 12},
		session:       testutil.NewTestSession(userID, amount),
	}
	f.sessions.AddSession(f.session)
	f.svc = refundApp.NewService(
		f.refunds, f.sessions, testutil.NewMockTransactionManager(),
		f.executor, f.notifier, f.confirmations, blockchain.DefaultTokens(),
		zerolog.Nop(), nil,
	)
	return f
}

func (f *fixture) create(t *testing.T, amount string) *refund.Refund {
	t.Helper()
	r, err := f.svc.CreateRefund(context.Background(), userID, f.session.ID, refundApp.CreateRefundRequest{
		Amount: decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) processing(t *testing.T, amount string) *refund.Refund {
	t.Helper()
	r := testutil.NewTestRefund(f.session.ID, userID, amount, refund.StatusProcessing, time.Now())
	r.TxHash = testutil.StringPtr("0xfeed")
	f.refunds.AddRefund(r)
	return r
}

func TestCreateRefund_Success(t *testing.T) {
	f := newFixture(t, "100")

	r, err := f.svc.CreateRefund(context.Background(), userID, f.session.ID, refundApp.CreateRefundRequest{
		Amount: decimal.RequireFromString("25.5"),
		Reason: testutil.StringPtr("damaged"),
	})
	require.NoError(t, err)
	assert.Equal(t, refund.StatusPending, r.Status)
	assert.Equal(t, userID, r.UserID)
	assert.Equal(t, 1, f.refunds.Count())

	f.svc.Wait()
	webhooks := f.notifier.Webhooks()
	require.Len(t, webhooks, 1)
	assert.Equal(t, refundApp.EventRefundCreated, webhooks[0].EventType)
	assert.Equal(t, userID, webhooks[0].UserID)
	assert.Equal(t, 25.5, webhooks[0].Payload["amount"])
	assert.Equal(t, "damaged", webhooks[0].Payload["reason"])
}

func TestCreateRefund_RejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t, "100")

	for _, amount := range []string{"0", "-1"} {
		_, err := f.svc.CreateRefund(context.Background(), userID, f.session.ID, refundApp.CreateRefundRequest{
			Amount: decimal.RequireFromString(amount),
		})
		assert.ErrorIs(t, err, domainErrors.ErrValidationFailed, amount)
	}
	assert.Equal(t, 0, f.refunds.Count())
}

func TestCreateRefund_IdempotentReplay(t *testing.T) {
	f := newFixture(t, "100")
	req := refundApp.CreateRefundRequest{
		Amount:         decimal.RequireFromString("10"),
		Reason:         testutil.StringPtr("late delivery"),
		IdempotencyKey: testutil.StringPtr("key-1"),
	}

	first, err := f.svc.CreateRefund(context.Background(), userID, f.session.ID, req)
	require.NoError(t, err)
	second, err := f.svc.CreateRefund(context.Background(), userID, f.session.ID, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.refunds.Count())

	f.svc.Wait()
	assert.Equal(t, []string{refundApp.EventRefundCreated}, f.notifier.Events())
}

func TestCreateRefund_IdempotencyConflict(t *testing.T) {
	f := newFixture(t, "100")
	key := testutil.StringPtr("key-1")

	_, err := f.svc.CreateRefund(context.Background(), userID, f.session.ID, refundApp.CreateRefundRequest{
		Amount: decimal.RequireFromString("10"), IdempotencyKey: key,
	})
	require.NoError(t, err)

	_, err = f.svc.CreateRefund(context.Background(), userID, f.session.ID, refundApp.CreateRefundRequest{
		Amount: decimal.RequireFromString("11"), IdempotencyKey: key,
	})
	assert.ErrorIs(t, err, domainErrors.ErrIdempotencyConflict)
	assert.Equal(t, "idempotency_conflict", domainErrors.Code(err))
	assert.Equal(t, 1, f.refunds.Count())
}

func TestCreateRefund_InsertRaceReturnsWinner(t *testing.T) {
	f := newFixture(t, "100")
	key := testutil.StringPtr("key-1")

	var winner *refund.Refund
	f.refunds.CreateFunc = func(_ context.Context, r *refund.Refund) error {
		w := *r
		w.ID = uuid.New()
		winner = &w
		f.refunds.AddRefund(winner)
		return domainErrors.ErrDuplicateIdempotencyKey
	}

	r, err := f.svc.CreateRefund(context.Background(), userID, f.session.ID, refundApp.CreateRefundRequest{
		Amount: decimal.RequireFromString("10"), IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, winner.ID, r.ID)
	assert.Equal(t, 1, f.refunds.Count())
}

func TestCreateRefund_ExactResidual(t *testing.T) {
	f := newFixture(t, "99.99")

	for i := 0; i < 3; i++ {
		f.create(t, "33.33")
	}

	refunded, err := f.refunds.SumActiveAmount(context.Background(), f.session.ID)
	require.NoError(t, err)
	assert.True(t, f.session.Amount.Sub(refunded).IsZero(), "remaining is %s", f.session.Amount.Sub(refunded))

	_, err = f.svc.CreateRefund(context.Background(), userID, f.session.ID, refundApp.CreateRefundRequest{
		Amount: decimal.RequireFromString("0.000001"),
	})
	assert.ErrorIs(t, err, domainErrors.ErrOverRefund)
	assert.Equal(t, "over_refund", domainErrors.Code(err))
	assert.Contains(t, err.Error(), "remaining balance 0")
	assert.Equal(t, 3, f.refunds.Count())
}

func TestCreateRefund_ConcurrentOverRefund(t *testing.T) {
	f := newFixture(t, "100")

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.CreateRefund(context.Background(), userID, f.session.ID, refundApp.CreateRefundRequest{
				Amount: decimal.NewFromInt(60),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domainErrors.ErrOverRefund):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 1, f.refunds.Count())
}

func TestCreateRefund_FailedRefundsReleaseBalance(t *testing.T) {
	f := newFixture(t, "100")
	f.refunds.AddRefund(testutil.NewTestRefund(f.session.ID, userID, "100", refund.StatusFailed, time.Now()))

	r := f.create(t, "100")
	assert.True(t, r.Amount.Equal(decimal.NewFromInt(100)))
}

func TestCreateRefund_SessionChecks(t *testing.T) {
	t.Run("not refundable", func(t *testing.T) {
		for _, status := range []payment.SessionStatus{payment.StatusPending, payment.StatusConfirming, payment.StatusFailed, payment.StatusRefunded} {
			f := newFixture(t, "100")
			s := f.sessions.Session(f.session.ID)
			s.Status = status
			f.sessions.AddSession(s)

			_, err := f.svc.CreateRefund(context.Background(), userID, f.session.ID, refundApp.CreateRefundRequest{
				Amount: decimal.NewFromInt(1),
			})
			assert.ErrorIs(t, err, domainErrors.ErrPaymentNotRefundable, string(status))
		}
	})

	t.Run("partially refunded accepts remaining balance", func(t *testing.T) {
		f := newFixture(t, "100")
		s := f.sessions.Session(f.session.ID)
		s.Status = payment.StatusPartiallyRefunded
		f.sessions.AddSession(s)
		f.refunds.AddRefund(testutil.NewTestRefund(f.session.ID, userID, "40", refund.StatusCompleted, time.Now()))

		f.create(t, "60")
	})

	t.Run("other user's session", func(t *testing.T) {
		f := newFixture(t, "100")
		_, err := f.svc.CreateRefund(context.Background(), "intruder", f.session.ID, refundApp.CreateRefundRequest{
			Amount: decimal.NewFromInt(1),
		})
		assert.ErrorIs(t, err, domainErrors.ErrPaymentSessionNotFound)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newFixture(t, "100")
		_, err := f.svc.CreateRefund(context.Background(), userID, uuid.New(), refundApp.CreateRefundRequest{
			Amount: decimal.NewFromInt(1),
		})
		assert.ErrorIs(t, err, domainErrors.ErrPaymentSessionNotFound)
	})
}

func TestCreateRefund_PrecisionGuard(t *testing.T) {
	f := newFixture(t, "100")

	_, err := f.svc.CreateRefund(context.Background(), userID, f.session.ID, refundApp.CreateRefundRequest{
		Amount: decimal.RequireFromString("1.0000001"),
	})
	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)

	f.create(t, "1.500000000")
}

func TestCreateRefund_NotifierFailureDoesNotFailCreate(t *testing.T) {
	f := newFixture(t, "100")
	f.notifier.QueueWebhookFunc = func(context.Context, string, string, map[string]any) error {
		return errors.New("broker down")
	}
	f.create(t, "5")

	f.notifier.QueueWebhookFunc = func(context.Context, string, string, map[string]any) error {
		panic("boom")
	}
	f.create(t, "5")

	f.svc.Wait()
	assert.Equal(t, 2, f.refunds.Count())
}

func TestCreateRefund_NotificationOutlivesCaller(t *testing.T) {
	f := newFixture(t, "100")
	delivered := make(chan error, 1)
	f.notifier.QueueWebhookFunc = func(ctx context.Context, _, _ string, _ map[string]any) error {
		delivered <- ctx.Err()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.svc.CreateRefund(ctx, userID, f.session.ID, refundApp.CreateRefundRequest{Amount: decimal.NewFromInt(1)})
	cancel()
	require.NoError(t, err)

	f.svc.Wait()
	assert.NoError(t, <-delivered)
}

func TestGetRefund(t *testing.T) {
	f := newFixture(t, "100")
	r := f.create(t, "1")

	got, err := f.svc.GetRefund(context.Background(), userID, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)

	_, err = f.svc.GetRefund(context.Background(), "someone-else", r.ID)
	assert.ErrorIs(t, err, domainErrors.ErrRefundNotFound)
}

func TestProcessRefund_Success(t *testing.T) {
	f := newFixture(t, "100")
	r := f.create(t, "12.345678")

	got, err := f.svc.ProcessRefund(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, refund.StatusProcessing, got.Status)
	require.NotNil(t, got.TxHash)

	reqs := f.executor.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, r.ID.String(), reqs[0].Reference)
	assert.Equal(t, testutil.CustomerAddress, reqs[0].RecipientAddress)
	assert.Equal(t, "ethereum", reqs[0].Network)
	assert.Equal(t, "USDC", reqs[0].Token)
	assert.True(t, reqs[0].Amount.Equal(decimal.RequireFromString("12.345678")))

	stored := f.refunds.Refund(r.ID)
	assert.Equal(t, refund.StatusProcessing, stored.Status)
	assert.Equal(t, *got.TxHash, *stored.TxHash)
	require.NotNil(t, stored.BlockNumber)

	f.svc.Wait()
	assert.ElementsMatch(t, []string{refundApp.EventRefundCreated, refundApp.EventRefundProcessing}, f.notifier.Events())
}

func TestProcessRefund_ExecutorError(t *testing.T) {
	f := newFixture(t, "100")
	r := f.create(t, "10")
	f.executor.ExecuteRefundFunc = func(context.Context, refundApp.TransferRequest) (*refundApp.TransferResult, error) {
		return nil, domainErrors.ErrExecutorUnavailable
	}

	_, err := f.svc.ProcessRefund(context.Background(), r.ID)
	assert.ErrorIs(t, err, domainErrors.ErrExecutorUnavailable)

	stored := f.refunds.Refund(r.ID)
	assert.Equal(t, refund.StatusFailed, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.NotNil(t, stored.CompletedAt)

	f.svc.Wait()
	var failed *testutil.Webhook
	for _, w := range f.notifier.Webhooks() {
		if w.EventType == refundApp.EventRefundFailed {
			failed = &w
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, *stored.FailureReason, failed.Payload["error"])
	assert.Equal(t, "FAILED", failed.Payload["status"])
}

func TestProcessRefund_SuccessWithoutTxHash(t *testing.T) {
	f := newFixture(t, "100")
	r := f.create(t, "10")
	f.executor.ExecuteRefundFunc = func(context.Context, refundApp.TransferRequest) (*refundApp.TransferResult, error) {
		return &refundApp.TransferResult{Success: true}, nil
	}

	got, err := f.svc.ProcessRefund(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, refund.StatusProcessing, got.Status)
	assert.Nil(t, got.TxHash)

	// Funds may have moved, so the amount must stay reserved.
	stored := f.refunds.Refund(r.ID)
	assert.Equal(t, refund.StatusProcessing, stored.Status)
	assert.Nil(t, stored.FailureReason)

	_, err = f.svc.CreateRefund(context.Background(), userID, f.session.ID, refundApp.CreateRefundRequest{Amount: decimal.NewFromInt(91)})
	assert.ErrorIs(t, err, domainErrors.ErrOverRefund)
}

func TestProcessRefund_ExecutorRejection(t *testing.T) {
	f := newFixture(t, "100")
	r := f.create(t, "10")
	f.executor.ExecuteRefundFunc = func(context.Context, refundApp.TransferRequest) (*refundApp.TransferResult, error) {
		return &refundApp.TransferResult{Success: false, Error: "insufficient hot wallet balance"}, nil
	}

	_, err := f.svc.ProcessRefund(context.Background(), r.ID)
	assert.ErrorIs(t, err, domainErrors.ErrExecutorFailed)
	assert.Contains(t, err.Error(), "insufficient hot wallet balance")
	assert.Equal(t, refund.StatusFailed, f.refunds.Refund(r.ID).Status)
}

func TestProcessRefund_MissingCustomerAddress(t *testing.T) {
	f := newFixture(t, "100")
	s := f.sessions.Session(f.session.ID)
	s.CustomerAddress = nil
	f.sessions.AddSession(s)
	r := f.create(t, "10")

	_, err := f.svc.ProcessRefund(context.Background(), r.ID)
	assert.ErrorIs(t, err, domainErrors.ErrMissingCustomerAddress)
	assert.Empty(t, f.executor.Requests())
	assert.Equal(t, refund.StatusFailed, f.refunds.Refund(r.ID).Status)

	// The failed refund no longer holds balance.
	f.create(t, "100")
}

func TestProcessRefund_RequiresPending(t *testing.T) {
	f := newFixture(t, "100")
	r := f.processing(t, "10")

	_, err := f.svc.ProcessRefund(context.Background(), r.ID)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)
	assert.Empty(t, f.executor.Requests())

	_, err = f.svc.ProcessRefund(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domainErrors.ErrRefundNotFound)
}

func TestProcessRefund_StaleClaim(t *testing.T) {
	f := newFixture(t, "100")
	r := f.create(t, "10")
	f.refunds.UpdateFunc = func(context.Context, *refund.Refund, refund.Status) error {
		return domainErrors.ErrStaleRefundState
	}

	_, err := f.svc.ProcessRefund(context.Background(), r.ID)
	assert.ErrorIs(t, err, domainErrors.ErrStaleRefundState)
	assert.Empty(t, f.executor.Requests())
}

func TestCompleteRefund_UpdatesSessionStatus(t *testing.T) {
	f := newFixture(t, "100")

	partial := f.processing(t, "40")
	done, err := f.svc.CompleteRefund(context.Background(), partial.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, refund.StatusCompleted, done.Status)
	assert.Equal(t, "0xfeed", *done.TxHash)
	assert.Equal(t, payment.StatusPartiallyRefunded, f.sessions.Session(f.session.ID).Status)

	rest := f.processing(t, "60")
	_, err = f.svc.CompleteRefund(context.Background(), rest.ID, "", nil)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, f.sessions.Session(f.session.ID).Status)

	f.svc.Wait()
	assert.Equal(t, []string{refundApp.EventRefundCompleted, refundApp.EventRefundCompleted}, f.notifier.Events())
}

func TestCompleteRefund_FillsMissingTransaction(t *testing.T) {
	f := newFixture(t, "100")
	r := testutil.NewTestRefund(f.session.ID, userID, "10", refund.StatusProcessing, time.Now())
	f.refunds.AddRefund(r)

	block := uint64(42)
	done, err := f.svc.CompleteRefund(context.Background(), r.ID, "0xabc", &block)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", *done.TxHash)
	assert.Equal(t, uint64(42), *done.BlockNumber)
}

func TestFinalize_RequiresProcessing(t *testing.T) {
	f := newFixture(t, "100")
	r := f.create(t, "10")

	_, err := f.svc.CompleteRefund(context.Background(), r.ID, "0xabc", nil)
	assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)
	_, err = f.svc.FailRefund(context.Background(), r.ID, "reorged")
	assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)
	assert.Equal(t, refund.StatusPending, f.refunds.Refund(r.ID).Status)
}

func TestFailRefund(t *testing.T) {
	f := newFixture(t, "100")
	r := f.processing(t, "10")

	failed, err := f.svc.FailRefund(context.Background(), r.ID, "dropped from mempool")
	require.NoError(t, err)
	assert.Equal(t, refund.StatusFailed, failed.Status)
	assert.Equal(t, "dropped from mempool", *f.refunds.Refund(r.ID).FailureReason)

	f.svc.Wait()
	assert.Equal(t, []string{refundApp.EventRefundFailed}, f.notifier.Events())
}

func TestConfirmRefundFinality(t *testing.T) {
	f := newFixture(t, "100")
	r := f.processing(t, "10")

	f.confirmations.Confirmations = 11
	done, err := f.svc.ConfirmRefundFinality(context.Background(), r.ID, "0xfeed", "ethereum")
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, refund.StatusProcessing, f.refunds.Refund(r.ID).Status)

	f.confirmations.Confirmations = 12
	done, err = f.svc.ConfirmRefundFinality(context.Background(), r.ID, "0xfeed", "ethereum")
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, refund.StatusCompleted, f.refunds.Refund(r.ID).Status)
}

func TestConfirmProcessingRefunds(t *testing.T) {
	f := newFixture(t, "100")
	f.confirmations.Confirmations = 20
	f.processing(t, "10")
	f.processing(t, "20")
	orphan := testutil.NewTestRefund(uuid.New(), userID, "5", refund.StatusProcessing, time.Now())
	orphan.TxHash = testutil.StringPtr("0xdead")
	f.refunds.AddRefund(orphan)
	f.create(t, "1")

	report, err := f.svc.ConfirmProcessingRefunds(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, refundApp.FinalityReport{Checked: 3, Completed: 2, Failed: 1}, report)
}

func TestPayload_PlainValues(t *testing.T) {
	r := testutil.NewTestRefund(uuid.New(), userID, "33.33", refund.StatusCompleted, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	r.TxHash = testutil.StringPtr("0xabc")
	block := uint64(7)
	r.BlockNumber = &block

	p := refundApp.Payload(r)
	assert.Equal(t, 33.33, p["amount"])
	assert.Equal(t, "COMPLETED", p["status"])
	assert.Equal(t, "2026-01-02T03:04:05Z", p["created_at"])
	assert.Equal(t, uint64(7), p["block_number"])
	assert.Equal(t, r.ID.String(), p["refund_id"])
	assert.NotContains(t, p, "reason")

	for k, v := range p {
		switch v.(type) {
		case string, float64, uint64:
		default:
			t.Errorf("payload field %s has non-plain type %T", k, v)
		}
	}
}
