package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	refundApp "github.com/cassiomorais/chainpay/internal/application/refund"
	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/infrastructure/observability"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Name        string
	MaxFailures uint32
	Timeout     time.Duration
}

// BreakerExecutor stops calling a failing executor until it recovers. Only
// transport failures trip the breaker; definitive rejections do not.
type BreakerExecutor struct {
	next    refundApp.Executor
	cb      *gobreaker.CircuitBreaker[*refundApp.TransferResult]
	name    string
	metrics *observability.Metrics
}

func NewBreakerExecutor(next refundApp.Executor, s BreakerSettings, metrics *observability.Metrics, logger zerolog.Logger) *BreakerExecutor {
	if s.Name == "" {
		s.Name = "refund-executor"
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 60 * time.Second
	}

	b := &BreakerExecutor{next: next, name: s.Name, metrics: metrics}
	b.cb = gobreaker.NewCircuitBreaker[*refundApp.TransferResult](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Executor circuit breaker state changed")
			metrics.SetBreakerState(name, float64(to))
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about executor health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	metrics.SetBreakerState(s.Name, float64(gobreaker.StateClosed))
	return b
}

func (b *BreakerExecutor) ExecuteRefund(ctx context.Context, req refundApp.TransferRequest) (*refundApp.TransferResult, error) {
	res, err := b.cb.Execute(func() (*refundApp.TransferResult, error) {
		return b.next.ExecuteRefund(ctx, req)
	})
	b.metrics.RecordBreakerRequest(b.name, err)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit %s", domainErrors.ErrExecutorUnavailable, err)
	}
	return res, err
}

// State returns the breaker state for health reporting.
func (b *BreakerExecutor) State() gobreaker.State {
	return b.cb.State()
}
