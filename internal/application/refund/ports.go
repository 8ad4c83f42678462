package refund

import (
	"context"

	"github.com/shopspring/decimal"
)

// TransactionManager abstracts database transaction management.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransferRequest asks the executor to send an on-chain refund.
type TransferRequest struct {
	// Reference is the refund ID; executors use it to deduplicate submissions.
	Reference        string
	Network          string
	Token            string
	RecipientAddress string
	Amount           decimal.Decimal
}

// TransferResult is the executor's outcome for one submission.
type TransferResult struct {
	Success              bool
	TxHash               string
	BlockNumber          *uint64
	PendingConfirmations int
	Error                string
}

// Executor submits refund transfers on-chain. A returned error means the
// outcome is unknown or the executor could not be reached; a result with
// Success=false is a definitive rejection.
type Executor interface {
	ExecuteRefund(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// Notifier queues webhooks for delivery. Payload values must be plain JSON types.
type Notifier interface {
	QueueWebhook(ctx context.Context, userID, eventType string, payload map[string]any) error
}

// ConfirmationSource reports on-chain confirmation depth.
type ConfirmationSource interface {
	// GetConfirmations returns 0 on any failure.
	GetConfirmations(ctx context.Context, network, txHash string) int
	RequiredConfirmations(network string) int
}

// TokenPrecision reports how many decimal places a token supports on a network.
type TokenPrecision interface {
	Decimals(network, symbol string) (int32, error)
}
