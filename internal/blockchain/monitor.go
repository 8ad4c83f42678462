package blockchain

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/domain/payment"
	"github.com/cassiomorais/chainpay/internal/infrastructure/observability"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultConfirmations = 12

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// VerificationResult is the outcome of checking a transaction against a
// payment session. Valid=false with Error set is a normal result (not yet
// settled, wrong amount, ...), not a failure of the check itself.
type VerificationResult struct {
	Valid         bool
	Confirmations int
	BlockNumber   uint64
	Sender        string
	Error         string
}

type MonitorConfig struct {
	RPCTimeout           time.Duration
	DefaultConfirmations int
	// Confirmations overrides DefaultConfirmations per network.
	Confirmations map[string]int
}

// Monitor verifies on-chain stablecoin payments.
type Monitor struct {
	providers *ProviderManager
	tokens    *TokenRegistry
	cfg       MonitorConfig
	logger    zerolog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

func NewMonitor(providers *ProviderManager, tokens *TokenRegistry, cfg MonitorConfig, logger zerolog.Logger, metrics *observability.Metrics) *Monitor {
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 15 * time.Second
	}
	if cfg.DefaultConfirmations <= 0 {
		cfg.DefaultConfirmations = defaultConfirmations
	}
	confirmations := make(map[string]int, len(cfg.Confirmations))
	for n, c := range cfg.Confirmations {
		confirmations[strings.ToLower(n)] = c
	}
	cfg.Confirmations = confirmations

	return &Monitor{
		providers: providers,
		tokens:    tokens,
		cfg:       cfg,
		logger:    logger.With().Str("component", "blockchain-monitor").Logger(),
		metrics:   metrics,
		tracer:    observability.Tracer("chainpay/blockchain"),
	}
}

// RequiredConfirmations returns the finality threshold for network.
func (m *Monitor) RequiredConfirmations(network string) int {
	if c, ok := m.cfg.Confirmations[strings.ToLower(network)]; ok && c > 0 {
		return c
	}
	return m.cfg.DefaultConfirmations
}

// VerifyPaymentTransaction checks that txHash pays session: right token
// contract, merchant recipient, at least the expected amount, the expected
// sender if one is recorded, and minConfirmations blocks deep. A
// minConfirmations <= 0 uses the network's configured threshold.
//
// An error is returned only when verification could not be performed
// (no healthy provider, RPC timeout, unsupported token).
func (m *Monitor) VerifyPaymentTransaction(ctx context.Context, session *payment.Session, txHash string, minConfirmations int) (*VerificationResult, error) {
	ctx, span := m.tracer.Start(ctx, "blockchain.VerifyPaymentTransaction", trace.WithAttributes(
		attribute.String("network", session.Network),
		attribute.String("token", session.Token),
		attribute.String("tx_hash", txHash),
	))
	defer span.End()

	res, err := m.verify(ctx, session, txHash, minConfirmations)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.metrics.RecordVerification(session.Network, "error")
	case res.Valid:
		m.metrics.RecordVerification(session.Network, "valid")
	default:
		span.SetAttributes(attribute.String("verification.error", res.Error))
		m.metrics.RecordVerification(session.Network, "invalid")
	}
	return res, err
}

func (m *Monitor) verify(ctx context.Context, session *payment.Session, txHash string, minConfirmations int) (*VerificationResult, error) {
	if minConfirmations <= 0 {
		minConfirmations = m.RequiredConfirmations(session.Network)
	}
	hash, err := parseTxHash(txHash)
	if err != nil {
		return nil, err
	}

	log := m.logger.With().
		Str("session_id", session.ID.String()).
		Str("network", session.Network).
		Str("tx_hash", txHash).
		Logger()

	provider, err := m.providers.GetProvider(ctx, session.Network)
	if err != nil {
		if errors.Is(err, domainErrors.ErrUnsupportedNetwork) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domainErrors.ErrProviderUnavailable, err)
	}

	receipt, err := m.receipt(ctx, provider, hash)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		log.Debug().Msg("Transaction receipt not found")
		return &VerificationResult{Valid: false, Error: "transaction not found"}, nil
	}

	blockNumber := receiptBlock(receipt)
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &VerificationResult{Valid: false, BlockNumber: blockNumber, Error: "transaction reverted"}, nil
	}

	head, err := m.head(ctx, provider)
	if err != nil {
		return nil, err
	}
	confirmations := confirmationsBetween(head, blockNumber)
	if confirmations < minConfirmations {
		return &VerificationResult{
			Valid:         false,
			Confirmations: confirmations,
			BlockNumber:   blockNumber,
			Error:         fmt.Sprintf("insufficient confirmations: have %d, need %d", confirmations, minConfirmations),
		}, nil
	}

	token, err := m.tokens.Lookup(session.Network, session.Token)
	if err != nil {
		return nil, err
	}

	transfers := decodeTransfers(receipt.Logs, token.Contract, token.Decimals)
	match, ok := matchTransfer(transfers, session)
	if !ok {
		log.Info().Int("candidates", len(transfers)).Str("expected", session.Amount.String()).Msg("No transfer matches payment session")
		return &VerificationResult{
			Valid:         false,
			Confirmations: confirmations,
			BlockNumber:   blockNumber,
			Error: fmt.Sprintf(
				"no matching transfer: examined %d candidate transfer(s), expected at least %s %s to %s",
				len(transfers), session.Amount.String(), token.Symbol, session.MerchantAddress,
			),
		}, nil
	}

	sender := match.From.Hex()
	if expected := session.ExpectedSender(); expected != "" && !strings.EqualFold(expected, sender) {
		return &VerificationResult{
			Valid:         false,
			Confirmations: confirmations,
			BlockNumber:   blockNumber,
			Sender:        sender,
			Error:         fmt.Sprintf("sender mismatch: expected %s, got %s", expected, sender),
		}, nil
	}

	log.Info().Int("confirmations", confirmations).Str("amount", match.Amount.String()).Msg("Payment transaction verified")
	return &VerificationResult{
		Valid:         true,
		Confirmations: confirmations,
		BlockNumber:   blockNumber,
		Sender:        sender,
	}, nil
}

// GetConfirmations returns the confirmation depth of a successful
// transaction, or 0 on any failure, missing receipt or reverted transaction.
func (m *Monitor) GetConfirmations(ctx context.Context, network, txHash string) int {
	hash, err := parseTxHash(txHash)
	if err != nil {
		return 0
	}
	provider, err := m.providers.GetProvider(ctx, network)
	if err != nil {
		m.logger.Debug().Err(err).Str("network", network).Msg("No provider for confirmation check")
		return 0
	}
	receipt, err := m.receipt(ctx, provider, hash)
	if err != nil || receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		return 0
	}
	head, err := m.head(ctx, provider)
	if err != nil {
		return 0
	}
	return confirmationsBetween(head, receiptBlock(receipt))
}

// receipt returns nil, nil when the node does not know the transaction.
func (m *Monitor) receipt(ctx context.Context, p *Provider, hash common.Hash) (*types.Receipt, error) {
	start := time.Now()
	receipt, err := callWithTimeout(ctx, "eth_getTransactionReceipt", m.cfg.RPCTimeout,
		func(ctx context.Context) (*types.Receipt, error) {
			return p.Client.TransactionReceipt(ctx, hash)
		})
	if errors.Is(err, ethereum.NotFound) {
		m.metrics.ObserveRPC(p.Network, "eth_getTransactionReceipt", time.Since(start), nil)
		return nil, nil
	}
	m.metrics.ObserveRPC(p.Network, "eth_getTransactionReceipt", time.Since(start), err)
	if err != nil {
		m.reportFailure(ctx, p, err)
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}
	return receipt, nil
}

func (m *Monitor) head(ctx context.Context, p *Provider) (uint64, error) {
	start := time.Now()
	head, err := callWithTimeout(ctx, "eth_blockNumber", m.cfg.RPCTimeout, p.Client.BlockNumber)
	m.metrics.ObserveRPC(p.Network, "eth_blockNumber", time.Since(start), err)
	if err != nil {
		m.reportFailure(ctx, p, err)
		return 0, fmt.Errorf("fetch block number: %w", err)
	}
	return head, nil
}

func (m *Monitor) reportFailure(ctx context.Context, p *Provider, err error) {
	if ctx.Err() != nil {
		return
	}
	m.providers.ReportFailure(p.Network, p.URL, err)
}

// matchTransfer picks the first transfer to the merchant of at least the
// session amount. There is no tolerance for underpayment.
func matchTransfer(transfers []Transfer, session *payment.Session) (Transfer, bool) {
	merchant := strings.TrimSpace(session.MerchantAddress)
	for _, t := range transfers {
		if strings.EqualFold(t.To.Hex(), merchant) && t.Amount.GreaterThanOrEqual(session.Amount) {
			return t, true
		}
	}
	return Transfer{}, false
}

// confirmationsBetween counts the receipt's own block. A node whose head is
// behind the receipt block reports 0.
func confirmationsBetween(head, block uint64) int {
	if head < block {
		return 0
	}
	return int(head-block) + 1
}

func receiptBlock(r *types.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}

func parseTxHash(txHash string) (common.Hash, error) {
	txHash = strings.TrimSpace(txHash)
	if !txHashPattern.MatchString(txHash) {
		return common.Hash{}, domainErrors.NewValidationError("tx_hash", "must be a 0x-prefixed 32-byte hex string")
	}
	return common.HexToHash(txHash), nil
}
