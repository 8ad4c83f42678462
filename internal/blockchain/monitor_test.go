package blockchain

import (
	"context"
	"errors"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/domain/payment"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nodeURL = "https://polygon-rpc.example"

var (
	polygonUSDC = common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")
	polygonUSDT = common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F")
	merchant    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	customer    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	feeSink     = common.HexToAddress("0x3333333333333333333333333333333333333333")
	stranger    = common.HexToAddress("0x4444444444444444444444444444444444444444")

	txHash = common.HexToHash("0x8f2a5c0b6e1d4f3a9b7c2e5d8a1f4b6c9e2d5a8b1c4f7e0a3d6b9c2e5f8a1b4c")
)

func newTestMonitor(t *testing.T, client *fakeClient) *Monitor {
	t.Helper()
	pm := NewProviderManager(ProviderManagerConfig{
		Cooldown:       60 * time.Second,
		HealthCacheTTL: 30 * time.Second,
		ProbeTimeout:   100 * time.Millisecond,
		Dialer:         staticDialer(map[string]*fakeClient{nodeURL: client}),
	}, zerolog.Nop(), nil)
	require.NoError(t, pm.AddProviders(context.Background(), "polygon", []string{nodeURL}))

	return NewMonitor(pm, DefaultTokens(), MonitorConfig{
		RPCTimeout:           100 * time.Millisecond,
		DefaultConfirmations: 12,
		Confirmations:        map[string]int{"Ethereum": 20},
	}, zerolog.Nop(), nil)
}

func testSession(amount string) *payment.Session {
	return &payment.Session{
		ID:      uuid.New(),
		UserID:  "merchant-1",
		Network: "polygon",
		Token:   "usdc",
		Amount:  decimal.RequireFromString(amount),
		// Lower-case on purpose: comparison is case-insensitive.
		MerchantAddress: "0x1111111111111111111111111111111111111111",
		Status:          payment.StatusConfirming,
	}
}

func TestVerifyPaymentTransaction_AmountBoundary(t *testing.T) {
	tests := []struct {
		name  string
		units int64
		valid bool
	}{
		{"one base unit short", 9_999_999, false},
		{"exact amount", 10_000_000, true},
		{"overpayment", 10_000_001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient(t, 111)
			client.receipts[txHash] = receiptAt(100, transferLog(polygonUSDC, customer, merchant, tt.units))
			m := newTestMonitor(t, client)

			res, err := m.VerifyPaymentTransaction(context.Background(), testSession("10.00"), txHash.Hex(), 12)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid, res.Error)
			assert.Equal(t, 12, res.Confirmations)
			assert.Equal(t, uint64(100), res.BlockNumber)
		})
	}
}

func TestVerifyPaymentTransaction_MultiTransferMatch(t *testing.T) {
	client := newFakeClient(t, 120)
	client.receipts[txHash] = receiptAt(100,
		transferLog(polygonUSDC, customer, feeSink, 500_000),
		transferLog(polygonUSDC, customer, merchant, 25_000_000),
		transferLog(polygonUSDC, merchant, customer, 1_000_000),
	)
	m := newTestMonitor(t, client)

	res, err := m.VerifyPaymentTransaction(context.Background(), testSession("25"), txHash.Hex(), 12)
	require.NoError(t, err)
	assert.True(t, res.Valid, res.Error)
	assert.Equal(t, customer.Hex(), res.Sender)
	assert.Equal(t, 21, res.Confirmations)
}

func TestVerifyPaymentTransaction_NoSingleTransferMatches(t *testing.T) {
	client := newFakeClient(t, 120)
	client.receipts[txHash] = receiptAt(100,
		transferLog(polygonUSDC, customer, merchant, 9_000_000),
		transferLog(polygonUSDC, customer, stranger, 50_000_000),
		// Right recipient and amount but wrong token contract.
		transferLog(polygonUSDT, customer, merchant, 50_000_000),
	)
	m := newTestMonitor(t, client)

	res, err := m.VerifyPaymentTransaction(context.Background(), testSession("10"), txHash.Hex(), 12)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "examined 2 candidate")
	assert.Contains(t, res.Error, "10 USDC")
}

func TestVerifyPaymentTransaction_ConfirmationThreshold(t *testing.T) {
	tests := []struct {
		name  string
		head  uint64
		valid bool
		confs int
	}{
		{"k=10 gives 11 confirmations", 110, false, 11},
		{"k=11 gives 12 confirmations", 111, true, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient(t, tt.head)
			client.receipts[txHash] = receiptAt(100, transferLog(polygonUSDC, customer, merchant, 10_000_000))
			m := newTestMonitor(t, client)

			res, err := m.VerifyPaymentTransaction(context.Background(), testSession("10"), txHash.Hex(), 12)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, res.Valid)
			assert.Equal(t, tt.confs, res.Confirmations)
			if !tt.valid {
				assert.Contains(t, res.Error, "have 11, need 12")
			}
		})
	}
}

func TestVerifyPaymentTransaction_DefaultsToNetworkThreshold(t *testing.T) {
	client := newFakeClient(t, 105)
	client.receipts[txHash] = receiptAt(100, transferLog(polygonUSDC, customer, merchant, 10_000_000))
	m := newTestMonitor(t, client)

	res, err := m.VerifyPaymentTransaction(context.Background(), testSession("10"), txHash.Hex(), 0)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error, "need 12")
}

func TestVerifyPaymentTransaction_SenderCheck(t *testing.T) {
	t.Run("mismatch names both addresses", func(t *testing.T) {
		client := newFakeClient(t, 111)
		client.receipts[txHash] = receiptAt(100, transferLog(polygonUSDC, stranger, merchant, 10_000_000))
		m := newTestMonitor(t, client)

		session := testSession("10")
		expected := customer.Hex()
		session.CustomerAddress = &expected

		res, err := m.VerifyPaymentTransaction(context.Background(), session, txHash.Hex(), 12)
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Error, expected)
		assert.Contains(t, res.Error, stranger.Hex())
	})

	t.Run("case-insensitive match", func(t *testing.T) {
		client := newFakeClient(t, 111)
		client.receipts[txHash] = receiptAt(100, transferLog(polygonUSDC, customer, merchant, 10_000_000))
		m := newTestMonitor(t, client)

		session := testSession("10")
		expected := "0x2222222222222222222222222222222222222222"
		session.CustomerAddress = &expected

		res, err := m.VerifyPaymentTransaction(context.Background(), session, txHash.Hex(), 12)
		require.NoError(t, err)
		assert.True(t, res.Valid, res.Error)
	})

	t.Run("unset accepts any sender", func(t *testing.T) {
		client := newFakeClient(t, 111)
		client.receipts[txHash] = receiptAt(100, transferLog(polygonUSDC, stranger, merchant, 10_000_000))
		m := newTestMonitor(t, client)

		res, err := m.VerifyPaymentTransaction(context.Background(), testSession("10"), txHash.Hex(), 12)
		require.NoError(t, err)
		assert.True(t, res.Valid, res.Error)
		assert.Equal(t, stranger.Hex(), res.Sender)
	})
}

func TestVerifyPaymentTransaction_NotFound(t *testing.T) {
	m := newTestMonitor(t, newFakeClient(t, 111))

	res, err := m.VerifyPaymentTransaction(context.Background(), testSession("10"), txHash.Hex(), 12)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 0, res.Confirmations)
	assert.Equal(t, "transaction not found", res.Error)
}

func TestVerifyPaymentTransaction_Reverted(t *testing.T) {
	client := newFakeClient(t, 111)
	r := receiptAt(100, transferLog(polygonUSDC, customer, merchant, 10_000_000))
	r.Status = types.ReceiptStatusFailed
	client.receipts[txHash] = r
	m := newTestMonitor(t, client)

	res, err := m.VerifyPaymentTransaction(context.Background(), testSession("10"), txHash.Hex(), 12)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, "transaction reverted", res.Error)
}

func TestVerifyPaymentTransaction_Errors(t *testing.T) {
	t.Run("malformed hash", func(t *testing.T) {
		m := newTestMonitor(t, newFakeClient(t, 1))
		_, err := m.VerifyPaymentTransaction(context.Background(), testSession("10"), "0x1234", 12)
		assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
	})

	t.Run("unsupported token", func(t *testing.T) {
		client := newFakeClient(t, 111)
		client.receipts[txHash] = receiptAt(100)
		m := newTestMonitor(t, client)
		session := testSession("10")
		session.Token = "DAI"

		_, err := m.VerifyPaymentTransaction(context.Background(), session, txHash.Hex(), 12)
		assert.ErrorIs(t, err, domainErrors.ErrUnsupportedToken)
	})

	t.Run("network without providers", func(t *testing.T) {
		m := newTestMonitor(t, newFakeClient(t, 1))
		session := testSession("10")
		session.Network = "arbitrum"

		_, err := m.VerifyPaymentTransaction(context.Background(), session, txHash.Hex(), 12)
		assert.ErrorIs(t, err, domainErrors.ErrUnsupportedNetwork)
	})

	t.Run("all providers down", func(t *testing.T) {
		client := newFakeClient(t, 1)
		client.setHeadErr(errors.New("bad gateway"))
		m := newTestMonitor(t, client)

		_, err := m.VerifyPaymentTransaction(context.Background(), testSession("10"), txHash.Hex(), 12)
		assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
		assert.ErrorIs(t, err, domainErrors.ErrAllProvidersFailed)
	})

	t.Run("receipt call error", func(t *testing.T) {
		client := newFakeClient(t, 111)
		client.receiptErr = errors.New("rate limited")
		m := newTestMonitor(t, client)

		_, err := m.VerifyPaymentTransaction(context.Background(), testSession("10"), txHash.Hex(), 12)
		assert.ErrorContains(t, err, "rate limited")
	})
}

func TestVerifyPaymentTransaction_HungRPCTimesOut(t *testing.T) {
	client := newFakeClient(t, 111)
	client.hangReceipt = true
	m := newTestMonitor(t, client)

	start := time.Now()
	_, err := m.VerifyPaymentTransaction(context.Background(), testSession("10"), txHash.Hex(), 12)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrRPCTimeout)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "eth_getTransactionReceipt", te.Op)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestGetConfirmations(t *testing.T) {
	t.Run("counts inclusive of the receipt block", func(t *testing.T) {
		client := newFakeClient(t, 105)
		client.receipts[txHash] = receiptAt(100)
		m := newTestMonitor(t, client)

		assert.Equal(t, 6, m.GetConfirmations(context.Background(), "polygon", txHash.Hex()))
	})

	t.Run("hung provider returns zero", func(t *testing.T) {
		client := newFakeClient(t, 105)
		client.hangReceipt = true
		m := newTestMonitor(t, client)

		start := time.Now()
		assert.Equal(t, 0, m.GetConfirmations(context.Background(), "polygon", txHash.Hex()))
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("missing receipt returns zero", func(t *testing.T) {
		m := newTestMonitor(t, newFakeClient(t, 105))
		assert.Equal(t, 0, m.GetConfirmations(context.Background(), "polygon", txHash.Hex()))
	})

	t.Run("lagging node returns zero", func(t *testing.T) {
		client := newFakeClient(t, 90)
		client.receipts[txHash] = receiptAt(100)
		m := newTestMonitor(t, client)

		assert.Equal(t, 0, m.GetConfirmations(context.Background(), "polygon", txHash.Hex()))
	})

	t.Run("bad input returns zero", func(t *testing.T) {
		m := newTestMonitor(t, newFakeClient(t, 105))
		assert.Equal(t, 0, m.GetConfirmations(context.Background(), "polygon", "not-a-hash"))
		assert.Equal(t, 0, m.GetConfirmations(context.Background(), "solana", txHash.Hex()))
	})
}

func TestRequiredConfirmations(t *testing.T) {
	m := newTestMonitor(t, newFakeClient(t, 1))

	assert.Equal(t, 20, m.RequiredConfirmations("ethereum"))
	assert.Equal(t, 12, m.RequiredConfirmations("polygon"))
}
