package refund

import (
	"testing"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func newPending(t *testing.T) *Refund {
	t.Helper()
	r, err := New(uuid.New(), "user-1", decimal.RequireFromString("10.50"), strPtr("duplicate"), strPtr("key-1"))
	require.NoError(t, err)
	return r
}

func TestNew(t *testing.T) {
	r := newPending(t)

	assert.NotEqual(t, uuid.Nil, r.ID)
	assert.Equal(t, StatusPending, r.Status)
	assert.True(t, r.Amount.Equal(decimal.RequireFromString("10.5")))
	assert.Equal(t, "duplicate", *r.Reason)
	assert.Equal(t, "key-1", *r.IdempotencyKey)
	assert.Nil(t, r.CompletedAt)
}

func TestNew_RejectsNonPositiveAmount(t *testing.T) {
	for _, amount := range []string{"0", "-1", "-0.000001"} {
		t.Run(amount, func(t *testing.T) {
			_, err := New(uuid.New(), "user-1", decimal.RequireFromString(amount), nil, nil)
			assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)
		})
	}
}

func TestNew_BlankOptionalFieldsBecomeNil(t *testing.T) {
	r, err := New(uuid.New(), "user-1", decimal.NewFromInt(1), strPtr("  "), strPtr(""))
	require.NoError(t, err)
	assert.Nil(t, r.Reason)
	assert.Nil(t, r.IdempotencyKey)
}

func TestRefund_Transitions(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			r := &Refund{Status: tt.from}
			assert.Equal(t, tt.allowed, r.CanTransitionTo(tt.to))

			err := r.TransitionTo(tt.to)
			if tt.allowed {
				require.NoError(t, err)
				assert.Equal(t, tt.to, r.Status)
			} else {
				assert.ErrorIs(t, err, domainErrors.ErrInvalidStateTransition)
				assert.Equal(t, tt.from, r.Status)
			}
		})
	}
}

func TestRefund_MarkCompleted(t *testing.T) {
	r := newPending(t)
	require.NoError(t, r.MarkProcessing())

	block := uint64(1234)
	require.NoError(t, r.MarkCompleted("0xabc", &block))

	assert.Equal(t, StatusCompleted, r.Status)
	assert.Equal(t, "0xabc", *r.TxHash)
	assert.Equal(t, uint64(1234), *r.BlockNumber)
	assert.NotNil(t, r.CompletedAt)
	assert.True(t, r.IsTerminal())
}

func TestRefund_MarkCompleted_KeepsExistingTx(t *testing.T) {
	r := newPending(t)
	require.NoError(t, r.MarkProcessing())
	r.SetTransaction("0xfirst", nil)

	require.NoError(t, r.MarkCompleted("", nil))
	assert.Equal(t, "0xfirst", *r.TxHash)
}

func TestRefund_MarkFailed(t *testing.T) {
	r := newPending(t)
	require.NoError(t, r.MarkFailed("executor down"))

	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, "executor down", *r.FailureReason)
	assert.NotNil(t, r.CompletedAt)

	assert.Error(t, r.MarkProcessing())
}

func TestRefund_SameRequest(t *testing.T) {
	r := newPending(t)

	assert.True(t, r.SameRequest(decimal.RequireFromString("10.5"), strPtr("duplicate")))
	assert.True(t, r.SameRequest(decimal.RequireFromString("10.500000"), strPtr(" duplicate ")))
	assert.False(t, r.SameRequest(decimal.RequireFromString("10.51"), strPtr("duplicate")))
	assert.False(t, r.SameRequest(decimal.RequireFromString("10.5"), nil))
	assert.False(t, r.SameRequest(decimal.RequireFromString("10.5"), strPtr("other")))
}
