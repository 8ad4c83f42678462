package testutil

import (
	"context"
	"sort"
	"sync"

	refundApp "github.com/cassiomorais/chainpay/internal/application/refund"
	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/domain/payment"
	"github.com/cassiomorais/chainpay/internal/domain/refund"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Refund Repository Mock ---

// MockRefundRepository is an in-memory implementation of refund.Repository.
// Stored refunds are copied in and out so callers cannot mutate them in place.
type MockRefundRepository struct {
	mu      sync.Mutex
	refunds map[uuid.UUID]*refund.Refund

	CreateFunc               func(ctx context.Context, r *refund.Refund) error
	GetByIDFunc              func(ctx context.Context, id uuid.UUID) (*refund.Refund, error)
	UpdateFunc               func(ctx context.Context, r *refund.Refund, from refund.Status) error
	ClaimPendingFunc         func(ctx context.Context, limit int) ([]*refund.Refund, error)
	ListPendingFunc          func(ctx context.Context, limit int) ([]*refund.Refund, error)
	ListAwaitingFinalityFunc func(ctx context.Context, limit int) ([]*refund.Refund, error)

	Calls int
}

func NewMockRefundRepository() *MockRefundRepository {
	return &MockRefundRepository{refunds: make(map[uuid.UUID]*refund.Refund)}
}

// AddRefund seeds the repository.
func (m *MockRefundRepository) AddRefund(r *refund.Refund) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunds[r.ID] = cloneRefund(r)
}

// Refund returns a copy of the stored refund, or nil.
func (m *MockRefundRepository) Refund(id uuid.UUID) *refund.Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.refunds[id]; ok {
		return cloneRefund(r)
	}
	return nil
}

// Count returns how many refunds are stored.
func (m *MockRefundRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refunds)
}

func (m *MockRefundRepository) called() {
	m.mu.Lock()
	m.Calls++
	m.mu.Unlock()
}

func (m *MockRefundRepository) Create(ctx context.Context, r *refund.Refund) error {
	m.called()
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.IdempotencyKey != nil {
		for _, existing := range m.refunds {
			if existing.PaymentSessionID == r.PaymentSessionID && existing.IdempotencyKey != nil &&
				*existing.IdempotencyKey == *r.IdempotencyKey {
				return domainErrors.ErrDuplicateIdempotencyKey
			}
		}
	}
	m.refunds[r.ID] = cloneRefund(r)
	return nil
}

func (m *MockRefundRepository) GetByID(ctx context.Context, id uuid.UUID) (*refund.Refund, error) {
	m.called()
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.refunds[id]
	if !ok {
		return nil, domainErrors.ErrRefundNotFound
	}
	return cloneRefund(r), nil
}

func (m *MockRefundRepository) GetByIdempotencyKey(_ context.Context, sessionID uuid.UUID, key string) (*refund.Refund, error) {
	m.called()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.refunds {
		if r.PaymentSessionID == sessionID && r.IdempotencyKey != nil && *r.IdempotencyKey == key {
			return cloneRefund(r), nil
		}
	}
	return nil, nil
}

func (m *MockRefundRepository) Update(ctx context.Context, r *refund.Refund, from refund.Status) error {
	m.called()
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, r, from)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.refunds[r.ID]
	if !ok || stored.Status != from {
		return domainErrors.ErrStaleRefundState
	}
	m.refunds[r.ID] = cloneRefund(r)
	return nil
}

func (m *MockRefundRepository) SumActiveAmount(_ context.Context, sessionID uuid.UUID) (decimal.Decimal, error) {
	m.called()
	return m.sum(sessionID, func(s refund.Status) bool { return s != refund.StatusFailed }), nil
}

func (m *MockRefundRepository) SumCompletedAmount(_ context.Context, sessionID uuid.UUID) (decimal.Decimal, error) {
	m.called()
	return m.sum(sessionID, func(s refund.Status) bool { return s == refund.StatusCompleted }), nil
}

func (m *MockRefundRepository) sum(sessionID uuid.UUID, include func(refund.Status) bool) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, r := range m.refunds {
		if r.PaymentSessionID == sessionID && include(r.Status) {
			total = total.Add(r.Amount)
		}
	}
	return total
}

func (m *MockRefundRepository) ClaimPending(ctx context.Context, limit int) ([]*refund.Refund, error) {
	m.called()
	if m.ClaimPendingFunc != nil {
		return m.ClaimPendingFunc(ctx, limit)
	}
	return m.pending(limit), nil
}

func (m *MockRefundRepository) ListPending(ctx context.Context, limit int) ([]*refund.Refund, error) {
	m.called()
	if m.ListPendingFunc != nil {
		return m.ListPendingFunc(ctx, limit)
	}
	return m.pending(limit), nil
}

func (m *MockRefundRepository) ListAwaitingFinality(ctx context.Context, limit int) ([]*refund.Refund, error) {
	m.called()
	if m.ListAwaitingFinalityFunc != nil {
		return m.ListAwaitingFinalityFunc(ctx, limit)
	}
	return m.filter(limit, func(r *refund.Refund) bool {
		return r.Status == refund.StatusProcessing && r.TxHash != nil
	}), nil
}

func (m *MockRefundRepository) pending(limit int) []*refund.Refund {
	return m.filter(limit, func(r *refund.Refund) bool { return r.Status == refund.StatusPending })
}

func (m *MockRefundRepository) filter(limit int, keep func(*refund.Refund) bool) []*refund.Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*refund.Refund
	for _, r := range m.refunds {
		if keep(r) {
			out = append(out, cloneRefund(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneRefund(r *refund.Refund) *refund.Refund {
	c := *r
	return &c
}

// --- Payment Session Repository Mock ---

// MockPaymentSessionRepository is an in-memory implementation of payment.Repository.
type MockPaymentSessionRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*payment.Session

	GetByIDFunc  func(ctx context.Context, id uuid.UUID) (*payment.Session, error)
	LockByIDFunc func(ctx context.Context, id uuid.UUID) (*payment.Session, error)
}

func NewMockPaymentSessionRepository() *MockPaymentSessionRepository {
	return &MockPaymentSessionRepository{sessions: make(map[uuid.UUID]*payment.Session)}
}

func (m *MockPaymentSessionRepository) AddSession(s *payment.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *s
	m.sessions[s.ID] = &c
}

// Session returns a copy of the stored session, or nil.
func (m *MockPaymentSessionRepository) Session(id uuid.UUID) *payment.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		c := *s
		return &c
	}
	return nil
}

func (m *MockPaymentSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Session, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return m.get(id)
}

func (m *MockPaymentSessionRepository) LockByID(ctx context.Context, id uuid.UUID) (*payment.Session, error) {
	if m.LockByIDFunc != nil {
		return m.LockByIDFunc(ctx, id)
	}
	return m.get(id)
}

func (m *MockPaymentSessionRepository) UpdateStatus(_ context.Context, id uuid.UUID, status payment.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return domainErrors.ErrPaymentSessionNotFound
	}
	s.Status = status
	return nil
}

func (m *MockPaymentSessionRepository) get(id uuid.UUID) (*payment.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domainErrors.ErrPaymentSessionNotFound
	}
	c := *s
	return &c, nil
}

// --- Transaction Manager Mock ---

type txMarker struct{}

// MockTransactionManager runs top-level transactions one at a time, like
// competing row locks on the same payment session would. Nested calls join
// the outer transaction.
type MockTransactionManager struct {
	mu sync.Mutex

	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(context.WithValue(ctx, txMarker{}, true))
}

// InTx reports whether ctx was produced by MockTransactionManager.
func InTx(ctx context.Context) bool {
	return ctx.Value(txMarker{}) != nil
}

// --- Executor Mock ---

// MockExecutor records transfer requests. By default every transfer succeeds.
type MockExecutor struct {
	mu       sync.Mutex
	requests []refundApp.TransferRequest

	ExecuteRefundFunc func(ctx context.Context, req refundApp.TransferRequest) (*refundApp.TransferResult, error)
}

func (m *MockExecutor) ExecuteRefund(ctx context.Context, req refundApp.TransferRequest) (*refundApp.TransferResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.ExecuteRefundFunc != nil {
		return m.ExecuteRefundFunc(ctx, req)
	}
	block := uint64(100)
	return &refundApp.TransferResult{
		Success:     true,
		TxHash:      "0x" + uuid.NewString(),
		BlockNumber: &block,
	}, nil
}

func (m *MockExecutor) Requests() []refundApp.TransferRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]refundApp.TransferRequest(nil), m.requests...)
}

// --- Notifier Mock ---

// Webhook is one call recorded by MockNotifier.
type Webhook struct {
	UserID    string
	EventType string
	Payload   map[string]any
}

type MockNotifier struct {
	mu       sync.Mutex
	webhooks []Webhook

	QueueWebhookFunc func(ctx context.Context, userID, eventType string, payload map[string]any) error
}

func (m *MockNotifier) QueueWebhook(ctx context.Context, userID, eventType string, payload map[string]any) error {
	m.mu.Lock()
	m.webhooks = append(m.webhooks, Webhook{UserID: userID, EventType: eventType, Payload: payload})
	m.mu.Unlock()
	if m.QueueWebhookFunc != nil {
		return m.QueueWebhookFunc(ctx, userID, eventType, payload)
	}
	return nil
}

func (m *MockNotifier) Webhooks() []Webhook {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Webhook(nil), m.webhooks...)
}

// Events returns the recorded event types in call order.
func (m *MockNotifier) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.webhooks))
	for i, w := range m.webhooks {
		out[i] = w.EventType
	}
	return out
}

// --- Confirmation Source Mock ---

type MockConfirmationSource struct {
	Confirmations int
	Required      int
}

func (m *MockConfirmationSource) GetConfirmations(context.Context, string, string) int {
	return m.Confirmations
}

func (m *MockConfirmationSource) RequiredConfirmations(string) int {
	if m.Required <= 0 {
		return 12
	}
	return m.Required
}
