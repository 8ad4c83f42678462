package controller

import (
	"context"
	"net/http"

	refundApp "github.com/cassiomorais/chainpay/internal/application/refund"
	"github.com/cassiomorais/chainpay/internal/domain/refund"
	"github.com/cassiomorais/chainpay/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// RefundService is the part of the refund service the HTTP layer uses.
type RefundService interface {
	CreateRefund(ctx context.Context, userID string, sessionID uuid.UUID, req refundApp.CreateRefundRequest) (*refund.Refund, error)
	GetRefund(ctx context.Context, userID string, id uuid.UUID) (*refund.Refund, error)
}

// RefundController handles refund-related HTTP requests.
type RefundController struct {
	refunds RefundService
}

// NewRefundController creates a new RefundController.
func NewRefundController(refunds RefundService) *RefundController {
	return &RefundController{refunds: refunds}
}

// CreateRefund handles POST /api/v1/payment-sessions/{id}/refunds
func (h *RefundController) CreateRefund(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payment session id", Code: "invalid_id"})
		return
	}

	var req CreateRefundRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	var idempotencyKey *string
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		idempotencyKey = &key
	}

	userID, _ := middleware.GetUserID(r.Context())
	created, err := h.refunds.CreateRefund(r.Context(), userID, sessionID, refundApp.CreateRefundRequest{
		Amount:         amount,
		Reason:         req.Reason,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, FromRefund(created))
}

// GetRefund handles GET /api/v1/refunds/{id}
func (h *RefundController) GetRefund(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid refund id", Code: "invalid_id"})
		return
	}

	userID, _ := middleware.GetUserID(r.Context())
	found, err := h.refunds.GetRefund(r.Context(), userID, id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromRefund(found))
}
