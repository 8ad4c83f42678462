package controller

import (
	"context"
	"net/http"

	"github.com/cassiomorais/chainpay/internal/blockchain"
	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/cassiomorais/chainpay/internal/domain/payment"
	"github.com/cassiomorais/chainpay/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// PaymentVerifier checks on-chain transactions against payment sessions.
type PaymentVerifier interface {
	VerifyPaymentTransaction(ctx context.Context, session *payment.Session, txHash string, minConfirmations int) (*blockchain.VerificationResult, error)
}

// VerificationController handles payment verification requests.
type VerificationController struct {
	sessions payment.Repository
	verifier PaymentVerifier
}

// NewVerificationController creates a new VerificationController.
func NewVerificationController(sessions payment.Repository, verifier PaymentVerifier) *VerificationController {
	return &VerificationController{sessions: sessions, verifier: verifier}
}

// Verify handles POST /api/v1/payment-sessions/{id}/verify. An unsettled or
// mismatching transaction is a 200 with valid=false; only a failure to check
// at all is an error status.
func (h *VerificationController) Verify(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid payment session id", Code: "invalid_id"})
		return
	}

	var req VerifyPaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if userID, _ := middleware.GetUserID(r.Context()); session.UserID != userID {
		writeError(w, domainErrors.ErrPaymentSessionNotFound)
		return
	}

	result, err := h.verifier.VerifyPaymentTransaction(r.Context(), session, req.TxHash, req.MinConfirmations)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FromVerification(result))
}
