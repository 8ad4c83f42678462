package controller

import (
	"encoding/json"
	"errors"
	"net/http"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

type errorMapping struct {
	err    error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorMappings = []errorMapping{
	{domainErrors.ErrRefundNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrPaymentSessionNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrPaymentNotRefundable, http.StatusUnprocessableEntity, "not_refundable"},
	{domainErrors.ErrOverRefund, http.StatusUnprocessableEntity, "over_refund"},
	{domainErrors.ErrMissingCustomerAddress, http.StatusUnprocessableEntity, "missing_customer_address"},
	{domainErrors.ErrIdempotencyConflict, http.StatusConflict, "idempotency_conflict"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrStaleRefundState, http.StatusConflict, "conflict"},
	{domainErrors.ErrUnsupportedNetwork, http.StatusUnprocessableEntity, "unsupported_network"},
	{domainErrors.ErrUnsupportedToken, http.StatusUnprocessableEntity, "unsupported_token"},
	{domainErrors.ErrRPCTimeout, http.StatusGatewayTimeout, "rpc_timeout"},
	{domainErrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
	{domainErrors.ErrAllProvidersFailed, http.StatusServiceUnavailable, "provider_unavailable"},
	{domainErrors.ErrExecutorUnavailable, http.StatusServiceUnavailable, "executor_unavailable"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			if m.err == domainErrors.ErrStaleRefundState {
				resp.Error = "concurrent modification, please retry"
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	log.Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}
