package errors

import (
	"errors"
	"fmt"
)

var (
	// Payment session errors
	ErrPaymentSessionNotFound = errors.New("payment session not found")
	ErrPaymentNotRefundable   = errors.New("payment is not refundable")

	// Refund errors
	ErrRefundNotFound         = errors.New("refund not found")
	ErrOverRefund             = errors.New("refund exceeds remaining balance")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrStaleRefundState       = errors.New("refund state changed concurrently")
	ErrMissingCustomerAddress = errors.New("customer address not available")
	ErrExecutorFailed         = errors.New("refund transfer failed")
	ErrExecutorUnavailable    = errors.New("refund executor unavailable")

	// Idempotency errors
	ErrIdempotencyConflict     = errors.New("idempotency key reused with different parameters")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// Chain errors
	ErrUnsupportedNetwork  = errors.New("unsupported network")
	ErrUnsupportedToken    = errors.New("unsupported token")
	ErrProviderUnavailable = errors.New("blockchain provider unavailable")
	ErrAllProvidersFailed  = errors.New("all providers failed")
	ErrRPCTimeout          = errors.New("rpc call timed out")

	// Validation errors
	ErrValidationFailed = errors.New("validation failed")
)

// DomainError wraps errors with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
}

// Is lets callers match any validation error against ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Code returns the stable error code carried by err, or "" when none applies.
func Code(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return "validation_error"
	}
	return ""
}
