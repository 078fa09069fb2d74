package workflow

import (
	"errors"
	"fmt"
)

// Error represents a fault caught at the workflow boundary.
//
// Errors include:
//   - Product not found: the provider returned no product for the identifier
//   - Verification failed: the purchase completed but the transaction is not authentic
//   - Unexpected purchase state: the provider returned an unrecognized result
//   - Provider fault: lookup or purchase failed, or a collaborator panicked
//
// Error is stored in State.Err and Outcome.Err; it is never returned as a
// Go error from Purchase.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ProductID identifies the product of the affected attempt.
	ProductID string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes workflow errors.
type ErrorCode string

const (
	// ErrCodeProductNotFound indicates the product lookup returned no match.
	ErrCodeProductNotFound ErrorCode = "PRODUCT_NOT_FOUND"

	// ErrCodeVerificationFailed indicates the transaction failed verification.
	// The transaction is neither finished nor synced.
	ErrCodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"

	// ErrCodeUnexpectedState indicates an unrecognized purchase result.
	ErrCodeUnexpectedState ErrorCode = "UNEXPECTED_PURCHASE_STATE"

	// ErrCodeProviderFault indicates the lookup or purchase call failed.
	ErrCodeProviderFault ErrorCode = "PROVIDER_FAULT"

	// ErrCodeInProgress indicates an attempt was rejected because another
	// attempt is still running.
	ErrCodeInProgress ErrorCode = "PURCHASE_IN_PROGRESS"

	// ErrCodeFinalizeFailed indicates the provider refused to finish a
	// verified transaction. Attribution sync is skipped.
	ErrCodeFinalizeFailed ErrorCode = "FINALIZE_FAILED"

	// ErrCodeAttributionFault indicates the attribution sync failed after the
	// transaction was finished.
	ErrCodeAttributionFault ErrorCode = "ATTRIBUTION_FAULT"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ProductID != "" {
		msg = fmt.Sprintf("%s (product=%s)", msg, e.ProductID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsCode reports whether err is a workflow Error with the given code.
// Uses errors.As to handle wrapped errors.
func IsCode(err error, code ErrorCode) bool {
	var we *Error
	if errors.As(err, &we) {
		return we.Code == code
	}
	return false
}

// CodeOf returns the code of a workflow Error, or "" for any other error.
func CodeOf(err error) ErrorCode {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

func newError(code ErrorCode, productID, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		ProductID: productID,
		Err:       cause,
	}
}
