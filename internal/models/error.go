package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConflictData        = errors.New("data conflicts with existing data")
	ErrDataNotFound        = errors.New("data not found")
	ErrServiceUnavailable  = errors.New("service unavailable")
	ErrOrderNotCancellable = errors.New("order is not cancellable")
	ErrInternalError       = errors.New("internal error")
	// ErrPaymentPreviouslyFailed marks an idempotency key consumed by an
	// order whose payment attempt already failed
	ErrPaymentPreviouslyFailed = errors.New("previous payment attempt failed")
)

// ValidationError is returned for malformed order input.
// The workflow never retries it.
type ValidationError struct {
	Reason string
}

func NewValidationError(reason string) ValidationError {
	return ValidationError{Reason: reason}
}

func (e ValidationError) Error() string {
	return "order validation: " + e.Reason
}

// InventoryUnavailableError carries product ids that could not be reserved.
// Caller may retry with the same idempotency key once stock frees up.
type InventoryUnavailableError struct {
	Items []string
}

func NewInventoryUnavailableError(items []string) InventoryUnavailableError {
	return InventoryUnavailableError{Items: items}
}

func (e InventoryUnavailableError) Error() string {
	return "insufficient inventory: " + strings.Join(e.Items, ",")
}

// PaymentError wraps payment capture failure. Compensated reports whether
// the inventory reservation release has been performed.
type PaymentError struct {
	OrderID     string
	Compensated bool
	Err         error
}

func NewPaymentError(orderID string, compensated bool, err error) *PaymentError {
	return &PaymentError{OrderID: orderID, Compensated: compensated, Err: err}
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment for order %s: %v", e.OrderID, e.Err)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}
