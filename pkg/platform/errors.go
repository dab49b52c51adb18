package platform

import (
	"errors"
	"fmt"
)

// Authentication error values returned by the auth gate.
var (
	ErrMissingIdentity      = errors.New("missing app identity")
	ErrUnknownApp           = errors.New("unknown app")
	ErrInactiveApp          = errors.New("app is not active")
	ErrMissingSignature     = errors.New("missing request signature")
	ErrExpiredRequest       = errors.New("request timestamp outside freshness window")
	ErrInvalidSignature     = errors.New("invalid request signature")
	ErrSecretNotProvisioned = errors.New("no signing secret provisioned for app")
)

// Domain-level error values returned by wallet and invite operations.
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrDuplicateAdjustment = errors.New("duplicate idempotency key")
	ErrCodeNotFound        = errors.New("invite code not found")
	ErrCodeExpired         = errors.New("invite code expired")
	ErrCodeExhausted       = errors.New("invite code exhausted")
	ErrAlreadyRedeemed     = errors.New("invite code already redeemed by user")
)

// Input validation error values.
var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidAppStatus       = errors.New("invalid app status")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidBatchCount      = errors.New("invalid batch count")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)

// ErrStoreConflict reports a serialization failure from the backing store.
// It is retried internally before being surfaced.
var ErrStoreConflict = errors.New("store conflict")

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
