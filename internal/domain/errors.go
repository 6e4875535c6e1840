package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	ErrorCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrorCodeInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorCodeAlreadyActive     ErrorCode = "ALREADY_ACTIVE"
	ErrorCodeInsufficientFunds ErrorCode = "INSUFFICIENT_FUNDS"
	ErrorCodePaymentDeclined   ErrorCode = "PAYMENT_DECLINED"
	ErrorCodeGatewayError      ErrorCode = "GATEWAY_ERROR"
	ErrorCodeLockUnavailable   ErrorCode = "LOCK_UNAVAILABLE"
	ErrorCodeInternal          ErrorCode = "INTERNAL"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// Common domain errors
var (
	ErrSubscriptionNotFound  = NewDomainError(ErrorCodeNotFound, "subscription not found")
	ErrPlanNotFound          = NewDomainError(ErrorCodeNotFound, "plan not found")
	ErrUserNotFound          = NewDomainError(ErrorCodeNotFound, "user not found")
	ErrTransactionNotFound   = NewDomainError(ErrorCodeNotFound, "transaction not found")
	ErrPaymentMethodNotFound = NewDomainError(ErrorCodeNotFound, "payment method not found")
	ErrPromoCodeNotFound     = NewDomainError(ErrorCodeNotFound, "promo code not found")

	ErrAlreadyActive     = NewDomainError(ErrorCodeAlreadyActive, "user already has a subscription for this plan")
	ErrAlreadyCancelled  = NewDomainError(ErrorCodeInvalidInput, "subscription already cancelled")
	ErrInvalidUpgrade    = NewDomainError(ErrorCodeInvalidInput, "new plan must be more expensive for upgrade")
	ErrNotActive         = NewDomainError(ErrorCodeInvalidInput, "subscription is not active")
	ErrZeroAmountCharge  = NewDomainError(ErrorCodeInvalidInput, "transaction amount must be non-zero")
	ErrInvalidPromoCode  = NewDomainError(ErrorCodeInvalidInput, "promo code is not applicable")
	ErrInsufficientFunds = NewDomainError(ErrorCodeInsufficientFunds, "payment declined: insufficient funds")
	ErrPaymentDeclined   = NewDomainError(ErrorCodePaymentDeclined, "payment declined by gateway")
	ErrPaymentGateway    = NewDomainError(ErrorCodeGatewayError, "payment gateway error")
	ErrLockUnavailable   = NewDomainError(ErrorCodeLockUnavailable, "subscription is being processed elsewhere")
)
