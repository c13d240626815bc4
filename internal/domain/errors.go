package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Subscription errors (SUB_*)
	ErrorCodeSubNotFound        ErrorCode = "SUB_NOT_FOUND"
	ErrorCodeSubAlreadyCanceled ErrorCode = "SUB_ALREADY_CANCELED"

	// Invoice errors (INVOICE_*)
	ErrorCodeInvoiceNotFound            ErrorCode = "INVOICE_NOT_FOUND"
	ErrorCodeInvoiceDuplicateExternalID ErrorCode = "INVOICE_DUPLICATE_EXTERNAL_ID"

	// Transaction errors (TXN_*)
	ErrorCodeTxnNotFound ErrorCode = "TXN_NOT_FOUND"

	// Illegal state transition or operation (OP_*)
	ErrorCodeInvalidOperation ErrorCode = "OP_INVALID"

	// Schedule contract violations (SCHEDULE_*) - programmer errors
	ErrorCodeInvalidInterval  ErrorCode = "SCHEDULE_INVALID_INTERVAL"
	ErrorCodeInvalidFrequency ErrorCode = "SCHEDULE_INVALID_FREQUENCY"

	// Validation errors (VALIDATION_*)
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"

	// Processor gateway errors (GATEWAY_*)
	ErrorCodeGatewayError ErrorCode = "GATEWAY_ERROR"

	// Internal errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
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

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeSubNotFound ||
		code == ErrorCodeInvoiceNotFound ||
		code == ErrorCodeTxnNotFound
}

// IsConflictError checks if an error should surface to the caller as a conflict
func IsConflictError(err error) bool {
	return GetErrorCode(err) == ErrorCodeInvoiceDuplicateExternalID
}

// IsClientError checks if an error was caused by an illegal request rather
// than an infrastructure failure
func IsClientError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeInvalidOperation ||
		code == ErrorCodeSubAlreadyCanceled ||
		code == ErrorCodeInvoiceDuplicateExternalID ||
		code == ErrorCodeValidationAmountInvalid ||
		code == ErrorCodeValidationFailed
}

// Sentinel instances for errors.Is comparisons
var (
	ErrSubNotFound         = NewDomainError(ErrorCodeSubNotFound, "subscription not found")
	ErrAlreadyCanceled     = NewDomainError(ErrorCodeSubAlreadyCanceled, "subscription is already canceled")
	ErrInvoiceNotFound     = NewDomainError(ErrorCodeInvoiceNotFound, "invoice not found")
	ErrDuplicateExternalID = NewDomainError(ErrorCodeInvoiceDuplicateExternalID, "an invoice with this external ID already exists for the customer")
	ErrTxnNotFound         = NewDomainError(ErrorCodeTxnNotFound, "transaction not found")
	ErrInvalidOperation    = NewDomainError(ErrorCodeInvalidOperation, "operation is not legal in the current state")
	ErrInvalidInterval     = NewDomainError(ErrorCodeInvalidInterval, "billing interval must be at least 1")
	ErrInvalidFrequency    = NewDomainError(ErrorCodeInvalidFrequency, "unknown billing frequency")
	ErrInvalidAmount       = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")
)
