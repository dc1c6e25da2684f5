// Package apperror provides structured error handling for the migration engine.
// All business errors must use AppError for consistent classification.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. The MIGRATION_* group mirrors the failure taxonomy recorded on
// failure-log entries; the rest cover infrastructure and the operator API.
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidInput = "INVALID_INPUT"

	// Upstream API errors
	CodeTransport = "TRANSPORT_ERROR" // retryable: timeout, 5xx
	CodeAuth      = "AUTH_ERROR"      // never retried
	CodeData      = "DATA_ERROR"      // malformed upstream payload

	// Migration failures (422)
	CodeUnmappedLedger    = "UNMAPPED_LEDGER"
	CodeUnmappedRelation  = "UNMAPPED_RELATION"
	CodeInvoiceNotFound   = "INVOICE_NOT_FOUND"
	CodeUnsupportedKind   = "UNSUPPORTED_KIND"
	CodeAmountMismatch    = "AMOUNT_MISMATCH"
	CodeTargetValidation  = "TARGET_VALIDATION"
	CodeDuplicateMutation = "DUPLICATE_MUTATION"
	CodePreflight         = "PREFLIGHT_FAILED"
	CodeRunLocked         = "RUN_LOCKED"

	// Authorization errors (401, 403)
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	// Not found (404)
	CodeNotFound = "NOT_FOUND"

	// Conflict (409)
	CodeConflict = "CONFLICT"
)

// AppError is the standard error type for the engine.
// It implements the error interface and provides structured details for the
// operator API and the failure log.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (mutation id, ledger code, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions for common errors ---

// NewValidation creates a validation error (400)
func NewValidation(message string) *AppError {
	return &AppError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewNotFound creates a not found error (404)
func NewNotFound(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", entity),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewTransport creates a retryable transport error.
func NewTransport(err error) *AppError {
	return &AppError{
		Code:       CodeTransport,
		Message:    "upstream transport failure",
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// NewAuth creates a non-retryable authentication error against the upstream API.
func NewAuth(message string) *AppError {
	return &AppError{
		Code:       CodeAuth,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewData creates a non-retryable error for malformed upstream payloads.
func NewData(message string) *AppError {
	return &AppError{
		Code:       CodeData,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewUnmappedLedger is raised when a source ledger has no LedgerMapping row.
func NewUnmappedLedger(ledgerID int64) *AppError {
	return &AppError{
		Code:       CodeUnmappedLedger,
		Message:    "source ledger has no mapping to a target account",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"ledger_id": ledgerID},
	}
}

// NewUnmappedRelation is raised when a source relation cannot be resolved to a party.
func NewUnmappedRelation(relationCode string) *AppError {
	return &AppError{
		Code:       CodeUnmappedRelation,
		Message:    "source relation has no mapping and could not be fetched",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"relation_code": relationCode},
	}
}

// NewUnsupportedKind is raised for mutation kinds the engine quarantines.
func NewUnsupportedKind(kind string) *AppError {
	return &AppError{
		Code:       CodeUnsupportedKind,
		Message:    "mutation kind is not supported by the import path",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"kind": kind},
	}
}

// NewAmountMismatch is raised when line amounts disagree with the document total.
func NewAmountMismatch(mutationID int64) *AppError {
	return &AppError{
		Code:       CodeAmountMismatch,
		Message:    "mutation lines do not sum to the document total",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"mutation_id": mutationID},
	}
}

// NewTargetValidation wraps a rejection from the target document writer.
func NewTargetValidation(err error) *AppError {
	return &AppError{
		Code:       CodeTargetValidation,
		Message:    "target system rejected the built document",
		HTTPStatus: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

// NewPreflight creates a run-aborting pre-flight error.
func NewPreflight(message string) *AppError {
	return &AppError{
		Code:       CodePreflight,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewRunLocked is returned when another run holds the company lock.
func NewRunLocked(company string) *AppError {
	return &AppError{
		Code:       CodeRunLocked,
		Message:    "another migration run is active for this company",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"company": company},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewUnauthorized creates an authentication error (401)
func NewUnauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// NewForbidden creates an authorization error (403)
func NewForbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		HTTPStatus: http.StatusForbidden,
	}
}

// --- Helpers ---

// Is checks if err is an AppError with the given code
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// From extracts an AppError from err, or wraps it as internal.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternal(err)
}

// IsRetryable reports whether an error may be retried at the transport layer.
func IsRetryable(err error) bool {
	return Is(err, CodeTransport) || Is(err, CodeTimeout)
}
