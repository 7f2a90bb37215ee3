package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/claim-pipeline/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryChain represents ledger/chain RPC errors
	CategoryChain ErrorCategory = "chain"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryConflict represents claim state conflicts
	CategoryConflict ErrorCategory = "conflict"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Claim pipeline error codes
const (
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeInvalidAmount      = "INVALID_AMOUNT"
	CodeClaimNotFound      = "CLAIM_NOT_FOUND"
	CodeInFlight           = "IN_FLIGHT"
	CodeRetryRequired      = "RETRY_REQUIRED"
	CodeInvalidState       = "INVALID_STATE"
	CodeSubmissionRejected = "SUBMISSION_REJECTED"
	CodeChainUnavailable   = "CHAIN_UNAVAILABLE"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
)

// NewInvalidAddressError creates an invalid address error
func NewInvalidAddressError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidAddress,
		Message:    fmt.Sprintf("invalid address format: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewInvalidAmountError creates an invalid mint amount error
func NewInvalidAmountError(amount string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUserInput,
		StatusCode: http.StatusBadRequest,
		Code:       CodeInvalidAmount,
		Message:    fmt.Sprintf("invalid mint amount: %s", amount),
		Details: map[string]interface{}{
			"amount": amount,
		},
	}
}

// NewClaimNotFoundError creates a not found error for an address
func NewClaimNotFoundError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeClaimNotFound,
		Message:    fmt.Sprintf("no claim record for address: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewInFlightError signals a concurrent submission already in progress.
// The caller should poll for the result instead of resubmitting.
func NewInFlightError(address string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeInFlight,
		Message:    fmt.Sprintf("claim already in progress for address: %s", address),
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// NewRetryRequiredError signals a terminal failed/timeout record that
// needs an explicit operator retry before a new submission is allowed.
func NewRetryRequiredError(address string, status types.ClaimStatus) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeRetryRequired,
		Message:    fmt.Sprintf("claim for %s is %s and requires an explicit retry", address, status),
		Details: map[string]interface{}{
			"address": address,
			"status":  string(status),
		},
	}
}

// NewInvalidStateError creates an invalid state transition error
func NewInvalidStateError(address string, status types.ClaimStatus, operation string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeInvalidState,
		Message:    fmt.Sprintf("cannot %s claim for %s in status %s", operation, address, status),
		Details: map[string]interface{}{
			"address":   address,
			"status":    string(status),
			"operation": operation,
		},
	}
}

// NewSubmissionRejectedError creates a non-retryable chain rejection error
func NewSubmissionRejectedError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryChain,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       CodeSubmissionRejected,
		Message:    fmt.Sprintf("chain rejected %s submission", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewChainUnavailableError creates a transient chain connectivity error
func NewChainUnavailableError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryChain,
		StatusCode: http.StatusBadGateway,
		Code:       CodeChainUnavailable,
		Message:    fmt.Sprintf("chain unavailable during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabaseError,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return &CategorizedError{
			Category:   CategorySystem,
			StatusCode: http.StatusInternalServerError,
			Code:       svcErr.Code,
			Message:    svcErr.Message,
			Details:    svcErr.Details,
		}
	}

	return NewInternalError("unexpected error", err)
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsCode reports whether an error carries the given pipeline error code
func IsCode(err error, code string) bool {
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Code == code
	}
	return false
}

// IsRetryable determines if an error is retryable. Chain rejections are
// deliberately excluded: they require operator intervention.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Code {
	case CodeChainUnavailable, CodeDatabaseError:
		return true
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
