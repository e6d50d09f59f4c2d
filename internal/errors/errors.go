// Package errors maps service errors onto categories and HTTP status codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/mybadgelife/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryUserInput represents user input errors (4xx)
	CategoryUserInput ErrorCategory = "user_input"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryProvider represents upstream AI/search/webhook provider errors
	CategoryProvider ErrorCategory = "provider"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryAuthorization represents authentication and permission errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents conflict errors
	CategoryConflict ErrorCategory = "conflict"
	// CategoryRateLimit represents rate limit errors
	CategoryRateLimit ErrorCategory = "rate_limit"
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

// ToServiceError converts to a ServiceError for the wire
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       types.CodeInternalError,
		Message:    message,
		Cause:      cause,
	}
}

// statusByCode is the HTTP status for each service error code
var statusByCode = map[string]struct {
	category ErrorCategory
	status   int
}{
	types.CodeInvalidInput:          {CategoryUserInput, http.StatusBadRequest},
	types.CodeUnauthorized:          {CategoryAuthorization, http.StatusUnauthorized},
	types.CodeForbidden:             {CategoryAuthorization, http.StatusForbidden},
	types.CodeUserBanned:            {CategoryAuthorization, http.StatusForbidden},
	types.CodeNotFound:              {CategoryNotFound, http.StatusNotFound},
	types.CodeBadgeNotFound:         {CategoryNotFound, http.StatusNotFound},
	types.CodeProfileNotFound:       {CategoryNotFound, http.StatusNotFound},
	types.CodeUploadNotFound:        {CategoryNotFound, http.StatusNotFound},
	types.CodeImageNotFound:         {CategoryNotFound, http.StatusNotFound},
	types.CodeTeamNotFound:          {CategoryNotFound, http.StatusNotFound},
	types.CodeTeamRequestNotFound:   {CategoryNotFound, http.StatusNotFound},
	types.CodeConflict:              {CategoryConflict, http.StatusConflict},
	types.CodeUsernameTaken:         {CategoryConflict, http.StatusConflict},
	types.CodeTeamNameTaken:         {CategoryConflict, http.StatusConflict},
	types.CodeAlreadyReviewed:       {CategoryConflict, http.StatusConflict},
	types.CodeAlreadyMember:         {CategoryConflict, http.StatusConflict},
	types.CodeDuplicateRequest:      {CategoryConflict, http.StatusConflict},
	types.CodePayloadTooLarge:       {CategoryUserInput, http.StatusRequestEntityTooLarge},
	types.CodeUnsupportedMediaType:  {CategoryUserInput, http.StatusUnsupportedMediaType},
	types.CodeRateLimitExceeded:     {CategoryRateLimit, http.StatusTooManyRequests},
	types.CodeProviderError:         {CategoryProvider, http.StatusBadGateway},
	types.CodeProviderTimeout:       {CategoryProvider, http.StatusGatewayTimeout},
	types.CodeProviderNotConfigured: {CategorySystem, http.StatusServiceUnavailable},
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError by its code
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	entry, ok := statusByCode[err.Code]
	if !ok {
		entry.category = CategorySystem
		entry.status = http.StatusInternalServerError
	}
	return &CategorizedError{
		Category:   entry.category,
		StatusCode: entry.status,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
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

// IsSystemError determines if an error is a system error (5xx)
func IsSystemError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	return catErr.StatusCode >= 500
}
