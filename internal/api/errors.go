package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/mybadgelife/internal/errors"
	"github.com/mybadgelife/internal/logging"
	"github.com/mybadgelife/internal/types"
)

const internalErrorMessage = "An internal error occurred"

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	_ = json.NewEncoder(w).Encode(response)
}

// respondServiceError maps a service error onto its HTTP status. Causes of
// system errors are logged and never written to the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	catErr := apperrors.Categorize(err)
	if apperrors.IsSystemError(err) {
		logging.FromContext(r.Context()).WithError(err).WithField("code", catErr.Code).Error("Request failed")
	}
	if catErr.Code == types.CodeInternalError {
		respondError(w, http.StatusInternalServerError, types.CodeInternalError, internalErrorMessage, nil)
		return
	}
	respondError(w, catErr.StatusCode, catErr.Code, catErr.Message, catErr.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// maxJSONBody bounds JSON request bodies; images go through readImage
const maxJSONBody = 1 << 20

// parseJSONBody parses JSON request body.
func parseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return types.NewServiceError(types.CodeInvalidInput, "request body is required")
		}
		return &types.ServiceError{
			Code:    types.CodeInvalidInput,
			Message: "Invalid request body",
			Details: map[string]interface{}{"reason": err.Error()},
		}
	}
	return nil
}

func invalidParam(name, reason string) *types.ServiceError {
	return &types.ServiceError{
		Code:    types.CodeInvalidInput,
		Message: fmt.Sprintf("invalid %s: %s", name, reason),
		Details: map[string]interface{}{"param": name},
	}
}
