package api

import (
	"encoding/json"
	"net/http"

	pkgerrors "github.com/claim-pipeline/internal/errors"
	"github.com/claim-pipeline/internal/types"
)

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

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// respondServiceError maps a service error to its HTTP shape. User
// errors keep their message; internal ones are masked.
func respondServiceError(w http.ResponseWriter, err error) {
	categorized := pkgerrors.Categorize(err)
	status := pkgerrors.GetHTTPStatusCode(categorized)

	message := categorized.Message
	if !pkgerrors.IsUserError(categorized) && status >= http.StatusInternalServerError {
		message = "An internal error occurred"
	}

	respondError(w, status, categorized.Code, message, categorized.Details)
}
