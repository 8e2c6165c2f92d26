package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/quantor/quantor/pkg/coordinator"
	"github.com/quantor/quantor/pkg/task"
)

// Note on API Error DTOs and Evolution Policy
//
// The JSON error payloads produced here (error, code, message, etc.) are part
// of the public API contract. Apply the DTO Evolution Policy:
// - Additive-only: add optional fields; do not remove/rename existing fields
// - Zero-value semantics: new fields must have safe zero-values; prefer `omitempty`
// - Breaking changes should be introduced under a new API version (v2)

// ErrorResponse represents a standard JSON error response.
// Used consistently across all API endpoints for error responses.
//
// Example:
//
//	{
//	  "error": "Conflict",
//	  "code": "LOCK_CONFLICT",
//	  "message": "job slot held by alice (kind collect, job 7f3a...)"
//	}
type ErrorResponse struct {
	Error   string `json:"error"`             // Short error type (e.g., "Not Found", "Conflict")
	Code    string `json:"code,omitempty"`    // Machine-readable error code (e.g., "JOB_NOT_FOUND", "LOCK_CONFLICT")
	Message string `json:"message,omitempty"` // Detailed error message (optional)

	// Holder carries the current slot occupant on LOCK_CONFLICT responses
	// so clients can tell the user who is blocking them.
	Holder *coordinator.HoldInfo `json:"holder,omitempty"`
}

// WriteError writes a standard JSON error response to the client.
// It automatically determines the HTTP status code based on error type:
//   - *coordinator.LockConflictError → 409 Conflict, LOCK_CONFLICT
//   - coordinator.ErrUnknownKind → 404 Not Found, KIND_NOT_FOUND
//   - task.ErrNotFound → 404 Not Found, JOB_NOT_FOUND
//   - task.ErrActive / task.ErrTerminal → 409 Conflict
//   - All other errors → 500 Internal Server Error
//
// It also logs the error with structured logging for observability.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var statusCode int
	var errorCode string
	var holder *coordinator.HoldInfo

	var conflict *coordinator.LockConflictError
	switch {
	case errors.As(err, &conflict):
		statusCode = http.StatusConflict
		errorCode = "LOCK_CONFLICT"
		holder = &coordinator.HoldInfo{
			JobID:     conflict.JobID,
			Kind:      conflict.Kind,
			Owner:     conflict.Owner,
			StartedAt: conflict.StartedAt,
		}
	case errors.Is(err, coordinator.ErrUnknownKind):
		statusCode = http.StatusNotFound
		errorCode = "KIND_NOT_FOUND"
	case errors.Is(err, task.ErrNotFound):
		statusCode = http.StatusNotFound
		errorCode = "JOB_NOT_FOUND"
	case errors.Is(err, task.ErrActive):
		statusCode = http.StatusConflict
		errorCode = "JOB_ACTIVE"
	case errors.Is(err, task.ErrTerminal):
		statusCode = http.StatusConflict
		errorCode = "JOB_TERMINAL"
	default:
		statusCode = http.StatusInternalServerError
		errorCode = "INTERNAL_ERROR"
	}

	// Log the error with context
	logEvent := log.Error().
		Str("component", "api").
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", statusCode).
		Str("error_code", errorCode).
		Err(err)

	if statusCode == http.StatusNotFound {
		logEvent.Msg("Resource not found")
	} else if statusCode >= 500 {
		logEvent.Msg("Internal server error")
	} else if statusCode >= 400 {
		logEvent.Msg("Client error")
	} else {
		logEvent.Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   httpStatusText(statusCode),
		Code:    errorCode,
		Message: err.Error(),
		Holder:  holder,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().
			Str("component", "api").
			Err(err).
			Msg("Failed to encode error response")
	}
}

// httpStatusText returns human-readable text for HTTP status codes
func httpStatusText(statusCode int) string {
	switch statusCode {
	case http.StatusOK:
		return "OK"
	case http.StatusBadRequest:
		return "Bad Request"
	case http.StatusNotFound:
		return "Not Found"
	case http.StatusConflict:
		return "Conflict"
	case http.StatusInternalServerError:
		return "Internal Server Error"
	case http.StatusServiceUnavailable:
		return "Service Unavailable"
	default:
		return http.StatusText(statusCode)
	}
}

// WriteJSONError writes a custom JSON error response with a specific status code.
// Use this when you need fine-grained control over the error response.
//
// Example:
//
//	WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_PARAMS", "params must be an object of strings")
func WriteJSONError(w http.ResponseWriter, statusCode int, errorType, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   errorType,
		Code:    errorCode,
		Message: message,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().
			Str("component", "api").
			Err(err).
			Msg("Failed to encode error response")
	}
}

// WriteJSON writes a JSON response to the client.
// Use this for successful API responses.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Str("component", "api").
			Err(err).
			Msg("Failed to encode JSON response")
	}
}
