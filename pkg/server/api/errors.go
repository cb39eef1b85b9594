package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fleetaudit/fleetaudit/pkg/audit"
	"github.com/fleetaudit/fleetaudit/pkg/progress"
	"github.com/fleetaudit/fleetaudit/pkg/storage"
)

// ErrorResponse is the standard JSON error payload used by every endpoint.
//
// Example:
//
//	{
//	  "error": "Not Found",
//	  "code": "RESOURCE_NOT_FOUND",
//	  "message": "audit 'b2f1...' not found"
//	}
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteError writes a standard JSON error response, mapping known error
// types to HTTP status codes:
//   - storage.NotFoundError -> 404 Not Found
//   - audit.ErrRunInProgress, progress.ErrAlreadyRunning -> 409 Conflict
//   - storage.ErrAlreadyExists -> 409 Conflict
//   - everything else -> 500 Internal Server Error
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var statusCode int
	var errorType string
	var errorCode string

	var notFoundErr *storage.NotFoundError
	switch {
	case errors.As(err, &notFoundErr):
		statusCode = http.StatusNotFound
		errorType = "Not Found"
		errorCode = "RESOURCE_NOT_FOUND"
	case errors.Is(err, audit.ErrRunInProgress), errors.Is(err, progress.ErrAlreadyRunning):
		statusCode = http.StatusConflict
		errorType = "Conflict"
		errorCode = "RUN_IN_PROGRESS"
	case errors.Is(err, storage.ErrAlreadyExists):
		statusCode = http.StatusConflict
		errorType = "Conflict"
		errorCode = "ALREADY_EXISTS"
	default:
		statusCode = http.StatusInternalServerError
		errorType = "Internal Server Error"
		errorCode = "INTERNAL_ERROR"
	}

	logEvent := log.Error().
		Str("component", "api").
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", statusCode).
		Str("error_code", errorCode).
		Err(err)

	switch {
	case statusCode == http.StatusNotFound:
		logEvent.Msg("Resource not found")
	case statusCode >= 500:
		logEvent.Msg("Internal server error")
	default:
		logEvent.Msg("Client error")
	}

	WriteJSONError(w, statusCode, errorType, errorCode, err.Error())
}

// WriteJSONError writes a custom JSON error response with a specific status
// code. Use this when a handler needs full control over the response.
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

// WriteJSON writes a JSON response. Use this for successful responses.
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
