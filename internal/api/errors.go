package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alvmarrod/trust-weaver/internal/account"
	"github.com/alvmarrod/trust-weaver/internal/build"
	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Common error codes
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeBuildRunning      = "BUILD_ALREADY_RUNNING"
	ErrCodeBuildFailed       = "BUILD_FAILED"
	ErrCodeBuildsDisabled    = "BUILDS_DISABLED"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

func respondError(w http.ResponseWriter, statusCode int, code, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logrus.Debugf("Failed to write response: %v", err)
		}
	}
}

func parseJSONBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// mapError maps domain errors to an HTTP status, code and client message
func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, account.ErrInvalidIdentifier), errors.Is(err, storage.ErrInvalidRegion):
		return http.StatusBadRequest, ErrCodeInvalidInput, err.Error()
	case errors.Is(err, storage.ErrSeederNotFound):
		return http.StatusNotFound, ErrCodeNotFound, err.Error()
	case errors.Is(err, storage.ErrDuplicateSeeder):
		return http.StatusConflict, ErrCodeConflict, err.Error()
	case errors.Is(err, build.ErrBuildAlreadyRunning):
		return http.StatusConflict, ErrCodeBuildRunning, err.Error()
	case errors.Is(err, build.ErrBuildsDisabled):
		return http.StatusServiceUnavailable, ErrCodeBuildsDisabled, err.Error()
	default:
		return http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred"
	}
}

func respondMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		logrus.WithField("path", r.URL.Path).Errorf("Request failed: %v", err)
	}
	respondError(w, status, code, message)
}
