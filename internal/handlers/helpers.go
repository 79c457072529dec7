package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/catchall/internal/catchall"
	"github.com/ternarybob/catchall/internal/interfaces"
	"github.com/ternarybob/catchall/internal/monitor"
	"github.com/ternarybob/catchall/internal/poll"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteAPIError maps a domain error onto an HTTP status. Validation errors
// keep their field list so callers can correct the request.
func WriteAPIError(w http.ResponseWriter, logger arbor.ILogger, err error) {
	var validationErr *catchall.ValidationError
	var authErr *catchall.AuthError
	var apiErr *catchall.APIError
	var failedErr *poll.JobFailedError
	var stuckErr *poll.StuckJobError

	switch {
	case errors.As(err, &validationErr):
		WriteJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"status": "error",
			"error":  "validation failed",
			"detail": validationErr.Fields,
		})
	case errors.As(err, &authErr):
		WriteError(w, http.StatusBadGateway, "CatchAll rejected the API key")
	case errors.Is(err, interfaces.ErrNotFound), errors.Is(err, monitor.ErrNotFound), errors.Is(err, monitor.ErrNoRuns):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		WriteError(w, http.StatusNotFound, apiErr.Message)
	case errors.As(err, &failedErr), errors.As(err, &stuckErr), errors.Is(err, monitor.ErrAlreadyRunning):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.As(err, &apiErr):
		WriteError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error().Err(err).Msg("Request failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// DecodeJSON reads a JSON body into v. Unknown fields are rejected.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// PathSegments splits the path below prefix, e.g. "/api/monitors/" and
// "/api/monitors/mon-1/runs" give ["mon-1", "runs"].
func PathSegments(r *http.Request, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// QueryInt reads a non-negative integer query parameter
func QueryInt(r *http.Request, name string, fallback int) int {
	if value := r.URL.Query().Get(name); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
