package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/log4ym/station-core/internal/keyer"
	"github.com/log4ym/station-core/internal/radio"
	"github.com/log4ym/station-core/internal/supervisor"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "unavailable"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeConflict writes a 409 error response.
func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps control-plane sentinel errors onto HTTP status
// codes. Anything unrecognised is reported as a 500 without leaking
// internals to the caller.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, radio.ErrNotFound),
		errors.Is(err, supervisor.ErrUnknownDevice):
		writeNotFound(w, "radio not found")
	case errors.Is(err, supervisor.ErrNotMonitoring):
		writeConflict(w, "radio is not monitoring")
	case errors.Is(err, radio.ErrDeviceExists):
		writeConflict(w, "radio already registered")
	case errors.Is(err, keyer.ErrKeyerBusy):
		writeConflict(w, "a CW transmission is already in flight")
	case errors.Is(err, radio.ErrUnknownFamily):
		writeBadRequest(w, err.Error())
	case errors.Is(err, keyer.ErrInvalidSpeed),
		errors.Is(err, keyer.ErrEmptyText):
		writeBadRequest(w, err.Error())
	case errors.Is(err, supervisor.ErrManagerClosed),
		errors.Is(err, keyer.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "station core is shutting down")
	default:
		writeInternalError(w, "internal server error")
	}
}
