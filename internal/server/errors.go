package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/analyzer"
	"github.com/therealutkarshpriyadarshi/devops-assistant/internal/reliability"
)

var (
	// ErrNotConfigured is returned by ingest endpoints when no log path is set
	ErrNotConfigured = errors.New("log ingestion is not configured: set LOG_FILE_PATH")
	// ErrNoDataBuffered is returned when the buffer holds only whitespace
	ErrNoDataBuffered = errors.New("no log data has been ingested yet")
	// ErrInvalidBody is returned for unreadable or malformed request bodies
	ErrInvalidBody = errors.New("invalid request body")
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Detail string `json:"detail"`
}

// statusFor maps an error onto the HTTP status reported to clients
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotConfigured),
		errors.Is(err, ErrNoDataBuffered),
		errors.Is(err, ErrInvalidBody),
		errors.Is(err, analyzer.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, analyzer.ErrNotConfigured),
		errors.Is(err, reliability.ErrCircuitOpen),
		errors.Is(err, reliability.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Detail: err.Error()})
}
