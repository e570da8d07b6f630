package http

import (
	"encoding/json"
	"net/http"
	"time"
)

// errorResponse is the body of every failed request. Error carries the
// collaborator's message verbatim when one caused the failure.
type errorResponse struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	ConnectionStatus string `json:"connectionStatus,omitempty"`
	Error            string `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // connection may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

// writeFailure writes a 500 with the collaborator error passed through.
func writeFailure(w http.ResponseWriter, message string, err error) {
	writeJSON(w, http.StatusInternalServerError, errorResponse{Message: message, Error: err.Error()})
}

// isoTimestamp formats t the way browsers print Date.toISOString.
func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
