package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	logpkg "github.com/benvon/letmeask/internal/logger"
)

// maxErrorMessageLength caps the message clients see in error envelopes.
const maxErrorMessageLength = 200

type successEnvelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type errorEnvelope struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// respondJSON sends data in the success envelope.
func respondJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, successEnvelope{Success: true, Data: data, Timestamp: timestamp()})
}

// respondJSONError sends the error envelope. message is shortened and
// stripped of control characters.
func respondJSONError(w http.ResponseWriter, status int, errorType, message string) {
	writeEnvelope(w, status, errorEnvelope{
		Success:   false,
		Error:     errorType,
		Message:   logpkg.SanitizeString(message, maxErrorMessageLength),
		Timestamp: timestamp(),
	})
}

// writeEnvelope encodes before writing the status so an unencodable body
// still yields a 500.
func writeEnvelope(w http.ResponseWriter, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(payload, '\n'))
}
