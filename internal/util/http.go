package util

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Header and content type names shared by the pipeline stages.
const (
	HeaderContentType = "Content-Type"
	HeaderRetryAfter  = "Retry-After"
	HeaderXRequestID  = "X-Request-ID"
	ContentTypeJSON   = "application/json"
)

// ServerError represents a server-side error for circuit breaker tracking.
// It is used to signal that a downstream returned a 5xx status code.
type ServerError struct {
	StatusCode int
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: status %d", e.StatusCode)
}

// NewServerError creates a new ServerError with the given status code.
func NewServerError(statusCode int) *ServerError {
	return &ServerError{StatusCode: statusCode}
}

// ErrorBody is the JSON body the gateway emits for responses it
// produces itself.
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
	Suggestion string `json:"suggestion,omitempty"`
}

// NewErrorBody builds an ErrorBody stamped with the given time.
func NewErrorBody(code, message string, now time.Time) ErrorBody {
	return ErrorBody{
		Error:     code,
		Message:   message,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// MarshalErrorBody encodes an ErrorBody. Encoding a struct of strings
// cannot fail, so a failure falls back to a minimal literal.
func MarshalErrorBody(body ErrorBody) []byte {
	data, err := json.Marshal(body)
	if err != nil {
		return []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return data
}

// StatusCapturingResponseWriter wraps http.ResponseWriter to track status code.
// It is used by the forwarder and middleware that need to inspect
// the response status code after the handler has completed.
type StatusCapturingResponseWriter struct {
	http.ResponseWriter
	StatusCode    int
	HeaderWritten bool
	BytesWritten  int64
}

// NewStatusCapturingResponseWriter creates a new StatusCapturingResponseWriter
// wrapping the provided http.ResponseWriter with a default status of 200 OK.
func NewStatusCapturingResponseWriter(w http.ResponseWriter) *StatusCapturingResponseWriter {
	return &StatusCapturingResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code and writes it to the underlying ResponseWriter.
func (w *StatusCapturingResponseWriter) WriteHeader(code int) {
	if w.HeaderWritten {
		return
	}
	w.StatusCode = code
	w.HeaderWritten = true
	w.ResponseWriter.WriteHeader(code)
}

// Write writes data to the underlying ResponseWriter and marks header as written.
func (w *StatusCapturingResponseWriter) Write(b []byte) (int, error) {
	if !w.HeaderWritten {
		w.HeaderWritten = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.BytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher interface for streaming support.
func (w *StatusCapturingResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Compile-time interface assertion.
var _ http.Flusher = (*StatusCapturingResponseWriter)(nil)
