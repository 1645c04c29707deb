// Package util provides shared helpers for the edge gateway.
//
// # Context Helpers
//
// Request-scoped values carried through the pipeline:
//
//	ctx = util.ContextWithRequestID(ctx, "req-123")
//	requestID := util.RequestIDFromContext(ctx)
//
// # Error Types
//
// Structured error types for consistent error handling:
//
//   - ConfigError: configuration validation errors
//   - BackendError: downstream connectivity failures
//   - ServerError: downstream 5xx responses
//   - Common sentinel errors: ErrRateLimited, ErrCircuitOpen, etc.
//
// # HTTP Utilities
//
// Response writer wrappers and JSON error bodies:
//
//	w := util.NewStatusCapturingResponseWriter(responseWriter)
//	handler.ServeHTTP(w, r)
//	statusCode := w.StatusCode
package util
