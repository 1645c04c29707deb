package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/edgegw/internal/util"
)

const (
	// RequestIDHeader is the header name for request ID.
	RequestIDHeader = util.HeaderXRequestID
	// RequestIDKey is the gin context key for request ID.
	RequestIDKey = "requestID"
	// maxRequestIDLength bounds client supplied IDs.
	maxRequestIDLength = 128
)

// RequestID returns a middleware that honors or generates X-Request-ID. The
// ID is echoed on the response, stored in the request context for logging
// and set on the inbound headers so it is forwarded downstream.
func RequestID() gin.HandlerFunc {
	return RequestIDWithGenerator(func() string {
		return uuid.New().String()
	})
}

// RequestIDWithGenerator returns a middleware that uses a custom ID generator.
func RequestIDWithGenerator(generator func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = generator()
		}

		c.Set(RequestIDKey, requestID)
		c.Request.Header.Set(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(util.ContextWithRequestID(c.Request.Context(), requestID))
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetRequestID returns the request ID from the context.
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(RequestIDKey); exists {
		if requestID, ok := id.(string); ok {
			return requestID
		}
	}
	return ""
}
