package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// Metrics returns a middleware that records request count, latency and
// in-flight requests per route.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.IncActiveRequests()
		defer m.DecActiveRequests()

		start := time.Now()
		c.Next()

		m.RecordRequest(c.Request.Method, GetRoute(c), c.Writer.Status(), time.Since(start))
	}
}
