package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func observedLogger(level zapcore.Level) (observability.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return observability.NewLoggerFromZap(zap.New(core)), logs
}

func TestRecovery(t *testing.T) {
	logger, logs := observedLogger(zapcore.DebugLevel)

	router := gin.New()
	router.Use(Recovery(logger))
	router.GET("/panic", func(*gin.Context) {
		panic("test panic")
	})
	router.GET("/ok", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	t.Run("recovers from panic", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
		assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	})

	t.Run("normal request passes through", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
	})
}

func TestRecovery_AbortHandlerIsReraised(t *testing.T) {
	router := gin.New()
	router.Use(Recovery(nil))
	router.GET("/abort", func(*gin.Context) {
		panic(http.ErrAbortHandler)
	})

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abort", nil))
	})
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		want    string
	}{
		{name: "generated", inbound: "", want: "generated-id"},
		{name: "honored", inbound: "abc-123", want: "abc-123"},
		{name: "oversized replaced", inbound: string(make([]byte, 200)), want: "generated-id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seenHeader, seenCtx string
			router := gin.New()
			router.Use(RequestIDWithGenerator(func() string { return "generated-id" }))
			router.GET("/", func(c *gin.Context) {
				seenHeader = c.Request.Header.Get(RequestIDHeader)
				seenCtx = util.RequestIDFromContext(c.Request.Context())
				assert.Equal(t, tt.want, GetRequestID(c))
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set(RequestIDHeader, tt.inbound)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Header().Get(RequestIDHeader))
			assert.Equal(t, tt.want, seenHeader)
			assert.Equal(t, tt.want, seenCtx)
		})
	}
}

func TestRequestID_UUID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(*gin.Context) {})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestLogging(t *testing.T) {
	logger, logs := observedLogger(zapcore.DebugLevel)

	router := gin.New()
	router.Use(RequestIDWithGenerator(func() string { return "rid" }))
	router.Use(LoggingWithConfig(LoggingConfig{Logger: logger, SkipPaths: []string{"/skip"}}))
	router.GET("/ok", func(c *gin.Context) {
		c.Set(RouteKey, "task")
		c.Status(http.StatusOK)
	})
	router.GET("/denied", func(c *gin.Context) { c.Status(http.StatusTooManyRequests) })
	router.GET("/broken", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })
	router.GET("/skip", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/ok", "/denied", "/broken", "/skip"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "task", entries[0].ContextMap()["route"])
	assert.Equal(t, "rid", entries[0].ContextMap()["request_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var traceID string
	router := gin.New()
	router.Use(TracingWithConfig(TracingConfig{
		TracerProvider: provider,
		Propagators:    propagation.TraceContext{},
	}))
	router.GET("/api/tasks", func(c *gin.Context) {
		traceID = util.TraceIDFromContext(c.Request.Context())
		assert.NotNil(t, GetSpan(c))
		c.Set(RouteKey, "task")
		c.Status(http.StatusBadGateway)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	router.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/tasks", spans[0].Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", traceID)
	assert.Equal(t, "Error", spans[0].Status().Code.String())
}

func TestMetrics(t *testing.T) {
	m := observability.NewMetrics("test")

	router := gin.New()
	router.Use(Metrics(m))
	router.GET("/api/tasks", func(c *gin.Context) {
		c.Set(RouteKey, "task")
		c.Status(http.StatusCreated)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `test_requests_total{method="GET",route="task",status="201"} 1`)
	assert.Contains(t, w.Body.String(), `test_active_requests 0`)
}
