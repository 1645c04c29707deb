package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/edgegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/fallback"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/pipeline"
	"github.com/vyrodovalexey/edgegw/internal/router"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

type testEnv struct {
	router    *router.Router
	breakers  *circuitbreaker.Registry
	forwarder *Forwarder
}

func newTestEnv(t *testing.T, routes []config.Route, opts ...Option) *testEnv {
	t.Helper()

	rt, err := router.New(routes, time.Second)
	require.NoError(t, err)

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Settings{
		FailureRateThreshold: 0.5,
		MinimumRequests:      2,
		SamplingWindow:       time.Minute,
		CoolDown:             time.Minute,
		HalfOpenRequests:     1,
	}, rt.Names())

	return &testEnv{
		router:    rt,
		breakers:  breakers,
		forwarder: New(breakers, fallback.New(nil), opts...),
	}
}

func (e *testEnv) forward(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, *pipeline.RequestContext) {
	t.Helper()

	rc := pipeline.NewRequestContext(req, "10.0.0.1", time.Now())
	route, err := e.router.Match(req.Method, req.URL.Path)
	require.NoError(t, err)
	rc.Route = route

	rec := httptest.NewRecorder()
	e.forwarder.Forward(rec, rc)
	return rec, rc
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) util.ErrorBody {
	t.Helper()
	var body util.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestForwarder_RelaysResponseVerbatim(t *testing.T) {
	t.Parallel()

	var got *http.Request
	var gotBody string
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("X-Downstream", "yes")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":42}`)
	}))
	defer downstream.Close()

	env := newTestEnv(t, []config.Route{
		{Name: "task", PathPrefix: "/api/tasks", URL: downstream.URL},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/7?expand=owner", strings.NewReader(`{"title":"x"}`))
	req.Host = "gateway.example.com"
	req.Header.Set("Connection", "keep-alive")

	rc := pipeline.NewRequestContext(req, "10.0.0.1", time.Now())
	rc.SetIdentity(pipeline.Identity{Subject: "u-1", Username: "alice", Roles: "ROLE_USER,ROLE_ADMIN"})
	rc.ResponseHeader.Set("Access-Control-Allow-Origin", "http://localhost:3000")
	rc.ResponseHeader.Set("Vary", "Origin")
	route, err := env.router.Match(req.Method, req.URL.Path)
	require.NoError(t, err)
	rc.Route = route

	rec := httptest.NewRecorder()
	env.forwarder.Forward(rec, rc)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":42}`, rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Downstream"))
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/tasks/7", got.URL.Path)
	assert.Equal(t, "expand=owner", got.URL.RawQuery)
	assert.Equal(t, `{"title":"x"}`, gotBody)
	assert.Equal(t, "u-1", got.Header.Get(pipeline.HeaderUserID))
	assert.Equal(t, "alice", got.Header.Get(pipeline.HeaderUserName))
	assert.Equal(t, "ROLE_USER,ROLE_ADMIN", got.Header.Get(pipeline.HeaderUserRoles))
	assert.Equal(t, "gateway.example.com", got.Header.Get("X-Forwarded-Host"))
	assert.Equal(t, "http", got.Header.Get("X-Forwarded-Proto"))
	assert.NotEmpty(t, got.Header.Get("X-Forwarded-For"))
	assert.Empty(t, got.Header.Get("Connection"))
	assert.Equal(t, circuitbreaker.StateClosed, env.breakers.Get("task").State())
}

func TestForwarder_KeepsGatewayRequestID(t *testing.T) {
	t.Parallel()

	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(util.HeaderXRequestID, "downstream-id")
		w.WriteHeader(http.StatusOK)
	}))
	defer downstream.Close()

	env := newTestEnv(t, []config.Route{
		{Name: "task", PathPrefix: "/api/tasks", URL: downstream.URL},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rc := pipeline.NewRequestContext(req, "10.0.0.1", time.Now())
	route, err := env.router.Match(req.Method, req.URL.Path)
	require.NoError(t, err)
	rc.Route = route

	rec := httptest.NewRecorder()
	rec.Header().Set(util.HeaderXRequestID, "gateway-id")
	env.forwarder.Forward(rec, rc)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"gateway-id"}, rec.Header().Values(util.HeaderXRequestID))
}

func TestForwarder_StripPrefix(t *testing.T) {
	t.Parallel()

	var path atomic.Value
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer downstream.Close()

	env := newTestEnv(t, []config.Route{
		{Name: "audit", PathPrefix: "/api/audit", URL: downstream.URL + "/v1", StripPrefix: true},
	})

	rec, _ := env.forward(t, httptest.NewRequest(http.MethodGet, "/api/audit/events", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "/v1/events", path.Load())
}

func TestForwarder_ClientErrorsAreRelayed(t *testing.T) {
	t.Parallel()

	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, "missing")
	}))
	defer downstream.Close()

	env := newTestEnv(t, []config.Route{
		{Name: "task", PathPrefix: "/api/tasks", URL: downstream.URL},
	})

	for i := 0; i < 3; i++ {
		rec, _ := env.forward(t, httptest.NewRequest(http.MethodGet, "/api/tasks/1", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "missing", rec.Body.String())
	}
	assert.Equal(t, circuitbreaker.StateClosed, env.breakers.Get("task").State())
}

func TestForwarder_ServerErrorServesFallback(t *testing.T) {
	t.Parallel()

	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, "stack trace")
	}))
	defer downstream.Close()

	env := newTestEnv(t, []config.Route{
		{Name: "task", PathPrefix: "/api/tasks", URL: downstream.URL},
	})

	rec, _ := env.forward(t, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "TASK_SERVICE_UNAVAILABLE", body.Error)
	assert.NotContains(t, rec.Body.String(), "stack trace")
}

func TestForwarder_TimeoutCancelsCall(t *testing.T) {
	t.Parallel()

	canceled := make(chan struct{}, 1)
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			canceled <- struct{}{}
		case <-time.After(2 * time.Second):
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer downstream.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	env := newTestEnv(t, []config.Route{
		{Name: "notification", PathPrefix: "/api/notifications", URL: downstream.URL,
			Timeout: config.Duration(50 * time.Millisecond)},
	}, WithLogger(observability.NewLoggerFromZap(zap.New(core))))

	start := time.Now()
	rec, _ := env.forward(t, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))

	assert.Less(t, time.Since(start), time.Second)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOTIFICATION_SERVICE_UNAVAILABLE", decodeBody(t, rec).Error)

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("downstream call was not canceled")
	}

	entries := logs.FilterMessage("downstream call failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, errorTypeTimeout, entries[0].ContextMap()["error_type"])
	assert.Equal(t, uint32(1), env.breakers.Get("notification").Counts().TotalFailures)
}

func TestForwarder_TransportErrorServesFallback(t *testing.T) {
	t.Parallel()

	downstream := httptest.NewServer(http.NotFoundHandler())
	url := downstream.URL
	downstream.Close()

	env := newTestEnv(t, []config.Route{
		{Name: "auth", PathPrefix: "/api/auth", URL: url, RequireAuth: boolPtr(false)},
	})

	rec, _ := env.forward(t, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "AUTH_SERVICE_UNAVAILABLE", decodeBody(t, rec).Error)
}

func TestForwarder_OpenCircuitSkipsDownstream(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer downstream.Close()

	env := newTestEnv(t, []config.Route{
		{Name: "task", PathPrefix: "/api/tasks", URL: downstream.URL, Fallback: "billing"},
	})

	for i := 0; i < 2; i++ {
		rec, _ := env.forward(t, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	}
	require.Equal(t, circuitbreaker.StateOpen, env.breakers.Get("task").State())
	require.Equal(t, int64(2), calls.Load())

	rec, _ := env.forward(t, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, int64(2), calls.Load())
	// Unknown fallback ids use the generic variant.
	assert.Equal(t, fallback.DefaultCode, decodeBody(t, rec).Error)
}

func TestForwarder_FallbackCarriesResponseHeaders(t *testing.T) {
	t.Parallel()

	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer downstream.Close()

	env := newTestEnv(t, []config.Route{
		{Name: "audit", PathPrefix: "/api/audit", URL: downstream.URL},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/audit", nil)
	rc := pipeline.NewRequestContext(req, "10.0.0.1", time.Now())
	rc.Route, _ = env.router.Match(req.Method, req.URL.Path)
	rc.ResponseHeader.Set("Access-Control-Allow-Origin", "null")
	rc.ResponseHeader.Set("X-RateLimit-Limit", "10")

	rec := httptest.NewRecorder()
	env.forwarder.Forward(rec, rc)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "null", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, util.ContentTypeJSON, rec.Header().Get(util.HeaderContentType))
}

func TestForwarder_Metrics(t *testing.T) {
	t.Parallel()

	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer downstream.Close()

	m := observability.NewMetrics("test")
	env := newTestEnv(t, []config.Route{
		{Name: "task", PathPrefix: "/api/tasks", URL: downstream.URL},
	}, WithMetrics(m, []string{"task"}))

	env.forward(t, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `edgegw_proxy_errors_total{error_type="server_error",route="task"} 1`)
}

func TestJoinPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base, path, want string
	}{
		{"", "/a", "/a"},
		{"/", "/a", "/a"},
		{"/v1", "/a", "/v1/a"},
		{"/v1/", "/a/b", "/v1/a/b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, joinPath(tt.base, tt.path))
	}
	assert.Equal(t, "a=1&b=2", mergeQuery("a=1", "b=2"))
	assert.Equal(t, "b=2", mergeQuery("", "b=2"))
}

func boolPtr(b bool) *bool { return &b }
