package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/edgegw/internal/auth/jwt"
	"github.com/vyrodovalexey/edgegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/health"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/ratelimit/store"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// downstream is a fake backend service that records what it receives.
type downstream struct {
	server *httptest.Server
	calls  atomic.Int64
	status atomic.Int64

	mu   sync.Mutex
	last http.Header
}

func newDownstream(t *testing.T) *downstream {
	t.Helper()
	d := &downstream{}
	d.status.Store(http.StatusOK)
	d.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.calls.Add(1)
		d.mu.Lock()
		d.last = r.Header.Clone()
		d.mu.Unlock()
		if id := r.Header.Get("X-Request-ID"); id != "" {
			w.Header().Set("X-Request-ID", id)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(int(d.status.Load()))
		_, _ = fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	}))
	t.Cleanup(d.server.Close)
	return d
}

func (d *downstream) lastHeader() http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func testConfig(tasksURL, authURL string) *config.GatewayConfig {
	cfg := config.DefaultConfig()
	cfg.Spec.Listener.Address = "127.0.0.1:0"
	cfg.Spec.Auth.Secret = testSecret
	cfg.Spec.RateLimit.RequestsPerSecond = 10
	cfg.Spec.RateLimit.Burst = 20
	cfg.Spec.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Spec.CircuitBreaker.MinimumRequests = 2
	cfg.Spec.CircuitBreaker.CoolDown = config.Duration(time.Minute)
	public := false
	cfg.Spec.Routes = []config.Route{
		{Name: "task", PathPrefix: "/api/tasks", URL: tasksURL},
		{Name: "auth", PathPrefix: "/api/auth", URL: authURL, RequireAuth: &public},
	}
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.GatewayConfig) (*Gateway, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	g, err := New(cfg,
		WithStore(store.NewRedisStoreFromClient(client, cfg.Spec.RateLimit.KeyPrefix, nil)),
		WithMetrics(observability.NewMetrics("test")),
	)
	require.NoError(t, err)
	return g, mr
}

func token(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	signer, err := jwt.NewSigner([]byte(testSecret), jwt.AlgHS256)
	require.NoError(t, err)
	tok, err := signer.Sign(jwt.SigningOptions{
		Subject:   "42",
		Username:  "ada",
		Roles:     "ROLE_USER,ROLE_ADMIN",
		ExpiresIn: expiresIn,
	})
	require.NoError(t, err)
	return tok
}

func do(g *Gateway, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body util.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestGateway_AuthenticatedRequestIsForwarded(t *testing.T) {
	tasks := newDownstream(t)
	g, _ := newTestGateway(t, testConfig(tasks.server.URL, tasks.server.URL))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks/1", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, time.Hour))
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("X-User-Roles", "ROLE_ROOT")
	rec := do(g, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"path":"/api/tasks/1"}`, rec.Body.String())
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Len(t, rec.Header().Values("X-Request-ID"), 1, "downstream echo must not duplicate the request ID")

	h := tasks.lastHeader()
	assert.Equal(t, "42", h.Get("X-User-Id"))
	assert.Equal(t, "ada", h.Get("X-User-Name"))
	assert.Equal(t, "ROLE_USER,ROLE_ADMIN", h.Get("X-User-Roles"))
	assert.Equal(t, rec.Header().Get("X-Request-ID"), h.Get("X-Request-ID"))
}

func TestGateway_PreflightShortCircuits(t *testing.T) {
	tasks := newDownstream(t)
	g, mr := newTestGateway(t, testConfig(tasks.server.URL, tasks.server.URL))

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := do(g, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Zero(t, tasks.calls.Load())
	assert.Empty(t, mr.Keys(), "preflight must not touch the rate limiter")
}

func TestGateway_MissingCredentialIs401WithCORS(t *testing.T) {
	tasks := newDownstream(t)
	g, _ := newTestGateway(t, testConfig(tasks.server.URL, tasks.server.URL))

	tests := []struct {
		name  string
		authz string
	}{
		{name: "missing", authz: ""},
		{name: "wrong prefix", authz: "Token " + token(t, time.Hour)},
		{name: "expired", authz: "Bearer " + token(t, -time.Minute)},
		{name: "garbage", authz: "Bearer not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			req.Header.Set("Origin", "null")
			if tt.authz != "" {
				req.Header.Set("Authorization", tt.authz)
			}
			rec := do(g, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
			assert.Equal(t, "null", rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
	assert.Zero(t, tasks.calls.Load())
	assert.Zero(t, g.Breakers().Get("task").Counts().Requests, "rejected requests never reach the breaker")
}

func TestGateway_OversizedBodyIs413WithCORS(t *testing.T) {
	tasks := newDownstream(t)
	cfg := testConfig(tasks.server.URL, tasks.server.URL)
	cfg.Spec.Listener.MaxBodySize = 8
	g, _ := newTestGateway(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"too long"}`))
	req.Header.Set("Authorization", "Bearer "+token(t, time.Hour))
	req.Header.Set("Origin", "https://app.example.com")
	rec := do(g, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", errorCode(t, rec))
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Zero(t, tasks.calls.Load())
	assert.Zero(t, g.Breakers().Get("task").Counts().Requests)
}

func TestGateway_PublicRouteNeedsNoCredential(t *testing.T) {
	authSvc := newDownstream(t)
	g, _ := newTestGateway(t, testConfig(authSvc.server.URL, authSvc.server.URL))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set("X-User-Id", "admin")
	rec := do(g, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, authSvc.lastHeader().Get("X-User-Id"), "client identity headers are stripped")
}

func TestGateway_EleventhRequestInWindowIsDenied(t *testing.T) {
	tasks := newDownstream(t)
	g, _ := newTestGateway(t, testConfig(tasks.server.URL, tasks.server.URL))
	tok := token(t, time.Hour)

	// Stay inside one window even when the test starts near a second boundary.
	for time.Now().Nanosecond() > 700*int(time.Millisecond) {
		time.Sleep(10 * time.Millisecond)
	}

	codes := make([]int, 0, 11)
	var last *httptest.ResponseRecorder
	for i := 0; i < 11; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		last = do(g, req)
		codes = append(codes, last.Code)
	}

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, codes[i], "request %d", i+1)
	}
	require.Equal(t, http.StatusTooManyRequests, codes[10])
	assert.Equal(t, "10", last.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1", last.Header().Get("Retry-After"))
	assert.Equal(t, "TOO_MANY_REQUESTS", errorCode(t, last))
	assert.Equal(t, int64(10), tasks.calls.Load())
}

func TestGateway_StoreOutageFailsOpen(t *testing.T) {
	tasks := newDownstream(t)
	g, mr := newTestGateway(t, testConfig(tasks.server.URL, tasks.server.URL))
	mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, time.Hour))
	rec := do(g, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Empty(t, rec.Header().Get("X-RateLimit-Remaining"))
}

func TestGateway_DownstreamFailureOpensBreaker(t *testing.T) {
	tasks := newDownstream(t)
	tasks.status.Store(http.StatusInternalServerError)
	g, _ := newTestGateway(t, testConfig(tasks.server.URL, tasks.server.URL))
	tok := token(t, time.Hour)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rec := do(g, req)

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "TASK_SERVICE_UNAVAILABLE", errorCode(t, rec))
	}

	assert.Equal(t, circuitbreaker.StateOpen, g.Breakers().Get("task").State())
	assert.Equal(t, int64(2), tasks.calls.Load(), "open breaker skips the downstream")

	ready := g.Health().Readiness(context.Background())
	assert.Equal(t, health.StatusDegraded, ready.Status)
	assert.Equal(t, "circuit open for task", ready.Checks["circuit_breakers"].Message)
}

func TestGateway_UnknownRouteIs404(t *testing.T) {
	tasks := newDownstream(t)
	g, _ := newTestGateway(t, testConfig(tasks.server.URL, tasks.server.URL))

	req := httptest.NewRequest(http.MethodGet, "/api/unknown", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, time.Hour))
	rec := do(g, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

func TestGateway_ApplyConfig(t *testing.T) {
	tasks := newDownstream(t)
	cfg := testConfig(tasks.server.URL, tasks.server.URL)
	g, _ := newTestGateway(t, cfg)

	next := testConfig(tasks.server.URL, tasks.server.URL)
	next.Spec.RateLimit.RequestsPerSecond = 50
	next.Spec.CORS.AllowedOrigins = []string{"https://admin.example.com"}
	next.Spec.CircuitBreaker.CoolDown = config.Duration(time.Second)
	changes := config.Diff(cfg, next)
	require.True(t, changes.CORSOrigins)
	require.True(t, changes.RateCeiling)
	require.Contains(t, changes.RestartRequired, "circuitBreaker")

	g.ApplyConfig(cfg, next, changes)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, time.Hour))
	req.Header.Set("Origin", "https://admin.example.com")
	rec := do(g, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "50", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGateway_StartStop(t *testing.T) {
	tasks := newDownstream(t)
	cfg := testConfig(tasks.server.URL, tasks.server.URL)
	cfg.Spec.RateLimit.Store.Type = config.StoreTypeMemory

	g, err := New(cfg)
	require.NoError(t, err)
	require.Nil(t, g.Addr())

	require.NoError(t, g.Start(context.Background()))
	assert.Equal(t, StateRunning, g.State())
	assert.Error(t, g.Start(context.Background()))

	resp, err := http.Post("http://"+g.Addr().String()+"/api/auth/login", "application/json", nil)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"path":"/api/auth/login"}`, string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Stop(ctx))
	assert.Equal(t, StateStopped, g.State())
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	cfg := testConfig("http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Spec.RateLimit.Store.Type = config.StoreTypeMemory
	cfg.Spec.Auth.Secret = ""
	_, err = New(cfg)
	assert.ErrorIs(t, err, util.ErrConfigInvalid)

	cfg = testConfig("http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Spec.RateLimit.Store.Type = "etcd"
	_, err = New(cfg)
	assert.ErrorIs(t, err, util.ErrConfigInvalid)

	cfg = testConfig("http://127.0.0.1:1", "http://127.0.0.1:1")
	cfg.Spec.RateLimit.Store.Redis.Address = "127.0.0.1:1"
	cfg.Spec.RateLimit.Store.Redis.ConnectionRetries = 1
	cfg.Spec.RateLimit.Store.Redis.DialTimeout = config.Duration(50 * time.Millisecond)
	cfg.Spec.RateLimit.Store.Redis.Required = true
	_, err = New(cfg)
	assert.Error(t, err)
}
