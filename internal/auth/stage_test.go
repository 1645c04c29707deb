package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/edgegw/internal/auth/jwt"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/pipeline"
	"github.com/vyrodovalexey/edgegw/internal/router"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func newStage(t *testing.T) *Stage {
	t.Helper()
	v, err := jwt.NewValidator(jwt.Config{Secret: secret})
	require.NoError(t, err)
	return NewStage(jwt.NewExtractor("Authorization", "Bearer "), v,
		WithMetrics(observability.NewMetrics("test")))
}

func mint(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	signer, err := jwt.NewSigner(secret, jwt.AlgHS256)
	require.NoError(t, err)
	token, err := signer.Sign(jwt.SigningOptions{
		Subject:   "42",
		Username:  "ada",
		Roles:     "ROLE_USER,ROLE_ADMIN",
		ExpiresIn: expiresIn,
	})
	require.NoError(t, err)
	return token
}

func newRC(authz string, route *router.Route) *pipeline.RequestContext {
	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	req.Header.Set(pipeline.HeaderUserID, "spoofed")
	req.Header.Set(pipeline.HeaderUserRoles, "ROLE_ADMIN")
	rc := pipeline.NewRequestContext(req, "127.0.0.1", time.Now())
	rc.Route = route
	return rc
}

var protected = &router.Route{Name: "task", RequireAuth: true}

func TestStage_ValidTokenPublishesIdentity(t *testing.T) {
	t.Parallel()

	rc := newRC("Bearer "+mint(t, time.Hour), protected)

	assert.Nil(t, newStage(t).Process(context.Background(), rc))
	require.NotNil(t, rc.Identity)
	assert.Equal(t, "42", rc.Header.Get(pipeline.HeaderUserID))
	assert.Equal(t, "ada", rc.Header.Get(pipeline.HeaderUserName))
	assert.Equal(t, "ROLE_USER,ROLE_ADMIN", rc.Header.Get(pipeline.HeaderUserRoles))
}

func TestStage_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		authz       string
		wantMessage string
	}{
		{name: "missing header", authz: "", wantMessage: "Missing or malformed credentials"},
		{name: "wrong prefix", authz: "Token abc", wantMessage: "Missing or malformed credentials"},
		{name: "garbage", authz: "Bearer not-a-jwt", wantMessage: "Invalid token"},
		{name: "expired", authz: "Bearer " + mint(t, -time.Minute), wantMessage: "Token has expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rc := newRC(tt.authz, protected)
			resp := newStage(t).Process(context.Background(), rc)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusUnauthorized, resp.Status)

			var body util.ErrorBody
			require.NoError(t, json.Unmarshal(resp.Body, &body))
			assert.Equal(t, ErrorCode, body.Error)
			assert.Equal(t, tt.wantMessage, body.Message)
			assert.NotEmpty(t, body.Timestamp)

			assert.Nil(t, rc.Identity)
			assert.Empty(t, rc.Header.Get(pipeline.HeaderUserID), "spoofed identity is stripped")
		})
	}
}

func TestStage_PublicRouteSkipsValidation(t *testing.T) {
	t.Parallel()

	rc := newRC("", &router.Route{Name: "auth", RequireAuth: false})

	assert.Nil(t, newStage(t).Process(context.Background(), rc))
	assert.Nil(t, rc.Identity)
	assert.Empty(t, rc.Header.Get(pipeline.HeaderUserID))
	assert.Empty(t, rc.Header.Get(pipeline.HeaderUserRoles))
}

func TestStage_UnmatchedRouteIsProtected(t *testing.T) {
	t.Parallel()

	resp := newStage(t).Process(context.Background(), newRC("", nil))
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, StageName, newStage(t).Name())
}
