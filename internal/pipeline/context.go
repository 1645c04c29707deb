package pipeline

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/router"
)

// Identity headers published to downstream services.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserName  = "X-User-Name"
	HeaderUserRoles = "X-User-Roles"
)

// HeaderXForwardedFor is the standard proxy chain header.
const HeaderXForwardedFor = "X-Forwarded-For"

// Identity holds the claims of a validated credential.
type Identity struct {
	Subject  string
	Username string
	Roles    string
}

// RequestContext is the per-request state shared by the stages.
type RequestContext struct {
	// Request is the inbound request. Stages must not modify its headers;
	// outbound changes go to Header.
	Request *http.Request

	// Header is the header set that will be sent downstream.
	Header http.Header

	// ClientIP is the resolved client address, port stripped.
	ClientIP string

	// ClientKey is the rate limiting identity, set by the limiter.
	ClientKey string

	// Identity is set by the credential validator on success.
	Identity *Identity

	// Route is the resolved route, nil when no route matched.
	Route *router.Route

	// ResponseHeader accumulates headers for the final response.
	ResponseHeader http.Header

	// Received is when the gateway accepted the request.
	Received time.Time
}

// NewRequestContext builds the context for an inbound request.
func NewRequestContext(r *http.Request, clientIP string, now time.Time) *RequestContext {
	return &RequestContext{
		Request:        r,
		Header:         r.Header.Clone(),
		ClientIP:       clientIP,
		ResponseHeader: make(http.Header),
		Received:       now,
	}
}

// RouteName returns the matched route name or "".
func (rc *RequestContext) RouteName() string {
	if rc.Route == nil {
		return ""
	}
	return rc.Route.Name
}

// SetIdentity records the identity and publishes it on the outbound
// headers.
func (rc *RequestContext) SetIdentity(id Identity) {
	rc.Identity = &id
	rc.Header.Set(HeaderUserID, id.Subject)
	rc.Header.Set(HeaderUserName, id.Username)
	rc.Header.Set(HeaderUserRoles, id.Roles)
}

// StripIdentityHeaders removes client-supplied identity headers from the
// outbound header set.
func (rc *RequestContext) StripIdentityHeaders() {
	rc.Header.Del(HeaderUserID)
	rc.Header.Del(HeaderUserName)
	rc.Header.Del(HeaderUserRoles)
}
