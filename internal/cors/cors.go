// Package cors negotiates cross-origin access for browser clients.
package cors

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/pipeline"
)

// StageName identifies the negotiator in logs and metrics.
const StageName = "cors"

// NullOrigin is the origin browsers send from sandboxed or file contexts.
const NullOrigin = "null"

// CORS response header names.
const (
	HeaderOrigin           = "Origin"
	HeaderAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderExposeHeaders    = "Access-Control-Expose-Headers"
	HeaderAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderMaxAge           = "Access-Control-Max-Age"
	HeaderVary             = "Vary"
)

// policy holds pre-computed header values. It is replaced as a whole on
// reload.
type policy struct {
	allowOrigins     map[string]bool
	wildcardPatterns []wildcard
	allowLoopback    bool
	allowNull        bool
	allowMethods     string
	allowHeaders     string
	exposeHeaders    string
	maxAge           string
	allowCredentials bool
}

func newPolicy(cfg *config.CORSConfig) *policy {
	p := &policy{
		allowOrigins:     make(map[string]bool, len(cfg.AllowedOrigins)),
		allowLoopback:    cfg.AllowLoopback,
		allowNull:        cfg.AllowNullOrigin,
		allowMethods:     strings.Join(cfg.AllowedMethods, ", "),
		allowHeaders:     strings.Join(cfg.AllowedHeaders, ", "),
		exposeHeaders:    strings.Join(cfg.ExposedHeaders, ", "),
		allowCredentials: cfg.AllowCredentials,
	}

	for _, origin := range cfg.AllowedOrigins {
		if w, ok := parseWildcard(origin); ok {
			p.wildcardPatterns = append(p.wildcardPatterns, w)
			continue
		}
		p.allowOrigins[strings.ToLower(origin)] = true
	}

	if secs := int(cfg.MaxAge.Duration().Seconds()); secs > 0 {
		p.maxAge = strconv.Itoa(secs)
	}

	return p
}

func (p *policy) isOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	if origin == NullOrigin {
		return p.allowNull
	}
	if p.allowOrigins[strings.ToLower(origin)] {
		return true
	}

	scheme, host := originParts(origin)
	if host == "" {
		return false
	}
	if p.allowLoopback && isLoopbackHost(host) {
		return true
	}
	for _, w := range p.wildcardPatterns {
		if w.matches(scheme, host) {
			return true
		}
	}
	return false
}

// originParts returns the lower-cased scheme and host of an origin, the
// host without port or brackets. Both are "" when the origin does not
// parse.
func originParts(origin string) (scheme, host string) {
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" {
		return "", ""
	}
	return strings.ToLower(u.Scheme), strings.ToLower(u.Hostname())
}

// wildcard is a "*.example.com" subdomain pattern, optionally bound to a
// scheme as in "https://*.example.com".
type wildcard struct {
	scheme string
	suffix string
}

func parseWildcard(origin string) (wildcard, bool) {
	scheme, rest, found := strings.Cut(origin, "://")
	if !found {
		scheme, rest = "", origin
	}
	if !strings.HasPrefix(rest, "*.") {
		return wildcard{}, false
	}
	return wildcard{scheme: strings.ToLower(scheme), suffix: strings.ToLower(rest[1:])}, true
}

// matches requires at least one label in front of the suffix.
func (w wildcard) matches(scheme, host string) bool {
	if w.scheme != "" && w.scheme != scheme {
		return false
	}
	return len(host) > len(w.suffix) && strings.HasSuffix(host, w.suffix)
}

// isLoopbackHost matches localhost, 127.0.0.0/8 and ::1.
func isLoopbackHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Negotiator is the CORS pipeline stage. Its policy can be swapped at
// runtime while requests are in flight.
type Negotiator struct {
	policy atomic.Pointer[policy]
}

// New creates a negotiator from configuration.
func New(cfg *config.CORSConfig) *Negotiator {
	n := &Negotiator{}
	n.policy.Store(newPolicy(cfg))
	return n
}

// Update replaces the policy.
func (n *Negotiator) Update(cfg *config.CORSConfig) {
	n.policy.Store(newPolicy(cfg))
}

// Allowed reports whether origin is on the allow-list.
func (n *Negotiator) Allowed(origin string) bool {
	return n.policy.Load().isOriginAllowed(origin)
}

// Negotiate computes the CORS headers for a request and reports whether
// the request is a preflight that should be answered immediately.
func (n *Negotiator) Negotiate(origin, method string) (http.Header, bool) {
	p := n.policy.Load()
	h := make(http.Header)

	if p.isOriginAllowed(origin) {
		h.Set(HeaderAllowOrigin, origin)
		h.Set(HeaderVary, HeaderOrigin)
	}
	if p.allowMethods != "" {
		h.Set(HeaderAllowMethods, p.allowMethods)
	}
	if p.allowHeaders != "" {
		h.Set(HeaderAllowHeaders, p.allowHeaders)
	}
	if p.exposeHeaders != "" {
		h.Set(HeaderExposeHeaders, p.exposeHeaders)
	}
	if p.allowCredentials {
		h.Set(HeaderAllowCredentials, "true")
	}
	if p.maxAge != "" {
		h.Set(HeaderMaxAge, p.maxAge)
	}

	return h, method == http.MethodOptions
}

// Name implements pipeline.Stage.
func (n *Negotiator) Name() string {
	return StageName
}

// Process implements pipeline.Stage. OPTIONS requests are answered with
// 200 and an empty body.
func (n *Negotiator) Process(_ context.Context, rc *pipeline.RequestContext) *pipeline.Response {
	headers, preflight := n.Negotiate(rc.Request.Header.Get(HeaderOrigin), rc.Request.Method)
	for k, v := range headers {
		rc.ResponseHeader[k] = v
	}
	if preflight {
		return pipeline.Empty(http.StatusOK)
	}
	return nil
}
