package ratelimit

import (
	"github.com/vyrodovalexey/edgegw/internal/pipeline"
)

// Client key prefixes.
const (
	UserKeyPrefix = "user:"
	IPKeyPrefix   = "ip:"
)

// ClientKey derives the limiting identity of a request. The limiter runs
// before credentials are validated, so the user form comes from the
// inbound X-User-Id header when a client supplies one. That header is
// unverified: a client sending a new value per request gets a new budget
// each time, so the user form is only as strong as the edge in front.
func ClientKey(rc *pipeline.RequestContext) string {
	if userID := rc.Request.Header.Get(pipeline.HeaderUserID); userID != "" {
		return UserKeyPrefix + userID
	}
	return IPKeyPrefix + rc.ClientIP
}
