package pipeline

import (
	"context"
	"net/http"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/util"
)

// BodyLimitStageName is the stage name used in logs and metrics.
const BodyLimitStageName = "body_limit"

// BodyLimit rejects requests whose declared Content-Length exceeds the
// listener limit. Bodies of unknown length are capped while they stream.
type BodyLimit struct {
	limit int64
}

// NewBodyLimit creates the stage. A limit of zero or less disables it.
func NewBodyLimit(limit int64) *BodyLimit {
	return &BodyLimit{limit: limit}
}

// Name implements Stage.
func (b *BodyLimit) Name() string {
	return BodyLimitStageName
}

// Process implements Stage.
func (b *BodyLimit) Process(_ context.Context, rc *RequestContext) *Response {
	if b.limit <= 0 || rc.Request.ContentLength <= b.limit {
		return nil
	}
	return PayloadTooLarge(rc.Received)
}

// PayloadTooLarge is the 413 response for an oversized request body.
func PayloadTooLarge(now time.Time) *Response {
	return ErrorJSON(http.StatusRequestEntityTooLarge,
		util.NewErrorBody("PAYLOAD_TOO_LARGE", "Request body is too large", now))
}
