package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/pipeline"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

// StageName identifies the limiter in logs and metrics.
const StageName = "ratelimit"

// Rate limit response headers.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
)

// Stage is the rate limiting pipeline stage.
type Stage struct {
	limiter *FixedWindow
	enabled atomic.Bool
	logger  observability.Logger
}

// NewStage wraps limiter as a pipeline stage.
func NewStage(limiter *FixedWindow, enabled bool, logger observability.Logger) *Stage {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Stage{limiter: limiter, logger: logger}
	s.enabled.Store(enabled)
	return s
}

// SetEnabled switches limiting on or off at runtime.
func (s *Stage) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Limiter returns the underlying limiter.
func (s *Stage) Limiter() *FixedWindow {
	return s.limiter
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string {
	return StageName
}

// Process implements pipeline.Stage.
func (s *Stage) Process(ctx context.Context, rc *pipeline.RequestContext) *pipeline.Response {
	if !s.enabled.Load() {
		return nil
	}

	rc.ClientKey = ClientKey(rc)
	d := s.limiter.Admit(ctx, rc.ClientKey)

	limit := strconv.Itoa(d.Limit)
	rc.ResponseHeader.Set(HeaderLimit, limit)

	if d.Allowed {
		if !d.FailOpen {
			rc.ResponseHeader.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
		}
		return nil
	}

	s.logger.WithContext(ctx).Debug("request rejected",
		observability.Error(util.NewRateLimitError(rc.ClientKey, d.Limit, d.RetryAfter)),
		observability.Int64("count", d.Count),
	)

	resp := pipeline.ErrorJSON(http.StatusTooManyRequests, util.NewErrorBody(
		"TOO_MANY_REQUESTS",
		"Rate limit exceeded. Try again in 1 second.",
		rc.Received,
	))
	resp.Header.Set(HeaderLimit, limit)
	resp.Header.Set(HeaderRemaining, "0")
	resp.Header.Set(util.HeaderRetryAfter, strconv.Itoa(int(d.RetryAfter.Seconds())))
	return resp
}
