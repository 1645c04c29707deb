package auth

import (
	"context"
	"net/http"

	"github.com/vyrodovalexey/edgegw/internal/auth/jwt"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/pipeline"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

// StageName identifies the validator in logs and metrics.
const StageName = "auth"

// ErrorCode is the error field of a rejected request.
const ErrorCode = "UNAUTHORIZED"

// TokenValidator verifies a raw token.
type TokenValidator interface {
	Validate(token string) (*jwt.Claims, error)
}

// Stage is the credential validation stage.
type Stage struct {
	extractor *jwt.Extractor
	validator TokenValidator
	logger    observability.Logger
	metrics   *observability.Metrics
}

// Option configures a Stage.
type Option func(*Stage)

// WithLogger sets the stage logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Stage) {
		s.logger = logger
	}
}

// WithMetrics records rejections by reason.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Stage) {
		s.metrics = m
	}
}

// NewStage creates the stage.
func NewStage(extractor *jwt.Extractor, validator TokenValidator, opts ...Option) *Stage {
	s := &Stage{
		extractor: extractor,
		validator: validator,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements pipeline.Stage.
func (s *Stage) Name() string {
	return StageName
}

// Process implements pipeline.Stage. Identity headers sent by the client
// are always dropped; routes that do not require authentication pass
// without a credential. Requests with no matched route are treated as
// protected.
func (s *Stage) Process(ctx context.Context, rc *pipeline.RequestContext) *pipeline.Response {
	rc.StripIdentityHeaders()

	if rc.Route != nil && !rc.Route.RequireAuth {
		return nil
	}

	claims, err := s.authenticate(rc.Request.Header)
	if err != nil {
		reason := jwt.Reason(err)
		s.metrics.RecordAuthFailure(reason)
		s.logger.WithContext(ctx).Debug("credential rejected",
			observability.String("reason", reason),
			observability.String("route", rc.RouteName()),
			observability.Error(err),
		)
		return pipeline.ErrorJSON(http.StatusUnauthorized,
			util.NewErrorBody(ErrorCode, message(reason), rc.Received))
	}

	rc.SetIdentity(pipeline.Identity{
		Subject:  claims.Subject,
		Username: claims.Username,
		Roles:    claims.Roles,
	})
	return nil
}

func (s *Stage) authenticate(h http.Header) (*jwt.Claims, error) {
	token, err := s.extractor.Extract(h)
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(token)
}

// message returns the client-facing text for a rejection reason. It never
// reveals which check failed beyond what the client can already see.
func message(reason string) string {
	switch reason {
	case "missing", "prefix":
		return "Missing or malformed credentials"
	case "expired":
		return "Token has expired"
	default:
		return "Invalid token"
	}
}
