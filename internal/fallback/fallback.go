// Package fallback synthesizes the 503 responses the gateway returns when
// a downstream service is unavailable.
package fallback

import (
	"net/http"
	"strings"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/pipeline"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

// DefaultID is the metrics label of the generic variant.
const DefaultID = "default"

// DefaultCode is the error code of the generic variant.
const DefaultCode = "SERVICE_UNAVAILABLE"

// Variant is the fixed part of a fallback body.
type Variant struct {
	Code       string
	Message    string
	Suggestion string
}

var builtin = map[string]Variant{
	"task": {
		Code:       "TASK_SERVICE_UNAVAILABLE",
		Message:    "Task service is temporarily unavailable. Please try again later.",
		Suggestion: "Your tasks are safe. Retry in a few moments.",
	},
	"audit": {
		Code:       "AUDIT_SERVICE_UNAVAILABLE",
		Message:    "Audit service is temporarily unavailable. Please try again later.",
		Suggestion: "Audit events are still being recorded and will be visible once the service recovers.",
	},
	"notification": {
		Code:       "NOTIFICATION_SERVICE_UNAVAILABLE",
		Message:    "Notification service is temporarily unavailable. Please try again later.",
		Suggestion: "Notifications will be delivered once the service recovers.",
	},
	"auth": {
		Code:       "AUTH_SERVICE_UNAVAILABLE",
		Message:    "Authentication service is temporarily unavailable. Please try again later.",
		Suggestion: "If you are already signed in, your session remains valid.",
	},
}

var defaultVariant = Variant{
	Code:       DefaultCode,
	Message:    "The requested service is temporarily unavailable. Please try again later.",
	Suggestion: "Retry in a few moments.",
}

// Responder maps route identifiers to fallback variants. It is read-only
// after construction and safe for concurrent use.
type Responder struct {
	variants map[string]Variant
	metrics  *observability.Metrics
	now      func() time.Time
}

// Option configures a Responder.
type Option func(*Responder)

// WithMetrics counts fallback responses per route.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Responder) {
		r.metrics = m
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Responder) {
		r.now = now
	}
}

// New creates a Responder with the built-in variants plus the configured
// ones. A configured variant replaces a built-in one with the same id;
// empty fields keep the built-in text.
func New(overrides []config.FallbackConfig, opts ...Option) *Responder {
	r := &Responder{
		variants: make(map[string]Variant, len(builtin)+len(overrides)),
		now:      time.Now,
	}
	for id, v := range builtin {
		r.variants[id] = v
	}
	for _, o := range overrides {
		id := normalizeID(o.ID)
		if id == "" {
			continue
		}
		v, ok := r.variants[id]
		if !ok {
			v = Variant{
				Code:       codeFor(id),
				Message:    defaultVariant.Message,
				Suggestion: defaultVariant.Suggestion,
			}
		}
		if o.Message != "" {
			v.Message = o.Message
		}
		if o.Suggestion != "" {
			v.Suggestion = o.Suggestion
		}
		r.variants[id] = v
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Variant returns the variant for id and whether it is a known one.
// Unknown ids get the generic variant.
func (r *Responder) Variant(id string) (Variant, bool) {
	v, ok := r.variants[normalizeID(id)]
	if !ok {
		return defaultVariant, false
	}
	return v, true
}

// Respond returns the 503 response for id.
func (r *Responder) Respond(id string) *pipeline.Response {
	v, known := r.Variant(id)

	label := normalizeID(id)
	if !known || label == "" {
		label = DefaultID
	}
	r.metrics.RecordFallback(label)

	body := util.NewErrorBody(v.Code, v.Message, r.now())
	body.Suggestion = v.Suggestion
	return pipeline.ErrorJSON(http.StatusServiceUnavailable, body)
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// codeFor derives the error code of a configured variant, e.g.
// "billing-api" becomes "BILLING_API_SERVICE_UNAVAILABLE".
func codeFor(id string) string {
	upper := strings.ToUpper(id)
	upper = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, upper)
	return upper + "_" + DefaultCode
}
