package pipeline

import (
	"net/http"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/router"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

// Runner executes the stages in order and forwards surviving requests.
type Runner struct {
	router      *router.Router
	stages      []Stage
	forwarder   Forwarder
	ipExtractor *ClientIPExtractor
	logger      observability.Logger
	metrics     *observability.Metrics
	clock       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger observability.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMetrics records stage terminations.
func WithMetrics(m *observability.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithClientIPExtractor sets how the client address is resolved.
func WithClientIPExtractor(e *ClientIPExtractor) RunnerOption {
	return func(r *Runner) {
		if e != nil {
			r.ipExtractor = e
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.clock = clock
	}
}

// NewRunner creates a runner over rt with the given stages, in order.
func NewRunner(rt *router.Router, forwarder Forwarder, stages []Stage, opts ...RunnerOption) *Runner {
	r := &Runner{
		router:      rt,
		stages:      stages,
		forwarder:   forwarder,
		ipExtractor: NewClientIPExtractor(nil),
		logger:      observability.NopLogger(),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ServeHTTP implements http.Handler.
func (r *Runner) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Handle(w, req)
}

// Handle runs the pipeline and returns the request context so callers
// can inspect the outcome, for example the matched route.
func (r *Runner) Handle(w http.ResponseWriter, req *http.Request) *RequestContext {
	rc := NewRequestContext(req, r.ipExtractor.Extract(req), r.clock())

	// The route is resolved up front so stages can consult it; an unknown
	// path is only reported once every stage has passed.
	ctx := req.Context()
	if route, err := r.router.Match(req.Method, req.URL.Path); err == nil {
		rc.Route = route
		ctx = util.ContextWithRoute(ctx, route.Name)
	}

	logger := r.logger.WithContext(ctx)

	for _, stage := range r.stages {
		resp := stage.Process(ctx, rc)
		if resp == nil {
			continue
		}

		logger.Debug("request terminated by stage",
			observability.String("stage", stage.Name()),
			observability.Int("status", resp.Status),
			observability.String("path", req.URL.Path),
		)
		r.metrics.RecordTermination(stage.Name(), resp.Status)
		Write(w, rc, resp)
		return rc
	}

	if rc.Route == nil {
		logger.Debug("no route matched",
			observability.String("method", req.Method),
			observability.String("path", req.URL.Path),
		)
		r.metrics.RecordTermination("router", http.StatusNotFound)
		Write(w, rc, ErrorJSON(http.StatusNotFound,
			util.NewErrorBody("NOT_FOUND", "No route matches "+req.URL.Path, r.clock())))
		return rc
	}

	r.forwarder.Forward(w, rc)
	return rc
}
