package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/edgegw/internal/fallback"
	"github.com/vyrodovalexey/edgegw/internal/observability"
	"github.com/vyrodovalexey/edgegw/internal/pipeline"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder is the terminal pipeline step. It implements
// pipeline.Forwarder.
type Forwarder struct {
	breakers  *circuitbreaker.Registry
	fallback  *fallback.Responder
	logger    observability.Logger
	transport http.RoundTripper
	metrics   *proxyMetrics
}

// Option is a functional option for configuring the Forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger for the forwarder.
func WithLogger(logger observability.Logger) Option {
	return func(f *Forwarder) {
		f.logger = logger
	}
}

// WithTransport sets the transport used for downstream calls.
func WithTransport(transport http.RoundTripper) Option {
	return func(f *Forwarder) {
		f.transport = transport
	}
}

// WithMetrics registers the proxy collectors on the gateway registry.
func WithMetrics(m *observability.Metrics, routes []string) Option {
	return func(f *Forwarder) {
		f.metrics = newProxyMetrics(m.Registerer())
		f.metrics.initRoutes(routes)
	}
}

// New creates a Forwarder.
func New(breakers *circuitbreaker.Registry, responder *fallback.Responder, opts ...Option) *Forwarder {
	f := &Forwarder{
		breakers: breakers,
		fallback: responder,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.metrics == nil {
		f.metrics = newProxyMetrics(nil)
	}

	return f
}

// Forward implements pipeline.Forwarder. It writes exactly one response:
// the relayed downstream response or the route's fallback.
func (f *Forwarder) Forward(w http.ResponseWriter, rc *pipeline.RequestContext) {
	route := rc.Route
	logger := f.logger.WithContext(rc.Request.Context())

	cw := util.NewStatusCapturingResponseWriter(w)
	breaker := f.breakers.Get(route.Name)

	start := time.Now()
	err := breaker.Execute(func() error {
		return f.roundTrip(cw, rc)
	})
	f.metrics.observe(route.Name, time.Since(start), err)

	if err == nil {
		return
	}

	switch {
	case errors.Is(err, util.ErrCircuitOpen):
		logger.Debug("circuit open, serving fallback",
			observability.String("route", route.Name),
		)
	case errors.Is(err, ErrClientGone):
		logger.Debug("client closed request",
			observability.String("route", route.Name),
		)
	case errors.Is(err, util.ErrInvalidInput):
		logger.Debug("request rejected",
			observability.String("route", route.Name),
			observability.Error(err),
		)
		if !cw.HeaderWritten {
			pipeline.Write(cw, rc, pipeline.PayloadTooLarge(time.Now()))
		}
		return
	default:
		logger.Warn("downstream call failed",
			observability.String("route", route.Name),
			observability.String("target", route.Target.String()),
			observability.String("error_type", errorType(err)),
			observability.Error(err),
		)
	}

	// The body copy failed after the downstream status was relayed; the
	// response can no longer be replaced.
	if cw.HeaderWritten {
		return
	}

	pipeline.Write(cw, rc, f.fallback.Respond(route.Fallback))
}

// roundTrip performs the downstream call and relays a successful response
// to w. It returns the failure the breaker should record, and writes
// nothing to w on failure.
func (f *Forwarder) roundTrip(w http.ResponseWriter, rc *pipeline.RequestContext) error {
	route := rc.Route
	in := rc.Request
	clientCtx := in.Context()

	ctx := clientCtx
	if route.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(clientCtx, route.Timeout)
		defer cancel()
	}

	var proxyErr error
	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			f.director(req, rc)
		},
		Transport:     f.transport,
		// Flush immediately so streamed downstream responses are not held.
		FlushInterval: -1,
		ModifyResponse: func(resp *http.Response) error {
			if resp.StatusCode >= http.StatusInternalServerError {
				return util.NewServerError(resp.StatusCode)
			}
			// The gateway already set its own request ID on the response.
			resp.Header.Del(util.HeaderXRequestID)
			pipeline.ApplyResponseHeaders(resp.Header, rc)
			return nil
		},
		ErrorHandler: func(_ http.ResponseWriter, _ *http.Request, err error) {
			proxyErr = err
		},
	}

	rp.ServeHTTP(w, in.WithContext(ctx))

	if proxyErr == nil {
		return nil
	}
	return classifyError(route.Name, route.Timeout, proxyErr, ctx, clientCtx)
}

// director rewrites the outbound request. req is already a clone of the
// inbound request; its headers are replaced by the pipeline's outbound
// header set, which carries the injected identity.
func (f *Forwarder) director(req *http.Request, rc *pipeline.RequestContext) {
	route := rc.Route
	target := route.Target
	in := rc.Request

	req.Header = rc.Header.Clone()

	req.URL.Scheme = target.Scheme
	req.URL.Host = target.Host
	req.URL.Path = joinPath(target.Path, route.RewritePath(in.URL.Path))
	req.URL.RawPath = ""
	req.URL.RawQuery = mergeQuery(target.RawQuery, in.URL.RawQuery)

	// Remove hop-by-hop headers
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}

	// X-Forwarded-For is appended by httputil.ReverseProxy.
	if in.TLS != nil {
		req.Header.Set("X-Forwarded-Proto", "https")
	} else {
		req.Header.Set("X-Forwarded-Proto", "http")
	}
	req.Header.Set("X-Forwarded-Host", in.Host)

	observability.InjectTraceContext(req.Context(), req.Header)

	// Set Host header
	req.Host = target.Host
}

// joinPath appends path to the target base path.
func joinPath(base, path string) string {
	if base == "" || base == "/" {
		return path
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

func mergeQuery(targetQuery, query string) string {
	switch {
	case targetQuery == "":
		return query
	case query == "":
		return targetQuery
	default:
		return targetQuery + "&" + query
	}
}

// compile-time check
var _ pipeline.Forwarder = (*Forwarder)(nil)
