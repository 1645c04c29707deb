package router

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/config"
	"github.com/vyrodovalexey/edgegw/internal/util"
)

// Route is a compiled route descriptor.
type Route struct {
	Name        string
	PathPrefix  string
	Target      *url.URL
	RequireAuth bool
	Timeout     time.Duration
	Fallback    string
	StripPrefix bool
}

// String returns the route name.
func (r *Route) String() string {
	return r.Name
}

// Router is the path-prefix routing table. It is immutable once built
// and safe for concurrent use.
type Router struct {
	routes   []*Route
	routeMap map[string]*Route
}

// New compiles route descriptors. Routes without a timeout inherit
// defaultTimeout.
func New(routes []config.Route, defaultTimeout time.Duration) (*Router, error) {
	r := &Router{
		routes:   make([]*Route, 0, len(routes)),
		routeMap: make(map[string]*Route, len(routes)),
	}

	for i := range routes {
		compiled, err := compileRoute(&routes[i], defaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to compile route %s: %w", routes[i].Name, err)
		}
		if _, exists := r.routeMap[compiled.Name]; exists {
			return nil, fmt.Errorf("duplicate route name: %s", compiled.Name)
		}
		r.routes = append(r.routes, compiled)
		r.routeMap[compiled.Name] = compiled
	}

	// Longest prefix first; ties keep configuration order.
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].PathPrefix) > len(r.routes[j].PathPrefix)
	})

	return r, nil
}

func compileRoute(route *config.Route, defaultTimeout time.Duration) (*Route, error) {
	if err := util.ValidateURL(route.URL); err != nil {
		return nil, err
	}
	target, err := url.Parse(route.URL)
	if err != nil {
		return nil, err
	}

	prefix := route.PathPrefix
	if len(prefix) > 1 {
		prefix = strings.TrimSuffix(prefix, "/")
	}

	timeout := route.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Route{
		Name:        route.Name,
		PathPrefix:  prefix,
		Target:      target,
		RequireAuth: route.AuthRequired(),
		Timeout:     timeout,
		Fallback:    route.FallbackID(),
		StripPrefix: route.StripPrefix,
	}, nil
}

// Match returns the route with the longest prefix matching path. The
// method is only used for the not-found error.
func (r *Router) Match(method, path string) (*Route, error) {
	for _, route := range r.routes {
		if matchPrefix(route.PathPrefix, path) {
			return route, nil
		}
	}
	return nil, util.NewRouteNotFoundError(method, path)
}

// Get returns a route by name.
func (r *Router) Get(name string) (*Route, bool) {
	route, ok := r.routeMap[name]
	return route, ok
}

// Routes returns the compiled routes in match order.
func (r *Router) Routes() []*Route {
	out := make([]*Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Names returns the route names in match order.
func (r *Router) Names() []string {
	names := make([]string, len(r.routes))
	for i, route := range r.routes {
		names[i] = route.Name
	}
	return names
}

// matchPrefix reports whether prefix matches path on a segment boundary.
func matchPrefix(prefix, path string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// RewritePath returns the downstream path for a request path. With
// StripPrefix the matched prefix is removed; the result always starts
// with '/'.
func (r *Route) RewritePath(path string) string {
	if !r.StripPrefix || r.PathPrefix == "/" {
		return path
	}
	rest := strings.TrimPrefix(path, r.PathPrefix)
	if rest == "" || rest[0] != '/' {
		rest = "/" + rest
	}
	return rest
}
