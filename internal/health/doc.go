// Package health provides the liveness, health and readiness endpoints
// served next to /metrics.
//
// Readiness runs the registered dependency checks. A failing critical
// dependency makes the gateway unhealthy (503); a failing non-critical one
// only degrades it, which still reports 200 because the pipeline keeps
// serving (the rate limiter fails open when its store is down).
package health
