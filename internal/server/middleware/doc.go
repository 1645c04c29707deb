// Package middleware provides the gin middlewares that wrap the gateway
// pipeline: panic recovery, request IDs, tracing, access logging and
// request metrics.
package middleware
