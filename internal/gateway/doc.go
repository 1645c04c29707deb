// Package gateway assembles the edge pipeline from configuration: the
// CORS negotiator, the rate limiter and its counter store, the credential
// validator, the per-route breakers, the forwarder and the HTTP server
// that runs them.
package gateway
