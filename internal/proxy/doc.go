// Package proxy forwards requests that passed the pipeline to their
// downstream service.
//
// Every call runs inside the route's circuit breaker and under the
// route's timeout. Transport errors, timeouts and 5xx responses count as
// failures and are answered with the route's fallback response; any other
// downstream response is relayed as is, with the gateway's CORS headers
// replacing the downstream ones.
package proxy
