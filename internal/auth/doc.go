// Package auth is the credential validation stage of the gateway
// pipeline. It verifies the bearer token of protected routes and
// republishes its claims to downstream services as identity headers.
package auth
