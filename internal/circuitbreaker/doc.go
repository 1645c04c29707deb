// Package circuitbreaker keeps one breaker per route so a failing
// downstream service is short-circuited to its fallback response instead
// of tying up gateway capacity.
//
// Breakers are backed by github.com/sony/gobreaker. A breaker opens when
// the failure rate over the sampling window reaches the threshold (with a
// minimum request count) or when consecutive failures reach a limit. After
// the cool-down it admits a fixed number of trial calls; success closes
// it, failure reopens it.
package circuitbreaker
