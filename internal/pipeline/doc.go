// Package pipeline runs an inbound request through an ordered list of
// stages and hands the surviving request to a terminal forwarder.
//
// Each stage either lets the request continue, possibly after mutating the
// RequestContext, or terminates it with exactly one Response. Headers a
// stage adds to RequestContext.ResponseHeader are applied to whatever
// response the client finally receives, whether it was produced by a
// later stage, the forwarder, or the downstream service.
package pipeline
