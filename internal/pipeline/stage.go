package pipeline

import (
	"context"
	"net/http"
	"strings"

	"github.com/vyrodovalexey/edgegw/internal/util"
)

// Stage is one step of the pipeline. Process returns nil to continue or a
// Response to terminate the request.
type Stage interface {
	Name() string
	Process(ctx context.Context, rc *RequestContext) *Response
}

// Forwarder delivers a request that passed every stage.
type Forwarder interface {
	Forward(w http.ResponseWriter, rc *RequestContext)
}

// Response is a response produced by the gateway itself.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Empty returns a response with no body.
func Empty(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// ErrorJSON returns a response carrying the standard error body.
func ErrorJSON(status int, body util.ErrorBody) *Response {
	h := make(http.Header)
	h.Set(util.HeaderContentType, util.ContentTypeJSON)
	return &Response{Status: status, Header: h, Body: util.MarshalErrorBody(body)}
}

// Write sends resp with the accumulated response headers of rc applied.
func Write(w http.ResponseWriter, rc *RequestContext, resp *Response) {
	h := w.Header()
	for k, v := range resp.Header {
		h[k] = v
	}
	ApplyResponseHeaders(h, rc)
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// ApplyResponseHeaders sets the headers accumulated in rc on h. Any
// Access-Control-* header already in h is dropped first when rc carries
// its own, so the gateway's CORS policy always wins.
func ApplyResponseHeaders(h http.Header, rc *RequestContext) {
	if rc == nil || len(rc.ResponseHeader) == 0 {
		return
	}
	if hasCORSHeaders(rc.ResponseHeader) {
		for k := range h {
			if strings.HasPrefix(k, "Access-Control-") {
				delete(h, k)
			}
		}
	}
	for k, v := range rc.ResponseHeader {
		if k == "Vary" {
			for _, vv := range v {
				addVary(h, vv)
			}
			continue
		}
		h[k] = append([]string(nil), v...)
	}
}

func hasCORSHeaders(h http.Header) bool {
	for k := range h {
		if strings.HasPrefix(k, "Access-Control-") {
			return true
		}
	}
	return false
}

// addVary appends value to Vary unless it is already listed.
func addVary(h http.Header, value string) {
	for _, existing := range h.Values("Vary") {
		for _, part := range strings.Split(existing, ",") {
			if strings.EqualFold(strings.TrimSpace(part), value) {
				return
			}
		}
	}
	h.Add("Vary", value)
}
