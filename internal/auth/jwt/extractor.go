package jwt

import (
	"net/http"
	"strings"
)

// DefaultHeader and DefaultPrefix describe the standard bearer scheme.
const (
	DefaultHeader = "Authorization"
	DefaultPrefix = "Bearer "
)

// Extractor pulls the raw token out of a request header.
type Extractor struct {
	header string
	prefix string
}

// NewExtractor creates an extractor for the given header and prefix.
func NewExtractor(header, prefix string) *Extractor {
	if header == "" {
		header = DefaultHeader
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Extractor{header: header, prefix: prefix}
}

// Extract returns the token from h.
func (e *Extractor) Extract(h http.Header) (string, error) {
	return e.ExtractValue(h.Get(e.header))
}

// ExtractValue returns the token from a raw header value. The prefix is
// matched exactly, including its trailing space.
func (e *Extractor) ExtractValue(value string) (string, error) {
	if value == "" {
		return "", ErrMissingCredential
	}
	if !strings.HasPrefix(value, e.prefix) {
		return "", ErrInvalidPrefix
	}
	token := strings.TrimSpace(value[len(e.prefix):])
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}
