package util

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// headerNameRegex validates HTTP header names according to RFC 7230.
var headerNameRegex = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+$`)

// ValidateURL validates a downstream base URL.
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}

// ValidateHeaderName validates an HTTP header name.
func ValidateHeaderName(name string) error {
	if name == "" {
		return fmt.Errorf("header name cannot be empty")
	}

	if !headerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid header name: %s", name)
	}

	return nil
}

// ValidatePositiveDuration validates a duration is strictly positive.
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive: %v", d)
	}
	return nil
}

// ValidateNonEmpty validates that a string is not empty.
func ValidateNonEmpty(value, name string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	return nil
}

// ValidateOrigin validates a CORS origin entry. Entries are either
// scheme://host[:port], a wildcard subdomain (https://*.example.com, or
// *.example.com for any scheme), or the literal "null".
func ValidateOrigin(origin string) error {
	if origin == "null" {
		return nil
	}
	if suffix, ok := strings.CutPrefix(origin, "*."); ok {
		if suffix == "" || strings.ContainsAny(suffix, "/:*") || !strings.Contains(suffix, ".") {
			return fmt.Errorf("wildcard origin %q must look like *.example.com", origin)
		}
		return nil
	}
	parsed, err := url.Parse(strings.Replace(origin, "://*.", "://wildcard.", 1))
	if err != nil {
		return fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("origin %q must be scheme://host", origin)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("origin %q must not contain a path", origin)
	}
	return nil
}
