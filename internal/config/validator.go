package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"strings"

	"github.com/vyrodovalexey/edgegw/internal/util"
)

// minSecretBytes is the smallest accepted HMAC key, matching the
// output size of SHA-256.
const minSecretBytes = 32

// supportedAlgorithms lists the HMAC algorithms the validator accepts.
var supportedAlgorithms = map[string]bool{
	"HS256": true,
	"HS384": true,
	"HS512": true,
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Is reports ValidationErrors as invalid configuration.
func (e ValidationErrors) Is(target error) bool {
	return target == util.ErrConfigInvalid
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(config *GatewayConfig) error {
	return NewValidator().Validate(config)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(config *GatewayConfig) error {
	v.errors = make(ValidationErrors, 0)

	if config == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateRoot(config)
	v.validateListener(&config.Spec.Listener)
	v.validateAuth(&config.Spec.Auth)
	v.validateRateLimit(&config.Spec.RateLimit)
	v.validateCORS(&config.Spec.CORS)
	v.validateCircuitBreaker(&config.Spec.CircuitBreaker)
	v.validateRoutes(config.Spec.Routes)
	v.validateFallbacks(config.Spec.Fallbacks)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

// validateRoot validates root-level fields.
func (v *Validator) validateRoot(config *GatewayConfig) {
	if config.APIVersion == "" {
		v.addError("apiVersion", "apiVersion is required")
	} else if !strings.HasPrefix(config.APIVersion, APIVersionPrefix) {
		v.addError("apiVersion", fmt.Sprintf("apiVersion must start with '%s'", APIVersionPrefix))
	}

	if config.Kind != KindGateway {
		v.addError("kind", fmt.Sprintf("kind must be '%s'", KindGateway))
	}

	if config.Metadata.Name == "" {
		v.addError("metadata.name", "name is required")
	}
}

// validateListener validates the inbound listener.
func (v *Validator) validateListener(l *ListenerConfig) {
	const path = "spec.listener"

	if l.Address == "" {
		v.addError(path+".address", "address is required")
	} else if _, _, err := net.SplitHostPort(l.Address); err != nil {
		v.addError(path+".address", fmt.Sprintf("invalid address: %v", err))
	}

	if l.MaxBodySize < 0 {
		v.addError(path+".maxBodySize", "maxBodySize cannot be negative")
	}

	for i, proxy := range l.TrustedProxies {
		if net.ParseIP(proxy) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(proxy); err != nil {
			v.addError(fmt.Sprintf("%s.trustedProxies[%d]", path, i), "must be an IP or CIDR")
		}
	}
}

// validateAuth validates credential settings.
func (v *Validator) validateAuth(a *AuthConfig) {
	const path = "spec.auth"

	if err := util.ValidateHeaderName(a.Header); err != nil {
		v.addError(path+".header", err.Error())
	}

	if a.Prefix == "" {
		v.addError(path+".prefix", "prefix is required")
	}

	secret, err := DecodeSecret(a.Secret, a.SecretEncoding)
	switch {
	case err != nil:
		v.addError(path+".secret", err.Error())
	case len(secret) < minSecretBytes:
		v.addError(path+".secret", fmt.Sprintf("secret must be at least %d bytes", minSecretBytes))
	}

	if len(a.Algorithms) == 0 {
		v.addError(path+".algorithms", "at least one algorithm is required")
	}
	for i, alg := range a.Algorithms {
		if !supportedAlgorithms[alg] {
			v.addError(fmt.Sprintf("%s.algorithms[%d]", path, i), fmt.Sprintf("unsupported algorithm %q", alg))
		}
	}

	if a.ClockSkew < 0 {
		v.addError(path+".clockSkew", "clockSkew cannot be negative")
	}
}

// validateRateLimit validates limiter settings.
func (v *Validator) validateRateLimit(rl *RateLimitConfig) {
	const path = "spec.rateLimit"

	if !rl.Enabled {
		return
	}

	if rl.RequestsPerSecond <= 0 {
		v.addError(path+".requestsPerSecond", "requestsPerSecond must be positive")
	}

	if rl.Burst < rl.RequestsPerSecond {
		v.addError(path+".burst", "burst must be greater than or equal to requestsPerSecond")
	}

	if rl.StoreTimeout <= 0 {
		v.addError(path+".storeTimeout", "storeTimeout must be positive")
	}

	switch rl.Store.Type {
	case StoreTypeMemory:
	case StoreTypeRedis:
		if rl.Store.Redis.Address == "" {
			v.addError(path+".store.redis.address", "address is required")
		}
		if rl.Store.Redis.DB < 0 {
			v.addError(path+".store.redis.db", "db cannot be negative")
		}
	default:
		v.addError(path+".store.type", fmt.Sprintf("store type must be '%s' or '%s'", StoreTypeRedis, StoreTypeMemory))
	}
}

// validateCORS validates cross-origin settings.
func (v *Validator) validateCORS(c *CORSConfig) {
	const path = "spec.cors"

	for i, origin := range c.AllowedOrigins {
		if origin == "*" {
			v.addError(fmt.Sprintf("%s.allowedOrigins[%d]", path, i),
				"wildcard origin cannot be combined with credentials")
			continue
		}
		if err := util.ValidateOrigin(origin); err != nil {
			v.addError(fmt.Sprintf("%s.allowedOrigins[%d]", path, i), err.Error())
		}
	}

	for i, header := range c.AllowedHeaders {
		if err := util.ValidateHeaderName(header); err != nil {
			v.addError(fmt.Sprintf("%s.allowedHeaders[%d]", path, i), err.Error())
		}
	}

	if c.MaxAge < 0 {
		v.addError(path+".maxAge", "maxAge cannot be negative")
	}
}

// validateCircuitBreaker validates breaker settings.
func (v *Validator) validateCircuitBreaker(cb *CircuitBreakerConfig) {
	const path = "spec.circuitBreaker"

	if cb.FailureRateThreshold <= 0 || cb.FailureRateThreshold > 1 {
		v.addError(path+".failureRateThreshold", "failureRateThreshold must be in (0, 1]")
	}

	if cb.MinimumRequests < 1 {
		v.addError(path+".minimumRequests", "minimumRequests must be at least 1")
	}

	if cb.ConsecutiveFailures < 0 {
		v.addError(path+".consecutiveFailures", "consecutiveFailures cannot be negative")
	}

	if err := util.ValidatePositiveDuration(cb.CoolDown.Duration()); err != nil {
		v.addError(path+".coolDown", err.Error())
	}

	if cb.SamplingWindow < 0 {
		v.addError(path+".samplingWindow", "samplingWindow cannot be negative")
	}

	if cb.HalfOpenRequests < 1 {
		v.addError(path+".halfOpenRequests", "halfOpenRequests must be at least 1")
	}

	if err := util.ValidatePositiveDuration(cb.CallTimeout.Duration()); err != nil {
		v.addError(path+".callTimeout", err.Error())
	}
}

// validateRoutes validates route descriptors.
func (v *Validator) validateRoutes(routes []Route) {
	if len(routes) == 0 {
		v.addError("spec.routes", "at least one route is required")
		return
	}

	names := make(map[string]bool, len(routes))
	prefixes := make(map[string]bool, len(routes))

	for i := range routes {
		route := &routes[i]
		path := fmt.Sprintf("spec.routes[%d]", i)

		if route.Name == "" {
			v.addError(path+".name", "name is required")
		} else if names[route.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate route name: %s", route.Name))
		}
		names[route.Name] = true

		if !strings.HasPrefix(route.PathPrefix, "/") {
			v.addError(path+".pathPrefix", "pathPrefix must start with '/'")
		} else if prefixes[route.PathPrefix] {
			v.addError(path+".pathPrefix", fmt.Sprintf("duplicate pathPrefix: %s", route.PathPrefix))
		}
		prefixes[route.PathPrefix] = true

		if err := util.ValidateURL(route.URL); err != nil {
			v.addError(path+".url", err.Error())
		}

		if route.Timeout < 0 {
			v.addError(path+".timeout", "timeout cannot be negative")
		}
	}
}

// validateFallbacks validates fallback overrides.
func (v *Validator) validateFallbacks(fallbacks []FallbackConfig) {
	for i, fb := range fallbacks {
		if fb.ID == "" {
			v.addError(fmt.Sprintf("spec.fallbacks[%d].id", i), "id is required")
		}
	}
}

// addError adds a validation error.
func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{
		Path:    path,
		Message: message,
	})
}

// DecodeSecret returns the HMAC key bytes for the configured encoding.
func DecodeSecret(secret, encoding string) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("secret is required")
	}

	switch encoding {
	case "", SecretEncodingRaw:
		return []byte(secret), nil
	case SecretEncodingBase64:
		decoded, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("secret is not valid base64: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("unsupported secret encoding %q", encoding)
	}
}
