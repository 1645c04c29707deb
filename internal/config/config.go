package config

import (
	"time"
)

// API version and kind accepted in configuration files.
const (
	APIVersionPrefix  = "gateway.edgegw.io/"
	DefaultAPIVersion = APIVersionPrefix + "v1"
	KindGateway       = "Gateway"
)

// Rate limit store types.
const (
	StoreTypeRedis  = "redis"
	StoreTypeMemory = "memory"
)

// Secret encodings.
const (
	SecretEncodingRaw    = "raw"
	SecretEncodingBase64 = "base64"
)

// GatewayConfig is the root configuration document.
type GatewayConfig struct {
	APIVersion string      `yaml:"apiVersion" json:"apiVersion"`
	Kind       string      `yaml:"kind" json:"kind"`
	Metadata   Metadata    `yaml:"metadata" json:"metadata"`
	Spec       GatewaySpec `yaml:"spec" json:"spec"`
}

// Metadata identifies the gateway instance.
type Metadata struct {
	Name   string            `yaml:"name" json:"name"`
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// GatewaySpec holds the gateway pipeline configuration.
type GatewaySpec struct {
	Listener       ListenerConfig       `yaml:"listener" json:"listener"`
	Auth           AuthConfig           `yaml:"auth" json:"auth"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit" json:"rateLimit"`
	CORS           CORSConfig           `yaml:"cors" json:"cors"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
	Routes         []Route              `yaml:"routes" json:"routes"`
	Fallbacks      []FallbackConfig     `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"`
	Observability  ObservabilityConfig  `yaml:"observability" json:"observability"`
}

// ListenerConfig configures the inbound HTTP listener.
type ListenerConfig struct {
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	MaxBodySize     int64    `yaml:"maxBodySize" json:"maxBodySize"`

	// TrustedProxies lists CIDRs or IPs whose X-Forwarded-For is honored
	// when deriving the client address.
	TrustedProxies []string `yaml:"trustedProxies,omitempty" json:"trustedProxies,omitempty"`
}

// AuthConfig configures bearer credential validation.
type AuthConfig struct {
	Secret         string   `yaml:"secret" json:"-"`
	SecretEncoding string   `yaml:"secretEncoding" json:"secretEncoding"`
	Header         string   `yaml:"header" json:"header"`
	Prefix         string   `yaml:"prefix" json:"prefix"`
	ClockSkew      Duration `yaml:"clockSkew" json:"clockSkew"`
	Algorithms     []string `yaml:"algorithms" json:"algorithms"`
}

// RateLimitConfig configures the fixed window limiter.
type RateLimitConfig struct {
	Enabled           bool        `yaml:"enabled" json:"enabled"`
	RequestsPerSecond int         `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int         `yaml:"burst" json:"burst"`
	KeyPrefix         string      `yaml:"keyPrefix" json:"keyPrefix"`
	StoreTimeout      Duration    `yaml:"storeTimeout" json:"storeTimeout"`
	Store             StoreConfig `yaml:"store" json:"store"`
}

// StoreConfig selects and configures the shared counter store.
type StoreConfig struct {
	Type  string      `yaml:"type" json:"type"`
	Redis RedisConfig `yaml:"redis" json:"redis"`
}

// RedisConfig configures the Redis counter store.
type RedisConfig struct {
	Address           string   `yaml:"address" json:"address"`
	Password          string   `yaml:"password" json:"-"`
	DB                int      `yaml:"db" json:"db"`
	PoolSize          int      `yaml:"poolSize" json:"poolSize"`
	DialTimeout       Duration `yaml:"dialTimeout" json:"dialTimeout"`
	ReadTimeout       Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout      Duration `yaml:"writeTimeout" json:"writeTimeout"`
	ConnectionRetries int      `yaml:"connectionRetries" json:"connectionRetries"`

	// Required makes an unreachable store at startup fatal. When false
	// the gateway starts anyway and the limiter fails open.
	Required bool `yaml:"required" json:"required"`
}

// CORSConfig configures cross-origin negotiation.
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins" json:"allowedOrigins"`
	AllowLoopback    bool     `yaml:"allowLoopback" json:"allowLoopback"`
	AllowNullOrigin  bool     `yaml:"allowNullOrigin" json:"allowNullOrigin"`
	AllowedMethods   []string `yaml:"allowedMethods" json:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders" json:"allowedHeaders"`
	ExposedHeaders   []string `yaml:"exposedHeaders" json:"exposedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials" json:"allowCredentials"`
	MaxAge           Duration `yaml:"maxAge" json:"maxAge"`
}

// CircuitBreakerConfig configures the per-route breakers.
type CircuitBreakerConfig struct {
	FailureRateThreshold float64  `yaml:"failureRateThreshold" json:"failureRateThreshold"`
	MinimumRequests      int      `yaml:"minimumRequests" json:"minimumRequests"`
	ConsecutiveFailures  int      `yaml:"consecutiveFailures" json:"consecutiveFailures"`
	SamplingWindow       Duration `yaml:"samplingWindow" json:"samplingWindow"`
	CoolDown             Duration `yaml:"coolDown" json:"coolDown"`
	HalfOpenRequests     int      `yaml:"halfOpenRequests" json:"halfOpenRequests"`
	CallTimeout          Duration `yaml:"callTimeout" json:"callTimeout"`
}

// Route is a static route descriptor.
type Route struct {
	Name        string   `yaml:"name" json:"name"`
	PathPrefix  string   `yaml:"pathPrefix" json:"pathPrefix"`
	URL         string   `yaml:"url" json:"url"`
	RequireAuth *bool    `yaml:"requireAuth,omitempty" json:"requireAuth,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Fallback    string   `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	StripPrefix bool     `yaml:"stripPrefix,omitempty" json:"stripPrefix,omitempty"`
}

// AuthRequired reports whether the route needs a valid credential.
// Routes require authentication unless explicitly opted out.
func (r *Route) AuthRequired() bool {
	return r.RequireAuth == nil || *r.RequireAuth
}

// FallbackID returns the fallback identifier, defaulting to the route name.
func (r *Route) FallbackID() string {
	if r.Fallback != "" {
		return r.Fallback
	}
	return r.Name
}

// FallbackConfig overrides or adds a fallback response variant.
type FallbackConfig struct {
	ID         string `yaml:"id" json:"id"`
	Message    string `yaml:"message" json:"message"`
	Suggestion string `yaml:"suggestion" json:"suggestion"`
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// MetricsConfig configures the metrics listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
}

// DefaultConfig returns a configuration with default values. Files are
// decoded on top of it, so any field a file omits keeps its default.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		APIVersion: DefaultAPIVersion,
		Kind:       KindGateway,
		Metadata:   Metadata{Name: "edgegw"},
		Spec: GatewaySpec{
			Listener: ListenerConfig{
				Address:         ":8080",
				ReadTimeout:     Duration(30 * time.Second),
				WriteTimeout:    Duration(60 * time.Second),
				IdleTimeout:     Duration(120 * time.Second),
				ShutdownTimeout: Duration(30 * time.Second),
				MaxBodySize:     10 << 20,
			},
			Auth: AuthConfig{
				SecretEncoding: SecretEncodingRaw,
				Header:         "Authorization",
				Prefix:         "Bearer ",
				Algorithms:     []string{"HS256", "HS384", "HS512"},
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 10,
				Burst:             20,
				KeyPrefix:         "edgegw:rl:",
				StoreTimeout:      Duration(100 * time.Millisecond),
				Store: StoreConfig{
					Type: StoreTypeRedis,
					Redis: RedisConfig{
						Address:           "localhost:6379",
						PoolSize:          20,
						DialTimeout:       Duration(2 * time.Second),
						ReadTimeout:       Duration(250 * time.Millisecond),
						WriteTimeout:      Duration(250 * time.Millisecond),
						ConnectionRetries: 3,
					},
				},
			},
			CORS: CORSConfig{
				AllowLoopback:   true,
				AllowNullOrigin: true,
				AllowedMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{
					"Authorization", "Content-Type", "Accept", "Origin",
					"X-Requested-With", "X-Request-ID",
				},
				ExposedHeaders: []string{
					"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After", "X-Request-ID",
				},
				AllowCredentials: true,
				MaxAge:           Duration(time.Hour),
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureRateThreshold: 0.5,
				MinimumRequests:      5,
				SamplingWindow:       Duration(10 * time.Second),
				CoolDown:             Duration(10 * time.Second),
				HalfOpenRequests:     1,
				CallTimeout:          Duration(5 * time.Second),
			},
			Observability: ObservabilityConfig{
				Logging: LoggingConfig{Level: "info", Format: "json"},
				Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
				Tracing: TracingConfig{SamplingRate: 1.0, ServiceName: "edgegw"},
			},
		},
	}
}
