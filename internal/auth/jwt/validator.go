package jwt

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

// Config configures a Validator.
type Config struct {
	// Secret is the shared HMAC key.
	Secret []byte

	// Algorithms restricts the accepted algorithms. Empty means all
	// HMAC algorithms.
	Algorithms []string

	// ClockSkew is the tolerance applied to exp and nbf.
	ClockSkew time.Duration
}

var hashFuncs = map[string]func() hash.Hash{
	AlgHS256: sha256.New,
	AlgHS384: sha512.New384,
	AlgHS512: sha512.New,
}

// Validator checks HMAC-signed tokens. It is safe for concurrent use.
type Validator struct {
	secret     []byte
	algorithms map[string]func() hash.Hash
	clockSkew  time.Duration
	clock      func() time.Time
}

// ValidatorOption is a functional option for the validator.
type ValidatorOption func(*Validator)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.clock = clock
	}
}

// NewValidator creates a validator.
func NewValidator(cfg Config, opts ...ValidatorOption) (*Validator, error) {
	if len(cfg.Secret) == 0 {
		return nil, NewValidationError("secret is required", ErrInvalidKey)
	}

	v := &Validator{
		secret:     append([]byte(nil), cfg.Secret...),
		algorithms: make(map[string]func() hash.Hash, len(hashFuncs)),
		clockSkew:  cfg.ClockSkew,
		clock:      time.Now,
	}

	algs := cfg.Algorithms
	if len(algs) == 0 {
		algs = []string{AlgHS256, AlgHS384, AlgHS512}
	}
	for _, alg := range algs {
		fn, ok := hashFuncs[alg]
		if !ok {
			return nil, NewValidationError(fmt.Sprintf("algorithm %s is not supported", alg), ErrUnsupportedAlgorithm)
		}
		v.algorithms[alg] = fn
	}

	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// tokenHeader represents the JWT header.
type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

// Validate verifies token and returns its claims. No claims are returned
// on any failure.
func (v *Validator) Validate(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrTokenMalformed
	}

	header, err := decodeHeader(parts[0])
	if err != nil {
		return nil, NewValidationError("failed to decode header", err)
	}

	hashFn, ok := v.algorithms[header.Algorithm]
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("algorithm %q is not allowed", header.Algorithm), ErrUnsupportedAlgorithm)
	}

	if err := v.verifySignature(hashFn, parts[0]+"."+parts[1], parts[2]); err != nil {
		return nil, err
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, NewValidationError("failed to decode payload", ErrTokenMalformed)
	}

	claims, err := parseClaims(payload)
	if err != nil {
		if errors.Is(err, ErrTokenMissingClaim) {
			return nil, err
		}
		return nil, NewValidationError("invalid payload", ErrTokenMalformed)
	}

	if err := claims.ValidAt(v.clock(), v.clockSkew); err != nil {
		return nil, err
	}

	return claims, nil
}

// decodeHeader decodes the JWT header.
func decodeHeader(encoded string) (*tokenHeader, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrTokenMalformed
	}

	var header tokenHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, ErrTokenMalformed
	}

	return &header, nil
}

// verifySignature compares the HMAC of signingInput with the token
// signature in constant time.
func (v *Validator) verifySignature(hashFn func() hash.Hash, signingInput, signature string) error {
	sigBytes, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return NewValidationError("failed to decode signature", ErrTokenMalformed)
	}

	mac := hmac.New(hashFn, v.secret)
	mac.Write([]byte(signingInput))

	if !hmac.Equal(sigBytes, mac.Sum(nil)) {
		return NewValidationError("HMAC signature verification failed", ErrTokenInvalidSignature)
	}

	return nil
}
