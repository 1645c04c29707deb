package jwt

import (
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"
)

// SigningOptions describes a token to issue.
type SigningOptions struct {
	Subject  string
	Username string
	Roles    string
	Issuer   string

	// ExpiresIn is added to the issue time to produce exp.
	ExpiresIn time.Duration

	// NotBefore, when set, is written as nbf.
	NotBefore time.Time

	// GenerateJTI adds a random jti.
	GenerateJTI bool
}

// Signer issues HMAC-signed tokens.
type Signer struct {
	secret    []byte
	algorithm jwa.SignatureAlgorithm
	clock     func() time.Time
}

// SignerOption is a functional option for the signer.
type SignerOption func(*Signer)

// WithSignerClock overrides the time source used for iat and exp.
func WithSignerClock(clock func() time.Time) SignerOption {
	return func(s *Signer) {
		s.clock = clock
	}
}

// NewSigner creates a signer. The algorithm defaults to HS256.
func NewSigner(secret []byte, algorithm string, opts ...SignerOption) (*Signer, error) {
	if len(secret) == 0 {
		return nil, &SigningError{Message: "secret is required", Cause: ErrInvalidKey}
	}

	var alg jwa.SignatureAlgorithm
	switch algorithm {
	case "", AlgHS256:
		alg = jwa.HS256
	case AlgHS384:
		alg = jwa.HS384
	case AlgHS512:
		alg = jwa.HS512
	default:
		return nil, &SigningError{Message: "algorithm " + algorithm, Cause: ErrUnsupportedAlgorithm}
	}

	s := &Signer{
		secret:    append([]byte(nil), secret...),
		algorithm: alg,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign issues a compact serialized token.
func (s *Signer) Sign(opts SigningOptions) (string, error) {
	now := s.clock()

	builder := jwxjwt.NewBuilder().
		Subject(opts.Subject).
		IssuedAt(now).
		Expiration(now.Add(opts.ExpiresIn))

	if opts.Issuer != "" {
		builder = builder.Issuer(opts.Issuer)
	}
	if !opts.NotBefore.IsZero() {
		builder = builder.NotBefore(opts.NotBefore)
	}
	if opts.GenerateJTI {
		builder = builder.JwtID(uuid.NewString())
	}
	if opts.Username != "" {
		builder = builder.Claim(ClaimUsername, opts.Username)
	}
	if opts.Roles != "" {
		builder = builder.Claim(ClaimRoles, opts.Roles)
	}

	token, err := builder.Build()
	if err != nil {
		return "", &SigningError{Message: "failed to build token", Cause: err}
	}

	signed, err := jwxjwt.Sign(token, jwxjwt.WithKey(s.algorithm, s.secret))
	if err != nil {
		return "", &SigningError{Message: "failed to sign token", Cause: err}
	}

	return string(signed), nil
}
