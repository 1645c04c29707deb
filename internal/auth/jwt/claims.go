package jwt

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Claim names read from the token payload.
const (
	ClaimSubject   = "sub"
	ClaimUsername  = "username"
	ClaimRoles     = "roles"
	ClaimExpiresAt = "exp"
	ClaimNotBefore = "nbf"
	ClaimIssuedAt  = "iat"
	ClaimIssuer    = "iss"
)

// Claims are the claims the gateway republishes downstream.
type Claims struct {
	Subject  string
	Username string

	// Roles is the role list exactly as carried by the token, for
	// example "ROLE_USER,ROLE_ADMIN". Array claims are joined with ",".
	Roles string

	Issuer    string
	ExpiresAt time.Time
	NotBefore *time.Time
	IssuedAt  *time.Time
}

// ValidAt checks the time-based claims against now with the given skew.
func (c *Claims) ValidAt(now time.Time, skew time.Duration) error {
	if !now.Before(c.ExpiresAt.Add(skew)) {
		return ErrTokenExpired
	}
	if c.NotBefore != nil && now.Add(skew).Before(*c.NotBefore) {
		return ErrTokenNotYetValid
	}
	return nil
}

// parseClaims decodes a JSON payload into Claims. exp is required.
func parseClaims(payload []byte) (*Claims, error) {
	dec := json.NewDecoder(strings.NewReader(string(payload)))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}

	claims := &Claims{
		Subject:  stringClaim(raw[ClaimSubject]),
		Username: stringClaim(raw[ClaimUsername]),
		Roles:    rolesClaim(raw[ClaimRoles]),
		Issuer:   stringClaim(raw[ClaimIssuer]),
	}

	exp, ok := timeClaim(raw[ClaimExpiresAt])
	if !ok {
		return nil, NewValidationError("exp claim is required", ErrTokenMissingClaim)
	}
	claims.ExpiresAt = exp

	if nbf, ok := timeClaim(raw[ClaimNotBefore]); ok {
		claims.NotBefore = &nbf
	}
	if iat, ok := timeClaim(raw[ClaimIssuedAt]); ok {
		claims.IssuedAt = &iat
	}

	return claims, nil
}

func stringClaim(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

// rolesClaim accepts a string, kept verbatim, or an array of strings.
func rolesClaim(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []interface{}:
		roles := make([]string, 0, len(val))
		for _, r := range val {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		return strings.Join(roles, ",")
	default:
		return ""
	}
}

// timeClaim reads a NumericDate (seconds since epoch, possibly fractional).
func timeClaim(v interface{}) (time.Time, bool) {
	n, ok := v.(json.Number)
	if !ok {
		return time.Time{}, false
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*float64(time.Second))), true
}
