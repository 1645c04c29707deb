// Package jwt validates and issues HMAC-signed JSON Web Tokens.
//
// Validation is hand-rolled on crypto/hmac so the accepted surface stays
// small: HS256, HS384 and HS512 only, exp is mandatory, nbf is honored.
// Signing uses github.com/lestrrat-go/jwx/v2 and exists for the token
// tool and tests.
package jwt
