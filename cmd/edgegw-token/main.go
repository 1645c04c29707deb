// Package main is a helper that mints signed bearer tokens accepted by the
// gateway, for local development and smoke tests.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/auth/jwt"
	"github.com/vyrodovalexey/edgegw/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run parses args, signs a token and writes it to stdout. It returns the
// process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("edgegw-token", flag.ContinueOnError)
	fs.SetOutput(stderr)

	secret := fs.String("secret", os.Getenv("EDGEGW_JWT_SECRET"), "Shared HMAC secret (default $EDGEGW_JWT_SECRET)")
	encoding := fs.String("secret-encoding", config.SecretEncodingRaw, "Secret encoding (raw, base64)")
	alg := fs.String("alg", jwt.AlgHS256, "Signing algorithm (HS256, HS384, HS512)")
	subject := fs.String("sub", "", "Subject (user id)")
	username := fs.String("username", "", "Username claim")
	roles := fs.String("roles", "ROLE_USER", "Comma separated roles claim")
	issuer := fs.String("issuer", "", "Issuer claim")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	jti := fs.Bool("jti", false, "Add a random jti claim")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *subject == "" {
		_, _ = fmt.Fprintln(stderr, "-sub is required")
		return 2
	}
	if *ttl <= 0 {
		_, _ = fmt.Fprintln(stderr, "-ttl must be positive")
		return 2
	}

	key, err := config.DecodeSecret(*secret, *encoding)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid secret: %v\n", err)
		return 1
	}

	signer, err := jwt.NewSigner(key, *alg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "failed to create signer: %v\n", err)
		return 1
	}

	token, err := signer.Sign(jwt.SigningOptions{
		Subject:     *subject,
		Username:    *username,
		Roles:       *roles,
		Issuer:      *issuer,
		ExpiresIn:   *ttl,
		GenerateJTI: *jti,
	})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "failed to sign token: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintln(stdout, token)
	return 0
}
