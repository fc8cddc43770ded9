// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package clientassertion

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// Option configures the JWT
type Option func(*JWT) error

// WithClientSecret sets a secret and algorithm to sign the JWT with
// (client_secret_jwt).
func WithClientSecret(secret string, alg HSAlgorithm) Option {
	const op = "WithClientSecret"
	return func(j *JWT) error {
		if err := alg.Validate(secret); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		j.secret = secret
		j.alg = jose.SignatureAlgorithm(alg)
		return nil
	}
}

// WithKey sets a private key and algorithm to sign the JWT with
// (private_key_jwt). The key must be an *rsa.PrivateKey,
// *ecdsa.PrivateKey or ed25519.PrivateKey matching alg.
func WithKey(key interface{}, alg KeyAlgorithm) Option {
	const op = "WithKey"
	return func(j *JWT) error {
		if err := alg.Validate(key); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		j.key = key
		j.alg = jose.SignatureAlgorithm(alg)
		return nil
	}
}

// WithKeyID sets the "kid" header that OIDC providers use to look up the
// public key to check the signed JWT
func WithKeyID(keyID string) Option {
	return func(j *JWT) error {
		j.headers["kid"] = keyID
		return nil
	}
}

// WithHeaders sets extra JWT headers
func WithHeaders(h map[string]string) Option {
	return func(j *JWT) error {
		for k, v := range h {
			j.headers[k] = v
		}
		return nil
	}
}

// WithExpiry sets how long the signed assertions are valid for.
func WithExpiry(d time.Duration) Option {
	const op = "WithExpiry"
	return func(j *JWT) error {
		if d <= 0 {
			return fmt.Errorf("%s: %w", op, ErrInvalidExpiry)
		}
		j.expiry = d
		return nil
	}
}
