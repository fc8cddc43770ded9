// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-rp/oidc/internal/strutils"
)

// DefaultClockSkew is the leeway allowed when checking an id_token's exp,
// nbf and iat claims.
const DefaultClockSkew = jwt.DefaultLeeway

// TokenVerifier verifies id_tokens and projects them into a Principal.
type TokenVerifier interface {
	// Verify verifies an id_token from an authorization_code grant.
	Verify(ctx context.Context, t IDToken, expectedNonce string) (*Principal, error)

	// VerifyRefreshed verifies an id_token from a refresh_token grant.
	VerifyRefreshed(ctx context.Context, t IDToken, prior *Principal) (*Principal, error)
}

// IDTokenVerifier verifies id_tokens signed by the Config's provider.
type IDTokenVerifier struct {
	config *Config
	keys   KeySource
	algs   []jose.SignatureAlgorithm
	logger hclog.Logger
	opts   verifierOptions
}

var _ TokenVerifier = (*IDTokenVerifier)(nil)

// NewIDTokenVerifier creates an IDTokenVerifier which gets the issuer and
// signing keys from keys.
//
// Supported options: WithNow, WithClockSkew
func NewIDTokenVerifier(c *Config, keys KeySource, opt ...Option) (*IDTokenVerifier, error) {
	const op = "oidc.NewIDTokenVerifier"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case keys == nil:
		return nil, fmt.Errorf("%s: key source is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getVerifierOpts(opt...)
	if opts.withClockSkew < 0 {
		return nil, fmt.Errorf("%s: clock skew is negative: %w", op, ErrInvalidParameter)
	}
	return &IDTokenVerifier{
		config: c,
		keys:   keys,
		algs:   joseAlgs(c.SigningAlgs()),
		logger: c.logger().Named("verifier"),
		opts:   opts,
	}, nil
}

// idTokenClaims are the id_token claims that are verified or projected into
// a Principal.
type idTokenClaims struct {
	Issuer          string           `json:"iss"`
	Subject         string           `json:"sub"`
	Audience        jwt.Audience     `json:"aud"`
	AuthorizedParty string           `json:"azp"`
	Expiry          *jwt.NumericDate `json:"exp"`
	NotBefore       *jwt.NumericDate `json:"nbf"`
	IssuedAt        *jwt.NumericDate `json:"iat"`
	Nonce           string           `json:"nonce"`
	Email           string           `json:"email"`
	EmailVerified   claimBool        `json:"email_verified"`
	Name            string           `json:"name"`
	Picture         string           `json:"picture"`
	TenantID        string           `json:"tenant_id"`
}

// Verify verifies the id_token's signature, its iss, aud, azp, exp and nbf
// claims, and that its nonce equals expectedNonce exactly. Each failure is
// reported with a distinct error: ErrInvalidSignature, ErrUnknownKey,
// ErrInvalidIssuer, ErrInvalidAudience, ErrExpiredToken or ErrInvalidNonce.
func (v *IDTokenVerifier) Verify(ctx context.Context, t IDToken, expectedNonce string) (*Principal, error) {
	const op = "IDTokenVerifier.Verify"
	if expectedNonce == "" {
		return nil, fmt.Errorf("%s: expected nonce is empty: %w", op, ErrInvalidParameter)
	}
	claims, err := v.verify(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(expectedNonce)) != 1 {
		v.logger.Warn("id_token nonce mismatch", "sub", claims.Subject, "nonce_present", claims.Nonce != "")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}
	return claims.principal(), nil
}

// VerifyRefreshed verifies an id_token returned by a refresh_token grant. It
// applies the same checks as Verify, except the nonce, and requires the
// subject and issuer to equal prior's. Profile values missing from the new
// id_token are kept from prior.
func (v *IDTokenVerifier) VerifyRefreshed(ctx context.Context, t IDToken, prior *Principal) (*Principal, error) {
	const op = "IDTokenVerifier.VerifyRefreshed"
	if prior == nil {
		return nil, fmt.Errorf("%s: prior principal is nil: %w", op, ErrNilParameter)
	}
	claims, err := v.verify(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if claims.Subject != prior.Subject || claims.Issuer != prior.Issuer {
		v.logger.Warn("refreshed id_token subject mismatch", "sub", claims.Subject, "prior_sub", prior.Subject)
		return nil, fmt.Errorf("%s: %w", op, ErrSubjectMismatch)
	}
	p := claims.principal()
	p.fillProfile(prior)
	return p, nil
}

func (v *IDTokenVerifier) verify(ctx context.Context, t IDToken) (*idTokenClaims, error) {
	if t == "" {
		return nil, fmt.Errorf("id_token is empty: %w", ErrInvalidParameter)
	}
	jws, err := jose.ParseSigned(string(t), v.algs)
	if err != nil {
		v.logger.Warn("unable to parse id_token", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if len(jws.Signatures) != 1 {
		return nil, fmt.Errorf("expected one signature, got %d: %w", len(jws.Signatures), ErrInvalidSignature)
	}
	hdr := jws.Signatures[0].Protected

	key, err := v.keys.GetSigningKey(ctx, hdr.KeyID)
	if err != nil {
		v.logger.Warn("unable to get id_token signing key", "kid", hdr.KeyID, "error", err)
		return nil, err
	}
	if !key.IsPublic() {
		return nil, fmt.Errorf("signing key %q is not a public key: %w", hdr.KeyID, ErrInvalidSignature)
	}
	switch key.Key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
	default:
		return nil, fmt.Errorf("signing key %q is not an asymmetric key: %w", hdr.KeyID, ErrInvalidSignature)
	}
	if key.Algorithm != "" && key.Algorithm != hdr.Algorithm {
		return nil, fmt.Errorf("id_token alg %q does not match key alg %q: %w", hdr.Algorithm, key.Algorithm, ErrInvalidSignature)
	}
	payload, err := jws.Verify(key)
	if err != nil {
		v.logger.Warn("id_token signature verification failed", "kid", hdr.KeyID, "alg", hdr.Algorithm, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	var claims idTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("unable to decode id_token claims: %w: %w", ErrInvalidParameter, err)
	}

	md, err := v.keys.GetMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if claims.Issuer != md.Issuer {
		v.logger.Warn("id_token issuer mismatch", "iss", claims.Issuer, "expected", md.Issuer)
		return nil, fmt.Errorf("iss %q does not match %q: %w", claims.Issuer, md.Issuer, ErrInvalidIssuer)
	}
	if err := v.verifyAudience(&claims); err != nil {
		v.logger.Warn("id_token audience mismatch", "aud", []string(claims.Audience), "azp", claims.AuthorizedParty)
		return nil, err
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("sub claim is missing: %w", ErrInvalidParameter)
	}

	now := v.opts.now()
	skew := v.opts.withClockSkew
	switch {
	case claims.Expiry == nil:
		return nil, fmt.Errorf("exp claim is missing: %w", ErrExpiredToken)
	case now.Add(-skew).After(claims.Expiry.Time()):
		v.logger.Warn("id_token is expired", "exp", claims.Expiry.Time(), "now", now)
		return nil, fmt.Errorf("expired at %s: %w", claims.Expiry.Time(), ErrExpiredToken)
	case claims.NotBefore != nil && now.Add(skew).Before(claims.NotBefore.Time()):
		return nil, fmt.Errorf("not valid before %s: %w", claims.NotBefore.Time(), ErrExpiredToken)
	case claims.IssuedAt != nil && now.Add(skew).Before(claims.IssuedAt.Time()):
		return nil, fmt.Errorf("issued in the future at %s: %w", claims.IssuedAt.Time(), ErrExpiredToken)
	}
	return &claims, nil
}

// verifyAudience requires aud to contain the client id and every other
// audience to be configured. With several audiences, azp must be the client
// id when it's present.
func (v *IDTokenVerifier) verifyAudience(claims *idTokenClaims) error {
	clientID := v.config.ClientID
	if !claims.Audience.Contains(clientID) {
		return fmt.Errorf("aud %q does not contain %q: %w", []string(claims.Audience), clientID, ErrInvalidAudience)
	}
	for _, aud := range claims.Audience {
		if aud != clientID && !strutils.StrListContains(v.config.Audiences, aud) {
			return fmt.Errorf("aud %q is not trusted: %w", aud, ErrInvalidAudience)
		}
	}
	if len(claims.Audience) > 1 && claims.AuthorizedParty != "" && claims.AuthorizedParty != clientID {
		return fmt.Errorf("azp %q is not %q: %w", claims.AuthorizedParty, clientID, ErrInvalidAudience)
	}
	return nil
}

func (c *idTokenClaims) principal() *Principal {
	p := &Principal{
		Subject:       c.Subject,
		Issuer:        c.Issuer,
		Audience:      append([]string(nil), c.Audience...),
		Email:         c.Email,
		EmailVerified: bool(c.EmailVerified),
		Name:          c.Name,
		Picture:       c.Picture,
		TenantID:      c.TenantID,
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time()
	}
	if c.Expiry != nil {
		p.Expiry = c.Expiry.Time()
	}
	return p
}

// verifierOptions is the set of available options for IDTokenVerifier
// functions
type verifierOptions struct {
	withNowFunc   func() time.Time
	withClockSkew time.Duration
}

func verifierDefaults() verifierOptions {
	return verifierOptions{
		withClockSkew: DefaultClockSkew,
	}
}

// getVerifierOpts gets the verifier defaults and applies the opt overrides
// passed in
func getVerifierOpts(opt ...Option) verifierOptions {
	opts := verifierDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

func (o verifierOptions) now() time.Time {
	if o.withNowFunc != nil {
		return o.withNowFunc()
	}
	return time.Now()
}

// WithClockSkew provides an optional leeway for the exp, nbf and iat claims.
func WithClockSkew(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*verifierOptions); ok {
			v.withClockSkew = d
		}
	}
}
