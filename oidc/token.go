// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenExpirySkew defines a time skew when checking a TokenSet's
// expiration.
const DefaultTokenExpirySkew = 10 * time.Second

// TokenTypeHint is the optional token_type_hint sent to a revocation
// endpoint. See: https://tools.ietf.org/html/rfc7009#section-2.1
type TokenTypeHint string

const (
	AccessTokenHint  TokenTypeHint = "access_token"
	RefreshTokenHint TokenTypeHint = "refresh_token"
)

// TokenSet is the set of tokens returned by a successful code exchange or
// refresh. It's owned by a session and replaced wholesale on refresh, never
// partially updated.
type TokenSet struct {
	AccessToken  AccessToken
	TokenType    string
	ExpiresIn    int64
	Expiry       time.Time
	RefreshToken RefreshToken
	IDToken      IDToken
	Scope        string
}

// newTokenSet converts an oauth2.Token into a TokenSet.
func newTokenSet(t *oauth2.Token) *TokenSet {
	ts := &TokenSet{
		AccessToken:  AccessToken(t.AccessToken),
		TokenType:    t.Type(),
		ExpiresIn:    t.ExpiresIn,
		Expiry:       t.Expiry,
		RefreshToken: RefreshToken(t.RefreshToken),
	}
	if idToken, ok := t.Extra("id_token").(string); ok {
		ts.IDToken = IDToken(idToken)
	}
	if scope, ok := t.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	return ts
}

// Expired will return true if the access token is expired. If the TokenSet
// has no expiry, it's never considered expired.
func (t *TokenSet) Expired(now time.Time) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return t.Expiry.Round(0).Before(now.Add(DefaultTokenExpirySkew))
}

// Valid will ensure the TokenSet has an access token that's not expired.
func (t *TokenSet) Valid(now time.Time) bool {
	if t == nil {
		return false
	}
	if t.AccessToken == "" {
		return false
	}
	return !t.Expired(now)
}

// Copy returns a copy of the TokenSet.
func (t *TokenSet) Copy() *TokenSet {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// StaticTokenSource returns an oauth2.TokenSource that always returns the
// TokenSet's access token.
func (t *TokenSet) StaticTokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken:  string(t.AccessToken),
		TokenType:    t.TokenType,
		RefreshToken: string(t.RefreshToken),
		Expiry:       t.Expiry,
	})
}
