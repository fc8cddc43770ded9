// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the SHA-256 code challenge method, the only method this
	// package will send. See: https://tools.ietf.org/html/rfc7636#section-4.2
	S256 ChallengeMethod = "S256"
)

// verifierEntropy is the number of random bytes behind a code verifier.  64
// bytes encode to 86 URL-safe characters, inside the 43-128 character range
// required by RFC 7636 section 4.1.
const verifierEntropy = 64

var verifierLen = base64.RawURLEncoding.EncodedLen(verifierEntropy)

// NewCodeVerifier creates a new PKCE code verifier: a high-entropy
// cryptographic random URL-safe string.
func NewCodeVerifier() (string, error) {
	const op = "oidc.NewCodeVerifier"
	v, err := randomURLSafe(verifierEntropy)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate verifier: %w", op, err)
	}
	return v, nil
}

// CreateCodeChallenge creates a code challenge from the verifier. Only the
// S256 method is supported:
//
//	code_challenge = BASE64URL-ENCODE(SHA256(ASCII(code_verifier)))
func CreateCodeChallenge(method ChallengeMethod, verifier string) (string, error) {
	const op = "oidc.CreateCodeChallenge"
	switch method {
	case S256:
		h := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(h[:]), nil
	default:
		return "", fmt.Errorf("%s: %s is not supported: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}
