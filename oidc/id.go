// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/hashicorp/go-uuid"
)

// DefaultIDEntropy is the number of random bytes behind every ID generated by
// NewID.
const DefaultIDEntropy = 32

// DefaultIDLength is the length of the URL-safe string returned by NewID.
var DefaultIDLength = base64.RawURLEncoding.EncodedLen(DefaultIDEntropy)

// randReader is the source of randomness for IDs and PKCE verifiers.  It's a
// package var so tests can simulate an unavailable random source.
var randReader io.Reader = rand.Reader

// NewID generates a random URL-safe ID. The ID generated is suitable for a
// FlowState's state or nonce.
func NewID() (string, error) {
	const op = "oidc.NewID"
	id, err := randomURLSafe(DefaultIDEntropy)
	if err != nil {
		return "", fmt.Errorf("%s: unable to generate id: %w", op, err)
	}
	return id, nil
}

// NewSessionID generates an opaque session identifier suitable for keying a
// SessionStore.
func NewSessionID() (string, error) {
	const op = "oidc.NewSessionID"
	sessionID, err := uuid.GenerateUUIDWithReader(randReader)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", op, ErrEntropy, err)
	}
	return sessionID, nil
}

func randomURLSafe(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return "", fmt.Errorf("%w: %w", ErrEntropy, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
