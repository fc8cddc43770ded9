// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"
)

// DefaultFlowStateExpiry is how long a user has to complete the provider's
// login before the pending FlowState is rejected.
const DefaultFlowStateExpiry = 10 * time.Minute

// DefaultFlowStateExpirySkew defines a default time skew when checking a
// FlowState's expiration.
const DefaultFlowStateExpirySkew = 1 * time.Second

// FlowState represents one authorization code + PKCE flow for a user. It's
// created when a login is initiated, held by exactly one pending session and
// consumed exactly once by the callback.
//
// State and Nonce cannot be equal. State is round-tripped through the
// provider to prevent CSRF, Nonce is embedded in the id_token to prevent
// replay, and CodeVerifier binds the authorization code to this client.
type FlowState struct {
	State        string
	Nonce        string
	CodeVerifier string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// NewFlowState creates a new FlowState with an independently generated state,
// nonce and PKCE code verifier.
//
// Supported options: WithNow, WithExpiresIn
func NewFlowState(opt ...Option) (*FlowState, error) {
	const op = "oidc.NewFlowState"
	opts := getFlowStateOpts(opt...)
	if opts.withExpiresIn <= 0 {
		return nil, fmt.Errorf("%s: expires in %s is not greater than zero: %w", op, opts.withExpiresIn, ErrInvalidParameter)
	}
	state, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate state: %w", op, err)
	}
	nonce, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate nonce: %w", op, err)
	}
	if state == nonce {
		return nil, fmt.Errorf("%s: state and nonce cannot be equal: %w", op, ErrEntropy)
	}
	verifier, err := NewCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := opts.now()
	return &FlowState{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		CreatedAt:    now,
		ExpiresAt:    now.Add(opts.withExpiresIn),
	}, nil
}

// CodeChallenge returns the S256 code challenge derived from the flow's code
// verifier.
func (f *FlowState) CodeChallenge() string {
	// S256 is always supported, so there's no error to check
	c, _ := CreateCodeChallenge(S256, f.CodeVerifier)
	return c
}

// IsExpired returns true if the flow has expired, allowing for
// DefaultFlowStateExpirySkew.
func (f *FlowState) IsExpired(now time.Time) bool {
	return f.ExpiresAt.Before(now.Add(DefaultFlowStateExpirySkew))
}

// Copy returns a deep copy of the FlowState.
func (f *FlowState) Copy() *FlowState {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}

// flowStateOptions is the set of available options for FlowState functions
type flowStateOptions struct {
	withNowFunc   func() time.Time
	withExpiresIn time.Duration
}

// flowStateDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func flowStateDefaults() flowStateOptions {
	return flowStateOptions{
		withExpiresIn: DefaultFlowStateExpiry,
	}
}

// getFlowStateOpts gets the flow state defaults and applies the opt overrides
// passed in
func getFlowStateOpts(opt ...Option) flowStateOptions {
	opts := flowStateDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

func (o flowStateOptions) now() time.Time {
	if o.withNowFunc != nil {
		return o.withNowFunc()
	}
	return time.Now()
}

// WithExpiresIn provides an optional duration for how long a FlowState is
// valid.
//
// Valid for: FlowState and Authenticator
func WithExpiresIn(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *flowStateOptions:
			v.withExpiresIn = d
		case *authenticatorOptions:
			v.withFlowExpiresIn = d
		}
	}
}
