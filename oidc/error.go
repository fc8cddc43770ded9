// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrUnsupportedAlg             = errors.New("unsupported signing algorithm")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrEntropy                    = errors.New("random source unavailable")
	ErrNotFound                   = errors.New("not found")

	// protocol errors
	ErrProviderError    = errors.New("provider returned an error")
	ErrMissingParameter = errors.New("missing callback parameter")
	ErrCSRF             = errors.New("state mismatch")
	ErrFlowNotFound     = errors.New("no pending authentication flow")
	ErrExpiredFlowState = errors.New("authentication flow is expired")
	ErrInvalidNonce     = errors.New("invalid nonce")
	ErrMissingIDToken   = errors.New("id_token is missing")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoRefreshToken   = errors.New("no refresh token available")

	// cryptographic errors
	ErrInvalidSignature = errors.New("invalid signature")
	ErrUnknownKey       = errors.New("unknown signing key")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrInvalidAudience  = errors.New("invalid audience")
	ErrExpiredToken     = errors.New("token is expired")
	ErrSubjectMismatch  = errors.New("subject mismatch")

	// transport errors
	ErrDiscovery             = errors.New("provider discovery failed")
	ErrTokenExchange         = errors.New("token endpoint request failed")
	ErrTimeout               = errors.New("request timed out")
	ErrUserInfoFailed        = errors.New("user info failed")
	ErrRevocationUnsupported = errors.New("provider does not support token revocation")
)

// TokenExchangeError is returned when the provider's token or revocation
// endpoint answers with a non-2xx status. The provider's error and
// error_description fields are kept so callers can surface them.
type TokenExchangeError struct {
	StatusCode  int
	ErrorCode   string
	Description string
	Body        []byte
}

func (e *TokenExchangeError) Error() string {
	switch {
	case e.ErrorCode != "" && e.Description != "":
		return fmt.Sprintf("%s (http %d): %s: %s", ErrTokenExchange, e.StatusCode, e.ErrorCode, e.Description)
	case e.ErrorCode != "":
		return fmt.Sprintf("%s (http %d): %s", ErrTokenExchange, e.StatusCode, e.ErrorCode)
	default:
		return fmt.Sprintf("%s (http %d): %s", ErrTokenExchange, e.StatusCode, e.Body)
	}
}

// Is allows errors.Is(err, ErrTokenExchange)
func (e *TokenExchangeError) Is(target error) bool { return target == ErrTokenExchange }

// Rejected reports whether the provider refused the request with an OAuth2
// error response. A rejection is terminal: retrying the same request won't
// succeed.
func (e *TokenExchangeError) Rejected() bool {
	return e.ErrorCode != "" && e.StatusCode >= 400 && e.StatusCode < 500
}

func tokenRejection(err error) (*TokenExchangeError, bool) {
	var tokErr *TokenExchangeError
	if errors.As(err, &tokErr) && tokErr.Rejected() {
		return tokErr, true
	}
	return nil, false
}

// ProviderError is an OAuth2 authentication error response delivered to the
// callback. See: https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type ProviderError struct {
	Code        string
	Description string
	URI         string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %s", ErrProviderError, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", ErrProviderError, e.Code, e.Description)
}

// Is allows errors.Is(err, ErrProviderError)
func (e *ProviderError) Is(target error) bool { return target == ErrProviderError }

// IsProtocolError reports whether err is terminal for the current flow attempt
// and has a distinct reason that can be shown to the user.
func IsProtocolError(err error) bool {
	if _, ok := tokenRejection(err); ok {
		return true
	}
	for _, e := range []error{
		ErrProviderError, ErrMissingParameter, ErrCSRF, ErrFlowNotFound,
		ErrExpiredFlowState, ErrInvalidNonce, ErrMissingIDToken,
		ErrNotAuthenticated, ErrNoRefreshToken,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsCryptoError reports whether err came from verifying a token's signature or
// claims. The detail of these errors is for logs, not for end users.
func IsCryptoError(err error) bool {
	for _, e := range []error{
		ErrInvalidSignature, ErrUnknownKey, ErrInvalidIssuer,
		ErrInvalidAudience, ErrExpiredToken, ErrSubjectMismatch,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// IsTransportError reports whether err is a transport failure that a caller
// may choose to retry. A TokenExchangeError the provider Rejected is a
// protocol error, not a transport error.
func IsTransportError(err error) bool {
	if IsProtocolError(err) || IsCryptoError(err) {
		return false
	}
	for _, e := range []error{ErrTimeout, ErrDiscovery, ErrTokenExchange, ErrUserInfoFailed} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// PublicReason returns a reason for err that is safe to show to an end user.
func PublicReason(err error) string {
	var provErr *ProviderError
	tokErr, rejected := tokenRejection(err)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &provErr):
		if provErr.Description != "" {
			return fmt.Sprintf("%s: %s", provErr.Code, provErr.Description)
		}
		return provErr.Code
	case rejected:
		if tokErr.Description != "" {
			return fmt.Sprintf("%s: %s", tokErr.ErrorCode, tokErr.Description)
		}
		return tokErr.ErrorCode
	case errors.Is(err, ErrCSRF):
		return "state mismatch, possible CSRF attack"
	case errors.Is(err, ErrFlowNotFound):
		return "no login in progress for this session"
	case errors.Is(err, ErrExpiredFlowState):
		return "login attempt expired, please try again"
	case errors.Is(err, ErrMissingParameter):
		return "missing code or state parameter"
	case errors.Is(err, ErrInvalidNonce):
		return "nonce mismatch, possible replay attack"
	case errors.Is(err, ErrMissingIDToken):
		return "identity token missing from provider response"
	case errors.Is(err, ErrNotAuthenticated):
		return "not logged in"
	case errors.Is(err, ErrNoRefreshToken):
		return "no refresh token available, login again with the offline_access scope"
	case IsCryptoError(err):
		return "identity token could not be verified"
	case IsTransportError(err):
		return "identity provider unavailable, please retry"
	default:
		return "authentication failed"
	}
}

// isTimeout reports whether err was caused by a deadline, a cancelled
// context or a client timeout.
func isTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// wrapTransport wraps err with ErrTimeout when it was caused by a timeout and
// with kind otherwise.
func wrapTransport(op string, kind, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
