// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hashicorp/oidc-rp/oidc"
)

// SuccessResponseFunc is used by Callbacks to create a http response when the
// callback is successful.
//
// The function sessionID parameter is the session which is now
// authenticated as the oidc.Principal. The function should use the
// http.ResponseWriter to send back whatever content (headers, html, JSON,
// redirect, etc) it wishes to the client that originated the oidc flow.
type SuccessResponseFunc func(sessionID string, p *oidc.Principal, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Callbacks to create a http response when the
// callback fails.
//
// The function receives the session the request belongs to. respErr is set
// when the provider redirected back with an oauth2 error response, and e is
// the error raised while processing the request. The function should use
// the http.ResponseWriter to send back whatever content (headers, html,
// JSON, etc) it wishes to the client that originated the oidc flow. The
// text of e is for logs; see oidc.PublicReason for what to show the user.
type ErrorResponseFunc func(sessionID string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Uri         string `json:"error_uri,omitempty"`
}

// ErrorStatus returns the http status for a callback error.
func ErrorStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, oidc.ErrTimeout):
		return http.StatusGatewayTimeout
	case oidc.IsProtocolError(err), oidc.IsCryptoError(err):
		return http.StatusUnauthorized
	case oidc.IsTransportError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DefaultErrorResponse is an ErrorResponseFunc which writes a JSON
// AuthenErrorResponse with the error's public reason as its description.
func DefaultErrorResponse(_ string, respErr *AuthenErrorResponse, e error, w http.ResponseWriter, _ *http.Request) {
	out := AuthenErrorResponse{Description: oidc.PublicReason(e)}
	switch {
	case respErr != nil:
		out.Error = respErr.Error
		out.Uri = respErr.Uri
	case errors.Is(e, oidc.ErrTimeout), oidc.IsTransportError(e):
		out.Error = "temporarily_unavailable"
	case oidc.IsProtocolError(e), oidc.IsCryptoError(e):
		out.Error = "access_denied"
	default:
		out.Error = "server_error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ErrorStatus(e))
	_ = json.NewEncoder(w).Encode(&out)
}
