// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hashicorp/oidc-rp/oidc"
)

// AuthCode creates an oidc authorization code callback handler which
// completes the pending login of the request's session, found using the
// SessionReader.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails.
func AuthCode(a *oidc.Authenticator, sr SessionReader, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.AuthCode"
	switch {
	case a == nil:
		return nil, fmt.Errorf("%s: authenticator is nil: %w", op, oidc.ErrInvalidParameter)
	case sr == nil:
		return nil, fmt.Errorf("%s: session reader is nil: %w", op, oidc.ErrInvalidParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		sessionID, err := sr.Read(req)
		if err != nil {
			eFn("", nil, fmt.Errorf("%s: unable to read session: %w", op, oidc.ErrFlowNotFound), w, req)
			return
		}

		// get parameters from either the body or query parameters.
		// FormValue prioritizes body values, if found.
		params := oidc.CallbackParams{
			Code:             req.FormValue("code"),
			State:            req.FormValue("state"),
			Error:            req.FormValue("error"),
			ErrorDescription: req.FormValue("error_description"),
			ErrorURI:         req.FormValue("error_uri"),
		}
		p, err := a.Callback(req.Context(), sessionID, params)
		if err != nil {
			var provErr *oidc.ProviderError
			if errors.As(err, &provErr) {
				eFn(sessionID, &AuthenErrorResponse{
					Error:       provErr.Code,
					Description: provErr.Description,
					Uri:         provErr.URI,
				}, err, w, req)
				return
			}
			eFn(sessionID, nil, err, w, req)
			return
		}
		sFn(sessionID, p, w, req)
	}, nil
}

// Login creates a handler which starts a login for a new session and
// redirects the user to the provider. The options are passed to
// oidc.Authenticator.Login.
func Login(a *oidc.Authenticator, ss SessionStarter, eFn ErrorResponseFunc, opt ...oidc.Option) (http.HandlerFunc, error) {
	const op = "callback.Login"
	switch {
	case a == nil:
		return nil, fmt.Errorf("%s: authenticator is nil: %w", op, oidc.ErrInvalidParameter)
	case ss == nil:
		return nil, fmt.Errorf("%s: session starter is nil: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		sessionID, err := ss.Start(w, req)
		if err != nil {
			eFn("", nil, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		authURL, err := a.Login(req.Context(), sessionID, opt...)
		if err != nil {
			eFn(sessionID, nil, err, w, req)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, req, authURL, http.StatusFound)
	}, nil
}

// Logout creates a handler which logs out the request's session and
// redirects to redirectURL.
func Logout(a *oidc.Authenticator, sr SessionReader, redirectURL string, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.Logout"
	switch {
	case a == nil:
		return nil, fmt.Errorf("%s: authenticator is nil: %w", op, oidc.ErrInvalidParameter)
	case sr == nil:
		return nil, fmt.Errorf("%s: session reader is nil: %w", op, oidc.ErrInvalidParameter)
	case redirectURL == "":
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, oidc.ErrInvalidParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrInvalidParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		sessionID, err := sr.Read(req)
		if err == nil {
			if err := a.Logout(req.Context(), sessionID); err != nil {
				eFn(sessionID, nil, err, w, req)
				return
			}
		}
		http.Redirect(w, req, redirectURL, http.StatusSeeOther)
	}, nil
}
