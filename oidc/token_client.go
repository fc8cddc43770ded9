// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
)

// TokenExchanger exchanges, refreshes and revokes tokens at the provider and
// fetches the user's profile. None of its operations are retried.
type TokenExchanger interface {
	// ExchangeCode redeems an authorization code and its PKCE code verifier.
	ExchangeCode(ctx context.Context, code, codeVerifier, redirectURL string) (*TokenSet, error)

	// Refresh redeems a refresh token for a new TokenSet.
	Refresh(ctx context.Context, rt RefreshToken) (*TokenSet, error)

	// Revoke asks the provider to revoke the token.
	Revoke(ctx context.Context, token string, hint TokenTypeHint) error

	// UserInfo fetches the profile of the user the access token was issued
	// to.
	UserInfo(ctx context.Context, at AccessToken) (*UserInfo, error)
}

// TokenClient is the TokenExchanger for a Config's provider.
type TokenClient struct {
	config    *Config
	discovery *Discovery
	logger    hclog.Logger
}

var _ TokenExchanger = (*TokenClient)(nil)

// NewTokenClient creates a TokenClient which finds the provider's endpoints
// using the Discovery.
func NewTokenClient(c *Config, d *Discovery) (*TokenClient, error) {
	const op = "oidc.NewTokenClient"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case d == nil:
		return nil, fmt.Errorf("%s: discovery is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &TokenClient{
		config:    c,
		discovery: d,
		logger:    c.logger().Named("token_client"),
	}, nil
}

// ExchangeCode sends an authorization_code grant, including the PKCE code
// verifier, to the provider's token endpoint. An empty redirectURL uses the
// Config's RedirectURL.
func (tc *TokenClient) ExchangeCode(ctx context.Context, code, codeVerifier, redirectURL string) (*TokenSet, error) {
	const op = "TokenClient.ExchangeCode"
	switch {
	case code == "":
		return nil, fmt.Errorf("%s: code is empty: %w", op, ErrInvalidParameter)
	case codeVerifier == "":
		return nil, fmt.Errorf("%s: code verifier is empty: %w", op, ErrInvalidParameter)
	}
	oauth2Config, err := tc.oauth2Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if redirectURL != "" {
		oauth2Config.RedirectURL = redirectURL
	}
	tk, err := oauth2Config.Exchange(tc.clientContext(ctx), code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, tokenError(err))
	}
	tc.logger.Debug("exchanged authorization code", "has_refresh_token", tk.RefreshToken != "")
	return newTokenSet(tk), nil
}

// Refresh sends a refresh_token grant to the provider's token endpoint. When
// the provider doesn't return a new refresh token, the one used is kept.
func (tc *TokenClient) Refresh(ctx context.Context, rt RefreshToken) (*TokenSet, error) {
	const op = "TokenClient.Refresh"
	if rt == "" {
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrNoRefreshToken)
	}
	oauth2Config, err := tc.oauth2Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tk, err := oauth2Config.TokenSource(tc.clientContext(ctx), &oauth2.Token{RefreshToken: string(rt)}).Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, tokenError(err))
	}
	ts := newTokenSet(tk)
	if ts.RefreshToken == "" {
		ts.RefreshToken = rt
	}
	return ts, nil
}

// Revoke posts the token to the provider's revocation endpoint.
// See: https://tools.ietf.org/html/rfc7009
func (tc *TokenClient) Revoke(ctx context.Context, token string, hint TokenTypeHint) error {
	const op = "TokenClient.Revoke"
	if token == "" {
		return fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	md, err := tc.discovery.GetMetadata(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if md.RevocationEndpoint == "" {
		return fmt.Errorf("%s: %w", op, ErrRevocationUnsupported)
	}
	form, err := tc.config.clientAuthParams(md.RevocationEndpoint)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	form.Set("token", token)
	if hint != "" {
		form.Set("token_type_hint", string(hint))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, md.RevocationEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := tc.discovery.HTTPClient().Do(req)
	if err != nil {
		return wrapTransport(op, ErrTokenExchange, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: %w", op, newTokenExchangeError(resp.StatusCode, body))
	}
	tc.logger.Debug("revoked token", "token_type_hint", hint)
	return nil
}

func (tc *TokenClient) oauth2Config(ctx context.Context) (*oauth2.Config, error) {
	md, err := tc.discovery.GetMetadata(ctx)
	if err != nil {
		return nil, err
	}
	secret := string(tc.config.ClientSecret)
	if tc.config.ClientAssertion != nil {
		secret = ""
	}
	return &oauth2.Config{
		ClientID:     tc.config.ClientID,
		ClientSecret: secret,
		RedirectURL:  tc.config.RedirectURL,
		Scopes:       tc.config.RequestedScopes(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, nil
}

func (tc *TokenClient) clientContext(ctx context.Context) context.Context {
	return HTTPClientContext(ctx, tc.config.tokenHTTPClient(tc.discovery.HTTPClient()))
}

// tokenError maps errors from golang.org/x/oauth2 onto this package's errors.
func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		e := &TokenExchangeError{
			ErrorCode:   re.ErrorCode,
			Description: re.ErrorDescription,
			Body:        re.Body,
		}
		if re.Response != nil {
			e.StatusCode = re.Response.StatusCode
		}
		return e
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTokenExchange, err)
}

func newTokenExchangeError(status int, body []byte) *TokenExchangeError {
	e := &TokenExchangeError{StatusCode: status, Body: body}
	var reply struct {
		Code        string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &reply); err == nil {
		e.ErrorCode = reply.Code
		e.Description = reply.Description
	}
	return e
}
