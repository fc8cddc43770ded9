// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

// UserInfo is the user's profile returned by the provider's userinfo
// endpoint.
// See: https://openid.net/specs/openid-connect-core-1_0.html#UserInfo
type UserInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
}

// UserInfo fetches the user's profile from the provider's userinfo endpoint
// using the access token.
func (tc *TokenClient) UserInfo(ctx context.Context, at AccessToken) (*UserInfo, error) {
	const op = "TokenClient.UserInfo"
	if at == "" {
		return nil, fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	md, err := tc.discovery.GetMetadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if md.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("%s: provider has no userinfo endpoint: %w", op, ErrUserInfoFailed)
	}
	provider, err := tc.discovery.Provider(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: string(at), TokenType: "Bearer"})
	info, err := provider.UserInfo(tc.clientContext(ctx), src)
	if err != nil {
		return nil, wrapTransport(op, ErrUserInfoFailed, err)
	}
	var profile struct {
		Name     string `json:"name"`
		Picture  string `json:"picture"`
		TenantID string `json:"tenant_id"`
	}
	if err := info.Claims(&profile); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrUserInfoFailed, err)
	}
	if info.Subject == "" {
		return nil, fmt.Errorf("%s: sub claim is missing: %w", op, ErrUserInfoFailed)
	}
	return &UserInfo{
		Subject:       info.Subject,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          profile.Name,
		Picture:       profile.Picture,
		TenantID:      profile.TenantID,
	}, nil
}
