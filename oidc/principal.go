// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Principal is the verified identity of an authenticated user. It's only
// created by successful id_token verification (or, when permitted, from the
// userinfo endpoint) and may be enriched from userinfo when the subjects
// match.
type Principal struct {
	Subject       string    `json:"sub"`
	Issuer        string    `json:"iss"`
	Audience      []string  `json:"aud"`
	Email         string    `json:"email,omitempty"`
	EmailVerified bool      `json:"email_verified,omitempty"`
	Name          string    `json:"name,omitempty"`
	Picture       string    `json:"picture,omitempty"`
	TenantID      string    `json:"tenant_id,omitempty"`
	IssuedAt      time.Time `json:"iat,omitempty"`
	Expiry        time.Time `json:"exp,omitempty"`
}

// Copy returns a deep copy of the Principal.
func (p *Principal) Copy() *Principal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Audience = append([]string(nil), p.Audience...)
	return &cp
}

// MergeUserInfo fills the Principal's profile from the userinfo response.
// Non-empty userinfo values win. The userinfo subject must equal the
// Principal's subject.
func (p *Principal) MergeUserInfo(ui *UserInfo) error {
	const op = "Principal.MergeUserInfo"
	if ui == nil {
		return fmt.Errorf("%s: userinfo is nil: %w", op, ErrNilParameter)
	}
	if ui.Subject != p.Subject {
		return fmt.Errorf("%s: userinfo sub does not match id_token sub: %w", op, ErrSubjectMismatch)
	}
	if ui.Email != "" {
		p.Email = ui.Email
		p.EmailVerified = ui.EmailVerified
	}
	if ui.Name != "" {
		p.Name = ui.Name
	}
	if ui.Picture != "" {
		p.Picture = ui.Picture
	}
	if ui.TenantID != "" {
		p.TenantID = ui.TenantID
	}
	return nil
}

// fillProfile copies profile values from prior which p doesn't have.
func (p *Principal) fillProfile(prior *Principal) {
	if prior == nil {
		return
	}
	if p.Email == "" {
		p.Email = prior.Email
		p.EmailVerified = prior.EmailVerified
	}
	if p.Name == "" {
		p.Name = prior.Name
	}
	if p.Picture == "" {
		p.Picture = prior.Picture
	}
	if p.TenantID == "" {
		p.TenantID = prior.TenantID
	}
}

func principalFromUserInfo(ui *UserInfo, issuer, clientID string) *Principal {
	return &Principal{
		Subject:       ui.Subject,
		Issuer:        issuer,
		Audience:      []string{clientID},
		Email:         ui.Email,
		EmailVerified: ui.EmailVerified,
		Name:          ui.Name,
		Picture:       ui.Picture,
		TenantID:      ui.TenantID,
	}
}

// claimBool decodes a boolean claim which some providers send as a string.
type claimBool bool

func (b *claimBool) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = claimBool(t)
	case string:
		parsed, err := strconv.ParseBool(t)
		if err != nil {
			return fmt.Errorf("invalid boolean claim %q: %w", t, err)
		}
		*b = claimBool(parsed)
	case nil:
		*b = false
	default:
		return fmt.Errorf("invalid boolean claim %v", v)
	}
	return nil
}
