// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sqlitestore

import (
	"time"

	"github.com/hashicorp/oidc-rp/oidc"
)

// record is the stored form of an oidc.Session. The token types redact
// themselves when marshaled, so tokens are stored as plain strings.
type record struct {
	FlowState *oidc.FlowState `json:"flow_state,omitempty"`
	Principal *oidc.Principal `json:"principal,omitempty"`
	Tokens    *tokenRecord    `json:"tokens,omitempty"`
	LoggedOut bool            `json:"logged_out,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type tokenRecord struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Scope        string    `json:"scope,omitempty"`
}

func newRecord(s *oidc.Session) *record {
	r := &record{
		FlowState: s.FlowState,
		Principal: s.Principal,
		LoggedOut: s.LoggedOut,
		UpdatedAt: s.UpdatedAt,
	}
	if t := s.Tokens; t != nil {
		r.Tokens = &tokenRecord{
			AccessToken:  string(t.AccessToken),
			TokenType:    t.TokenType,
			ExpiresIn:    t.ExpiresIn,
			Expiry:       t.Expiry,
			RefreshToken: string(t.RefreshToken),
			IDToken:      string(t.IDToken),
			Scope:        t.Scope,
		}
	}
	return r
}

func (r *record) session() *oidc.Session {
	s := &oidc.Session{
		FlowState: r.FlowState,
		Principal: r.Principal,
		LoggedOut: r.LoggedOut,
		UpdatedAt: r.UpdatedAt,
	}
	if t := r.Tokens; t != nil {
		s.Tokens = &oidc.TokenSet{
			AccessToken:  oidc.AccessToken(t.AccessToken),
			TokenType:    t.TokenType,
			ExpiresIn:    t.ExpiresIn,
			Expiry:       t.Expiry,
			RefreshToken: oidc.RefreshToken(t.RefreshToken),
			IDToken:      oidc.IDToken(t.IDToken),
			Scope:        t.Scope,
		}
	}
	return s
}
