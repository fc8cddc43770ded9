// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipal_MergeUserInfo(t *testing.T) {
	t.Parallel()
	base := func() *Principal {
		return &Principal{Subject: "alice", Issuer: "https://idp", Email: "old@example.com", Name: "Old Name", TenantID: "t-1"}
	}
	tests := []struct {
		name    string
		ui      *UserInfo
		want    *Principal
		wantErr error
	}{
		{
			name: "merged",
			ui:   &UserInfo{Subject: "alice", Email: "alice@example.com", EmailVerified: true, Picture: "https://example.com/a.png"},
			want: &Principal{
				Subject: "alice", Issuer: "https://idp", Email: "alice@example.com", EmailVerified: true,
				Name: "Old Name", Picture: "https://example.com/a.png", TenantID: "t-1",
			},
		},
		{
			name:    "subject-mismatch",
			ui:      &UserInfo{Subject: "mallory", Email: "mallory@example.com"},
			want:    base(),
			wantErr: ErrSubjectMismatch,
		},
		{
			name:    "nil",
			want:    base(),
			wantErr: ErrNilParameter,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			p := base()
			err := p.MergeUserInfo(tt.ui)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
			} else {
				require.NoError(err)
			}
			assert.Equal(tt.want, p)
		})
	}
}

func TestPrincipal_Copy(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	p := &Principal{Subject: "alice", Audience: []string{"client"}}
	cp := p.Copy()
	assert.Equal(p, cp)
	cp.Audience[0] = "changed"
	assert.Equal("client", p.Audience[0])
	var nilPrincipal *Principal
	assert.Nil(nilPrincipal.Copy())
}

func Test_claimBool(t *testing.T) {
	t.Parallel()
	tests := []struct {
		json    string
		want    bool
		wantErr bool
	}{
		{json: `true`, want: true},
		{json: `false`, want: false},
		{json: `"true"`, want: true},
		{json: `"false"`, want: false},
		{json: `null`, want: false},
		{json: `"maybe"`, wantErr: true},
		{json: `1`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.json, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			var got claimBool
			err := json.Unmarshal([]byte(tt.json), &got)
			if tt.wantErr {
				require.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, bool(got))
		})
	}
}
