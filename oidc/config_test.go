// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewConfig(t *testing.T) {
	t.Parallel()
	testCAPem := TestGenerateCA(t, []string{"localhost"})
	testLogger := hclog.New(&hclog.LoggerOptions{Name: "test"})
	testAssertion := &testRecordingAssertion{}

	type args struct {
		issuer       string
		clientID     string
		clientSecret ClientSecret
		redirectURL  string
		opt          []Option
	}
	tests := []struct {
		name      string
		args      args
		want      *Config
		wantErr   bool
		wantIsErr []error
	}{
		{
			name: "valid-with-all-valid-opts",
			args: args{
				issuer:       "https://login.example.com/tenant",
				clientID:     "client-id",
				clientSecret: "client-secret",
				redirectURL:  "https://app.example.com/callback",
				opt: []Option{
					WithScopes("email", "profile"),
					WithAudiences("api://default"),
					WithProviderCA(testCAPem),
					WithSupportedSigningAlgs(RS256, ES384),
					WithHTTPTimeout(5 * time.Second),
					WithDiscoveryTTL(time.Minute),
					WithAllowMissingIDToken(),
					WithLogger(testLogger),
				},
			},
			want: &Config{
				Issuer:               "https://login.example.com/tenant",
				ClientID:             "client-id",
				ClientSecret:         "client-secret",
				RedirectURL:          "https://app.example.com/callback",
				Scopes:               []string{"email", "profile"},
				Audiences:            []string{"api://default"},
				ProviderCA:           testCAPem,
				SupportedSigningAlgs: []Alg{RS256, ES384},
				HTTPTimeout:          5 * time.Second,
				DiscoveryTTL:         time.Minute,
				AllowMissingIDToken:  true,
				Logger:               testLogger,
			},
		},
		{
			name: "valid-defaults",
			args: args{
				issuer:       "http://localhost:8080",
				clientID:     "client-id",
				clientSecret: "client-secret",
				redirectURL:  "http://localhost:3000/callback",
			},
			want: &Config{
				Issuer:       "http://localhost:8080",
				ClientID:     "client-id",
				ClientSecret: "client-secret",
				RedirectURL:  "http://localhost:3000/callback",
				HTTPTimeout:  DefaultHTTPTimeout,
				DiscoveryTTL: DefaultDiscoveryTTL,
			},
		},
		{
			name: "every-problem-reported",
			args: args{
				issuer:      "ftp://login.example.com",
				redirectURL: "app.example.com/callback",
				opt:         []Option{WithSupportedSigningAlgs("HS256"), WithProviderCA("bad")},
			},
			wantErr:   true,
			wantIsErr: []error{ErrInvalidParameter, ErrUnsupportedAlg, ErrInvalidCACert},
		},
		{
			name: "missing-secret-and-assertion",
			args: args{
				issuer:      "https://login.example.com",
				clientID:    "client-id",
				redirectURL: "https://app.example.com/callback",
			},
			wantErr:   true,
			wantIsErr: []error{ErrInvalidParameter},
		},
		{
			name: "assertion-without-secret",
			args: args{
				issuer:      "https://login.example.com",
				clientID:    "client-id",
				redirectURL: "https://app.example.com/callback",
				opt:         []Option{WithClientAssertion(testAssertion)},
			},
			want: &Config{
				Issuer:          "https://login.example.com",
				ClientID:        "client-id",
				RedirectURL:     "https://app.example.com/callback",
				HTTPTimeout:     DefaultHTTPTimeout,
				DiscoveryTTL:    DefaultDiscoveryTTL,
				ClientAssertion: testAssertion,
			},
		},
		{
			name: "issuer-with-query",
			args: args{
				issuer:       "https://login.example.com?tenant=1",
				clientID:     "client-id",
				clientSecret: "client-secret",
				redirectURL:  "https://app.example.com/callback",
			},
			wantErr:   true,
			wantIsErr: []error{ErrInvalidParameter},
		},
		{
			name: "none-alg",
			args: args{
				issuer:       "https://login.example.com",
				clientID:     "client-id",
				clientSecret: "client-secret",
				redirectURL:  "https://app.example.com/callback",
				opt:          []Option{WithSupportedSigningAlgs("none")},
			},
			wantErr:   true,
			wantIsErr: []error{ErrUnsupportedAlg},
		},
		{
			name: "negative-timeout",
			args: args{
				issuer:       "https://login.example.com",
				clientID:     "client-id",
				clientSecret: "client-secret",
				redirectURL:  "https://app.example.com/callback",
				opt:          []Option{WithHTTPTimeout(-time.Second)},
			},
			wantErr:   true,
			wantIsErr: []error{ErrInvalidParameter},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			got, err := NewConfig(tt.args.issuer, tt.args.clientID, tt.args.clientSecret, tt.args.redirectURL, tt.args.opt...)
			if tt.wantErr {
				require.Error(err)
				for _, want := range tt.wantIsErr {
					assert.ErrorIsf(err, want, "wanted %q and got %q", want, err)
				}
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	var c *Config
	assert.ErrorIs(c.Validate(), ErrNilParameter)
}

func TestConfig_RequestedScopes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		scopes []string
		want   []string
	}{
		{name: "defaults", want: []string{"openid", "profile", "email", "offline_access"}},
		{name: "openid-prepended", scopes: []string{"email"}, want: []string{"openid", "email"}},
		{name: "openid-moved-first", scopes: []string{"email", "openid", "email"}, want: []string{"openid", "email"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &Config{Scopes: tt.scopes}
			assert.Equal(t, tt.want, c.RequestedScopes())
		})
	}
	assert.Equal(t, []string{"openid", "profile", "email", "offline_access"}, DefaultScopes)
}

func TestConfig_HTTPClient(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)

	c := testNewConfig(t, tp)
	client, err := c.HTTPClient()
	require.NoError(err)
	assert.Equal(DefaultHTTPTimeout, client.Timeout)
	resp, err := client.Get(tp.Addr() + "/.well-known/openid-configuration")
	require.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	c.ProviderCA = "bad"
	_, err = c.HTTPClient()
	assert.ErrorIs(err, ErrInvalidCACert)
}

func TestHTTPClientContext(t *testing.T) {
	t.Parallel()
	c := &http.Client{}
	ctx := HTTPClientContext(context.Background(), c)
	assert.Equal(t, c, ctx.Value(oauth2.HTTPClient))
}

func TestClientSecret_Redacted(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	const secret ClientSecret = "super-secret"
	assert.Equal(RedactedClientSecret, secret.String())
	assert.Equal(RedactedClientSecret, fmt.Sprintf("%s", secret))
	b, err := json.Marshal(&Config{ClientSecret: secret})
	require.NoError(err)
	assert.NotContains(string(b), "super-secret")
	assert.Contains(string(b), RedactedClientSecret)
}
