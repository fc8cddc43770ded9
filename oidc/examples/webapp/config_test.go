// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-rp/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWriteFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	envFile := testWriteFile(t, ".env", `
OIDC_ISSUER=https://login.example.com
OIDC_CLIENT_ID=from-file
OIDC_CLIENT_SECRET=secret
OIDC_SCOPES=openid,email
`)

	tests := []struct {
		name    string
		envFile string
		environ []string
		want    func(*testing.T, webappConfig)
		wantErr bool
	}{
		{
			name:    "file-with-defaults",
			envFile: envFile,
			want: func(t *testing.T, c webappConfig) {
				assert := assert.New(t)
				assert.Equal("https://login.example.com", c.Issuer)
				assert.Equal("from-file", c.ClientID)
				assert.Equal([]string{"openid", "email"}, c.Scopes)
				assert.Equal([]string{"RS256"}, c.SigningAlgs)
				assert.Equal("http://localhost:3000/callback", c.RedirectURL)
				assert.Equal("localhost:3000", c.ListenAddr)
				assert.Equal(24*time.Hour, c.SessionMaxAge)
				assert.Equal(30*time.Second, c.HTTPTimeout)
				assert.False(c.InsecureCookie)
			},
		},
		{
			name:    "environment-wins",
			envFile: envFile,
			environ: []string{"OIDC_CLIENT_ID=from-env", "INSECURE_COOKIES=true", "SESSION_MAX_AGE=1h"},
			want: func(t *testing.T, c webappConfig) {
				assert := assert.New(t)
				assert.Equal("from-env", c.ClientID)
				assert.True(c.InsecureCookie)
				assert.Equal(time.Hour, c.SessionMaxAge)
			},
		},
		{
			name:    "missing-env-file",
			envFile: filepath.Join(t.TempDir(), "missing.env"),
			environ: []string{"OIDC_ISSUER=https://login.example.com", "OIDC_CLIENT_ID=id", "OIDC_CLIENT_SECRET=secret"},
			want: func(t *testing.T, c webappConfig) {
				assert.Equal(t, "id", c.ClientID)
			},
		},
		{
			name:    "missing-required",
			environ: []string{"OIDC_CLIENT_ID=id", "OIDC_CLIENT_SECRET=secret"},
			wantErr: true,
		},
		{
			name:    "missing-client-credentials",
			environ: []string{"OIDC_ISSUER=https://login.example.com", "OIDC_CLIENT_ID=id"},
			wantErr: true,
		},
		{
			name:    "bad-duration",
			envFile: envFile,
			environ: []string{"SESSION_MAX_AGE=forever"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := loadConfig(tt.envFile, tt.environ)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.want(t, got)
		})
	}
}

func TestWebappConfig_oidcConfig(t *testing.T) {
	t.Parallel()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyFile := testWriteFile(t, "client.pem", string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})))
	caFile := testWriteFile(t, "ca.pem", oidc.TestGenerateCA(t, []string{"localhost"}))

	base := webappConfig{
		Issuer:        "https://login.example.com",
		ClientID:      "client-id",
		ClientSecret:  "secret",
		ClientKeyAlg:  "RS256",
		RedirectURL:   "http://localhost:3000/callback",
		SigningAlgs:   []string{"RS256", " ES256"},
		HTTPTimeout:   5 * time.Second,
		SessionMaxAge: time.Hour,
	}

	t.Run("client-secret", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		c := base
		c.Scopes = []string{"openid", "email"}
		c.Audiences = []string{"api://default"}
		c.ProviderCAFile = caFile
		oc, err := c.oidcConfig(hclog.NewNullLogger())
		require.NoError(err)
		assert.Equal([]oidc.Alg{oidc.RS256, oidc.ES256}, oc.SupportedSigningAlgs)
		assert.Equal([]string{"openid", "email"}, oc.Scopes)
		assert.Equal([]string{"api://default"}, oc.Audiences)
		assert.NotEmpty(oc.ProviderCA)
		assert.Nil(oc.ClientAssertion)
	})
	t.Run("private-key-jwt", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		c := base
		c.ClientSecret = ""
		c.ClientKeyFile = keyFile
		c.ClientKeyAlg = "ES256"
		c.ClientKeyID = "kid-1"
		oc, err := c.oidcConfig(hclog.NewNullLogger())
		require.NoError(err)
		require.NotNil(oc.ClientAssertion)
		assertion, err := oc.ClientAssertion.Assertion("https://login.example.com/token")
		require.NoError(err)
		assert.NotEmpty(assertion)
	})
	t.Run("key-alg-mismatch", func(t *testing.T) {
		t.Parallel()
		c := base
		c.ClientKeyFile = keyFile
		_, err := c.oidcConfig(hclog.NewNullLogger())
		require.Error(t, err)
	})
	t.Run("missing-ca-file", func(t *testing.T) {
		t.Parallel()
		c := base
		c.ProviderCAFile = filepath.Join(t.TempDir(), "missing.pem")
		_, err := c.oidcConfig(hclog.NewNullLogger())
		require.Error(t, err)
	})
}

func TestWebappConfig_authenticatorOptions(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := oidc.StartTestProvider(t)
	priv, _, kid := tp.SigningKeys()
	der, err := x509.MarshalPKIXPublicKey(priv.(*ecdsa.PrivateKey).Public())
	require.NoError(err)
	keyFile := testWriteFile(t, "provider.pem", string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))

	oc, err := oidc.NewConfig(tp.Addr(), oidc.TestProviderClientID, oidc.TestProviderClientSecret, oidc.TestProviderRedirectURL,
		oidc.WithProviderCA(tp.CACert()),
		oidc.WithSupportedSigningAlgs(oidc.ES256),
	)
	require.NoError(err)

	opts, err := webappConfig{}.authenticatorOptions(oc)
	require.NoError(err)
	assert.Empty(opts)

	opts, err = webappConfig{ProviderKeys: map[string]string{kid: keyFile}}.authenticatorOptions(oc)
	require.NoError(err)
	require.Len(opts, 1)
	a, err := oidc.NewAuthenticator(oc, oidc.NewMemoryStore(), opts...)
	require.NoError(err)
	authURL, err := a.Login(context.Background(), "s1")
	require.NoError(err)
	v := tp.Authorize(authURL)
	p, err := a.Callback(context.Background(), "s1", oidc.CallbackParams{Code: v.Get("code"), State: v.Get("state")})
	require.NoError(err)
	assert.Equal(oidc.TestProviderSubject, p.Subject)
	assert.Equal(0, tp.JWKSRequests())

	_, err = webappConfig{ProviderKeys: map[string]string{kid: filepath.Join(t.TempDir(), "missing.pem")}}.authenticatorOptions(oc)
	require.Error(err)
}
