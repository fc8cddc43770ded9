// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/oidc-rp/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOpen(t *testing.T, dsn string, opt ...oidc.Option) *Store {
	t.Helper()
	s, err := Open(context.Background(), dsn, opt...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSession() *oidc.Session {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &oidc.Session{
		Principal: &oidc.Principal{
			Subject:       "alice",
			Issuer:        "https://idp.example.com",
			Audience:      []string{"client"},
			Email:         "alice@example.com",
			EmailVerified: true,
			Name:          "Alice Doe",
			IssuedAt:      now,
			Expiry:        now.Add(time.Hour),
		},
		Tokens: &oidc.TokenSet{
			AccessToken:  "access",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
			Expiry:       now.Add(time.Hour),
			RefreshToken: "refresh",
			IDToken:      "header.claims.signature",
			Scope:        "openid email",
		},
		UpdatedAt: now,
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name    string
		dsn     string
		opt     []oidc.Option
		wantErr error
	}{
		{name: "memory", dsn: ":memory:"},
		{name: "file", dsn: filepath.Join(t.TempDir(), "sessions.db")},
		{name: "table-name", dsn: ":memory:", opt: []oidc.Option{WithTableName("rp_sessions")}},
		{name: "empty-dsn", wantErr: oidc.ErrInvalidParameter},
		{name: "bad-table-name", dsn: ":memory:", opt: []oidc.Option{WithTableName("sessions; DROP TABLE x")}, wantErr: oidc.ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			s, err := Open(ctx, tt.dsn, tt.opt...)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			defer s.Close()
			n, err := s.Len(ctx)
			require.NoError(err)
			assert.Equal(0, n)
		})
	}
}

func TestStore_GetPutDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("round-trip", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s := testOpen(t, ":memory:")
		want := testSession()
		require.NoError(s.Put(ctx, "s1", want))

		got, err := s.Get(ctx, "s1")
		require.NoError(err)
		assert.Equal(want, got)
		assert.Equal(oidc.StatusAuthenticated, got.Status())
		assert.Equal(oidc.AccessToken("access"), got.Tokens.AccessToken)
		assert.Equal(oidc.RefreshToken("refresh"), got.Tokens.RefreshToken)
	})
	t.Run("pending-flow", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s := testOpen(t, ":memory:")
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		fs, err := oidc.NewFlowState(oidc.WithNow(func() time.Time { return now }))
		require.NoError(err)
		require.NoError(s.Put(ctx, "s1", &oidc.Session{FlowState: fs, UpdatedAt: now}))

		got, err := s.Get(ctx, "s1")
		require.NoError(err)
		assert.Equal(oidc.StatusPendingCallback, got.Status())
		assert.Equal(fs, got.FlowState)
		assert.Equal(fs.CodeChallenge(), got.FlowState.CodeChallenge())
	})
	t.Run("replace", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s := testOpen(t, ":memory:")
		require.NoError(s.Put(ctx, "s1", testSession()))
		require.NoError(s.Put(ctx, "s1", &oidc.Session{LoggedOut: true}))

		got, err := s.Get(ctx, "s1")
		require.NoError(err)
		assert.Equal(oidc.StatusLoggedOut, got.Status())
		assert.Nil(got.Tokens)
		assert.Nil(got.Principal)
		n, err := s.Len(ctx)
		require.NoError(err)
		assert.Equal(1, n)
	})
	t.Run("not-found", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s := testOpen(t, ":memory:")
		_, err := s.Get(ctx, "missing")
		require.Error(err)
		assert.ErrorIs(err, oidc.ErrNotFound)
	})
	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		s := testOpen(t, ":memory:")
		require.NoError(s.Put(ctx, "s1", testSession()))
		require.NoError(s.Delete(ctx, "s1"))
		require.NoError(s.Delete(ctx, "s1"))
		_, err := s.Get(ctx, "s1")
		assert.ErrorIs(err, oidc.ErrNotFound)
	})
	t.Run("invalid-put", func(t *testing.T) {
		t.Parallel()
		assert := assert.New(t)
		s := testOpen(t, ":memory:")
		assert.ErrorIs(s.Put(ctx, "", testSession()), oidc.ErrInvalidParameter)
		assert.ErrorIs(s.Put(ctx, "s1", nil), oidc.ErrNilParameter)
	})
}

func TestStore_DeleteIdle(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := testOpen(t, ":memory:", WithNow(func() time.Time { return now }))

	require.NoError(s.Put(ctx, "old", &oidc.Session{UpdatedAt: now.Add(-48 * time.Hour)}))
	require.NoError(s.Put(ctx, "recent", &oidc.Session{UpdatedAt: now.Add(-time.Hour)}))
	require.NoError(s.Put(ctx, "unstamped", &oidc.Session{}))

	n, err := s.DeleteIdle(ctx, 24*time.Hour)
	require.NoError(err)
	assert.Equal(int64(1), n)

	_, err = s.Get(ctx, "old")
	assert.ErrorIs(err, oidc.ErrNotFound)
	_, err = s.Get(ctx, "recent")
	assert.NoError(err)
	_, err = s.Get(ctx, "unstamped")
	assert.NoError(err)

	_, err = s.DeleteIdle(ctx, 0)
	assert.ErrorIs(err, oidc.ErrInvalidParameter)
}

func TestStore_Authenticator(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	dsn := filepath.Join(t.TempDir(), "sessions.db")

	newAuthenticator := func(s *Store) *oidc.Authenticator {
		c, err := oidc.NewConfig(tp.Addr(), oidc.TestProviderClientID, oidc.TestProviderClientSecret, oidc.TestProviderRedirectURL,
			oidc.WithProviderCA(tp.CACert()),
			oidc.WithSupportedSigningAlgs(oidc.ES256),
		)
		require.NoError(err)
		a, err := oidc.NewAuthenticator(c, s)
		require.NoError(err)
		return a
	}

	first, err := Open(ctx, dsn)
	require.NoError(err)
	authURL, err := newAuthenticator(first).Login(ctx, "s1")
	require.NoError(err)
	require.NoError(first.Close())

	// the pending flow survives a restart
	second := testOpen(t, dsn)
	a := newAuthenticator(second)
	status, err := a.Status(ctx, "s1")
	require.NoError(err)
	assert.Equal(oidc.StatusPendingCallback, status)

	v := tp.Authorize(authURL)
	p, err := a.Callback(ctx, "s1", oidc.CallbackParams{Code: v.Get("code"), State: v.Get("state")})
	require.NoError(err)
	assert.Equal(oidc.TestProviderSubject, p.Subject)

	at, err := a.GetAccessToken(ctx, "s1")
	require.NoError(err)
	assert.NotEmpty(at)

	_, err = a.Refresh(ctx, "s1")
	require.NoError(err)
	require.NoError(a.Logout(ctx, "s1"))
	status, err = a.Status(ctx, "s1")
	require.NoError(err)
	assert.Equal(oidc.StatusLoggedOut, status)
}

func TestStore_LogoutSlowRevocation(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := oidc.StartTestProvider(t)
	c, err := oidc.NewConfig(tp.Addr(), oidc.TestProviderClientID, oidc.TestProviderClientSecret, oidc.TestProviderRedirectURL,
		oidc.WithProviderCA(tp.CACert()),
		oidc.WithSupportedSigningAlgs(oidc.ES256),
	)
	require.NoError(err)
	a, err := oidc.NewAuthenticator(c, testOpen(t, ":memory:"))
	require.NoError(err)

	authURL, err := a.Login(ctx, "s1")
	require.NoError(err)
	v := tp.Authorize(authURL)
	_, err = a.Callback(ctx, "s1", oidc.CallbackParams{Code: v.Get("code"), State: v.Get("state")})
	require.NoError(err)

	tp.SetTokenDelay(2 * time.Second)
	logoutCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	require.NoError(a.Logout(logoutCtx, "s1"))

	status, err := a.Status(ctx, "s1")
	require.NoError(err)
	assert.Equal(oidc.StatusLoggedOut, status)
	at, err := a.GetAccessToken(ctx, "s1")
	require.NoError(err)
	assert.Empty(at)
}
