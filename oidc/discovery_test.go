// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/oidc-rp/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGatedTransport holds every request until release is closed, after
// signalling entered.
type testGatedTransport struct {
	base    http.RoundTripper
	entered chan struct{}
	release chan struct{}
}

func (g *testGatedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	base := g.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func TestNewDiscovery(t *testing.T) {
	t.Parallel()
	tp := StartTestProvider(t)
	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{name: "valid", config: testNewConfig(t, tp)},
		{name: "nil-config", wantErr: ErrNilParameter},
		{name: "invalid-config", config: &Config{Issuer: tp.Addr()}, wantErr: ErrInvalidParameter},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			d, err := NewDiscovery(tt.config)
			if tt.wantErr != nil {
				require.Error(err)
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			assert.NotNil(d.HTTPClient())
			assert.Equal(0, tp.DiscoveryRequests(), "discovery must be lazy")
		})
	}
}

func TestDiscovery_GetMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("fetched-and-cached", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		d, err := NewDiscovery(testNewConfig(t, tp))
		require.NoError(err)

		md, err := d.GetMetadata(ctx)
		require.NoError(err)
		assert.Equal(&ProviderMetadata{
			Issuer:                tp.Addr(),
			AuthorizationEndpoint: tp.Addr() + "/authorize",
			TokenEndpoint:         tp.Addr() + "/token",
			UserInfoEndpoint:      tp.Addr() + "/userinfo",
			JWKSURI:               tp.Addr() + "/certs",
			RevocationEndpoint:    tp.Addr() + "/revoke",
			ScopesSupported:       []string{"openid", "profile", "email", "offline_access"},
			IDTokenSigningAlgs:    []string{"ES256"},
			CodeChallengeMethods:  []string{"S256"},
		}, md)

		_, err = d.GetMetadata(ctx)
		require.NoError(err)
		assert.Equal(1, tp.DiscoveryRequests())
	})
	t.Run("ttl-expiry", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		clock := newTestClock()
		d, err := NewDiscovery(testNewConfig(t, tp, WithDiscoveryTTL(time.Hour)), WithNow(clock.Now))
		require.NoError(err)

		_, err = d.GetMetadata(ctx)
		require.NoError(err)
		clock.Advance(59 * time.Minute)
		_, err = d.GetMetadata(ctx)
		require.NoError(err)
		assert.Equal(1, tp.DiscoveryRequests())

		clock.Advance(2 * time.Minute)
		_, err = d.GetMetadata(ctx)
		require.NoError(err)
		assert.Equal(2, tp.DiscoveryRequests())
	})
	t.Run("stale-served-when-refresh-fails", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		clock := newTestClock()
		d, err := NewDiscovery(testNewConfig(t, tp), WithNow(clock.Now))
		require.NoError(err)
		want, err := d.GetMetadata(ctx)
		require.NoError(err)

		tp.SetDiscoveryStatus(http.StatusServiceUnavailable)
		clock.Advance(2 * DefaultDiscoveryTTL)
		got, err := d.GetMetadata(ctx)
		require.NoError(err)
		assert.Equal(want, got)
		assert.Equal(2, tp.DiscoveryRequests())
	})
	t.Run("stale-served-during-refresh", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		clock := newTestClock()
		d, err := NewDiscovery(testNewConfig(t, tp), WithNow(clock.Now))
		require.NoError(err)
		want, err := d.GetMetadata(ctx)
		require.NoError(err)

		gate := &testGatedTransport{base: d.client.Transport, entered: make(chan struct{}, 1), release: make(chan struct{})}
		var once sync.Once
		release := func() { once.Do(func() { close(gate.release) }) }
		t.Cleanup(release)
		d.client = &http.Client{Transport: gate}
		clock.Advance(2 * DefaultDiscoveryTTL)

		refreshed := make(chan error, 1)
		go func() {
			_, err := d.GetMetadata(ctx)
			refreshed <- err
		}()
		select {
		case <-gate.entered:
		case <-time.After(5 * time.Second):
			require.FailNow("refresh never started")
		}

		stale := make(chan *ProviderMetadata, 1)
		go func() {
			md, _ := d.GetMetadata(ctx)
			stale <- md
		}()
		select {
		case got := <-stale:
			assert.Equal(want, got)
		case <-time.After(time.Second):
			require.FailNow("reader waited for the refresh")
		}
		release()
		require.NoError(<-refreshed)
		assert.Equal(2, tp.DiscoveryRequests())
	})
	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		tp.SetDiscoveryStatus(http.StatusNotFound)
		d, err := NewDiscovery(testNewConfig(t, tp))
		require.NoError(err)
		_, err = d.GetMetadata(ctx)
		require.Error(err)
		assert.ErrorIs(err, ErrDiscovery)
		assert.True(IsTransportError(err))
	})
	t.Run("issuer-mismatch", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		c := testNewConfig(t, tp)
		c.Issuer = tp.Addr() + "/"
		d, err := NewDiscovery(c)
		require.NoError(err)
		_, err = d.GetMetadata(ctx)
		require.Error(err)
		assert.ErrorIs(err, ErrDiscovery)
	})
	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("It's not a discovery document!"))
		}))
		t.Cleanup(srv.Close)
		c, err := NewConfig(srv.URL, "client", "secret", "https://app.example.com/callback")
		require.NoError(err)
		d, err := NewDiscovery(c)
		require.NoError(err)
		d.client = srv.Client()
		_, err = d.GetMetadata(ctx)
		require.Error(err)
		assert.ErrorIs(err, ErrDiscovery)
	})
	t.Run("wait-bounded-by-context", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		release := make(chan struct{})
		srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			<-release
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)
		t.Cleanup(func() { close(release) })
		c, err := NewConfig(srv.URL, "client", "secret", "https://app.example.com/callback")
		require.NoError(err)
		d, err := NewDiscovery(c)
		require.NoError(err)
		d.client = srv.Client()

		tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err = d.GetMetadata(tctx)
		require.Error(err)
		assert.ErrorIs(err, ErrTimeout)
		assert.True(IsTransportError(err))
	})
}

func TestDiscovery_GetSigningKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("known-kid", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		d, err := NewDiscovery(testNewConfig(t, tp))
		require.NoError(err)
		k, err := d.GetSigningKey(ctx, TestProviderKeyID)
		require.NoError(err)
		assert.Equal(TestProviderKeyID, k.KeyID)
		assert.True(k.IsPublic())
		_, err = d.GetSigningKey(ctx, TestProviderKeyID)
		require.NoError(err)
		assert.Equal(1, tp.JWKSRequests())
	})
	t.Run("rotation-refetches-once", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		d, err := NewDiscovery(testNewConfig(t, tp))
		require.NoError(err)
		_, err = d.GetSigningKey(ctx, TestProviderKeyID)
		require.NoError(err)

		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(err)
		tp.SetSigningKeys(priv, priv.Public(), ES256, "rotated")
		k, err := d.GetSigningKey(ctx, "rotated")
		require.NoError(err)
		assert.Equal("rotated", k.KeyID)
		assert.Equal(2, tp.JWKSRequests())
	})
	t.Run("unknown-kid-after-refresh", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		d, err := NewDiscovery(testNewConfig(t, tp))
		require.NoError(err)
		_, err = d.GetSigningKey(ctx, "never-published")
		require.Error(err)
		assert.ErrorIs(err, ErrUnknownKey)
		assert.True(IsCryptoError(err))
		assert.Equal(2, tp.JWKSRequests())
	})
	t.Run("min-key-refresh-interval", func(t *testing.T) {
		t.Parallel()
		assert, require := assert.New(t), require.New(t)
		tp := StartTestProvider(t)
		d, err := NewDiscovery(testNewConfig(t, tp), WithMinKeyRefreshInterval(time.Hour))
		require.NoError(err)
		_, err = d.GetSigningKey(ctx, TestProviderKeyID)
		require.NoError(err)
		_, err = d.GetSigningKey(ctx, "never-published")
		assert.ErrorIs(err, ErrUnknownKey)
		assert.Equal(1, tp.JWKSRequests())
	})
}

func TestDiscovery_ConcurrentColdCache(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	tp := StartTestProvider(t)
	d, err := NewDiscovery(testNewConfig(t, tp))
	require.NoError(t, err)

	const callers = 32
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := d.GetSigningKey(context.Background(), TestProviderKeyID)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(err)
	}
	assert.LessOrEqual(tp.DiscoveryRequests(), 2)
	assert.LessOrEqual(tp.JWKSRequests(), 2)
}

func TestDiscovery_Refresh(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	d, err := NewDiscovery(testNewConfig(t, tp))
	require.NoError(err)
	require.NoError(d.Refresh(context.Background()))
	require.NoError(d.Refresh(context.Background()))
	assert.Equal(2, tp.DiscoveryRequests())
	assert.Equal(2, tp.JWKSRequests())

	p, err := d.Provider(context.Background())
	require.NoError(err)
	assert.Equal(tp.Addr()+"/token", p.Endpoint().TokenURL)
}

func TestDiscovery_PinnedKeys(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)
	priv, _, kid := tp.SigningKeys()
	der, err := x509.MarshalPKIXPublicKey(priv.(crypto.Signer).Public())
	require.NoError(err)
	ks, err := jwt.NewStaticKeySet(map[string]string{
		kid: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
	})
	require.NoError(err)

	d, err := NewDiscovery(testNewConfig(t, tp), WithPinnedKeys(ks))
	require.NoError(err)
	k, err := d.GetSigningKey(ctx, kid)
	require.NoError(err)
	assert.Equal(kid, k.KeyID)
	_, err = d.GetSigningKey(ctx, "not-pinned")
	assert.ErrorIs(err, ErrUnknownKey)
	require.NoError(d.Refresh(ctx))

	a, err := NewAuthenticator(testNewConfig(t, tp), NewMemoryStore(), WithDiscovery(d))
	require.NoError(err)
	p := testAuthenticate(t, a, tp, "s1")
	assert.Equal(TestProviderSubject, p.Subject)
	assert.Equal(0, tp.JWKSRequests())
}

func TestProviderMetadata_unsupported(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		md     ProviderMetadata
		scopes []string
		algs   []Alg
		want   int
	}{
		{
			name:   "nothing-published",
			scopes: []string{"openid", "offline_access"},
			algs:   []Alg{RS256},
		},
		{
			name: "all-supported",
			md: ProviderMetadata{
				ScopesSupported:      []string{"openid", "email", "offline_access"},
				IDTokenSigningAlgs:   []string{"RS256", "ES256"},
				CodeChallengeMethods: []string{"plain", "S256"},
			},
			scopes: []string{"openid", "offline_access"},
			algs:   []Alg{ES256},
		},
		{
			name:   "no-s256",
			md:     ProviderMetadata{CodeChallengeMethods: []string{"plain"}},
			scopes: []string{"openid"},
			algs:   []Alg{RS256},
			want:   1,
		},
		{
			name:   "no-shared-alg",
			md:     ProviderMetadata{IDTokenSigningAlgs: []string{"RS256"}},
			scopes: []string{"openid"},
			algs:   []Alg{ES256, EdDSA},
			want:   1,
		},
		{
			name:   "missing-scopes",
			md:     ProviderMetadata{ScopesSupported: []string{"openid"}},
			scopes: []string{"openid", "email", "offline_access"},
			algs:   []Alg{RS256},
			want:   2,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Len(t, tt.md.unsupported(tt.scopes, tt.algs), tt.want)
		})
	}
}
