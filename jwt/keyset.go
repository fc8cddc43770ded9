// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package jwt

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrKeyNotFound      = errors.New("signing key not found")
	ErrFetchFailed      = errors.New("unable to fetch JSON Web Key Set")
	ErrInvalidKeySet    = errors.New("invalid JSON Web Key Set")
)

// DefaultKeySetTTL is how long a fetched JSON Web Key Set is used before it's
// fetched again.
const DefaultKeySetTTL = time.Hour

// KeySet represents a set of keys that can be used to verify the signatures
// of JWTs. A KeySet is expected to be backed by a set of local or remote keys.
type KeySet interface {
	// Key returns the public key identified by kid.
	Key(ctx context.Context, kid string) (*jose.JSONWebKey, error)
}

// keySnapshot is an immutable set of keys. It's never modified after it's
// published, only replaced.
type keySnapshot struct {
	keys      map[string]jose.JSONWebKey
	fetchedAt time.Time
}

// RemoteKeySet is a KeySet backed by a JSON Web Key Set (JWKS) URL. Keys are
// fetched lazily, cached for a TTL and refetched when an unknown kid is
// requested. Concurrent callers needing a fetch share a single request, and
// readers always see a complete snapshot of the keys.
type RemoteKeySet struct {
	jwksURL string
	client  *http.Client
	opts    keySetOptions

	snapshot   atomic.Pointer[keySnapshot]
	refreshing atomic.Bool
	group      singleflight.Group
}

// NewRemoteKeySet returns a RemoteKeySet for the JWKS at jwksURL. Requests
// are made with the provided client, or http.DefaultClient when it's nil.
//
// Supported options: WithTTL, WithMinRefreshInterval, WithLogger, WithNow
func NewRemoteKeySet(jwksURL string, client *http.Client, opt ...Option) (*RemoteKeySet, error) {
	const op = "jwt.NewRemoteKeySet"
	if jwksURL == "" {
		return nil, fmt.Errorf("%s: jwks URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getKeySetOpts(opt...)
	if opts.withTTL <= 0 {
		return nil, fmt.Errorf("%s: ttl must be greater than zero: %w", op, ErrInvalidParameter)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteKeySet{
		jwksURL: jwksURL,
		client:  client,
		opts:    opts,
	}, nil
}

// URL returns the JWKS URL the key set is fetched from.
func (ks *RemoteKeySet) URL() string {
	return ks.jwksURL
}

// Key returns the key identified by kid. If the cached keys are expired
// they're refetched first; if that fails, or another caller is already
// refetching them, the last known keys are used. An
// unknown kid forces one refetch before ErrKeyNotFound is returned. An empty
// kid matches only when the set contains exactly one key.
func (ks *RemoteKeySet) Key(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	const op = "RemoteKeySet.Key"
	snap := ks.snapshot.Load()
	switch {
	case snap != nil && !ks.expired(snap):
	case snap != nil && ks.refreshing.Load():
		ks.opts.withLogger.Trace("using stale key set during refresh", "jwks_url", ks.jwksURL)
	default:
		fresh, err := ks.refresh(ctx)
		switch {
		case err == nil:
			snap = fresh
		case snap == nil:
			return nil, fmt.Errorf("%s: %w", op, err)
		default:
			ks.opts.withLogger.Warn("using stale key set after refresh failed", "jwks_url", ks.jwksURL, "error", err)
		}
	}
	if k, ok := snap.lookup(kid); ok {
		return k, nil
	}

	if ks.opts.withMinRefreshInterval > 0 && ks.now().Sub(snap.fetchedAt) < ks.opts.withMinRefreshInterval {
		return nil, fmt.Errorf("%s: kid %q: %w", op, kid, ErrKeyNotFound)
	}
	ks.opts.withLogger.Debug("unknown kid, refreshing key set", "kid", kid)
	fresh, err := ks.refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if k, ok := fresh.lookup(kid); ok {
		return k, nil
	}
	return nil, fmt.Errorf("%s: kid %q: %w", op, kid, ErrKeyNotFound)
}

// Refresh fetches the JWKS and replaces the cached keys.
func (ks *RemoteKeySet) Refresh(ctx context.Context) error {
	const op = "RemoteKeySet.Refresh"
	if _, err := ks.refresh(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// refresh shares one in-flight fetch between all callers. The fetch itself
// isn't cancelled when a waiting caller's ctx is done; the caller just stops
// waiting for it.
func (ks *RemoteKeySet) refresh(ctx context.Context) (*keySnapshot, error) {
	ch := ks.group.DoChan(ks.jwksURL, func() (interface{}, error) {
		ks.refreshing.Store(true)
		defer ks.refreshing.Store(false)
		snap, err := ks.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		ks.snapshot.Store(snap)
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*keySnapshot), nil
	}
}

func (ks *RemoteKeySet) fetch(ctx context.Context) (*keySnapshot, error) {
	const op = "RemoteKeySet.fetch"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ks.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := ks.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read response: %w: %w", op, ErrFetchFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s: %w", op, resp.Status, ErrFetchFailed)
	}
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidKeySet, err)
	}
	snap := &keySnapshot{
		keys:      make(map[string]jose.JSONWebKey, len(set.Keys)),
		fetchedAt: ks.now(),
	}
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		snap.keys[k.KeyID] = k
	}
	ks.opts.withLogger.Debug("fetched key set", "jwks_url", ks.jwksURL, "keys", len(snap.keys))
	return snap, nil
}

func (ks *RemoteKeySet) expired(snap *keySnapshot) bool {
	return !ks.now().Before(snap.fetchedAt.Add(ks.opts.withTTL))
}

func (ks *RemoteKeySet) now() time.Time {
	if ks.opts.withNowFunc != nil {
		return ks.opts.withNowFunc()
	}
	return time.Now()
}

func (s *keySnapshot) lookup(kid string) (*jose.JSONWebKey, bool) {
	if kid == "" {
		if len(s.keys) != 1 {
			return nil, false
		}
		for _, k := range s.keys {
			return &k, true
		}
	}
	k, ok := s.keys[kid]
	if !ok {
		return nil, false
	}
	return &k, true
}

// StaticKeySet is a KeySet of local PEM-encoded public keys, indexed by kid.
type StaticKeySet struct {
	keys map[string]jose.JSONWebKey
}

// NewStaticKeySet returns a KeySet of the given PEM-encoded public keys,
// indexed by kid. The keys must be of PEM-encoded x509 certificate or PKIX
// public key forms.
func NewStaticKeySet(publicKeys map[string]string) (*StaticKeySet, error) {
	const op = "jwt.NewStaticKeySet"
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%s: no public keys: %w", op, ErrInvalidParameter)
	}
	ks := &StaticKeySet{keys: make(map[string]jose.JSONWebKey, len(publicKeys))}
	for kid, k := range publicKeys {
		key, err := ParsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("%s: kid %q: %w", op, kid, err)
		}
		ks.keys[kid] = jose.JSONWebKey{Key: key, KeyID: kid, Use: "sig"}
	}
	return ks, nil
}

// Key returns the key identified by kid.
func (ks *StaticKeySet) Key(_ context.Context, kid string) (*jose.JSONWebKey, error) {
	const op = "StaticKeySet.Key"
	snap := keySnapshot{keys: ks.keys}
	if k, ok := snap.lookup(kid); ok {
		return k, nil
	}
	return nil, fmt.Errorf("%s: kid %q: %w", op, kid, ErrKeyNotFound)
}

// ParsePublicKeyPEM is used to parse RSA, ECDSA and Ed25519 public keys from
// PEMs.
func ParsePublicKeyPEM(data []byte) (interface{}, error) {
	const op = "jwt.ParsePublicKeyPEM"
	block, _ := pem.Decode(data)
	if block != nil {
		var rawKey interface{}
		var err error
		if rawKey, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				rawKey = cert.PublicKey
			} else {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		switch k := rawKey.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
			return k, nil
		}
	}
	return nil, fmt.Errorf("%s: data does not contain any valid RSA, ECDSA or Ed25519 public keys: %w", op, ErrInvalidParameter)
}
