// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-rp/jwt"
	"github.com/hashicorp/oidc-rp/oidc/internal/strutils"
	"golang.org/x/sync/singleflight"
)

// ProviderMetadata is the subset of the provider's discovery document used by
// the relying party. It's immutable once fetched.
// See: https://openid.net/specs/openid-connect-discovery-1_0.html#ProviderMetadata
type ProviderMetadata struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserInfoEndpoint      string   `json:"userinfo_endpoint"`
	JWKSURI               string   `json:"jwks_uri"`
	RevocationEndpoint    string   `json:"revocation_endpoint"`
	ScopesSupported       []string `json:"scopes_supported"`
	IDTokenSigningAlgs    []string `json:"id_token_signing_alg_values_supported"`
	CodeChallengeMethods  []string `json:"code_challenge_methods_supported"`
}

// unsupported lists what the metadata says the provider doesn't support of
// the scopes, id_token signing algorithms and PKCE method the relying party
// uses. Metadata the provider doesn't publish is assumed to be supported.
func (md *ProviderMetadata) unsupported(scopes []string, algs []Alg) []string {
	var problems []string
	if len(md.CodeChallengeMethods) > 0 && !strutils.StrListContains(md.CodeChallengeMethods, string(S256)) {
		problems = append(problems, fmt.Sprintf("code_challenge_methods_supported %v doesn't include %s", md.CodeChallengeMethods, S256))
	}
	if len(md.IDTokenSigningAlgs) > 0 {
		shared := false
		for _, a := range algs {
			if strutils.StrListContains(md.IDTokenSigningAlgs, string(a)) {
				shared = true
				break
			}
		}
		if !shared {
			problems = append(problems, fmt.Sprintf("id_token_signing_alg_values_supported %v doesn't include any of %v", md.IDTokenSigningAlgs, algs))
		}
	}
	if len(md.ScopesSupported) > 0 {
		for _, sc := range scopes {
			if !strutils.StrListContains(md.ScopesSupported, sc) {
				problems = append(problems, fmt.Sprintf("scopes_supported doesn't include %q", sc))
			}
		}
	}
	return problems
}

// KeySource provides the provider metadata and the keys needed to verify
// id_tokens.
type KeySource interface {
	// GetMetadata returns the provider's metadata.
	GetMetadata(ctx context.Context) (*ProviderMetadata, error)

	// GetSigningKey returns the provider's signing key identified by kid.
	GetSigningKey(ctx context.Context, kid string) (*jose.JSONWebKey, error)
}

// discoverySnapshot is never modified after it's published, only replaced.
type discoverySnapshot struct {
	metadata  *ProviderMetadata
	provider  *oidc.Provider
	keys      jwt.KeySet
	fetchedAt time.Time
}

// Discovery fetches and caches the provider's metadata and signing keys. It's
// safe for concurrent use: a single in-flight fetch is shared by all callers
// that need it, and readers always see a complete snapshot.
type Discovery struct {
	issuer string
	client *http.Client
	ttl    time.Duration
	scopes []string
	algs   []Alg
	logger hclog.Logger
	opts   discoveryOptions

	snapshot   atomic.Pointer[discoverySnapshot]
	refreshing atomic.Bool
	group      singleflight.Group
}

var _ KeySource = (*Discovery)(nil)

// NewDiscovery creates a Discovery for the Config's issuer. Nothing is
// fetched until it's first needed.
//
// Supported options: WithNow, WithMinKeyRefreshInterval, WithPinnedKeys
func NewDiscovery(c *Config, opt ...Option) (*Discovery, error) {
	const op = "oidc.NewDiscovery"
	if c == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Discovery{
		issuer: c.Issuer,
		client: client,
		ttl:    c.discoveryTTL(),
		scopes: c.RequestedScopes(),
		algs:   c.SigningAlgs(),
		logger: c.logger().Named("discovery"),
		opts:   getDiscoveryOpts(opt...),
	}, nil
}

// GetMetadata returns the provider's metadata, fetching it when it's not
// cached or expired. If a fetch of expired metadata fails, the last known
// metadata is returned.
func (d *Discovery) GetMetadata(ctx context.Context) (*ProviderMetadata, error) {
	const op = "Discovery.GetMetadata"
	snap, err := d.current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return snap.metadata, nil
}

// GetSigningKey returns the signing key identified by kid. An unknown kid
// forces one refetch of the provider's keys before ErrUnknownKey is returned.
func (d *Discovery) GetSigningKey(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
	const op = "Discovery.GetSigningKey"
	snap, err := d.current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	k, err := snap.keys.Key(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, keyError(err))
	}
	return k, nil
}

// Provider returns the go-oidc provider built from the discovery document.
func (d *Discovery) Provider(ctx context.Context) (*oidc.Provider, error) {
	const op = "Discovery.Provider"
	snap, err := d.current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return snap.provider, nil
}

// HTTPClient returns the client used for requests to the provider.
func (d *Discovery) HTTPClient() *http.Client {
	return d.client
}

// Refresh refetches the provider's metadata and keys, regardless of whether
// they're expired.
func (d *Discovery) Refresh(ctx context.Context) error {
	const op = "Discovery.Refresh"
	snap, err := d.refresh(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if remote, ok := snap.keys.(*jwt.RemoteKeySet); ok {
		if err := remote.Refresh(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, keyError(err))
		}
	}
	return nil
}

// current returns the cached snapshot, fetching a new one when there's none
// or it's expired. An expired snapshot is returned without waiting while
// another caller is fetching its replacement.
func (d *Discovery) current(ctx context.Context) (*discoverySnapshot, error) {
	snap := d.snapshot.Load()
	switch {
	case snap == nil:
	case d.now().Before(snap.fetchedAt.Add(d.ttl)):
		return snap, nil
	case d.refreshing.Load():
		d.logger.Trace("using stale provider metadata during refresh", "issuer", d.issuer)
		return snap, nil
	}
	fresh, err := d.refresh(ctx)
	switch {
	case err == nil:
		return fresh, nil
	case snap == nil:
		return nil, err
	default:
		d.logger.Warn("using stale provider metadata after refresh failed", "issuer", d.issuer, "error", err)
		return snap, nil
	}
}

// refresh shares one in-flight fetch between all callers. A caller whose ctx
// is done stops waiting without cancelling the fetch for the others.
func (d *Discovery) refresh(ctx context.Context) (*discoverySnapshot, error) {
	const op = "Discovery.refresh"
	ch := d.group.DoChan(d.issuer, func() (interface{}, error) {
		d.refreshing.Store(true)
		defer d.refreshing.Store(false)
		snap, err := d.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		d.snapshot.Store(snap)
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %w", op, ErrTimeout, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*discoverySnapshot), nil
	}
}

func (d *Discovery) fetch(ctx context.Context) (*discoverySnapshot, error) {
	const op = "Discovery.fetch"
	d.logger.Debug("fetching provider metadata", "issuer", d.issuer)
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, d.client), d.issuer)
	if err != nil {
		return nil, wrapTransport(op, ErrDiscovery, err)
	}
	var md ProviderMetadata
	if err := provider.Claims(&md); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrDiscovery, err)
	}
	switch {
	case md.AuthorizationEndpoint == "":
		return nil, fmt.Errorf("%s: authorization_endpoint is missing: %w", op, ErrDiscovery)
	case md.TokenEndpoint == "":
		return nil, fmt.Errorf("%s: token_endpoint is missing: %w", op, ErrDiscovery)
	case md.JWKSURI == "" && d.opts.withPinnedKeys == nil:
		return nil, fmt.Errorf("%s: jwks_uri is missing: %w", op, ErrDiscovery)
	}

	for _, problem := range md.unsupported(d.scopes, d.algs) {
		d.logger.Warn("provider may not support the configuration", "issuer", d.issuer, "problem", problem)
	}

	var keys jwt.KeySet
	if d.opts.withPinnedKeys != nil {
		keys = d.opts.withPinnedKeys
	} else if remote, ok := d.remoteKeys(md.JWKSURI); ok {
		keys = remote
	} else {
		keys, err = jwt.NewRemoteKeySet(md.JWKSURI, d.client,
			jwt.WithTTL(d.ttl),
			jwt.WithMinRefreshInterval(d.opts.withMinKeyRefreshInterval),
			jwt.WithLogger(d.logger.Named("jwks")),
			jwt.WithNow(d.opts.withNowFunc),
		)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrDiscovery, err)
		}
	}
	return &discoverySnapshot{
		metadata:  &md,
		provider:  provider,
		keys:      keys,
		fetchedAt: d.now(),
	}, nil
}

// remoteKeys returns the previous snapshot's keys when they're fetched from
// jwksURI.
func (d *Discovery) remoteKeys(jwksURI string) (*jwt.RemoteKeySet, bool) {
	prev := d.snapshot.Load()
	if prev == nil {
		return nil, false
	}
	remote, ok := prev.keys.(*jwt.RemoteKeySet)
	if !ok || remote.URL() != jwksURI {
		return nil, false
	}
	return remote, true
}

func (d *Discovery) now() time.Time {
	if d.opts.withNowFunc != nil {
		return d.opts.withNowFunc()
	}
	return time.Now()
}

// keyError maps jwt key set errors onto this package's errors.
func keyError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrKeyNotFound):
		return fmt.Errorf("%w: %w", ErrUnknownKey, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrDiscovery, err)
	}
}

// discoveryOptions is the set of available options for Discovery functions
type discoveryOptions struct {
	withNowFunc               func() time.Time
	withMinKeyRefreshInterval time.Duration
	withPinnedKeys            jwt.KeySet
}

func discoveryDefaults() discoveryOptions {
	return discoveryOptions{}
}

func getDiscoveryOpts(opt ...Option) discoveryOptions {
	opts := discoveryDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithMinKeyRefreshInterval limits how often an id_token with an unknown kid
// can force a refetch of the provider's keys. By default every unknown kid
// refetches.
func WithMinKeyRefreshInterval(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*discoveryOptions); ok {
			v.withMinKeyRefreshInterval = d
		}
	}
}

// WithPinnedKeys provides the keys used to verify id_tokens instead of the
// provider's jwks_uri, which then isn't required. See jwt.NewStaticKeySet.
func WithPinnedKeys(ks jwt.KeySet) Option {
	return func(o interface{}) {
		if v, ok := o.(*discoveryOptions); ok {
			v.withPinnedKeys = ks
		}
	}
}
