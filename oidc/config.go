// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/oidc-rp/oidc/internal/strutils"
	sdkHttp "github.com/hashicorp/oidc-rp/sdk/http"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

const (
	// DefaultDiscoveryTTL is how long provider metadata and signing keys are
	// cached before they're fetched again.
	DefaultDiscoveryTTL = time.Hour

	// DefaultHTTPTimeout is the client timeout for every request made to the
	// provider.
	DefaultHTTPTimeout = 30 * time.Second
)

// DefaultScopes are requested when a Config doesn't provide any scopes.
var DefaultScopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}

// Config represents the configuration for an OIDC authorization code + PKCE
// relying party.
type Config struct {
	// ClientID is the relying party id.
	ClientID string

	// ClientSecret is the relying party secret.
	ClientSecret ClientSecret

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components. The discovered issuer must equal
	// it exactly.
	Issuer string

	// RedirectURL is the URL the provider redirects to with the authorization
	// code.
	RedirectURL string

	// Scopes is the list of scopes to request. The required "openid" scope is
	// always requested first, whether or not it's in this list.
	Scopes []string

	// Audiences is an optional list of additional case-sensitive strings that
	// are accepted in an id_token's "aud" claim. The ClientID is always
	// accepted.
	Audiences []string

	// SupportedSigningAlgs is a list of supported signing algorithms. List of
	// currently supported algs: RS256, RS384, RS512, ES256, ES384, ES512,
	// PS256, PS384, PS512, EdDSA
	SupportedSigningAlgs []Alg

	// ProviderCA is an optional CA cert to use when sending requests to the
	// provider.
	ProviderCA string

	// HTTPTimeout is the client timeout for requests to the provider.
	HTTPTimeout time.Duration

	// DiscoveryTTL is how long provider metadata and keys are cached.
	DiscoveryTTL time.Duration

	// ClientAssertion, when set, authenticates the client to the token and
	// revocation endpoints instead of the ClientSecret.
	ClientAssertion ClientAssertion

	// AllowMissingIDToken permits a token response without an id_token. The
	// principal is then built from the userinfo endpoint.
	AllowMissingIDToken bool

	// Logger is an optional logger.
	Logger hclog.Logger
}

// NewConfig composes a new config for a provider.
//
// Supported options: WithLogger, WithScopes, WithAudiences, WithProviderCA,
// WithSupportedSigningAlgs, WithHTTPTimeout, WithDiscoveryTTL,
// WithAllowMissingIDToken, WithClientAssertion
func NewConfig(issuer string, clientID string, clientSecret ClientSecret, redirectURL string, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		Issuer:               issuer,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		RedirectURL:          redirectURL,
		Scopes:               opts.withScopes,
		Audiences:            opts.withAudiences,
		SupportedSigningAlgs: opts.withSupportedSigningAlgs,
		ProviderCA:           opts.withProviderCA,
		HTTPTimeout:          opts.withHTTPTimeout,
		DiscoveryTTL:         opts.withDiscoveryTTL,
		AllowMissingIDToken:  opts.withAllowMissingIDToken,
		ClientAssertion:      opts.withClientAssertion,
		Logger:               opts.withLogger,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration. Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable
// via an http request. Every problem found is reported, not just the first.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	if c.ClientSecret == "" && c.ClientAssertion == nil {
		result = multierror.Append(result, fmt.Errorf("client secret and client assertion are empty: %w", ErrInvalidParameter))
	}
	if c.Issuer == "" {
		result = multierror.Append(result, fmt.Errorf("issuer is empty: %w", ErrInvalidParameter))
	} else if err := validateURL(c.Issuer, true); err != nil {
		result = multierror.Append(result, fmt.Errorf("issuer %q: %w", c.Issuer, err))
	}
	if c.RedirectURL == "" {
		result = multierror.Append(result, fmt.Errorf("redirect URL is empty: %w", ErrInvalidParameter))
	} else if err := validateURL(c.RedirectURL, false); err != nil {
		result = multierror.Append(result, fmt.Errorf("redirect URL %q: %w", c.RedirectURL, err))
	}
	for _, a := range c.SupportedSigningAlgs {
		if _, ok := supportedAlgorithms[a]; !ok {
			result = multierror.Append(result, fmt.Errorf("unsupported algorithm %q: %w", a, ErrUnsupportedAlg))
		}
	}
	if c.ProviderCA != "" {
		if _, err := sdkHttp.NewClient(c.ProviderCA, 0); err != nil {
			result = multierror.Append(result, fmt.Errorf("could not parse CA PEM value: %w", ErrInvalidCACert))
		}
	}
	if c.HTTPTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("http timeout %s is negative: %w", c.HTTPTimeout, ErrInvalidParameter))
	}
	if c.DiscoveryTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("discovery ttl %s is negative: %w", c.DiscoveryTTL, ErrInvalidParameter))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func validateURL(raw string, noQuery bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("unable to parse: %w: %w", ErrInvalidParameter, err)
	}
	if !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
		return fmt.Errorf("scheme %q is not http or https: %w", u.Scheme, ErrInvalidParameter)
	}
	if u.Host == "" {
		return fmt.Errorf("host is empty: %w", ErrInvalidParameter)
	}
	if noQuery && (u.RawQuery != "" || u.Fragment != "") {
		return fmt.Errorf("query and fragment components are not allowed: %w", ErrInvalidParameter)
	}
	return nil
}

// RequestedScopes returns the scopes to request: "openid" first followed by
// the configured scopes (or DefaultScopes) without duplicates.
func (c *Config) RequestedScopes() []string {
	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	return strutils.RemoveDuplicatesStable(append([]string{oidc.ScopeOpenID}, scopes...), false)
}

// SigningAlgs returns the configured signing algorithms, or RS256 when none
// are configured.
func (c *Config) SigningAlgs() []Alg {
	if len(c.SupportedSigningAlgs) == 0 {
		return []Alg{RS256}
	}
	return c.SupportedSigningAlgs
}

// HTTPClient is a helper function that creates a new http client for the
// provider configured.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	timeout := c.HTTPTimeout
	if timeout == 0 {
		timeout = DefaultHTTPTimeout
	}
	client, err := sdkHttp.NewClient(c.ProviderCA, timeout)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

func (c *Config) logger() hclog.Logger {
	if c.Logger == nil {
		return hclog.NewNullLogger()
	}
	return c.Logger
}

func (c *Config) discoveryTTL() time.Duration {
	if c.DiscoveryTTL == 0 {
		return DefaultDiscoveryTTL
	}
	return c.DiscoveryTTL
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	return sdkHttp.OidcClientContext(ctx, client)
}

// configOptions is the set of available options
type configOptions struct {
	withScopes               []string
	withAudiences            []string
	withProviderCA           string
	withSupportedSigningAlgs []Alg
	withHTTPTimeout          time.Duration
	withDiscoveryTTL         time.Duration
	withAllowMissingIDToken  bool
	withClientAssertion      ClientAssertion
	withLogger               hclog.Logger
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withHTTPTimeout:  DefaultHTTPTimeout,
		withDiscoveryTTL: DefaultDiscoveryTTL,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes for the provider's config.
//
// Valid for: Config and Login
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *configOptions:
			v.withScopes = scopes
		case *loginOptions:
			v.withScopes = scopes
		}
	}
}

// WithAudiences provides an optional list of audiences for the provider's
// config.
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withAudiences = auds
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config.
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withProviderCA = cert
		}
	}
}

// WithSupportedSigningAlgs provides the list of algorithms id_tokens may be
// signed with.
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withSupportedSigningAlgs = algs
		}
	}
}

// WithHTTPTimeout provides an optional client timeout for requests to the
// provider.
func WithHTTPTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withHTTPTimeout = d
		}
	}
}

// WithDiscoveryTTL provides an optional duration that discovered metadata
// and keys are cached for.
func WithDiscoveryTTL(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withDiscoveryTTL = d
		}
	}
}

// WithAllowMissingIDToken permits token responses without an id_token.
func WithAllowMissingIDToken() Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withAllowMissingIDToken = true
		}
	}
}

// WithLogger provides an optional logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok && l != nil {
			v.withLogger = l
		}
	}
}
