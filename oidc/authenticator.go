// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-rp/oidc/internal/strutils"
	"golang.org/x/oauth2"
	"golang.org/x/text/language"
)

// DefaultRevokeTimeout bounds the token revocation made by Logout.
const DefaultRevokeTimeout = 5 * time.Second

// Prompt is a value for the authorization request's prompt parameter.
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
type Prompt string

const (
	None          Prompt = "none"
	Login         Prompt = "login"
	Consent       Prompt = "consent"
	SelectAccount Prompt = "select_account"
)

// CallbackParams are the query parameters of the provider's redirect to the
// callback.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	ErrorURI         string
}

// Authenticator runs the authorization code + PKCE flow for sessions and
// manages their token lifecycle. Operations on one session are serialised;
// operations on different sessions run concurrently.
//
// Session transitions:
//
//	Idle, LoggedOut, Authenticated --Login--> PendingCallback
//	PendingCallback --Callback ok--> Authenticated
//	PendingCallback --Callback failed--> Idle
//	Authenticated --Refresh ok--> Authenticated
//	Authenticated --Refresh failed--> LoggedOut
//	any --Logout--> LoggedOut
//
// A timeout never changes the session.
type Authenticator struct {
	config    *Config
	store     SessionStore
	discovery KeySource
	tokens    TokenExchanger
	verifier  TokenVerifier
	logger    hclog.Logger
	opts      authenticatorOptions
	locks     keyedMutex
}

// NewAuthenticator creates an Authenticator which keeps sessions in store. A
// Discovery, TokenClient and IDTokenVerifier are created for the Config
// unless they're provided.
//
// Supported options: WithDiscovery, WithTokenExchanger, WithVerifier,
// WithNow, WithExpiresIn
func NewAuthenticator(c *Config, store SessionStore, opt ...Option) (*Authenticator, error) {
	const op = "oidc.NewAuthenticator"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case store == nil:
		return nil, fmt.Errorf("%s: session store is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := getAuthenticatorOpts(opt...)
	if opts.withFlowExpiresIn <= 0 {
		return nil, fmt.Errorf("%s: flow expires in must be greater than zero: %w", op, ErrInvalidParameter)
	}
	a := &Authenticator{
		config:    c,
		store:     store,
		discovery: opts.withDiscovery,
		tokens:    opts.withTokenExchanger,
		verifier:  opts.withVerifier,
		logger:    c.logger().Named("authenticator"),
		opts:      opts,
	}
	if a.discovery == nil {
		d, err := NewDiscovery(c, WithNow(opts.withNowFunc))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.discovery = d
	}
	if a.tokens == nil {
		d, ok := a.discovery.(*Discovery)
		if !ok {
			return nil, fmt.Errorf("%s: a token exchanger is required with a custom key source: %w", op, ErrInvalidParameter)
		}
		tc, err := NewTokenClient(c, d)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.tokens = tc
	}
	if a.verifier == nil {
		v, err := NewIDTokenVerifier(c, a.discovery, WithNow(opts.withNowFunc))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.verifier = v
	}
	return a, nil
}

// Login starts a new authorization code flow for the session and returns the
// URL of the provider's authorization endpoint to redirect the user to. Any
// previous flow, principal or tokens of the session are replaced.
//
// Supported options: WithScopes, WithPrompts, WithUILocales
func (a *Authenticator) Login(ctx context.Context, sessionID string, opt ...Option) (string, error) {
	const op = "Authenticator.Login"
	if sessionID == "" {
		return "", fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	opts := getLoginOpts(opt...)
	unlock := a.locks.Lock(sessionID)
	defer unlock()

	fs, err := NewFlowState(WithNow(a.opts.withNowFunc), WithExpiresIn(a.opts.withFlowExpiresIn))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	md, err := a.discovery.GetMetadata(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	scopes := a.config.RequestedScopes()
	if len(opts.withScopes) > 0 {
		scopes = strutils.RemoveDuplicatesStable(append([]string{oidc.ScopeOpenID}, opts.withScopes...), false)
	}
	oauth2Config := oauth2.Config{
		ClientID:    a.config.ClientID,
		RedirectURL: a.config.RedirectURL,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   md.AuthorizationEndpoint,
			TokenURL:  md.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	authOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(fs.Nonce),
		oauth2.SetAuthURLParam("code_challenge", fs.CodeChallenge()),
		oauth2.SetAuthURLParam("code_challenge_method", string(S256)),
	}
	if len(opts.withPrompts) > 0 {
		prompts := make([]string, 0, len(opts.withPrompts))
		for _, p := range opts.withPrompts {
			prompts = append(prompts, string(p))
		}
		authOpts = append(authOpts, oauth2.SetAuthURLParam("prompt", strings.Join(prompts, " ")))
	}
	if len(opts.withUILocales) > 0 {
		locales := make([]string, 0, len(opts.withUILocales))
		for _, l := range opts.withUILocales {
			locales = append(locales, l.String())
		}
		authOpts = append(authOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	authURL := oauth2Config.AuthCodeURL(fs.State, authOpts...)

	if err := a.store.Put(ctx, sessionID, &Session{FlowState: fs, UpdatedAt: a.now()}); err != nil {
		return "", fmt.Errorf("%s: unable to save session: %w", op, err)
	}
	a.logger.Debug("login started", "expires_at", fs.ExpiresAt)
	return authURL, nil
}

// Callback completes the session's pending flow with the provider's redirect
// parameters. On success the session becomes authenticated and its Principal
// is returned.
//
// The pending flow is consumed by every outcome except ErrTimeout, which
// leaves the session untouched. The token endpoint is never called unless
// the state matches the pending flow's state.
func (a *Authenticator) Callback(ctx context.Context, sessionID string, params CallbackParams) (*Principal, error) {
	const op = "Authenticator.Callback"
	if sessionID == "" {
		return nil, fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	unlock := a.locks.Lock(sessionID)
	defer unlock()

	sess, err := a.store.Get(ctx, sessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		sess = nil
	case err != nil:
		return nil, fmt.Errorf("%s: unable to read session: %w", op, err)
	}
	var fs *FlowState
	if sess != nil {
		fs = sess.FlowState
	}

	// fail discards the pending flow unless err is a timeout.
	fail := func(err error) (*Principal, error) {
		err = fmt.Errorf("%s: %w", op, err)
		if isTimeout(err) {
			return nil, err
		}
		if fs != nil {
			if putErr := a.store.Put(context.WithoutCancel(ctx), sessionID, &Session{UpdatedAt: a.now()}); putErr != nil {
				a.logger.Error("unable to discard flow state", "error", putErr)
			}
		}
		a.logger.Warn("callback failed", "error", err)
		return nil, err
	}

	switch {
	case params.Error != "":
		return fail(&ProviderError{Code: params.Error, Description: params.ErrorDescription, URI: params.ErrorURI})
	case params.Code == "" || params.State == "":
		return fail(fmt.Errorf("code and state are required: %w", ErrMissingParameter))
	case fs == nil:
		return nil, fmt.Errorf("%s: %w", op, ErrFlowNotFound)
	case fs.IsExpired(a.now()):
		return fail(fmt.Errorf("flow expired at %s: %w", fs.ExpiresAt, ErrExpiredFlowState))
	case subtle.ConstantTimeCompare([]byte(params.State), []byte(fs.State)) != 1:
		return fail(ErrCSRF)
	}

	tokens, err := a.tokens.ExchangeCode(ctx, params.Code, fs.CodeVerifier, a.config.RedirectURL)
	if err != nil {
		return fail(err)
	}

	var principal *Principal
	if tokens.IDToken != "" {
		if principal, err = a.verifier.Verify(ctx, tokens.IDToken, fs.Nonce); err != nil {
			return fail(err)
		}
	} else if !a.config.AllowMissingIDToken {
		return fail(ErrMissingIDToken)
	}

	md, err := a.discovery.GetMetadata(ctx)
	if err != nil {
		return fail(err)
	}
	switch {
	case md.UserInfoEndpoint == "" && principal == nil:
		return fail(fmt.Errorf("no userinfo endpoint to identify the user: %w", ErrMissingIDToken))
	case md.UserInfoEndpoint != "":
		ui, err := a.tokens.UserInfo(ctx, tokens.AccessToken)
		switch {
		case err != nil && (principal == nil || isTimeout(err)):
			return fail(err)
		case err != nil:
			a.logger.Warn("unable to fetch userinfo, using id_token claims only", "error", err)
		case principal == nil:
			principal = principalFromUserInfo(ui, md.Issuer, a.config.ClientID)
		default:
			if err := principal.MergeUserInfo(ui); err != nil {
				return fail(err)
			}
		}
	}

	if err := a.store.Put(ctx, sessionID, &Session{Principal: principal, Tokens: tokens, UpdatedAt: a.now()}); err != nil {
		return nil, fmt.Errorf("%s: unable to save session: %w", op, err)
	}
	a.logger.Info("user authenticated", "sub", principal.Subject)
	return principal.Copy(), nil
}

// Refresh redeems the session's refresh token for new tokens. A provider
// rejection logs the session out; a timeout leaves it untouched.
func (a *Authenticator) Refresh(ctx context.Context, sessionID string) (*TokenSet, error) {
	const op = "Authenticator.Refresh"
	unlock := a.locks.Lock(sessionID)
	defer unlock()

	sess, err := a.authenticated(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sess.Tokens.RefreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrNoRefreshToken)
	}

	fail := func(err error) (*TokenSet, error) {
		err = fmt.Errorf("%s: %w", op, err)
		if isTimeout(err) {
			return nil, err
		}
		a.logger.Warn("refresh failed, logging out", "sub", sess.Principal.Subject, "error", err)
		if putErr := a.store.Put(context.WithoutCancel(ctx), sessionID, &Session{LoggedOut: true, UpdatedAt: a.now()}); putErr != nil {
			a.logger.Error("unable to save logged out session", "error", putErr)
		}
		return nil, err
	}

	tokens, err := a.tokens.Refresh(ctx, sess.Tokens.RefreshToken)
	if err != nil {
		return fail(err)
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = sess.Tokens.RefreshToken
	}
	principal := sess.Principal
	if tokens.IDToken != "" {
		if principal, err = a.verifier.VerifyRefreshed(ctx, tokens.IDToken, sess.Principal); err != nil {
			return fail(err)
		}
	} else {
		tokens.IDToken = sess.Tokens.IDToken
	}

	if err := a.store.Put(ctx, sessionID, &Session{Principal: principal, Tokens: tokens, UpdatedAt: a.now()}); err != nil {
		return nil, fmt.Errorf("%s: unable to save session: %w", op, err)
	}
	a.logger.Debug("tokens refreshed", "sub", principal.Subject)
	return tokens.Copy(), nil
}

// Logout revokes the session's refresh token, or its access token when there
// isn't one, and replaces the session with a logged out tombstone. Revocation
// is best effort: its failures are logged and never stop the logout. It's
// bounded by DefaultRevokeTimeout and by half of ctx's remaining time, and
// the tombstone is written even when ctx is done by then.
func (a *Authenticator) Logout(ctx context.Context, sessionID string) error {
	const op = "Authenticator.Logout"
	if sessionID == "" {
		return fmt.Errorf("%s: session id is empty: %w", op, ErrInvalidParameter)
	}
	unlock := a.locks.Lock(sessionID)
	defer unlock()

	sess, err := a.store.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		a.logger.Warn("unable to read session for logout", "error", err)
	}
	if sess != nil && sess.Tokens != nil {
		var token string
		var hint TokenTypeHint
		switch {
		case sess.Tokens.RefreshToken != "":
			token, hint = string(sess.Tokens.RefreshToken), RefreshTokenHint
		case sess.Tokens.AccessToken != "":
			token, hint = string(sess.Tokens.AccessToken), AccessTokenHint
		}
		if token != "" {
			revokeCtx, cancel := revokeContext(ctx)
			err := a.tokens.Revoke(revokeCtx, token, hint)
			cancel()
			if err != nil {
				a.logger.Warn("unable to revoke token", "token_type_hint", hint, "error", err)
			}
		}
	}
	if err := a.store.Put(context.WithoutCancel(ctx), sessionID, &Session{LoggedOut: true, UpdatedAt: a.now()}); err != nil {
		return fmt.Errorf("%s: unable to save session: %w", op, err)
	}
	a.logger.Debug("logged out")
	return nil
}

// GetPrincipal returns the session's Principal, or nil when the session isn't
// authenticated.
func (a *Authenticator) GetPrincipal(ctx context.Context, sessionID string) (*Principal, error) {
	const op = "Authenticator.GetPrincipal"
	sess, err := a.authenticated(ctx, sessionID)
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess.Principal.Copy(), nil
}

// GetAccessToken returns the session's access token, or an empty token when
// the session isn't authenticated. The token may be expired; use Refresh to
// get a new one.
func (a *Authenticator) GetAccessToken(ctx context.Context, sessionID string) (AccessToken, error) {
	const op = "Authenticator.GetAccessToken"
	sess, err := a.authenticated(ctx, sessionID)
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return sess.Tokens.AccessToken, nil
}

// RequireLogin returns the session's Principal, or ErrNotAuthenticated when
// the session isn't authenticated.
func (a *Authenticator) RequireLogin(ctx context.Context, sessionID string) (*Principal, error) {
	const op = "Authenticator.RequireLogin"
	sess, err := a.authenticated(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sess.Principal.Copy(), nil
}

// Status returns the session's Status. A missing session is idle.
func (a *Authenticator) Status(ctx context.Context, sessionID string) (Status, error) {
	const op = "Authenticator.Status"
	sess, err := a.store.Get(ctx, sessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		return StatusIdle, nil
	case err != nil:
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return sess.Status(), nil
}

func (a *Authenticator) authenticated(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := a.store.Get(ctx, sessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotAuthenticated
	case err != nil:
		return nil, err
	case sess.Status() != StatusAuthenticated:
		return nil, ErrNotAuthenticated
	}
	return sess, nil
}

// revokeContext leaves at least half of ctx's remaining time for the writes
// that follow the revocation.
func revokeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := DefaultRevokeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if half := time.Until(deadline) / 2; half < timeout {
			timeout = half
		}
	}
	return context.WithTimeout(ctx, timeout)
}

func (a *Authenticator) now() time.Time {
	if a.opts.withNowFunc != nil {
		return a.opts.withNowFunc()
	}
	return time.Now()
}

// authenticatorOptions is the set of available options for Authenticator
// functions
type authenticatorOptions struct {
	withNowFunc        func() time.Time
	withFlowExpiresIn  time.Duration
	withDiscovery      KeySource
	withTokenExchanger TokenExchanger
	withVerifier       TokenVerifier
}

func authenticatorDefaults() authenticatorOptions {
	return authenticatorOptions{
		withFlowExpiresIn: DefaultFlowStateExpiry,
	}
}

func getAuthenticatorOpts(opt ...Option) authenticatorOptions {
	opts := authenticatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithDiscovery provides the source of provider metadata and signing keys.
func WithDiscovery(ks KeySource) Option {
	return func(o interface{}) {
		if v, ok := o.(*authenticatorOptions); ok {
			v.withDiscovery = ks
		}
	}
}

// WithTokenExchanger provides the client for the provider's token, userinfo
// and revocation endpoints.
func WithTokenExchanger(te TokenExchanger) Option {
	return func(o interface{}) {
		if v, ok := o.(*authenticatorOptions); ok {
			v.withTokenExchanger = te
		}
	}
}

// WithVerifier provides the id_token verifier.
func WithVerifier(tv TokenVerifier) Option {
	return func(o interface{}) {
		if v, ok := o.(*authenticatorOptions); ok {
			v.withVerifier = tv
		}
	}
}

// loginOptions is the set of available options for Authenticator.Login
type loginOptions struct {
	withScopes    []string
	withPrompts   []Prompt
	withUILocales []language.Tag
}

func getLoginOpts(opt ...Option) loginOptions {
	opts := loginOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}

// WithPrompts provides optional prompt values for the authorization request.
func WithPrompts(prompts ...Prompt) Option {
	return func(o interface{}) {
		if v, ok := o.(*loginOptions); ok {
			v.withPrompts = prompts
		}
	}
}

// WithUILocales provides optional preferred languages for the provider's
// login UI.
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if v, ok := o.(*loginOptions); ok {
			v.withUILocales = locales
		}
	}
}
