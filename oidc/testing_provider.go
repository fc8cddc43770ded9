// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto"
	"crypto/subtle"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/oidc-rp/oidc/internal/strutils"
	"github.com/stretchr/testify/require"
)

// Defaults used by the TestProvider.
const (
	TestProviderClientID     = "test-client-id"
	TestProviderClientSecret = "test-client-secret"
	TestProviderRedirectURL  = "https://app.example.com/callback"
	TestProviderSubject      = "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients"
	TestProviderKeyID        = "test-key-1"
)

// TestRevocation is a token revocation request received by the TestProvider.
type TestRevocation struct {
	Token string
	Hint  string
}

type testAuthCodeGrant struct {
	nonce       string
	challenge   string
	redirectURI string
	scope       string
}

type testTokenError struct {
	status      int
	code        string
	description string
}

// TestProvider is a local TLS server that implements the parts of an OIDC
// provider used by the authorization code + PKCE flow: discovery, JWKS,
// authorization, token (authorization_code and refresh_token grants),
// userinfo and revocation. Its behavior can be altered to produce the
// failures a real provider can, which makes writing tests much easier.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	assertionKey        interface{}
	assertionIDs        map[string]bool
	allowedRedirectURIs []string
	subject             string
	userinfo            map[string]interface{}
	customClaims        map[string]interface{}
	customAudience      []string
	customIssuer        string
	nonceOverride       *string
	idTokenExpiry       time.Duration
	accessTokenExpiry   time.Duration
	omitIDToken         bool
	omitRefreshToken    bool
	refreshRotation     bool
	refreshIDToken      bool
	disableUserInfo     bool
	disableRevocation   bool
	discoveryStatus     int
	authError           *ProviderError
	tokenError          *testTokenError
	tokenDelay          time.Duration
	revokeStatus        int

	signingKey crypto.PrivateKey
	signingAlg Alg
	keyID      string
	jwks       []jose.JSONWebKey

	authCodes     map[string]testAuthCodeGrant
	accessTokens  map[string]bool
	refreshTokens map[string]bool
	revocations   []TestRevocation

	discoveryRequests int
	jwksRequests      int
	tokenRequests     int
	userinfoRequests  int

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider which is stopped when
// the test completes. It signs id_tokens with a generated ES256 key.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		clientID:            TestProviderClientID,
		clientSecret:        TestProviderClientSecret,
		allowedRedirectURIs: []string{TestProviderRedirectURL},
		subject:             TestProviderSubject,
		userinfo: map[string]interface{}{
			"email":          "alice@example.com",
			"email_verified": true,
			"name":           "Alice Doe",
			"picture":        "https://example.com/alice.png",
		},
		customClaims: map[string]interface{}{
			"email":          "alice@example.com",
			"email_verified": true,
			"name":           "Alice Doe",
			"tenant_id":      "tenant-1",
		},
		idTokenExpiry:     5 * time.Minute,
		accessTokenExpiry: time.Hour,
		refreshRotation:   true,
		refreshIDToken:    true,
		revokeStatus:      http.StatusOK,
		authCodes:         map[string]testAuthCodeGrant{},
		accessTokens:      map[string]bool{},
		refreshTokens:     map[string]bool{},
		assertionIDs:      map[string]bool{},
		t:                 t,
	}
	pub, priv := TestGenerateKeys(t)
	p.setSigningKeys(priv, pub, ES256, TestProviderKeyID)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running
// webserver. It's also the provider's issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns a client that trusts the test provider and doesn't
// follow redirects.
func (p *TestProvider) HTTPClient() *http.Client {
	c := p.httpServer.Client()
	c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return c
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetClientAssertionKey makes the provider authenticate the client with
// signed client assertions instead of its secret. key is the client's public
// key, or the shared secret as a []byte for HMAC signed assertions. A nil key
// returns to client secret authentication.
func (p *TestProvider) SetClientAssertionKey(key interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.assertionKey = key
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured TestProviderRedirectURL is used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject configures the sub claim of issued id_tokens and userinfo
// replies.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subject = sub
}

// SetCustomClaims lets you set the non-registered claims of issued id_tokens.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in issued
// id_tokens.
func (p *TestProvider) SetCustomAudience(customAudience ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetCustomIssuer configures the iss claim of issued id_tokens. Discovery
// still reports Addr() as the issuer.
func (p *TestProvider) SetCustomIssuer(iss string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customIssuer = iss
}

// SetIDTokenNonce overrides the nonce claim of id_tokens issued by the
// authorization_code grant. An empty nonce omits the claim.
func (p *TestProvider) SetIDTokenNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonceOverride = &nonce
}

// SetIDTokenExpiry configures how long issued id_tokens are valid for. A
// negative duration issues already expired tokens.
func (p *TestProvider) SetIDTokenExpiry(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenExpiry = d
}

// SetUserInfoReply configures the claims returned by the userinfo endpoint.
// The sub claim defaults to the provider's subject.
func (p *TestProvider) SetUserInfoReply(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userinfo = claims
}

// OmitIDTokens forces the /token endpoint to not return an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshTokens forces the authorization_code grant to not return a
// refresh_token.
func (p *TestProvider) OmitRefreshTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// SetRefreshTokenRotation configures whether the refresh_token grant returns
// a new refresh_token. It defaults to true.
func (p *TestProvider) SetRefreshTokenRotation(rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshRotation = rotate
}

// SetRefreshIDToken configures whether the refresh_token grant returns a new
// id_token. It defaults to true.
func (p *TestProvider) SetRefreshIDToken(issue bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshIDToken = issue
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from
// the discovery document.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// DisableRevocation makes the revocation endpoint return 404 and omits it
// from the discovery document.
func (p *TestProvider) DisableRevocation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableRevocation = true
}

// SetDiscoveryStatus forces the discovery document endpoint to reply with
// the status. Zero or 200 restores normal replies.
func (p *TestProvider) SetDiscoveryStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryStatus = status
}

// SetAuthError forces the /authorize endpoint to redirect with the error.
// A nil error restores normal replies.
func (p *TestProvider) SetAuthError(err *ProviderError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authError = err
}

// SetTokenError forces the /token endpoint to reply with an error. A zero
// status restores normal replies.
func (p *TestProvider) SetTokenError(status int, code, description string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status == 0 {
		p.tokenError = nil
		return
	}
	p.tokenError = &testTokenError{status: status, code: code, description: description}
}

// SetTokenDelay delays every /token and /revoke reply.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// SetRevokeStatus configures the status the revocation endpoint replies with.
func (p *TestProvider) SetRevokeStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokeStatus = status
}

// SetSigningKeys sets the key issued id_tokens are signed with, replacing
// the published JWKS with just the public key.
func (p *TestProvider) SetSigningKeys(privKey crypto.PrivateKey, pubKey crypto.PublicKey, alg Alg, keyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setSigningKeys(privKey, pubKey, alg, keyID)
}

func (p *TestProvider) setSigningKeys(privKey crypto.PrivateKey, pubKey crypto.PublicKey, alg Alg, keyID string) {
	p.signingKey = privKey
	p.signingAlg = alg
	p.keyID = keyID
	p.jwks = []jose.JSONWebKey{{Key: pubKey, KeyID: keyID, Algorithm: string(alg), Use: "sig"}}
}

// SigningKeys returns the key issued id_tokens are signed with.
func (p *TestProvider) SigningKeys() (privKey crypto.PrivateKey, alg Alg, keyID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.signingKey, p.signingAlg, p.keyID
}

// Revocations returns the revocation requests received.
func (p *TestProvider) Revocations() []TestRevocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TestRevocation(nil), p.revocations...)
}

// DiscoveryRequests returns how many times the discovery document was
// requested.
func (p *TestProvider) DiscoveryRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryRequests
}

// JWKSRequests returns how many times the JWKS was requested.
func (p *TestProvider) JWKSRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jwksRequests
}

// TokenRequests returns how many requests the /token endpoint received.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// UserInfoRequests returns how many requests the userinfo endpoint received.
func (p *TestProvider) UserInfoRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userinfoRequests
}

// Authorize plays the user's part of the flow: it follows authURL to the
// /authorize endpoint and returns the query parameters the provider
// redirected back to the client with.
func (p *TestProvider) Authorize(authURL string) url.Values {
	p.t.Helper()
	require := require.New(p.t)
	resp, err := p.HTTPClient().Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	return loc.Query()
}

// IssueIDToken signs an id_token with the provider's current key for the
// nonce and any extra claims.
func (p *TestProvider) IssueIDToken(nonce string, extraClaims map[string]interface{}) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueIDToken(nonce, extraClaims)
}

func (p *TestProvider) issueIDToken(nonce string, extraClaims map[string]interface{}) string {
	now := time.Now()
	claims := map[string]interface{}{}
	for k, v := range p.customClaims {
		claims[k] = v
	}
	claims["iss"] = p.Addr()
	if p.customIssuer != "" {
		claims["iss"] = p.customIssuer
	}
	claims["sub"] = p.subject
	claims["aud"] = []string{p.clientID}
	if len(p.customAudience) > 0 {
		claims["aud"] = p.customAudience
	}
	claims["iat"] = jwt.NewNumericDate(now)
	claims["exp"] = jwt.NewNumericDate(now.Add(p.idTokenExpiry))
	if nonce != "" {
		claims["nonce"] = nonce
	}
	for k, v := range extraClaims {
		claims[k] = v
	}
	return TestSignJWT(p.t, p.signingKey, p.signingAlg, claims, p.keyID)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		p.handleDiscovery(w, req)
	case "/authorize":
		p.handleAuthorize(w, req)
	case "/certs":
		p.handleCerts(w, req)
	case "/token":
		p.handleToken(w, req)
	case "/userinfo":
		p.handleUserInfo(w, req)
	case "/revoke":
		p.handleRevoke(w, req)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleDiscovery(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discoveryRequests++
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if p.discoveryStatus != 0 && p.discoveryStatus != http.StatusOK {
		w.WriteHeader(p.discoveryStatus)
		return
	}
	reply := struct {
		Issuer                 string   `json:"issuer"`
		AuthEndpoint           string   `json:"authorization_endpoint"`
		TokenEndpoint          string   `json:"token_endpoint"`
		JWKSURI                string   `json:"jwks_uri"`
		UserinfoEndpoint       string   `json:"userinfo_endpoint,omitempty"`
		RevocationEndpoint     string   `json:"revocation_endpoint,omitempty"`
		ScopesSupported        []string `json:"scopes_supported"`
		SigningAlgs            []string `json:"id_token_signing_alg_values_supported"`
		CodeChallengeMethods   []string `json:"code_challenge_methods_supported"`
		ResponseTypesSupported []string `json:"response_types_supported"`
	}{
		Issuer:                 p.Addr(),
		AuthEndpoint:           p.Addr() + "/authorize",
		TokenEndpoint:          p.Addr() + "/token",
		JWKSURI:                p.Addr() + "/certs",
		UserinfoEndpoint:       p.Addr() + "/userinfo",
		RevocationEndpoint:     p.Addr() + "/revoke",
		ScopesSupported:        []string{"openid", "profile", "email", "offline_access"},
		SigningAlgs:            []string{string(p.signingAlg)},
		CodeChallengeMethods:   []string{string(S256)},
		ResponseTypesSupported: []string{"code"},
	}
	if p.disableUserInfo {
		reply.UserinfoEndpoint = ""
	}
	if p.disableRevocation {
		reply.RevocationEndpoint = ""
	}
	_ = p.writeJSON(w, &reply)
}

func (p *TestProvider) handleAuthorize(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri")
	if !strutils.StrListContains(p.allowedRedirectURIs, redirectURI) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	state := qv.Get("state")
	switch {
	case p.authError != nil:
		p.writeAuthErrorResponse(w, req, state, p.authError.Code, p.authError.Description)
		return
	case qv.Get("response_type") != "code":
		p.writeAuthErrorResponse(w, req, state, "unsupported_response_type", "")
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, state, "unauthorized_client", "")
		return
	case !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid"):
		p.writeAuthErrorResponse(w, req, state, "invalid_scope", "openid scope is required")
		return
	case state == "":
		p.writeAuthErrorResponse(w, req, state, "invalid_request", "missing state parameter")
		return
	case qv.Get("code_challenge") == "" || qv.Get("code_challenge_method") != string(S256):
		p.writeAuthErrorResponse(w, req, state, "invalid_request", "S256 code_challenge is required")
		return
	}

	code, err := NewID()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	p.authCodes[code] = testAuthCodeGrant{
		nonce:       qv.Get("nonce"),
		challenge:   qv.Get("code_challenge"),
		redirectURI: redirectURI,
		scope:       qv.Get("scope"),
	}
	http.Redirect(w, req, appendQuery(redirectURI, url.Values{"code": {code}, "state": {state}}), http.StatusFound)
}

func (p *TestProvider) handleCerts(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jwksRequests++
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_ = p.writeJSON(w, &jose.JSONWebKeySet{Keys: p.jwks})
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	p.tokenRequests++
	delay := p.tokenDelay
	p.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !p.clientAuthenticated(req) {
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}
	if p.tokenError != nil {
		_ = p.writeTokenErrorResponse(w, p.tokenError.status, p.tokenError.code, p.tokenError.description)
		return
	}

	type tokenReply struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
		Scope        string `json:"scope,omitempty"`
	}
	reply := tokenReply{
		TokenType: "Bearer",
		ExpiresIn: int64(p.accessTokenExpiry / time.Second),
	}

	switch req.PostForm.Get("grant_type") {
	case "authorization_code":
		code := req.PostForm.Get("code")
		grant, ok := p.authCodes[code]
		if !ok {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown or already used auth code")
			return
		}
		delete(p.authCodes, code)
		if req.PostForm.Get("redirect_uri") != grant.redirectURI {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
			return
		}
		challenge, err := CreateCodeChallenge(S256, req.PostForm.Get("code_verifier"))
		if err != nil || subtle.ConstantTimeCompare([]byte(challenge), []byte(grant.challenge)) != 1 {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "code_verifier mismatch")
			return
		}
		reply.Scope = grant.scope
		if !p.omitRefreshToken {
			reply.RefreshToken = p.newToken(p.refreshTokens)
		}
		if !p.omitIDToken {
			nonce := grant.nonce
			if p.nonceOverride != nil {
				nonce = *p.nonceOverride
			}
			reply.IDToken = p.issueIDToken(nonce, nil)
		}
	case "refresh_token":
		rt := req.PostForm.Get("refresh_token")
		if !p.refreshTokens[rt] {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or revoked")
			return
		}
		if p.refreshRotation {
			delete(p.refreshTokens, rt)
			reply.RefreshToken = p.newToken(p.refreshTokens)
		}
		if p.refreshIDToken && !p.omitIDToken {
			reply.IDToken = p.issueIDToken("", nil)
		}
	default:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}
	reply.AccessToken = p.newToken(p.accessTokens)
	_ = p.writeJSON(w, &reply)
}

func (p *TestProvider) handleUserInfo(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userinfoRequests++
	if p.disableUserInfo {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
	if !ok || !p.accessTokens[token] {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	reply := map[string]interface{}{"sub": p.subject}
	for k, v := range p.userinfo {
		reply[k] = v
	}
	_ = p.writeJSON(w, reply)
}

func (p *TestProvider) handleRevoke(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	delay := p.tokenDelay
	p.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disableRevocation {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !p.clientAuthenticated(req) {
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}
	token := req.PostForm.Get("token")
	p.revocations = append(p.revocations, TestRevocation{Token: token, Hint: req.PostForm.Get("token_type_hint")})
	if p.revokeStatus != http.StatusOK {
		_ = p.writeTokenErrorResponse(w, p.revokeStatus, "server_error", "revocation failed")
		return
	}
	delete(p.refreshTokens, token)
	delete(p.accessTokens, token)
	w.WriteHeader(http.StatusOK)
}

func (p *TestProvider) clientAuthenticated(req *http.Request) bool {
	if p.assertionKey != nil {
		return p.assertionAuthenticated(req)
	}
	id, secret, ok := req.BasicAuth()
	if !ok {
		id, secret = req.PostForm.Get("client_id"), req.PostForm.Get("client_secret")
	}
	return id == p.clientID && secret == p.clientSecret
}

func (p *TestProvider) assertionAuthenticated(req *http.Request) bool {
	if req.PostForm.Get("client_secret") != "" ||
		req.PostForm.Get("client_assertion_type") != "urn:ietf:params:oauth:client-assertion-type:jwt-bearer" {
		return false
	}
	if id := req.PostForm.Get("client_id"); id != "" && id != p.clientID {
		return false
	}
	tk, err := jwt.ParseSigned(req.PostForm.Get("client_assertion"), []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512, jose.PS256, jose.PS384, jose.PS512,
		jose.ES256, jose.ES384, jose.ES512, jose.EdDSA, jose.HS256, jose.HS384, jose.HS512,
	})
	if err != nil {
		return false
	}
	var claims jwt.Claims
	if err := tk.Claims(p.assertionKey, &claims); err != nil {
		return false
	}
	expected := jwt.Expected{
		Issuer:      p.clientID,
		Subject:     p.clientID,
		AnyAudience: jwt.Audience{p.Addr() + req.URL.Path},
		Time:        time.Now(),
	}
	if err := claims.ValidateWithLeeway(expected, jwt.DefaultLeeway); err != nil {
		return false
	}
	if claims.ID == "" || p.assertionIDs[claims.ID] {
		return false
	}
	p.assertionIDs[claims.ID] = true
	return true
}

func (p *TestProvider) newToken(issued map[string]bool) string {
	p.t.Helper()
	tk, err := NewID()
	require.NoError(p.t, err)
	issued[tk] = true
	return tk
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, state, errorCode, errorMessage string) {
	v := url.Values{"error": {errorCode}}
	if state != "" {
		v.Set("state", state)
	}
	if errorMessage != "" {
		v.Set("error_description", errorMessage)
	}
	http.Redirect(w, req, appendQuery(req.URL.Query().Get("redirect_uri"), v), http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

func appendQuery(rawURL string, v url.Values) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	for k, vs := range v {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}
