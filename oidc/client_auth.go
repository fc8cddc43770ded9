// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hashicorp/oidc-rp/oidc/clientassertion"
)

// ClientAssertion signs the JWTs a client authenticates to the provider with
// instead of its client secret (private_key_jwt or client_secret_jwt).
// *clientassertion.JWT implements it.
type ClientAssertion interface {
	// Assertion returns a new signed assertion for the audience, which is the
	// url of the endpoint the assertion is sent to.
	Assertion(audience string) (string, error)
}

var _ ClientAssertion = (*clientassertion.JWT)(nil)

// WithClientAssertion makes the client authenticate to the provider's token
// and revocation endpoints with signed JWTs instead of the client secret.
//
// Valid for: Config
func WithClientAssertion(ca ClientAssertion) Option {
	return func(o interface{}) {
		if v, ok := o.(*configOptions); ok {
			v.withClientAssertion = ca
		}
	}
}

// clientAuthParams returns the form parameters which authenticate the client
// to the endpoint.
func (c *Config) clientAuthParams(endpoint string) (url.Values, error) {
	if c.ClientAssertion == nil {
		return url.Values{
			"client_id":     {c.ClientID},
			"client_secret": {string(c.ClientSecret)},
		}, nil
	}
	assertion, err := c.ClientAssertion.Assertion(endpoint)
	if err != nil {
		return nil, fmt.Errorf("unable to sign client assertion: %w", err)
	}
	return url.Values{
		"client_id":             {c.ClientID},
		"client_assertion_type": {clientassertion.JWTTypeParam},
		"client_assertion":      {assertion},
	}, nil
}

// assertionTransport adds a fresh client assertion to every form POST, so
// both the authorization_code and refresh_token grants sent by
// golang.org/x/oauth2 authenticate the client with it.
type assertionTransport struct {
	base   http.RoundTripper
	config *Config
}

func (t *assertionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	const op = "assertionTransport.RoundTrip"
	ct, _, _ := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if req.Method != http.MethodPost || ct != "application/x-www-form-urlencoded" || req.Body == nil {
		return t.base.RoundTrip(req)
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	endpoint := *req.URL
	endpoint.RawQuery, endpoint.Fragment = "", ""
	auth, err := t.config.clientAuthParams(endpoint.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	form.Del("client_secret")
	for k, v := range auth {
		form[k] = v
	}
	encoded := form.Encode()

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewBufferString(encoded))
	out.ContentLength = int64(len(encoded))
	out.Header.Set("Content-Length", strconv.Itoa(len(encoded)))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewBufferString(encoded)), nil
	}
	return t.base.RoundTrip(out)
}

// tokenHTTPClient returns the client used for token endpoint requests.
func (c *Config) tokenHTTPClient(client *http.Client) *http.Client {
	if c.ClientAssertion == nil {
		return client
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	cp := *client
	cp.Transport = &assertionTransport{base: base, config: c}
	return &cp
}
