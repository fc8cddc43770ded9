// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/oidc-rp/oidc"
)

// DefaultSessionCookieName is the cookie CookieSessions uses when it has no
// Name.
const DefaultSessionCookieName = "oidc_session"

// SessionReader finds the session id of a request.
//
// Implementations must be concurrently safe, since the reader will likely be
// used within a concurrent http.Handler
type SessionReader interface {
	// Read returns the request's session id, or an error wrapping
	// oidc.ErrNotFound when the request has none.
	Read(req *http.Request) (string, error)
}

// SessionStarter is a SessionReader which can also give a request a session.
type SessionStarter interface {
	SessionReader

	// Start returns the session id to use for a new login and makes
	// following requests carry it.
	Start(w http.ResponseWriter, req *http.Request) (string, error)
}

// SingleSessionReader implements the SessionStarter interface for a single
// session. It is concurrently safe.
type SingleSessionReader struct {
	ID string
}

// Read returns the reader's session id. It satisfies the SessionReader
// interface.
func (sr *SingleSessionReader) Read(_ *http.Request) (string, error) {
	if sr.ID == "" {
		return "", fmt.Errorf("SingleSessionReader.Read: %w", oidc.ErrNotFound)
	}
	return sr.ID, nil
}

// Start returns the reader's session id. It satisfies the SessionStarter
// interface.
func (sr *SingleSessionReader) Start(_ http.ResponseWriter, req *http.Request) (string, error) {
	return sr.Read(req)
}

// CookieSessions keeps session ids in a cookie. It is concurrently safe.
type CookieSessions struct {
	// Name of the cookie, which defaults to DefaultSessionCookieName.
	Name string

	// MaxAge of the cookie. Zero makes a session cookie.
	MaxAge time.Duration

	// Insecure allows the cookie to be sent over plain http, which is only
	// useful for local development.
	Insecure bool
}

// Read returns the session id from the request's cookie.
func (c *CookieSessions) Read(req *http.Request) (string, error) {
	const op = "CookieSessions.Read"
	ck, err := req.Cookie(c.name())
	if err != nil || ck.Value == "" {
		return "", fmt.Errorf("%s: no %s cookie: %w", op, c.name(), oidc.ErrNotFound)
	}
	return ck.Value, nil
}

// Start issues a new session id and sets it in the response's cookie. An
// existing cookie is never reused.
func (c *CookieSessions) Start(w http.ResponseWriter, _ *http.Request) (string, error) {
	const op = "CookieSessions.Start"
	id, err := oidc.NewSessionID()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	ck := &http.Cookie{
		Name:     c.name(),
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   !c.Insecure,
		SameSite: http.SameSiteLaxMode,
	}
	if c.MaxAge > 0 {
		ck.MaxAge = int(c.MaxAge / time.Second)
	}
	http.SetCookie(w, ck)
	return id, nil
}

func (c *CookieSessions) name() string {
	if c.Name == "" {
		return DefaultSessionCookieName
	}
	return c.Name
}
