// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidc-rp/oidc"
	"github.com/hashicorp/oidc-rp/oidc/callback"
)

var homeTmpl = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head><title>oidc-rp webapp</title></head>
<body>
{{- if .}}
<p>Signed in as {{if .Name}}{{.Name}}{{else}}{{.Subject}}{{end}}{{if .Email}} ({{.Email}}){{end}}</p>
<form method="post" action="/refresh"><button type="submit">Refresh tokens</button></form>
<form method="post" action="/logout"><button type="submit">Sign out</button></form>
{{- else}}
<p><a href="/login">Sign in</a></p>
{{- end}}
</body>
</html>
`))

type routes struct {
	a        *oidc.Authenticator
	sessions *callback.CookieSessions
	logger   hclog.Logger
}

// newRouter creates the webapp's routes:
//
//	GET  /          home page
//	GET  /login     starts a login
//	GET  /callback  the provider's redirect
//	POST /logout    logs out and returns home
//	POST /refresh   refreshes the session's tokens
//	GET  /api/user  the signed in user as json
func newRouter(a *oidc.Authenticator, sessions *callback.CookieSessions, logger hclog.Logger) (*mux.Router, error) {
	const op = "newRouter"
	rt := &routes{a: a, sessions: sessions, logger: logger}

	login, err := callback.Login(a, sessions, rt.errorResponse)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	authCode, err := callback.AuthCode(a, sessions, rt.successResponse, rt.errorResponse)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	logout, err := callback.Logout(a, sessions, "/", rt.errorResponse)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r := mux.NewRouter()
	r.HandleFunc("/", rt.home).Methods(http.MethodGet)
	r.HandleFunc("/login", login).Methods(http.MethodGet)
	r.HandleFunc("/callback", authCode).Methods(http.MethodGet)
	r.HandleFunc("/logout", logout).Methods(http.MethodPost)
	r.HandleFunc("/refresh", rt.refresh).Methods(http.MethodPost)
	r.HandleFunc("/api/user", rt.user).Methods(http.MethodGet)
	return r, nil
}

func (rt *routes) home(w http.ResponseWriter, req *http.Request) {
	var p *oidc.Principal
	if sessionID, err := rt.sessions.Read(req); err == nil {
		if p, err = rt.a.GetPrincipal(req.Context(), sessionID); err != nil {
			rt.errorResponse(sessionID, nil, err, w, req)
			return
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := homeTmpl.Execute(w, p); err != nil {
		rt.logger.Error("unable to render home page", "error", err)
	}
}

func (rt *routes) user(w http.ResponseWriter, req *http.Request) {
	sessionID, err := rt.sessions.Read(req)
	if err != nil {
		rt.errorResponse("", nil, oidc.ErrNotAuthenticated, w, req)
		return
	}
	p, err := rt.a.RequireLogin(req.Context(), sessionID)
	if err != nil {
		rt.errorResponse(sessionID, nil, err, w, req)
		return
	}
	rt.writeJSON(w, p)
}

func (rt *routes) refresh(w http.ResponseWriter, req *http.Request) {
	sessionID, err := rt.sessions.Read(req)
	if err != nil {
		rt.errorResponse("", nil, oidc.ErrNotAuthenticated, w, req)
		return
	}
	ts, err := rt.a.Refresh(req.Context(), sessionID)
	if err != nil {
		rt.errorResponse(sessionID, nil, err, w, req)
		return
	}
	rt.writeJSON(w, struct {
		TokenType string    `json:"token_type"`
		Expiry    time.Time `json:"expiry"`
		Scope     string    `json:"scope,omitempty"`
	}{
		TokenType: ts.TokenType,
		Expiry:    ts.Expiry,
		Scope:     ts.Scope,
	})
}

func (rt *routes) successResponse(_ string, p *oidc.Principal, w http.ResponseWriter, req *http.Request) {
	rt.logger.Info("signed in", "sub", p.Subject)
	http.Redirect(w, req, "/", http.StatusSeeOther)
}

// errorResponse logs the full error and writes only its public reason.
func (rt *routes) errorResponse(sessionID string, respErr *callback.AuthenErrorResponse, e error, w http.ResponseWriter, req *http.Request) {
	rt.logger.Warn("request failed", "path", req.URL.Path, "status", callback.ErrorStatus(e), "error", e)
	callback.DefaultErrorResponse(sessionID, respErr, e, w, req)
}

func (rt *routes) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.logger.Error("unable to write response", "error", err)
	}
}
