// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// oidcrp provides a collection of packages for building an OpenID Connect
// relying party which signs users in with the authorization code flow and
// PKCE, and keeps their sessions fresh with refresh tokens.
//
//   - oidc: configuration, discovery, id_token verification, token exchange
//     and the Authenticator which runs the login, refresh and logout flows.
//   - oidc/callback: http.HandlerFuncs for the login redirect, the provider's
//     callback and logout.
//   - oidc/clientassertion: signed JWT client authentication.
//   - oidc/sqlitestore: a SQLite backed session store.
//   - jwt: a cache of the provider's JSON Web Key Set.
package oidcrp
