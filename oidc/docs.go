// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc is a relying party for the OpenID Connect authorization code flow
with PKCE.

Primary types provided by the package

* Config: the client's registration with one provider (client id/secret,
issuer, redirect URL, requested scopes, trusted audiences, supported signing
algorithms).

* Authenticator: runs the flow for a session. Login returns the provider's
authorization URL, Callback completes the flow, Refresh renews the session's
tokens and Logout revokes them. Operations on one session are serialised.

* FlowState: the state, nonce and PKCE code verifier of one pending login. It
expires after DefaultFlowStateExpiry.

* Discovery: the provider's cached metadata and JWKS. Keys are refreshed once
when an id_token is signed by an unknown kid.

* IDTokenVerifier: verifies an id_token's signature and claims and projects
it into a Principal.

* TokenClient: the provider's token, userinfo and revocation endpoints.

* SessionStore: where sessions are kept. MemoryStore is provided; see the
sqlitestore package for a persistent store.

Errors

Every error wraps one of the package's sentinel errors. IsProtocolError,
IsCryptoError and IsTransportError classify them and PublicReason returns a
reason which is safe to show to a user.

The oidc/callback package

The callback package provides http.HandlerFuncs for the login redirect and
the provider's redirect back to the client.

Examples

* A web app: https://github.com/hashicorp/oidc-rp/tree/main/oidc/examples/webapp/

* A CLI: https://github.com/hashicorp/oidc-rp/tree/main/oidc/examples/cli/
*/
package oidc
