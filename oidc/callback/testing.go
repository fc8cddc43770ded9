// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/hashicorp/oidc-rp/oidc"
	"github.com/stretchr/testify/require"
)

// testSuccessFn is a test SuccessResponseFunc
func testSuccessFn(_ string, p *oidc.Principal, w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login successful: " + p.Subject))
}

// testFailFn is a test ErrorResponseFunc
func testFailFn(_ string, r *AuthenErrorResponse, e error, w http.ResponseWriter, _ *http.Request) {
	if r != nil {
		w.WriteHeader(http.StatusUnauthorized)
		j, _ := json.Marshal(r)
		_, _ = w.Write(j)
		return
	}
	if e != nil {
		w.WriteHeader(http.StatusInternalServerError)
		j, _ := json.Marshal(&AuthenErrorResponse{
			Error:       "internal-callback-error",
			Description: e.Error(),
		})
		_, _ = w.Write(j)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	j, _ := json.Marshal(&AuthenErrorResponse{
		Error: "unknown-callback-error",
	})
	_, _ = w.Write(j)
}

// testNewAuthenticator creates a new Authenticator for the TestProvider (tp)
// with an in-memory session store. This is helpful internally, but
// intentionally not exported.
func testNewAuthenticator(t *testing.T, tp *oidc.TestProvider) *oidc.Authenticator {
	t.Helper()
	require := require.New(t)
	_, alg, _ := tp.SigningKeys()
	c, err := oidc.NewConfig(
		tp.Addr(),
		oidc.TestProviderClientID,
		oidc.TestProviderClientSecret,
		oidc.TestProviderRedirectURL,
		oidc.WithSupportedSigningAlgs(alg),
		oidc.WithProviderCA(tp.CACert()),
	)
	require.NoError(err)
	a, err := oidc.NewAuthenticator(c, oidc.NewMemoryStore())
	require.NoError(err)
	return a
}
