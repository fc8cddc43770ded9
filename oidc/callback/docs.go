// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
callback is a package that provides handlers (in the form of
http.HandlerFunc) for starting a login, handling the OIDC provider's
authorization code response and logging out.
*/
package callback
