// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package strutils

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrutil_ListContains(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	haystack := []string{
		"openid",
		"profile",
		"email",
		"offline_access",
	}
	require.False(StrListContains(haystack, "groups"))
	require.True(StrListContains(haystack, "offline_access"))
}

func TestStrUtil_RemoveDuplicatesStable(t *testing.T) {
	type tCase struct {
		input           []string
		expect          []string
		caseInsensitive bool
	}

	tCases := []tCase{
		{[]string{}, []string{}, false},
		{[]string{}, []string{}, true},
		{[]string{"openid", "email", "openid"}, []string{"openid", "email"}, false},
		{[]string{"OpenID", "email", "openid"}, []string{"OpenID", "email", "openid"}, false},
		{[]string{"OpenID", "email", "openid"}, []string{"OpenID", "email"}, true},
		{[]string{" ", "profile", "email", "profile"}, []string{"profile", "email"}, false},
		{[]string{"Email ", " email", " email ", "name"}, []string{"Email ", "name"}, true},
		{[]string{"Email ", " email", " email ", "name"}, []string{"Email ", " email", "name"}, false},
	}

	for _, tc := range tCases {
		actual := RemoveDuplicatesStable(tc.input, tc.caseInsensitive)

		if !reflect.DeepEqual(actual, tc.expect) {
			t.Fatalf("Bad testcase %#v, expected %v, got %v", tc, tc.expect, actual)
		}
	}
}
