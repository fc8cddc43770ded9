// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyOpts(t *testing.T) {
	// ApplyOpts testing is covered by other tests but we do have just more
	// more test to add here.
	// Let's make sure we don't panic on nil options
	anonymousOpts := struct {
		Names []string
	}{
		nil,
	}
	ApplyOpts(anonymousOpts, nil)
}

func Test_WithNow(t *testing.T) {
	t.Parallel()
	testNow := func() time.Time {
		return time.Now().Add(-1 * time.Minute)
	}
	t.Run("flowStateOptions", func(t *testing.T) {
		opts := getFlowStateOpts(WithNow(testNow))
		testAssertEqualFunc(t, testNow, opts.withNowFunc, "now = %p,want %p", testNow, opts.withNowFunc)
	})
	t.Run("verifierOptions", func(t *testing.T) {
		opts := getVerifierOpts(WithNow(testNow))
		testAssertEqualFunc(t, testNow, opts.withNowFunc, "now = %p,want %p", testNow, opts.withNowFunc)
	})
	t.Run("nil-func-ignored", func(t *testing.T) {
		assert := assert.New(t)
		opts := getFlowStateOpts(WithNow(nil))
		assert.Nil(opts.withNowFunc)
	})
}
