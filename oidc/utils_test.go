// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testAssertEqualFunc gives you a way to assert that two functions passed
// in are the same function.
func testAssertEqualFunc(t *testing.T, wantFunc, gotFunc interface{}, format string, args ...interface{}) {
	t.Helper()
	want := reflect.ValueOf(wantFunc).Pointer()
	got := reflect.ValueOf(gotFunc).Pointer()
	assert.Equalf(t, want, got, format, args...)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

// testFailingRandReader makes the package's random source fail until the
// test completes. Tests using it must not run in parallel.
func testFailingRandReader(t *testing.T) {
	t.Helper()
	prev := randReader
	randReader = failingReader{}
	t.Cleanup(func() { randReader = prev })
}

// testNewConfig returns a valid Config for the test provider.
func testNewConfig(t *testing.T, tp *TestProvider, opt ...Option) *Config {
	t.Helper()
	opts := append([]Option{
		WithProviderCA(tp.CACert()),
		WithSupportedSigningAlgs(ES256),
	}, opt...)
	c, err := NewConfig(tp.Addr(), TestProviderClientID, TestProviderClientSecret, TestProviderRedirectURL, opts...)
	require.NoError(t, err)
	return c
}

// testClock is a settable clock for WithNow.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
