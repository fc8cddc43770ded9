// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFlowState(t *testing.T) {
	t.Parallel()
	fixed := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	testNow := func() time.Time {
		return fixed
	}
	tests := []struct {
		name        string
		opts        []Option
		wantNow     func() time.Time
		wantExpires time.Duration
		wantErr     bool
		wantIsErr   error
	}{
		{
			name:        "valid-no-opt",
			wantExpires: DefaultFlowStateExpiry,
		},
		{
			name:        "valid-all-opts",
			opts:        []Option{WithNow(testNow), WithExpiresIn(2 * time.Minute)},
			wantNow:     testNow,
			wantExpires: 2 * time.Minute,
		},
		{
			name:      "zero-expires-in",
			opts:      []Option{WithExpiresIn(0)},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "negative-expires-in",
			opts:      []Option{WithExpiresIn(-1 * time.Second)},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewFlowState(tt.opts...)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.NotEmpty(got.State)
			assert.NotEmpty(got.Nonce)
			assert.NotEmpty(got.CodeVerifier)
			assert.NotEqual(got.State, got.Nonce)
			assert.Len(got.State, DefaultIDLength)
			assert.Len(got.Nonce, DefaultIDLength)
			assert.Equal(tt.wantExpires, got.ExpiresAt.Sub(got.CreatedAt))
			if tt.wantNow != nil {
				assert.Equal(tt.wantNow(), got.CreatedAt)
			}
		})
	}
}

func TestFlowState_CodeChallenge(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	for i := 0; i < 100; i++ {
		f, err := NewFlowState()
		require.NoError(err)
		sum := sha256.Sum256([]byte(f.CodeVerifier))
		want := base64.RawURLEncoding.EncodeToString(sum[:])
		assert.Equal(want, f.CodeChallenge())
		// deterministic
		assert.Equal(f.CodeChallenge(), f.CodeChallenge())
	}
}

func TestFlowState_Unique(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	const generations = 10000
	states := make(map[string]struct{}, generations)
	nonces := make(map[string]struct{}, generations)
	for i := 0; i < generations; i++ {
		f, err := NewFlowState()
		require.NoError(err)
		_, dupState := states[f.State]
		require.Falsef(dupState, "duplicate state after %d generations", i)
		_, dupNonce := nonces[f.Nonce]
		require.Falsef(dupNonce, "duplicate nonce after %d generations", i)
		states[f.State] = struct{}{}
		nonces[f.Nonce] = struct{}{}
	}
}

func TestFlowState_IsExpired(t *testing.T) {
	t.Parallel()
	t.Run("not-expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		f, err := NewFlowState(WithExpiresIn(2 * time.Second))
		require.NoError(err)
		assert.False(f.IsExpired(time.Now()))
	})
	t.Run("expired", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		f, err := NewFlowState(WithExpiresIn(1 * time.Nanosecond))
		require.NoError(err)
		assert.True(f.IsExpired(time.Now()))
	})
}

func TestFlowState_Copy(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	f, err := NewFlowState()
	require.NoError(err)
	cp := f.Copy()
	assert.Equal(f, cp)
	cp.State = "changed"
	assert.NotEqual(f.State, cp.State)

	var nilFlow *FlowState
	assert.Nil(nilFlow.Copy())
}

func TestNewFlowState_EntropyUnavailable(t *testing.T) {
	assert, require := assert.New(t), require.New(t)
	testFailingRandReader(t)
	got, err := NewFlowState()
	require.Error(err)
	assert.Nil(got)
	assert.Truef(errors.Is(err, ErrEntropy), "wanted \"%s\" but got \"%s\"", ErrEntropy, err)
}
