// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"testing"

	"github.com/hashicorp/go-uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewID()
		require.NoError(err)
		assert.Equal(DefaultIDLength, len(got))
		assert.Equal(43, len(got))
		assert.Regexp("^[A-Za-z0-9_-]+$", got)
	})
	t.Run("unique", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		seen := map[string]bool{}
		for i := 0; i < 1000; i++ {
			got, err := NewID()
			require.NoError(err)
			assert.False(seen[got])
			seen[got] = true
		}
	})
	t.Run("entropy-unavailable", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		testFailingRandReader(t)
		got, err := NewID()
		require.Error(err)
		assert.Empty(got)
		assert.Truef(errors.Is(err, ErrEntropy), "wanted \"%s\" but got \"%s\"", ErrEntropy, err)
	})
}

func TestNewSessionID(t *testing.T) {
	t.Run("basics", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		got, err := NewSessionID()
		require.NoError(err)
		_, err = uuid.ParseUUID(got)
		assert.NoError(err)
		other, err := NewSessionID()
		require.NoError(err)
		assert.NotEqual(got, other)
	})
	t.Run("entropy-unavailable", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		testFailingRandReader(t)
		got, err := NewSessionID()
		require.Error(err)
		assert.Empty(got)
		assert.ErrorIs(err, ErrEntropy)
	})
}
