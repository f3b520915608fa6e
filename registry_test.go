// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateGet(t *testing.T) {
	reg := NewRegistry(newFakeHost())
	s := reg.Create("h1")
	require.NotNil(t, s)

	got, ok := reg.Get("h1")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryCreateIsIdempotent(t *testing.T) {
	reg := NewRegistry(newFakeHost())
	s1 := reg.Create("h2")
	s2 := reg.Create("h2")
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryRemoveRunsHangupAndCleansUpIdleSession(t *testing.T) {
	reg := NewRegistry(newFakeHost())
	s := reg.Create("h3")

	reg.Remove("h3")

	_, ok := reg.Get("h3")
	assert.False(t, ok, "removed handle must no longer be findable")
	assert.Equal(t, 0, reg.Len())
	assert.True(t, s.IsHangingUp())
	assert.True(t, s.IsDestroyed(), "idle session must be cleaned up inline")
}

func TestRegistryRemoveUnknownHandleIsNoop(t *testing.T) {
	reg := NewRegistry(newFakeHost())
	assert.NotPanics(t, func() { reg.Remove("never-existed") })
}

func TestRegistryHangupIdempotent(t *testing.T) {
	reg := NewRegistry(newFakeHost())
	s := reg.Create("h4")

	reg.Hangup(s)
	reg.Hangup(s)
	assert.True(t, s.IsHangingUp())
}
