// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestResolveIsStable verifies repeated resolves return the same handle.
func TestResolveIsStable(t *testing.T) {
	m := NewMap()

	h1, created, err := m.Resolve("Employee", "42")
	require.NoError(t, err)
	assert.True(t, created)

	h2, created, err := m.Resolve("Employee", "42")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, h1, h2)

	// Same resource id under a different entity is a different resource.
	h3, created, err := m.Resolve("Department", "42")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, h1, h3)
}

// TestResolveConcurrent verifies concurrent resolves of the same resource
// converge on one handle.
func TestResolveConcurrent(t *testing.T) {
	m := NewMap()

	const n = 32
	handles := make([]Handle, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			h, _, err := m.Resolve("Employee", "42")
			require.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		assert.Equal(t, handles[0], handles[i])
	}
	assert.Equal(t, 1, m.Len())
}

// TestRegisterConflict verifies rebinding a resource id fails.
func TestRegisterConflict(t *testing.T) {
	m := NewMap()

	h, _, err := m.Resolve("Employee", "42")
	require.NoError(t, err)

	// Re-registering the same binding is a no-op.
	require.NoError(t, m.Register("Employee", "42", h))

	other := m.Mint("Employee")
	err = m.Register("Employee", "42", other)
	assert.ErrorIs(t, err, ErrIdentityConflict)

	// The original binding is untouched.
	got, ok := m.Lookup("Employee", "42")
	require.True(t, ok)
	assert.Equal(t, h, got)
}

// TestMintThenRegister verifies the unidentified-to-identified transition.
func TestMintThenRegister(t *testing.T) {
	m := NewMap()

	h := m.Mint("Employee")
	_, ok := m.ResourceID(h)
	assert.False(t, ok, "freshly minted handle has no resource id")

	require.NoError(t, m.Register("Employee", "42", h))

	id, ok := m.ResourceID(h)
	require.True(t, ok)
	assert.Equal(t, "42", id)

	got, _, err := m.Resolve("Employee", "42")
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

// TestEmptyResourceID verifies empty identifiers are rejected.
func TestEmptyResourceID(t *testing.T) {
	m := NewMap()

	_, _, err := m.Resolve("Employee", "")
	assert.ErrorIs(t, err, ErrEmptyResourceID)

	err = m.Register("Employee", "", m.Mint("Employee"))
	assert.ErrorIs(t, err, ErrEmptyResourceID)
}
