// Copyright (C) 2025 localfirst
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerEnsureSession(t *testing.T) {
	m := NewManager()
	defer m.Close()

	seedA, _ := NewSeed()
	seedB, _ := NewSeed()

	s1, existed, err := m.EnsureSession("bob", seedA, seedB, nil)
	require.NoError(t, err)
	assert.False(t, existed)

	// Same seeds land on the same session.
	s2, existed, err := m.EnsureSession("bob", seedB, seedA, nil)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, s1.GetID(), s2.GetID())

	got, ok := m.Get("bob")
	require.True(t, ok)
	assert.Equal(t, s1.GetID(), got.GetID())
}

func TestManagerReseedReplacesSession(t *testing.T) {
	m := NewManager()
	defer m.Close()

	seedA, _ := NewSeed()
	seedB, _ := NewSeed()
	seedC, _ := NewSeed()

	s1, _, err := m.EnsureSession("bob", seedA, seedB, nil)
	require.NoError(t, err)

	// A fresh negotiation with a new seed replaces the held session.
	s2, existed, err := m.EnsureSession("bob", seedA, seedC, nil)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.NotEqual(t, s1.GetID(), s2.GetID())

	got, ok := m.Get("bob")
	require.True(t, ok)
	assert.Equal(t, s2.GetID(), got.GetID())
}

func TestManagerRemove(t *testing.T) {
	m := NewManager()
	defer m.Close()

	seedA, _ := NewSeed()
	seedB, _ := NewSeed()
	_, _, err := m.EnsureSession("bob", seedA, seedB, nil)
	require.NoError(t, err)

	m.Remove("bob")
	_, ok := m.Get("bob")
	assert.False(t, ok)
}

func TestManagerStatus(t *testing.T) {
	m := NewManager()
	defer m.Close()

	seedA, _ := NewSeed()
	seedB, _ := NewSeed()
	seedC, _ := NewSeed()

	_, _, err := m.EnsureSession("bob", seedA, seedB, nil)
	require.NoError(t, err)
	expiring, _, err := m.EnsureSession("carol", seedA, seedC, &Config{MaxMessages: 1})
	require.NoError(t, err)
	_, err = expiring.Encrypt([]byte("x"))
	require.NoError(t, err)

	st := m.GetStatus()
	assert.Equal(t, 2, st.TotalSessions)
	assert.Equal(t, 1, st.ActiveSessions)
	assert.Equal(t, 1, st.ExpiredSessions)
}

func TestManagerSeenNonce(t *testing.T) {
	m := NewManager()
	defer m.Close()

	assert.False(t, m.SeenNonce("bob", "nonce-1"))
	assert.True(t, m.SeenNonce("bob", "nonce-1"), "second sighting is a replay")
	assert.False(t, m.SeenNonce("carol", "nonce-1"), "nonces are scoped per peer")
}
