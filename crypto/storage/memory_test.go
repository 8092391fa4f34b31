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

package storage

import (
	"testing"
	"time"

	"github.com/localfirst/teamgraph/crypto"
	"github.com/localfirst/teamgraph/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKeyStorage(t *testing.T) {
	store := NewMemoryKeyStorage()

	t.Run("StoreAndLoadKeyPair", func(t *testing.T) {
		keyPair, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)

		require.NoError(t, store.Store("test-key", keyPair))

		loaded, err := store.Load("test-key")
		require.NoError(t, err)
		assert.Equal(t, keyPair.ID(), loaded.ID())
		assert.Equal(t, keyPair.Type(), loaded.Type())

		// The loaded key still signs, and the original verifies it.
		message := []byte("test message")
		signature, err := loaded.Sign(message)
		require.NoError(t, err)
		assert.NoError(t, keyPair.Verify(message, signature))
	})

	t.Run("LoadNonExistentKey", func(t *testing.T) {
		_, err := store.Load("non-existent")
		assert.Equal(t, crypto.ErrKeyNotFound, err)
	})

	t.Run("OverwriteExistingKey", func(t *testing.T) {
		keyPair1, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)
		keyPair2, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)

		require.NoError(t, store.Store("overwrite-test", keyPair1))
		require.NoError(t, store.Store("overwrite-test", keyPair2))

		loaded, err := store.Load("overwrite-test")
		require.NoError(t, err)
		assert.Equal(t, keyPair2.ID(), loaded.ID())
	})

	t.Run("DeleteKey", func(t *testing.T) {
		keyPair, err := keys.GenerateEd25519KeyPair()
		require.NoError(t, err)

		require.NoError(t, store.Store("delete-test", keyPair))
		assert.True(t, store.Exists("delete-test"))

		require.NoError(t, store.Delete("delete-test"))
		assert.False(t, store.Exists("delete-test"))

		_, err = store.Load("delete-test")
		assert.Equal(t, crypto.ErrKeyNotFound, err)
		assert.Equal(t, crypto.ErrKeyNotFound, store.Delete("delete-test"))
	})

	t.Run("ListKeysSorted", func(t *testing.T) {
		fresh := NewMemoryKeyStorage()
		for _, id := range []string{"charlie", "alice", "bob"} {
			keyPair, err := keys.GenerateEd25519KeyPair()
			require.NoError(t, err)
			require.NoError(t, fresh.Store(id, keyPair))
		}

		ids, err := fresh.List()
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob", "charlie"}, ids)
	})
}

func TestMemoryKeyStorageStoredAt(t *testing.T) {
	store := NewMemoryKeyStorage().(*memoryKeyStorage)

	_, ok := store.StoredAt("missing")
	assert.False(t, ok)

	keyPair, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)

	before := time.Now()
	require.NoError(t, store.Store("aged", keyPair))
	storedAt, ok := store.StoredAt("aged")
	require.True(t, ok)
	assert.False(t, storedAt.Before(before))

	// Re-storing resets the age.
	store.clock = func() time.Time { return before.Add(time.Hour) }
	require.NoError(t, store.Store("aged", keyPair))
	storedAt, ok = store.StoredAt("aged")
	require.True(t, ok)
	assert.Equal(t, before.Add(time.Hour), storedAt)
}

func TestMemoryKeyStorageImplementsKeyAger(t *testing.T) {
	var _ crypto.KeyAger = NewMemoryKeyStorage().(*memoryKeyStorage)
}
