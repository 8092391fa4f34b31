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

package keys

import (
	"bytes"
	"testing"

	"github.com/localfirst/teamgraph/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecp256k1KeyPair(t *testing.T) {
	t.Run("GenerateKeyPair", func(t *testing.T) {
		keyPair, err := GenerateSecp256k1KeyPair()
		require.NoError(t, err)
		assert.NotNil(t, keyPair)
		assert.Equal(t, crypto.KeyTypeSecp256k1, keyPair.Type())
		assert.NotNil(t, keyPair.PublicKey())
		assert.NotNil(t, keyPair.PrivateKey())
		assert.Len(t, keyPair.ID(), 16)
	})

	t.Run("SignAndVerify", func(t *testing.T) {
		keyPair, err := GenerateSecp256k1KeyPair()
		require.NoError(t, err)

		message := []byte("test message")
		signature, err := keyPair.Sign(message)
		require.NoError(t, err)
		assert.Len(t, signature, secp256k1SignatureSize)

		require.NoError(t, keyPair.Verify(message, signature))

		err = keyPair.Verify([]byte("wrong message"), signature)
		assert.Equal(t, crypto.ErrInvalidSignature, err)
	})

	t.Run("SigningIsDeterministic", func(t *testing.T) {
		keyPair, err := GenerateSecp256k1KeyPair()
		require.NoError(t, err)

		message := []byte("the same link body")
		sig1, err := keyPair.Sign(message)
		require.NoError(t, err)
		sig2, err := keyPair.Sign(message)
		require.NoError(t, err)

		assert.True(t, bytes.Equal(sig1, sig2),
			"RFC 6979 signing must yield identical bytes for identical input")
	})

	t.Run("VerifyRejectsTamperedSignature", func(t *testing.T) {
		keyPair, err := GenerateSecp256k1KeyPair()
		require.NoError(t, err)

		message := []byte("payload")
		signature, err := keyPair.Sign(message)
		require.NoError(t, err)

		tampered := append([]byte(nil), signature...)
		tampered[10] ^= 0xff
		assert.Equal(t, crypto.ErrInvalidSignature, keyPair.Verify(message, tampered))
	})

	t.Run("VerifyRejectsMalformedSignature", func(t *testing.T) {
		keyPair, err := GenerateSecp256k1KeyPair()
		require.NoError(t, err)

		assert.Equal(t, crypto.ErrInvalidSignature, keyPair.Verify([]byte("m"), []byte("short")))
		assert.Equal(t, crypto.ErrInvalidSignature,
			keyPair.Verify([]byte("m"), make([]byte, secp256k1SignatureSize)),
			"all-zero scalars are not a signature")
	})

	t.Run("VerifyRejectsOtherKeysSignature", func(t *testing.T) {
		alice, err := GenerateSecp256k1KeyPair()
		require.NoError(t, err)
		mallory, err := GenerateSecp256k1KeyPair()
		require.NoError(t, err)

		message := []byte("signed by alice")
		signature, err := alice.Sign(message)
		require.NoError(t, err)

		assert.Equal(t, crypto.ErrInvalidSignature, mallory.Verify(message, signature))
	})

	t.Run("DistinctKeysDistinctIDs", func(t *testing.T) {
		a, err := GenerateSecp256k1KeyPair()
		require.NoError(t, err)
		b, err := GenerateSecp256k1KeyPair()
		require.NoError(t, err)
		assert.NotEqual(t, a.ID(), b.ID())
	})
}
