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
	"crypto"
	"crypto/sha256"
	"encoding/hex"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	tgcrypto "github.com/localfirst/teamgraph/crypto"
)

// secp256k1SignatureSize is the fixed compact encoding: 32-byte R
// followed by 32-byte S.
const secp256k1SignatureSize = 64

// secp256k1KeyPair implements the KeyPair interface for Secp256k1 keys.
// Signatures are deterministic (RFC 6979) over the SHA-256 digest of the
// message, so signing the same link twice yields identical bytes —
// content-addressed links must not change hash between retries.
type secp256k1KeyPair struct {
	privateKey *secp256k1.PrivateKey
	publicKey  *secp256k1.PublicKey
	id         string
}

// GenerateSecp256k1KeyPair generates a new Secp256k1 key pair
func GenerateSecp256k1KeyPair() (tgcrypto.KeyPair, error) {
	privateKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return newSecp256k1KeyPair(privateKey), nil
}

func newSecp256k1KeyPair(privateKey *secp256k1.PrivateKey) *secp256k1KeyPair {
	publicKey := privateKey.PubKey()
	digest := sha256.Sum256(publicKey.SerializeCompressed())
	return &secp256k1KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         hex.EncodeToString(digest[:8]),
	}
}

// PublicKey returns the public key
func (kp *secp256k1KeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey.ToECDSA()
}

// PrivateKey returns the private key
func (kp *secp256k1KeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey.ToECDSA()
}

// Type returns the key type
func (kp *secp256k1KeyPair) Type() tgcrypto.KeyType {
	return tgcrypto.KeyTypeSecp256k1
}

// ID returns a unique identifier for this key pair
func (kp *secp256k1KeyPair) ID() string {
	return kp.id
}

// Sign produces a deterministic compact signature over SHA-256(message).
func (kp *secp256k1KeyPair) Sign(message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig := secpecdsa.Sign(kp.privateKey, digest[:])

	out := make([]byte, secp256k1SignatureSize)
	r := sig.R()
	s := sig.S()
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	copy(out[:32], rBytes[:])
	copy(out[32:], sBytes[:])
	return out, nil
}

// Verify checks a compact signature against SHA-256(message).
func (kp *secp256k1KeyPair) Verify(message, signature []byte) error {
	sig, err := parseCompactSignature(signature)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(message)
	if !sig.Verify(digest[:], kp.publicKey) {
		return tgcrypto.ErrInvalidSignature
	}
	return nil
}

// parseCompactSignature decodes a 64-byte R||S signature, rejecting
// out-of-range scalars.
func parseCompactSignature(data []byte) (*secpecdsa.Signature, error) {
	if len(data) != secp256k1SignatureSize {
		return nil, tgcrypto.ErrInvalidSignature
	}
	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(data[:32]); overflow {
		return nil, tgcrypto.ErrInvalidSignature
	}
	if overflow := s.SetByteSlice(data[32:]); overflow {
		return nil, tgcrypto.ErrInvalidSignature
	}
	if r.IsZero() || s.IsZero() {
		return nil, tgcrypto.ErrInvalidSignature
	}
	return secpecdsa.NewSignature(&r, &s), nil
}
