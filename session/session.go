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
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// keyLabel is the domain-separation prefix mixed into the session-key
// hash so the key can never collide with any other use of the seeds.
const keyLabel = "session-key"

// SecureSession implements Session with ChaCha20-Poly1305 AEAD.
type SecureSession struct {
	id           string
	peerID       string
	createdAt    time.Time
	lastUsedAt   time.Time
	messageCount int
	config       Config
	closed       bool

	// sessionKey is the negotiated symmetric key both peers computed from
	// their exchanged seeds. It is NOT either raw seed.
	sessionKey []byte
	encryptKey []byte
	aead       cipher.AEAD
}

// NewSeed generates one side's 32-byte random half of a session key.
func NewSeed() ([]byte, error) {
	seed := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}
	return seed, nil
}

// DeriveSessionKey computes the shared session key from the two peers'
// seeds: hash(label || min(seedA, seedB) || max(seedA, seedB)). The
// canonical ordering makes the derivation order-independent, so both
// peers compute an identical key no matter who generated which seed.
func DeriveSessionKey(seedA, seedB []byte) ([]byte, error) {
	if len(seedA) == 0 || len(seedB) == 0 {
		return nil, fmt.Errorf("empty seed")
	}
	lo, hi := canonicalOrder(seedA, seedB)
	h := sha256.New()
	h.Write([]byte(keyLabel))
	h.Write(lo)
	h.Write(hi)
	return h.Sum(nil), nil
}

// ComputeSessionID deterministically maps a session key to a compact
// session ID, identical on both peers.
func ComputeSessionID(sessionKey []byte) (string, error) {
	if len(sessionKey) == 0 {
		return "", fmt.Errorf("empty session key")
	}
	h := sha256.New()
	h.Write([]byte("session-id"))
	h.Write(sessionKey)
	full := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(full[:16]), nil
}

// canonicalOrder returns the two byte slices in lexicographic order.
// This ensures both peers hash identical bytes.
func canonicalOrder(a, b []byte) (lo, hi []byte) {
	if bytes.Compare(a, b) <= 0 {
		return a, b
	}
	return b, a
}

// NewSecureSession creates a session over an already-negotiated key.
func NewSecureSession(peerID string, sessionKey []byte, config Config) (*SecureSession, error) {
	if peerID == "" || len(sessionKey) == 0 {
		return nil, fmt.Errorf("invalid inputs")
	}
	sid, err := ComputeSessionID(sessionKey)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sess := &SecureSession{
		id:         sid,
		peerID:     peerID,
		createdAt:  now,
		lastUsedAt: now,
		config:     withDefaults(config),
		sessionKey: append([]byte(nil), sessionKey...),
	}

	if err := sess.deriveKeys(); err != nil {
		return nil, fmt.Errorf("failed to derive keys: %w", err)
	}

	aead, err := chacha20poly1305.New(sess.encryptKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	sess.aead = aead

	return sess, nil
}

// NewSecureSessionFromSeeds derives the session key from the two peers'
// seeds and constructs the session, so both peers get identical id+keys.
func NewSecureSessionFromSeeds(peerID string, seedA, seedB []byte, cfg Config) (*SecureSession, error) {
	key, err := DeriveSessionKey(seedA, seedB)
	if err != nil {
		return nil, err
	}
	return NewSecureSession(peerID, key, cfg)
}

// deriveKeys derives the AEAD encryption key from the session key using
// HKDF, with the session ID as salt.
func (s *SecureSession) deriveKeys() error {
	salt := []byte(s.id)
	hkdfEnc := hkdf.New(sha256.New, s.sessionKey, salt, []byte("encryption"))
	s.encryptKey = make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdfEnc, s.encryptKey); err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return nil
}

// GetID returns the session identifier
func (s *SecureSession) GetID() string {
	return s.id
}

// GetPeerID returns the peer this session encrypts traffic for.
func (s *SecureSession) GetPeerID() string {
	return s.peerID
}

// GetCreatedAt returns when the session was created
func (s *SecureSession) GetCreatedAt() time.Time {
	return s.createdAt
}

// GetLastUsedAt returns the last activity timestamp
func (s *SecureSession) GetLastUsedAt() time.Time {
	return s.lastUsedAt
}

// IsExpired checks if the session has expired based on configured policies
func (s *SecureSession) IsExpired() bool {
	if s.closed {
		return true
	}

	now := time.Now()

	if s.config.MaxAge > 0 && now.After(s.createdAt.Add(s.config.MaxAge)) {
		return true
	}

	if s.config.IdleTimeout > 0 && now.After(s.lastUsedAt.Add(s.config.IdleTimeout)) {
		return true
	}

	if s.config.MaxMessages > 0 && s.messageCount >= s.config.MaxMessages {
		return true
	}

	return false
}

// UpdateLastUsed updates the last activity timestamp and increments message count
func (s *SecureSession) UpdateLastUsed() {
	s.lastUsedAt = time.Now()
	s.messageCount++
}

// Close marks the session as closed and zeroes key material.
func (s *SecureSession) Close() error {
	s.closed = true

	for i := range s.encryptKey {
		s.encryptKey[i] = 0
	}
	for i := range s.sessionKey {
		s.sessionKey[i] = 0
	}

	return nil
}

// GetMessageCount returns the number of messages processed
func (s *SecureSession) GetMessageCount() int {
	return s.messageCount
}

// GetConfig returns the session configuration
func (s *SecureSession) GetConfig() Config {
	return s.config
}

// Encrypt encrypts plaintext using ChaCha20-Poly1305.
// Output format: nonce || ciphertext.
func (s *SecureSession) Encrypt(plaintext []byte) ([]byte, error) {
	if s.IsExpired() {
		return nil, fmt.Errorf("session expired")
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends the ciphertext and authentication tag
	ciphertext := s.aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, len(nonce)+len(ciphertext))
	copy(out, nonce)
	copy(out[len(nonce):], ciphertext)

	s.UpdateLastUsed()
	return out, nil
}

// Decrypt decrypts data produced by Encrypt.
// Expects input format: nonce || ciphertext.
func (s *SecureSession) Decrypt(data []byte) ([]byte, error) {
	if s.IsExpired() {
		return nil, fmt.Errorf("session expired")
	}
	if len(data) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("data too short")
	}

	nonce := data[:chacha20poly1305.NonceSize]
	ciphertext := data[chacha20poly1305.NonceSize:]

	// Open verifies authenticity and decrypts
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	s.UpdateLastUsed()
	return plaintext, nil
}
