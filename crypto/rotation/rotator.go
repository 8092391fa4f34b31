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

// Package rotation replaces stored keypairs with fresh generations. It
// mirrors how the team's keysets rotate: every rotation bumps a monotone
// per-id generation, and superseded keys are optionally retained under a
// generation-addressed ID so material sealed to an old generation stays
// openable.
package rotation

import (
	"fmt"
	"sync"
	"time"

	tgcrypto "github.com/localfirst/teamgraph/crypto"
	"github.com/localfirst/teamgraph/crypto/keys"
)

// minters maps each rotatable key type to its generator, so Rotate never
// changes a key's type out from under its users.
var minters = map[tgcrypto.KeyType]func() (tgcrypto.KeyPair, error){
	tgcrypto.KeyTypeEd25519:   keys.GenerateEd25519KeyPair,
	tgcrypto.KeyTypeSecp256k1: keys.GenerateSecp256k1KeyPair,
	tgcrypto.KeyTypeX25519:    keys.GenerateX25519KeyPair,
}

// keyState is everything the rotator tracks per stored key id.
type keyState struct {
	generation uint32
	history    []tgcrypto.KeyRotationEvent
	busy       bool
}

// rotator implements tgcrypto.KeyRotator over a KeyStorage.
type rotator struct {
	mu      sync.Mutex
	storage tgcrypto.KeyStorage
	config  tgcrypto.KeyRotationConfig
	states  map[string]*keyState
	clock   func() time.Time
}

// NewKeyRotator creates a rotator over storage. Old keys are dropped by
// default; SetRotationConfig enables retention and age tracking.
func NewKeyRotator(storage tgcrypto.KeyStorage) tgcrypto.KeyRotator {
	return &rotator{
		storage: storage,
		states:  make(map[string]*keyState),
		clock:   time.Now,
	}
}

// retainedID addresses a superseded key by the generation it held,
// mirroring the scope/generation IDs keysets use.
func retainedID(id string, generation uint32) string {
	return fmt.Sprintf("%s@%d", id, generation)
}

// Rotate replaces the key stored under id with a fresh one of the same
// type and bumps its generation.
func (r *rotator) Rotate(id string) (tgcrypto.KeyPair, error) {
	r.mu.Lock()
	st, ok := r.states[id]
	if !ok {
		st = &keyState{}
		r.states[id] = st
	}
	if st.busy {
		r.mu.Unlock()
		return nil, fmt.Errorf("key %s is already being rotated", id)
	}
	st.busy = true
	cfg := r.config
	oldGen := st.generation
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		st.busy = false
		r.mu.Unlock()
	}()

	old, err := r.storage.Load(id)
	if err != nil {
		return nil, err
	}

	mint, ok := minters[old.Type()]
	if !ok {
		return nil, fmt.Errorf("unsupported key type for rotation: %s", old.Type())
	}
	next, err := mint()
	if err != nil {
		return nil, fmt.Errorf("failed to generate new key: %w", err)
	}

	if cfg.KeepOldKeys {
		if err := r.storage.Store(retainedID(id, oldGen), old); err != nil {
			return nil, fmt.Errorf("failed to retain old key: %w", err)
		}
	}
	if err := r.storage.Store(id, next); err != nil {
		return nil, fmt.Errorf("failed to store new key: %w", err)
	}

	r.mu.Lock()
	st.generation = oldGen + 1
	st.history = append(st.history, tgcrypto.KeyRotationEvent{
		Timestamp:  r.clock(),
		Generation: st.generation,
		OldKeyID:   old.ID(),
		NewKeyID:   next.ID(),
		Reason:     "rotation requested",
	})
	r.mu.Unlock()

	return next, nil
}

// Generation returns the current generation of id's key; false if the
// rotator has never rotated it.
func (r *rotator) Generation(id string) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok || len(st.history) == 0 {
		return 0, false
	}
	return st.generation, true
}

// Due reports whether id's key has outlived the configured MaxKeyAge.
// Without age tracking (no MaxKeyAge, or a storage that does not record
// store times) nothing is ever due.
func (r *rotator) Due(id string) bool {
	r.mu.Lock()
	maxAge := r.config.MaxKeyAge
	now := r.clock()
	r.mu.Unlock()
	if maxAge <= 0 {
		return false
	}
	ager, ok := r.storage.(tgcrypto.KeyAger)
	if !ok {
		return false
	}
	storedAt, ok := ager.StoredAt(id)
	if !ok {
		return false
	}
	return now.Sub(storedAt) > maxAge
}

// SetRotationConfig sets the rotation configuration.
func (r *rotator) SetRotationConfig(config tgcrypto.KeyRotationConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
}

// GetRotationHistory returns the rotation history for a key, newest
// first.
func (r *rotator) GetRotationHistory(id string) ([]tgcrypto.KeyRotationEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[id]
	if !ok {
		return []tgcrypto.KeyRotationEvent{}, nil
	}
	out := make([]tgcrypto.KeyRotationEvent, len(st.history))
	for i, event := range st.history {
		out[len(st.history)-1-i] = event
	}
	return out, nil
}
