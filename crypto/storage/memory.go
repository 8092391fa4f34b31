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

// Package storage holds keypairs in process memory. Each entry records
// when it was stored, which is what lets the rotation layer answer "is
// this key due for replacement" without a separate bookkeeping table.
package storage

import (
	"sort"
	"sync"
	"time"

	tgcrypto "github.com/localfirst/teamgraph/crypto"
)

// entry is one stored keypair plus its bookkeeping.
type entry struct {
	pair     tgcrypto.KeyPair
	storedAt time.Time
}

// memoryKeyStorage implements tgcrypto.KeyStorage and tgcrypto.KeyAger.
type memoryKeyStorage struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   func() time.Time
}

// NewMemoryKeyStorage creates a new in-memory key storage
func NewMemoryKeyStorage() tgcrypto.KeyStorage {
	return &memoryKeyStorage{
		entries: make(map[string]entry),
		clock:   time.Now,
	}
}

// Store stores a key pair with the given ID, stamping the store time.
// Storing over an existing ID resets its age.
func (s *memoryKeyStorage) Store(id string, keyPair tgcrypto.KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = entry{pair: keyPair, storedAt: s.clock()}
	return nil
}

// Load loads a key pair by ID
func (s *memoryKeyStorage) Load(id string) (tgcrypto.KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, exists := s.entries[id]
	if !exists {
		return nil, tgcrypto.ErrKeyNotFound
	}
	return e.pair, nil
}

// Delete removes a key pair by ID
func (s *memoryKeyStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[id]; !exists {
		return tgcrypto.ErrKeyNotFound
	}
	delete(s.entries, id)
	return nil
}

// List returns all stored key IDs in sorted order
func (s *memoryKeyStorage) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Exists checks if a key exists
func (s *memoryKeyStorage) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.entries[id]
	return exists
}

// StoredAt implements tgcrypto.KeyAger: when id's key was last stored.
func (s *memoryKeyStorage) StoredAt(id string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, exists := s.entries[id]
	if !exists {
		return time.Time{}, false
	}
	return e.storedAt, true
}
