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

// Package memory implements storage.Store in process memory, for tests
// and ephemeral local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/localfirst/teamgraph/pkg/storage"
)

// Store implements the storage.Store interface with in-memory storage
type Store struct {
	mu     sync.RWMutex
	shares map[string]*storage.ShareRecord
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{shares: make(map[string]*storage.ShareRecord)}
}

// ShareStore returns the share store
func (s *Store) ShareStore() storage.ShareStore {
	return s
}

// Close is a no-op for the in-memory store
func (s *Store) Close() error {
	return nil
}

// Ping always succeeds for the in-memory store
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Put creates or replaces the record for record.ShareID
func (s *Store) Put(ctx context.Context, record *storage.ShareRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneRecord(record)
	now := time.Now()
	if existing, ok := s.shares[record.ShareID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.shares[record.ShareID] = cp
	return nil
}

// Get retrieves a record by share id
func (s *Store) Get(ctx context.Context, shareID string) (*storage.ShareRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.shares[shareID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneRecord(record), nil
}

// List returns every stored record, ordered by share id
func (s *Store) List(ctx context.Context) ([]*storage.ShareRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.ShareRecord, 0, len(s.shares))
	for _, record := range s.shares {
		out = append(out, cloneRecord(record))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShareID < out[j].ShareID })
	return out, nil
}

// Delete removes a record by share id
func (s *Store) Delete(ctx context.Context, shareID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[shareID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.shares, shareID)
	return nil
}

func cloneRecord(r *storage.ShareRecord) *storage.ShareRecord {
	cp := *r
	cp.SerializedGraph = append([]byte(nil), r.SerializedGraph...)
	cp.SealedKeyring = append([]byte(nil), r.SealedKeyring...)
	cp.DocumentIDs = append([]string(nil), r.DocumentIDs...)
	return &cp
}
