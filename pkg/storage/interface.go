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

// Package storage defines the persistence contract the multi-share
// coordinator saves its shares through, with in-memory and PostgreSQL
// implementations in subpackages.
package storage

import "context"

// ShareStore persists ShareRecords keyed by share id.
type ShareStore interface {
	// Put creates or replaces the record for record.ShareID
	Put(ctx context.Context, record *ShareRecord) error

	// Get retrieves a record by share id
	Get(ctx context.Context, shareID string) (*ShareRecord, error)

	// List returns every stored record
	List(ctx context.Context) ([]*ShareRecord, error)

	// Delete removes a record by share id
	Delete(ctx context.Context, shareID string) error
}

// Store is the root persistence handle.
type Store interface {
	ShareStore() ShareStore

	// Close closes the storage connection
	Close() error

	// Ping checks the storage connection
	Ping(ctx context.Context) error
}
