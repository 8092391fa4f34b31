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

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/localfirst/teamgraph/pkg/storage"
)

// ShareStore implements storage.ShareStore for PostgreSQL
type ShareStore struct {
	pool *pgxpool.Pool
}

// Put creates or replaces the record for record.ShareID
func (s *ShareStore) Put(ctx context.Context, record *storage.ShareRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shares (share_id, serialized_graph, sealed_keyring, document_ids)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (share_id) DO UPDATE SET
			serialized_graph = EXCLUDED.serialized_graph,
			sealed_keyring   = EXCLUDED.sealed_keyring,
			document_ids     = EXCLUDED.document_ids,
			updated_at       = now()
	`, record.ShareID, record.SerializedGraph, record.SealedKeyring, record.DocumentIDs)
	if err != nil {
		return fmt.Errorf("failed to put share: %w", err)
	}
	return nil
}

// Get retrieves a record by share id
func (s *ShareStore) Get(ctx context.Context, shareID string) (*storage.ShareRecord, error) {
	record := &storage.ShareRecord{}
	err := s.pool.QueryRow(ctx, `
		SELECT share_id, serialized_graph, sealed_keyring, document_ids, created_at, updated_at
		FROM shares WHERE share_id = $1
	`, shareID).Scan(
		&record.ShareID, &record.SerializedGraph, &record.SealedKeyring,
		&record.DocumentIDs, &record.CreatedAt, &record.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get share: %w", err)
	}
	return record, nil
}

// List returns every stored record, ordered by share id
func (s *ShareStore) List(ctx context.Context) ([]*storage.ShareRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT share_id, serialized_graph, sealed_keyring, document_ids, created_at, updated_at
		FROM shares ORDER BY share_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list shares: %w", err)
	}
	defer rows.Close()

	var out []*storage.ShareRecord
	for rows.Next() {
		record := &storage.ShareRecord{}
		if err := rows.Scan(
			&record.ShareID, &record.SerializedGraph, &record.SealedKeyring,
			&record.DocumentIDs, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// Delete removes a record by share id
func (s *ShareStore) Delete(ctx context.Context, shareID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM shares WHERE share_id = $1`, shareID)
	if err != nil {
		return fmt.Errorf("failed to delete share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
