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

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localfirst/teamgraph/pkg/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	record := &storage.ShareRecord{
		ShareID:         "share-1",
		SerializedGraph: []byte(`{"root":"aa"}`),
		SealedKeyring:   []byte{1, 2, 3},
		DocumentIDs:     []string{"doc-1"},
	}
	require.NoError(t, s.Put(ctx, record))

	got, err := s.Get(ctx, "share-1")
	require.NoError(t, err)
	assert.Equal(t, record.SerializedGraph, got.SerializedGraph)
	assert.Equal(t, record.SealedKeyring, got.SealedKeyring)
	assert.Equal(t, record.DocumentIDs, got.DocumentIDs)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestGetUnknownShare(t *testing.T) {
	s := NewStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPutReplacesAndKeepsCreatedAt(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &storage.ShareRecord{ShareID: "share-1", SealedKeyring: []byte{1}}))
	first, err := s.Get(ctx, "share-1")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, &storage.ShareRecord{ShareID: "share-1", SealedKeyring: []byte{2}}))
	second, err := s.Get(ctx, "share-1")
	require.NoError(t, err)

	assert.Equal(t, []byte{2}, second.SealedKeyring)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestListOrdersByShareID(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, s.Put(ctx, &storage.ShareRecord{ShareID: id}))
	}
	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "a", records[0].ShareID)
	assert.Equal(t, "c", records[2].ShareID)
}

func TestDelete(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, &storage.ShareRecord{ShareID: "share-1"}))
	require.NoError(t, s.Delete(ctx, "share-1"))
	_, err := s.Get(ctx, "share-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "share-1"), storage.ErrNotFound)
}

func TestMutatingReturnedRecordDoesNotAffectStore(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, &storage.ShareRecord{ShareID: "share-1", SealedKeyring: []byte{1, 2}}))

	got, err := s.Get(ctx, "share-1")
	require.NoError(t, err)
	got.SealedKeyring[0] = 99

	again, err := s.Get(ctx, "share-1")
	require.NoError(t, err)
	assert.Equal(t, byte(1), again.SealedKeyring[0])
}
