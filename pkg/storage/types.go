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

import "time"

// ShareRecord is the persisted form of one share the coordinator holds:
// the team's serialized graph, the local keyring sealed with the local
// device's symmetric key, and the application document ids synced under
// this share. Everything in it is safe at rest — the graph is public
// material and the keyring is encrypted before it gets here.
type ShareRecord struct {
	ShareID         string    `json:"share_id"`
	SerializedGraph []byte    `json:"serialized_graph"`
	SealedKeyring   []byte    `json:"sealed_keyring"`
	DocumentIDs     []string  `json:"document_ids,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
