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

// Package session implements the symmetric secure channel a connection
// runs after session-key negotiation: a ChaCha20-Poly1305 session derived
// order-independently from the two peers' sealed seeds, a manager for the
// sessions a process holds across its connections, and a replay cache for
// identity-challenge nonces.
package session

import (
	"time"
)

// Session is an active encrypted channel with one peer.
type Session interface {
	// Identification
	GetID() string
	GetPeerID() string
	GetCreatedAt() time.Time
	GetLastUsedAt() time.Time

	// Lifecycle
	IsExpired() bool
	UpdateLastUsed()
	Close() error

	// Cryptographic operations
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(data []byte) ([]byte, error)

	// Statistics
	GetMessageCount() int
	GetConfig() Config
}

// Config defines session policies and limits
type Config struct {
	MaxAge      time.Duration `json:"maxAge"`      // absolute expiration (ex: 1 hour)
	IdleTimeout time.Duration `json:"idleTimeout"` // idle timeout (ex: 10 minutes)
	MaxMessages int           `json:"maxMessages"`
}

func withDefaults(c Config) Config {
	if c.MaxAge == 0 {
		c.MaxAge = time.Hour
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.MaxMessages == 0 {
		c.MaxMessages = 10000
	}
	return c
}

// Status provides information about session status
type Status struct {
	TotalSessions   int `json:"totalSessions"`
	ActiveSessions  int `json:"activeSessions"`
	ExpiredSessions int `json:"expiredSessions"`
}
