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
	"fmt"
	"sync"
	"time"
)

// Manager holds the sessions a process has negotiated across its
// connections, keyed by peer ID, and expires them in the background.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]Session // peerID -> session

	defaultConfig Config
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}

	nonceCache *NonceCache // identity-challenge replay guard
}

// NewManager creates a new session manager with default configuration
func NewManager() *Manager {
	m := &Manager{
		sessions:    make(map[string]Session),
		stopCleanup: make(chan struct{}),
		defaultConfig: Config{
			MaxAge:      time.Hour,
			IdleTimeout: 10 * time.Minute,
			MaxMessages: 10000,
		},
		nonceCache: NewNonceCache(10 * time.Minute),
	}

	// Background cleanup every 30 seconds
	m.cleanupTicker = time.NewTicker(30 * time.Second)
	go m.runCleanup()

	return m
}

// EnsureSession derives the session key from the two seeds and creates a
// session for peerID, or returns the existing one if the derivation lands
// on a session already held (both peers deterministically compute the
// same session ID from the same pair of seeds).
func (m *Manager) EnsureSession(peerID string, seedA, seedB []byte, cfg *Config) (Session, bool, error) {
	key, err := DeriveSessionKey(seedA, seedB)
	if err != nil {
		return nil, false, fmt.Errorf("derive key: %w", err)
	}
	sid, err := ComputeSessionID(key)
	if err != nil {
		return nil, false, fmt.Errorf("compute id: %w", err)
	}

	// Fast path
	m.mu.RLock()
	if s, ok := m.sessions[peerID]; ok && s.GetID() == sid && !s.IsExpired() {
		m.mu.RUnlock()
		return s, true, nil
	}
	m.mu.RUnlock()

	newCfg := m.defaultConfig
	if cfg != nil {
		newCfg = withDefaults(*cfg)
	}
	s, err := NewSecureSession(peerID, key, newCfg)
	if err != nil {
		return nil, false, fmt.Errorf("new secure session: %w", err)
	}

	// Double-checked put
	m.mu.Lock()
	if exist, ok := m.sessions[peerID]; ok && exist.GetID() == sid && !exist.IsExpired() {
		m.mu.Unlock()
		_ = s.Close()
		return exist, true, nil
	}
	m.sessions[peerID] = s
	m.mu.Unlock()

	return s, false, nil
}

// Get returns the live session for peerID, if any.
func (m *Manager) Get(peerID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[peerID]
	if !ok || s.IsExpired() {
		return nil, false
	}
	return s, true
}

// Remove closes and drops the session for peerID, along with any
// challenge nonces recorded against it.
func (m *Manager) Remove(peerID string) {
	m.mu.Lock()
	s, ok := m.sessions[peerID]
	delete(m.sessions, peerID)
	m.mu.Unlock()
	if ok {
		_ = s.Close()
	}
	m.nonceCache.DeleteKey(peerID)
}

// SeenNonce records an identity-challenge nonce from peerID and reports
// whether it was already seen within the replay window.
func (m *Manager) SeenNonce(peerID, nonce string) bool {
	return m.nonceCache.Seen(peerID, nonce)
}

// GetStatus returns counts of total, active, and expired sessions.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Status{TotalSessions: len(m.sessions)}
	for _, s := range m.sessions {
		if s.IsExpired() {
			st.ExpiredSessions++
		} else {
			st.ActiveSessions++
		}
	}
	return st
}

// Close stops the background cleanup and closes every held session.
func (m *Manager) Close() {
	close(m.stopCleanup)
	m.cleanupTicker.Stop()
	m.nonceCache.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		_ = s.Close()
		delete(m.sessions, id)
	}
}

func (m *Manager) runCleanup() {
	for {
		select {
		case <-m.cleanupTicker.C:
			m.cleanupExpired()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *Manager) cleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.IsExpired() {
			_ = s.Close()
			delete(m.sessions, id)
			m.nonceCache.DeleteKey(id)
		}
	}
}
