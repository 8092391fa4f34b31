package coordinator

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/localfirst/teamgraph/internal/logger"
	"github.com/localfirst/teamgraph/keyset"
)

// keyringEntry is the serialized form of one held secret keyset inside a
// sealed keyring blob.
type keyringEntry struct {
	Scope            keyset.Scope `json:"scope"`
	Generation       uint32       `json:"generation"`
	SigningSeed      []byte       `json:"signingSeed"`
	EncryptionSecret []byte       `json:"encryptionSecret"`
}

// storageKey derives the symmetric key that seals a device's persisted
// keyrings from the device's own encryption secret.
func storageKey(device *keyset.Keyset) ([]byte, error) {
	_, encSecret, err := device.ExportSecrets()
	if err != nil {
		return nil, fmt.Errorf("coordinator: device keyset has no secrets: %w", err)
	}
	kdf := hkdf.New(sha256.New, encSecret, nil, []byte("share-store-sealing"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// SealKeyring encrypts a team's held secret keysets with the local
// device's symmetric storage key, producing the sealedKeyring blob of a
// persisted share record.
func SealKeyring(device *keyset.Keyset, ring map[string]*keyset.Keyset) ([]byte, error) {
	var entries []keyringEntry
	for _, k := range ring {
		if !k.HasSecrets() {
			continue
		}
		signingSeed, encSecret, err := k.ExportSecrets()
		if err != nil {
			continue
		}
		entries = append(entries, keyringEntry{
			Scope:            k.Scope,
			Generation:       k.Generation,
			SigningSeed:      signingSeed,
			EncryptionSecret: encSecret,
		})
	}
	plaintext, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}

	key, err := storageKey(device)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	out := aead.Seal(nonce, nonce, plaintext, nil)
	return out, nil
}

// OpenKeyring reverses SealKeyring. Entries that fail to restore are
// skipped with a warning rather than failing the whole keyring.
func OpenKeyring(device *keyset.Keyset, sealed []byte) (map[string]*keyset.Keyset, error) {
	key, err := storageKey(device)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("coordinator: sealed keyring too short")
	}
	plaintext, err := aead.Open(nil, sealed[:chacha20poly1305.NonceSize], sealed[chacha20poly1305.NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open sealed keyring: %w", err)
	}

	var entries []keyringEntry
	if err := json.Unmarshal(plaintext, &entries); err != nil {
		return nil, err
	}
	ring := make(map[string]*keyset.Keyset, len(entries))
	for _, e := range entries {
		k, err := keyset.FromSecrets(e.Scope, e.Generation, e.SigningSeed, e.EncryptionSecret)
		if err != nil {
			logger.Warn("coordinator: skipping unrestorable keyring entry",
				logger.Scope(e.Scope), logger.Generation(e.Generation), logger.Error(err))
			continue
		}
		ring[k.PublicOnly().ID()] = k
	}
	return ring, nil
}
