package crypto

import (
	"crypto"
	"errors"
	"time"
)

// KeyType represents the type of cryptographic key
type KeyType string

const (
	KeyTypeEd25519   KeyType = "Ed25519"
	KeyTypeSecp256k1 KeyType = "Secp256k1"
	KeyTypeX25519    KeyType = "X25519"
)

// KeyFormat represents the format for key export/import
type KeyFormat string

const (
	KeyFormatJWK KeyFormat = "JWK"
	KeyFormatPEM KeyFormat = "PEM"
)

// KeyPair represents a cryptographic key pair
type KeyPair interface {
	// PublicKey returns the public key
	PublicKey() crypto.PublicKey
	
	// PrivateKey returns the private key
	PrivateKey() crypto.PrivateKey
	
	// Type returns the key type
	Type() KeyType
	
	// Sign signs the given message
	Sign(message []byte) ([]byte, error)
	
	// Verify verifies the signature
	Verify(message, signature []byte) error
	
	// ID returns a unique identifier for this key pair
	ID() string
}

// KeyExporter handles key export operations
type KeyExporter interface {
	// Export exports the key pair in the specified format
	Export(keyPair KeyPair, format KeyFormat) ([]byte, error)
	
	// ExportPublic exports only the public key
	ExportPublic(keyPair KeyPair, format KeyFormat) ([]byte, error)
}

// KeyImporter handles key import operations
type KeyImporter interface {
	// Import imports a key pair from the specified format
	Import(data []byte, format KeyFormat) (KeyPair, error)
	
	// ImportPublic imports only a public key
	ImportPublic(data []byte, format KeyFormat) (crypto.PublicKey, error)
}

// KeyStorage provides secure storage for keys
type KeyStorage interface {
	// Store stores a key pair with the given ID
	Store(id string, keyPair KeyPair) error
	
	// Load loads a key pair by ID
	Load(id string) (KeyPair, error)
	
	// Delete removes a key pair by ID
	Delete(id string) error
	
	// List returns all stored key IDs
	List() ([]string, error)
	
	// Exists checks if a key exists
	Exists(id string) bool
}

// KeyRotationConfig represents configuration for key rotation
type KeyRotationConfig struct {
	// MaxKeyAge is how old a key may grow before Due reports it as
	// needing rotation. Zero disables age tracking.
	MaxKeyAge time.Duration

	// KeepOldKeys retains each superseded key under a
	// generation-addressed ID so material sealed to it stays openable.
	KeepOldKeys bool
}

// KeyRotator handles key rotation operations. Every stored key has a
// monotone generation counter, starting at 0 for the key as first
// stored and incremented by each rotation.
type KeyRotator interface {
	// Rotate replaces the key stored under id with a fresh one of the
	// same type and bumps its generation
	Rotate(id string) (KeyPair, error)

	// Generation returns the current generation of id's key; false if
	// the rotator has never rotated it
	Generation(id string) (uint32, bool)

	// Due reports whether id's key has outlived the configured MaxKeyAge
	Due(id string) bool

	// SetRotationConfig sets the rotation configuration
	SetRotationConfig(config KeyRotationConfig)

	// GetRotationHistory returns the rotation history for a key, newest
	// first
	GetRotationHistory(id string) ([]KeyRotationEvent, error)
}

// KeyRotationEvent represents a key rotation event
type KeyRotationEvent struct {
	Timestamp  time.Time
	Generation uint32 // generation the rotation produced
	OldKeyID   string
	NewKeyID   string
	Reason     string
}

// KeyAger is optionally implemented by a KeyStorage that tracks when
// each key was stored; the rotator uses it to answer Due.
type KeyAger interface {
	// StoredAt returns when id's key was last stored
	StoredAt(id string) (time.Time, bool)
}

// KeyManager is the main interface for key management
type KeyManager interface {
	// GenerateKeyPair generates a new key pair
	GenerateKeyPair(keyType KeyType) (KeyPair, error)
	
	// GetExporter returns the key exporter
	GetExporter() KeyExporter
	
	// GetImporter returns the key importer
	GetImporter() KeyImporter
	
	// GetStorage returns the key storage
	GetStorage() KeyStorage
	
	// GetRotator returns the key rotator
	GetRotator() KeyRotator
}

// Common errors
var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrInvalidKeyType     = errors.New("invalid key type")
	ErrInvalidKeyFormat   = errors.New("invalid key format")
	ErrKeyExists          = errors.New("key already exists")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrSignNotSupported   = errors.New("key type does not support signing")
	ErrVerifyNotSupported = errors.New("key type does not support signature verification")
)

// Sealer is implemented by key pairs that can perform asymmetric sealed-box
// encryption (seal to a recipient's public key, open with the matching
// private key). Only encryption-capable key types (X25519) implement it.
type Sealer interface {
	// Seal encrypts plaintext to the recipient's raw public key bytes,
	// binding aad as additional authenticated context.
	Seal(recipientPub, plaintext, aad []byte) ([]byte, error)

	// Open decrypts a packet produced by Seal using this key pair's
	// private key, verifying aad.
	Open(packet, aad []byte) ([]byte, error)

	// PublicBytes returns the raw public key bytes used for sealing.
	PublicBytes() []byte
}