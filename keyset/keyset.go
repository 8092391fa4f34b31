// Package keyset implements generational keypair bundles bound to a scope
// (team, role, member, device, or ephemeral), the unit of trust rotated by
// the membership reducer whenever a principal's authority is revoked.
package keyset

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	tgcrypto "github.com/localfirst/teamgraph/crypto"
	"github.com/localfirst/teamgraph/crypto/keys"
)

// ScopeType names the kind of principal a keyset is bound to.
type ScopeType string

const (
	ScopeTeam      ScopeType = "TEAM"
	ScopeRole      ScopeType = "ROLE"
	ScopeMember    ScopeType = "MEMBER"
	ScopeDevice    ScopeType = "DEVICE"
	ScopeEphemeral ScopeType = "EPHEMERAL"
)

// TeamScopeName is the fixed name used for the single TEAM-scoped keyset.
const TeamScopeName = "TEAM"

// Scope identifies the subject a keyset belongs to.
type Scope struct {
	Type ScopeType `json:"type"`
	Name string    `json:"name"`
}

// TeamScope returns the well-known scope of the team itself.
func TeamScope() Scope {
	return Scope{Type: ScopeTeam, Name: TeamScopeName}
}

func (s Scope) String() string {
	return fmt.Sprintf("%s:%s", s.Type, s.Name)
}

// RoleScope, MemberScope, DeviceScope and EphemeralScope are convenience
// constructors for the remaining scope kinds.
func RoleScope(name string) Scope      { return Scope{Type: ScopeRole, Name: name} }
func MemberScope(userID string) Scope  { return Scope{Type: ScopeMember, Name: userID} }
func DeviceScope(deviceID string) Scope { return Scope{Type: ScopeDevice, Name: deviceID} }
func EphemeralScope(name string) Scope { return Scope{Type: ScopeEphemeral, Name: name} }

// Public is the publishable half of a Keyset: scope, generation, and the
// two public keys. It is what gets embedded in links and lockbox
// recipients/contents headers.
type Public struct {
	Scope            Scope  `json:"scope"`
	Generation       uint32 `json:"generation"`
	SigningPublic    []byte `json:"signingPublic"`
	EncryptionPublic []byte `json:"encryptionPublic"`
}

// ID is a stable, comparable identifier for a Public keyset header.
func (p Public) ID() string {
	return fmt.Sprintf("%s/%d", p.Scope, p.Generation)
}

// Keyset is a generational bundle of (signing keypair, encryption keypair)
// bound to a scope. The secret halves are nil on a public-only Keyset
// (e.g. one received over the wire or read back from team state).
type Keyset struct {
	Public
	signing    tgcrypto.KeyPair // Ed25519, nil if public-only
	encryption tgcrypto.KeyPair // X25519, nil if public-only
}

// ErrNoSecrets is returned by operations that require the secret half of a
// Keyset when only the public half is present.
var ErrNoSecrets = errors.New("keyset: no secret keys available")

// New creates a fresh, randomly-keyed generation-0 Keyset for scope.
func New(scope Scope) (*Keyset, error) {
	signing, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("keyset: generate signing key: %w", err)
	}
	encryption, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("keyset: generate encryption key: %w", err)
	}
	return wrap(scope, 0, signing, encryption), nil
}

// NewFromSeed deterministically derives a Keyset for scope from seed. Used
// by invitations, where the invitee's starter keyset must be reproducible
// by both sides from the shared invitation seed before any graph exists.
func NewFromSeed(scope Scope, seed []byte) (*Keyset, error) {
	signing, err := keys.NewEd25519KeyPairFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("keyset: derive signing key: %w", err)
	}
	encryption, err := keys.NewX25519KeyPairFromSeed(seed, "teamgraph-keyset-encryption/"+scope.String())
	if err != nil {
		return nil, fmt.Errorf("keyset: derive encryption key: %w", err)
	}
	return wrap(scope, 0, signing, encryption), nil
}

func wrap(scope Scope, generation uint32, signing, encryption tgcrypto.KeyPair) *Keyset {
	ks := &Keyset{signing: signing, encryption: encryption}
	ks.Scope = scope
	ks.Generation = generation
	ks.SigningPublic = append([]byte(nil), signing.PublicKey().(ed25519.PublicKey)...)
	if sealer, ok := encryption.(tgcrypto.Sealer); ok {
		ks.EncryptionPublic = append([]byte(nil), sealer.PublicBytes()...)
	}
	return ks
}

// NextGeneration returns a fresh random Keyset for the same scope with
// Generation+1, the rotation primitive the team facade invokes when it
// removes a member, demotes an admin, or removes a device.
func (k *Keyset) NextGeneration() (*Keyset, error) {
	next, err := New(k.Scope)
	if err != nil {
		return nil, err
	}
	next.Generation = k.Generation + 1
	return next, nil
}

// KeyPairs exposes the underlying signing and encryption keypairs, for
// callers that manage them through a crypto.KeyStorage (key rotation
// tooling, keystores). Nil on a public-only Keyset.
func (k *Keyset) KeyPairs() (signing, encryption tgcrypto.KeyPair) {
	return k.signing, k.encryption
}

// FromKeyPairs wraps externally-managed keypairs into a Keyset, e.g.
// after a crypto.KeyRotator minted a replacement signing key.
func FromKeyPairs(scope Scope, generation uint32, signing, encryption tgcrypto.KeyPair) (*Keyset, error) {
	if signing == nil || encryption == nil {
		return nil, errors.New("keyset: both keypairs are required")
	}
	if _, ok := signing.PublicKey().(ed25519.PublicKey); !ok {
		return nil, fmt.Errorf("keyset: unsupported signing key type %T", signing.PublicKey())
	}
	if _, ok := encryption.(tgcrypto.Sealer); !ok {
		return nil, errors.New("keyset: encryption key type does not support sealing")
	}
	return wrap(scope, generation, signing, encryption), nil
}

// HasSecrets reports whether this Keyset carries usable private keys.
func (k *Keyset) HasSecrets() bool {
	return k.signing != nil && k.encryption != nil
}

// PublicOnly strips the secret halves, producing the value safe to embed
// in a link body or hand to a peer.
func (k *Keyset) PublicOnly() Public {
	return k.Public
}

// FromPublic wraps a received Public header with no secret material.
func FromPublic(p Public) *Keyset {
	return &Keyset{Public: p}
}

// Sign signs message with the scope's Ed25519 signing secret key.
func (k *Keyset) Sign(message []byte) ([]byte, error) {
	if k.signing == nil {
		return nil, ErrNoSecrets
	}
	return k.signing.Sign(message)
}

// Verify checks a detached signature against this Keyset's signing public
// key; it works on public-only Keysets too.
func (k *Keyset) Verify(message, signature []byte) error {
	return VerifyWithPublic(k.SigningPublic, message, signature)
}

// VerifyWithPublic checks sig against a raw Ed25519 public key.
func VerifyWithPublic(signingPublic, message, sig []byte) error {
	if len(signingPublic) != ed25519.PublicKeySize {
		return fmt.Errorf("keyset: invalid signing public key length %d", len(signingPublic))
	}
	if !ed25519.Verify(ed25519.PublicKey(signingPublic), message, sig) {
		return tgcrypto.ErrInvalidSignature
	}
	return nil
}

// Seal asymmetrically encrypts plaintext to recipient's encryption public
// key, binding aad. This is the primitive a Lockbox is built from.
func (k *Keyset) Seal(recipient Public, plaintext, aad []byte) ([]byte, error) {
	return Seal(recipient, plaintext, aad)
}

// Seal is the package-level form of (*Keyset).Seal: it generates a fresh
// ephemeral X25519 sender key for each call (anonymous-sender HPKE), so it
// needs no secret material of its own and any caller can seal to a public
// scope key it merely knows about, not just one it holds secrets for.
func Seal(recipient Public, plaintext, aad []byte) ([]byte, error) {
	sealer, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, err
	}
	s, ok := sealer.(tgcrypto.Sealer)
	if !ok {
		return nil, errors.New("keyset: encryption key type does not support sealing")
	}
	return s.Seal(recipient.EncryptionPublic, plaintext, aad)
}

// Open decrypts a packet produced by Seal using this Keyset's own
// encryption secret key.
func (k *Keyset) Open(packet, aad []byte) ([]byte, error) {
	if k.encryption == nil {
		return nil, ErrNoSecrets
	}
	sealer, ok := k.encryption.(tgcrypto.Sealer)
	if !ok {
		return nil, errors.New("keyset: encryption key type does not support sealing")
	}
	return sealer.Open(packet, aad)
}

// ExportSecrets returns this Keyset's raw secret material: the Ed25519
// seed and the raw X25519 private scalar. Used by the lockbox package and
// the coordinator's keyring sealing to seal a keyset's secrets, and by
// teamctl to write its local device file.
func (k *Keyset) ExportSecrets() (signingSeed, encryptionSecret []byte, err error) {
	if !k.HasSecrets() {
		return nil, nil, ErrNoSecrets
	}
	priv, ok := k.signing.PrivateKey().(ed25519.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("keyset: unexpected signing key type %T", k.signing.PrivateKey())
	}
	encPriv, ok := k.encryption.PrivateKey().(*ecdh.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("keyset: unexpected encryption key type %T", k.encryption.PrivateKey())
	}
	return append([]byte(nil), priv.Seed()...), append([]byte(nil), encPriv.Bytes()...), nil
}

// FromSecrets reconstructs a Keyset from raw secret material previously
// produced by ExportSecrets, e.g. when opening a lockbox.
func FromSecrets(scope Scope, generation uint32, signingSeed, encryptionSecret []byte) (*Keyset, error) {
	signing, err := keys.NewEd25519KeyPairFromSeed(signingSeed)
	if err != nil {
		return nil, fmt.Errorf("keyset: restore signing key: %w", err)
	}
	encryption, err := keys.NewX25519KeyPairFromScalar(encryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("keyset: restore encryption key: %w", err)
	}
	ks := wrap(scope, generation, signing, encryption)
	return ks, nil
}

// MarshalJSON and UnmarshalJSON round-trip only the Public header — secret
// material never leaves the process boundary via serialization.
func (k *Keyset) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.Public)
}

func (k *Keyset) UnmarshalJSON(data []byte) error {
	var p Public
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	k.Public = p
	return nil
}
