// Package invitation implements Seitan-style single-use invitation tokens:
// an ephemeral signing keypair deterministically derived from a shared
// secret seed, whose possession an invitee proves by signing a claim that
// gets posted to the graph as an ADMIT link.
package invitation

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/localfirst/teamgraph/action"
	"github.com/localfirst/teamgraph/keyset"
)

// Errors returned by Validate.
var (
	ErrNotFound     = errors.New("invitation: not found")
	ErrRevoked      = errors.New("invitation: revoked")
	ErrExhausted    = errors.New("invitation: no remaining uses")
	ErrExpired      = errors.New("invitation: expired")
	ErrProofInvalid = errors.New("invitation: proof does not verify")
)

// SeedLength is the fixed length of a normalized invitation seed.
const SeedLength = 16

// NormalizeSeed strips whitespace, lowercases, and validates that seed is
// exactly SeedLength alphabetic characters, the canonical form shared
// out-of-band between inviter and invitee.
func NormalizeSeed(seed string) (string, error) {
	seed = strings.ToLower(strings.Join(strings.Fields(seed), ""))
	if len(seed) != SeedLength {
		return "", fmt.Errorf("invitation: seed must be %d characters, got %d", SeedLength, len(seed))
	}
	for _, r := range seed {
		if r < 'a' || r > 'z' {
			return "", fmt.Errorf("invitation: seed must be lowercase alphabetic, got %q", seed)
		}
	}
	return seed, nil
}

// Params configures Create.
type Params struct {
	Seed       string // normalized seed; Create normalizes if not already
	MaxUses    int    // defaults to 1
	Expiration int64  // unix millis; 0 means never expires
	UserID     string // optional: restricts the invitation to a known user
}

// Invite is the inviter-side handle to a created invitation: the posted
// record plus the normalized seed, retained only long enough to hand it
// to the invitee out-of-band.
type Invite struct {
	Record action.Invitation
	Seed   string
}

// Create derives the invitation's ephemeral signing keypair from p.Seed
// and returns the record to post via a team's INVITE mutation.
func Create(p Params) (*Invite, error) {
	seed, err := NormalizeSeed(p.Seed)
	if err != nil {
		return nil, err
	}
	maxUses := p.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}
	ks, err := keyset.NewFromSeed(keyset.EphemeralScope("invitation"), []byte(seed))
	if err != nil {
		return nil, fmt.Errorf("invitation: derive keys: %w", err)
	}
	return &Invite{
		Record: action.Invitation{
			ID:            DeriveID(seed),
			PublicKey:     ks.SigningPublic,
			Expiration:    p.Expiration,
			MaxUses:       maxUses,
			RemainingUses: maxUses,
			UserID:        p.UserID,
		},
		Seed: seed,
	}, nil
}

// DeriveID computes the invitation id as hash("invitation-id", seed),
// stable and computable by both inviter and invitee from the seed alone.
func DeriveID(seed string) string {
	h := sha256.Sum256(append([]byte("invitation-id:"), []byte(seed)...))
	return fmt.Sprintf("%x", h[:16])
}

// proofClaim is the canonical structure signed by GenerateProof and
// checked by Validate.
type proofClaim struct {
	ID       string `json:"id"`
	UserName string `json:"userName"`
}

// GenerateProof signs a canonical {id, userName} claim with the seed-
// derived ephemeral signing key, proving possession of seed without
// revealing it.
func GenerateProof(seed, userName string) ([]byte, error) {
	seed, err := NormalizeSeed(seed)
	if err != nil {
		return nil, err
	}
	ks, err := keyset.NewFromSeed(keyset.EphemeralScope("invitation"), []byte(seed))
	if err != nil {
		return nil, fmt.Errorf("invitation: derive keys: %w", err)
	}
	claim, err := json.Marshal(proofClaim{ID: DeriveID(seed), UserName: userName})
	if err != nil {
		return nil, err
	}
	return ks.Sign(claim)
}

// Validate checks a proof against an invitation record: the signature
// must verify under the invitation's public key, the record must not be
// expired, revoked, or exhausted.
func Validate(proof []byte, userName string, inv action.Invitation, now int64) error {
	if inv.Revoked {
		return ErrRevoked
	}
	if inv.RemainingUses <= 0 || inv.Used {
		return ErrExhausted
	}
	if inv.Expiration != 0 && now > inv.Expiration {
		return ErrExpired
	}
	claim, err := json.Marshal(proofClaim{ID: inv.ID, UserName: userName})
	if err != nil {
		return err
	}
	if err := keyset.VerifyWithPublic(inv.PublicKey, claim, proof); err != nil {
		return ErrProofInvalid
	}
	return nil
}

// BootstrapDeviceID is the fixed device id an invitee uses for the single
// ADD_DEVICE link posted on their behalf at admission time, before they
// have joined and registered their real device.
func BootstrapDeviceID(userID string) string {
	return userID + "/bootstrap"
}

// StarterKeys deterministically derives the member- and bootstrap-device-
// scoped keysets an invitee and inviter both compute from the shared
// invitation seed, without any secret ever crossing the wire. Both
// keysets share the same Ed25519 signing key (seed derivation does not
// vary the signing key by scope) so a single signature authenticates
// both roles during the bootstrap window, and distinct X25519 encryption
// keys (scope-salted) so lockboxes addressed to each are independent.
func StarterKeys(seed, userID string) (member, device *keyset.Keyset, err error) {
	seed, err = NormalizeSeed(seed)
	if err != nil {
		return nil, nil, err
	}
	member, err = keyset.NewFromSeed(keyset.MemberScope(userID), []byte(seed))
	if err != nil {
		return nil, nil, fmt.Errorf("invitation: derive starter member keys: %w", err)
	}
	device, err = keyset.NewFromSeed(keyset.DeviceScope(BootstrapDeviceID(userID)), []byte(seed))
	if err != nil {
		return nil, nil, fmt.Errorf("invitation: derive starter device keys: %w", err)
	}
	return member, device, nil
}

// Expiration returns a unix-millis expiration timestamp ttl from now,
// a convenience for callers building Params without hand-computing millis.
func Expiration(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixMilli()
}
