package team

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/localfirst/teamgraph/keyset"
)

// ErrEnvelopeUndecodable is returned by Decrypt for a scope+generation the
// local keyring cannot currently reach.
var ErrEnvelopeUndecodable = errors.New("team: no held key can open this envelope")

// Envelope is a message sealed to a named scope's current-generation
// encryption key. Any device that can reach that scope+generation's
// secret via the lockbox graph can decrypt it, including older
// generations still held.
type Envelope struct {
	Scope      keyset.Scope `json:"scope"`
	Generation uint32       `json:"generation"`
	Ciphertext []byte       `json:"ciphertext"`
}

func envelopeAAD(scope keyset.Scope, generation uint32) []byte {
	header := struct {
		Scope      keyset.Scope `json:"scope"`
		Generation uint32       `json:"generation"`
	}{scope, generation}
	b, _ := json.Marshal(header)
	return b
}

// scopePublicKey resolves the current public keyset header recorded for
// scope, as seen in team state.
func (t *Team) scopePublicKey(scope keyset.Scope) (keyset.Public, bool) {
	switch scope.Type {
	case keyset.ScopeTeam:
		return t.state.TeamKeys, t.state.TeamKeys.SigningPublic != nil
	case keyset.ScopeRole:
		rs, ok := t.state.Roles[scope.Name]
		if !ok {
			return keyset.Public{}, false
		}
		return rs.Keys, true
	case keyset.ScopeMember:
		m, ok := t.state.Members[scope.Name]
		if !ok {
			return keyset.Public{}, false
		}
		return m.Keys, true
	case keyset.ScopeDevice:
		uid, ok := t.state.DeviceOwner(scope.Name)
		if !ok {
			return keyset.Public{}, false
		}
		return t.state.Members[uid].Devices[scope.Name].Keys, true
	default:
		return keyset.Public{}, false
	}
}

// Encrypt seals plaintext to scope's current-generation public key, e.g.
// keyset.TeamScope() for a whole-team broadcast or keyset.RoleScope(name)
// for a role-restricted message.
func (t *Team) Encrypt(scope keyset.Scope, plaintext []byte) (*Envelope, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pub, ok := t.scopePublicKey(scope)
	if !ok {
		return nil, fmt.Errorf("team: no key recorded for scope %s", scope)
	}
	ciphertext, err := keyset.Seal(pub, plaintext, envelopeAAD(scope, pub.Generation))
	if err != nil {
		return nil, fmt.Errorf("team: encrypt: %w", err)
	}
	return &Envelope{Scope: scope, Generation: pub.Generation, Ciphertext: ciphertext}, nil
}

// Decrypt opens env using whichever held key matches its scope+generation
// exactly, reachable via the lockbox graph even if that generation has
// since been rotated past.
func (t *Team) Decrypt(env *Envelope) ([]byte, error) {
	t.mu.RLock()
	secret := t.lookupSecretGen(env.Scope, env.Generation)
	t.mu.RUnlock()
	if secret == nil {
		return nil, ErrEnvelopeUndecodable
	}
	plaintext, err := secret.Open(env.Ciphertext, envelopeAAD(env.Scope, env.Generation))
	if err != nil {
		return nil, fmt.Errorf("team: decrypt: %w", err)
	}
	return plaintext, nil
}

// Sign signs message with the local device's own signing secret key.
func (t *Team) Sign(message []byte) ([]byte, error) {
	return t.ctx.Device.Sign(message)
}

// Verify checks a signature against the signing public key team state
// currently records for (userID, deviceID).
func (t *Team) Verify(userID, deviceID string, message, signature []byte) error {
	t.mu.RLock()
	signingPublic, ok := t.state.SigningKeyFor(userID, deviceID)
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("team: no signing key recorded for %s/%s", userID, deviceID)
	}
	return keyset.VerifyWithPublic(signingPublic, message, signature)
}

// TeamKeys returns the team's current-generation public keyset header.
func (t *Team) TeamKeys() keyset.Public {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.TeamKeys
}

// AdminKeys returns the ADMIN role's current-generation public keyset
// header.
func (t *Team) AdminKeys() keyset.Public {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.AdminKeys
}

// RoleKeys returns roleName's current-generation public keyset header.
func (t *Team) RoleKeys(roleName string) (keyset.Public, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rs, ok := t.state.Roles[roleName]
	if !ok {
		return keyset.Public{}, false
	}
	return rs.Keys, true
}
