// Package lockbox implements sealed envelopes that deliver a keyset's
// secret material to the holder of a specific recipient key. Lockboxes
// form a directed graph (recipient -> contents) that determines which
// principal can reach which secrets; the membership reducer grows this
// graph on every ADD_* action and replaces edges into a scope on rotation.
package lockbox

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/localfirst/teamgraph/keyset"
)

// Errors returned by Open/Rotate.
var (
	ErrWrongRecipient          = errors.New("lockbox: packet was not sealed to this recipient")
	ErrCiphertextInvalid       = errors.New("lockbox: ciphertext authentication failed")
	ErrRotationScopeMismatch   = errors.New("lockbox: rotation must preserve the contents scope")
	ErrRecipientEqualsContents = errors.New("lockbox: recipient scope must differ from contents scope")
)

// Lockbox is a sealed envelope. Recipient names whose encryption key can
// open it; Contents names the scope whose secret keyset is inside.
type Lockbox struct {
	Recipient        keyset.Public `json:"recipient"`
	Contents         keyset.Scope  `json:"contents"`
	ContentsGen      uint32        `json:"contentsGeneration"`
	EncryptedPayload []byte        `json:"encryptedPayload"`
}

// aad binds the recipient+contents header to the ciphertext so a lockbox
// cannot be replayed against a different recipient/contents pairing.
func (l *Lockbox) aad() []byte {
	header := struct {
		Recipient   keyset.Public `json:"recipient"`
		Contents    keyset.Scope  `json:"contents"`
		ContentsGen uint32        `json:"contentsGeneration"`
	}{l.Recipient, l.Contents, l.ContentsGen}
	b, _ := json.Marshal(header)
	return b
}

// Create seals contents (a Keyset carrying secrets) so that only the
// holder of recipient's encryption secret key can open it.
func Create(contents *keyset.Keyset, recipient keyset.Public) (*Lockbox, error) {
	if !contents.HasSecrets() {
		return nil, errors.New("lockbox: contents keyset carries no secrets to seal")
	}
	if recipient.Scope == contents.Scope {
		return nil, ErrRecipientEqualsContents
	}
	plaintext, err := marshalSecrets(contents)
	if err != nil {
		return nil, err
	}
	box := &Lockbox{
		Recipient:   recipient,
		Contents:    contents.Scope,
		ContentsGen: contents.Generation,
	}
	ciphertext, err := contents.Seal(recipient, plaintext, box.aad())
	if err != nil {
		return nil, fmt.Errorf("lockbox: seal: %w", err)
	}
	box.EncryptedPayload = ciphertext
	return box, nil
}

// Open decrypts the lockbox using the recipient keyset's encryption
// secret key, returning the sealed keyset with its secrets restored.
func Open(box *Lockbox, recipientSecret *keyset.Keyset) (*keyset.Keyset, error) {
	if recipientSecret.PublicOnly().ID() != box.Recipient.ID() {
		return nil, ErrWrongRecipient
	}
	plaintext, err := recipientSecret.Open(box.EncryptedPayload, box.aad())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}
	return unmarshalSecrets(plaintext)
}

// Rotate reseals newContents (which must be for the same scope as the
// lockbox's previous contents) to the same recipient.
func Rotate(old *Lockbox, newContents *keyset.Keyset) (*Lockbox, error) {
	if old.Contents != newContents.Scope {
		return nil, ErrRotationScopeMismatch
	}
	return Create(newContents, old.Recipient)
}

// secretPayload is the plaintext sealed inside a lockbox: a keyset's
// scope/generation header plus its raw secret key bytes.
type secretPayload struct {
	Scope        keyset.Scope `json:"scope"`
	Generation   uint32       `json:"generation"`
	SigningSeed  []byte       `json:"signingSeed"`
	EncryptionSK []byte       `json:"encryptionSecret"`
}

func marshalSecrets(k *keyset.Keyset) ([]byte, error) {
	seed, encSK, err := k.ExportSecrets()
	if err != nil {
		return nil, err
	}
	return json.Marshal(secretPayload{
		Scope:        k.Scope,
		Generation:   k.Generation,
		SigningSeed:  seed,
		EncryptionSK: encSK,
	})
}

func unmarshalSecrets(data []byte) (*keyset.Keyset, error) {
	var p secretPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("lockbox: decode sealed keyset: %w", err)
	}
	return keyset.FromSecrets(p.Scope, p.Generation, p.SigningSeed, p.EncryptionSK)
}

// Set is the full lockbox graph for a team: every envelope currently live
// in team state, from which any principal's reachable keys can be
// recomputed.
type Set []*Lockbox

// VisibleKeys returns every Keyset (secrets included) transitively
// reachable by repeatedly opening lockboxes, starting from a keyset the
// caller already holds the secrets for. Lockboxes that fail to open under
// a held key (wrong recipient, tampered ciphertext) are skipped rather
// than treated as fatal, since a held key is tried against every box.
func (s Set) VisibleKeys(start *keyset.Keyset) ([]*keyset.Keyset, error) {
	if !start.HasSecrets() {
		return nil, keyset.ErrNoSecrets
	}
	held := map[string]*keyset.Keyset{start.PublicOnly().ID(): start}
	visible := []*keyset.Keyset{start}

	for progress := true; progress; {
		progress = false
		for _, box := range s {
			holder, ok := held[box.Recipient.ID()]
			if !ok {
				continue
			}
			opened, err := Open(box, holder)
			if err != nil {
				continue
			}
			id := opened.PublicOnly().ID()
			if _, seen := held[id]; seen {
				continue
			}
			held[id] = opened
			visible = append(visible, opened)
			progress = true
		}
	}
	return visible, nil
}

// VisibleScopes projects VisibleKeys down to the reachable scopes.
func (s Set) VisibleScopes(start *keyset.Keyset) ([]keyset.Scope, error) {
	keys, err := s.VisibleKeys(start)
	if err != nil {
		return nil, err
	}
	scopes := make([]keyset.Scope, len(keys))
	for i, k := range keys {
		scopes[i] = k.Scope
	}
	return scopes, nil
}

// Latest returns the highest-generation lockbox in the set whose contents
// scope matches scope, or nil if none exists.
func (s Set) Latest(scope keyset.Scope) *Lockbox {
	var best *Lockbox
	for _, box := range s {
		if box.Contents != scope {
			continue
		}
		if best == nil || box.ContentsGen > best.ContentsGen {
			best = box
		}
	}
	return best
}

// ForRecipient returns every lockbox addressed to recipient's exact
// scope+generation.
func (s Set) ForRecipient(recipient keyset.Public) []*Lockbox {
	var out []*Lockbox
	for _, box := range s {
		if box.Recipient.ID() == recipient.ID() {
			out = append(out, box)
		}
	}
	return out
}
