package team

import (
	"encoding/json"
	"fmt"

	"github.com/localfirst/teamgraph/action"
	"github.com/localfirst/teamgraph/graph"
	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/resolver"
)

// Validate checks the team's whole graph: structure, content hashes, and
// every link's signature against the device signing key the graph itself
// had recorded for the author by that point. A key rotated out later
// still verifies the links it signed; a key never recorded verifies
// nothing.
func (t *Team) Validate() error {
	t.mu.RLock()
	chain := t.chain
	t.mu.RUnlock()

	seq, err := graph.GetSequence(chain, resolver.StrongRemove)
	if err != nil {
		return err
	}

	// Registry of device signing keys in order of introduction, keyed by
	// (user, device), plus the sequence position at which each key was
	// first recorded. Built from payloads
	// rather than reduced state so links later invalidated by the
	// strong-remove cascade still verify against the key they carried.
	type deviceKey struct{ userID, deviceID string }
	keys := make(map[deviceKey][][]byte)
	position := make(map[graph.Hash]int, len(seq))
	recordedAt := make(map[string]int) // signing key -> position of the link recording it
	record := func(userID, deviceID string, pub keyset.Public) {
		k := deviceKey{userID, deviceID}
		keys[k] = append(keys[k], pub.SigningPublic)
		if _, seen := recordedAt[string(pub.SigningPublic)]; !seen {
			recordedAt[string(pub.SigningPublic)] = len(position) - 1
		}
	}
	for _, link := range seq {
		position[link.Hash] = len(position)
		switch link.PayloadType {
		case action.Root:
			var p action.RootPayload
			if err := json.Unmarshal(link.Payload, &p); err == nil {
				record(p.Founder.UserID, p.FounderDevice.ID, p.FounderDevice.Keys)
			}
		case action.AddDevice:
			var p action.AddDevicePayload
			if err := json.Unmarshal(link.Payload, &p); err == nil {
				record(p.UserID, p.Device.ID, p.Device.Keys)
			}
		case action.ChangeDeviceKeys:
			var p action.ChangeDeviceKeysPayload
			if err := json.Unmarshal(link.Payload, &p); err == nil {
				record(p.UserID, p.DeviceID, p.Keys)
			}
		}
	}

	resolve := func(author graph.Author, atHash graph.Hash) ([]byte, error) {
		candidates := keys[deviceKey{author.UserID, author.DeviceID}]
		if len(candidates) == 0 {
			return nil, fmt.Errorf("no device key recorded for %s/%s", author.UserID, author.DeviceID)
		}
		link, ok := chain.Link(atHash)
		if !ok {
			return nil, fmt.Errorf("unknown link %s", atHash)
		}
		// Try each generation recorded no later than this link (any, for a
		// link the resolver left out of the sequence); return the one that
		// verifies.
		at, inSeq := position[atHash]
		var last []byte
		for _, pub := range candidates {
			if inSeq && recordedAt[string(pub)] > at {
				continue
			}
			last = pub
			if keyset.VerifyWithPublic(pub, link.Hash[:], link.Signature) == nil {
				return pub, nil
			}
		}
		if last == nil {
			return nil, fmt.Errorf("no device key recorded for %s/%s by link %s", author.UserID, author.DeviceID, atHash)
		}
		return last, nil
	}

	return graph.Validate(chain, resolve)
}
