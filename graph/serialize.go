package graph

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/localfirst/teamgraph/action"
)

// wireLink mirrors Link but with hashes/signature as text, the shape of
// the persisted team blob.
type wireLink struct {
	Hash        string             `json:"hash"`
	Type        LinkType           `json:"type"`
	PayloadType action.PayloadType `json:"payloadType,omitempty"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
	Prev        []string           `json:"prev,omitempty"`
	Timestamp   int64              `json:"timestamp,omitempty"`
	Author      Author             `json:"author,omitempty"`
	Signature   string             `json:"signature,omitempty"`
}

type wireGraph struct {
	Root  string     `json:"root"`
	Head  string      `json:"head"`
	Links []wireLink `json:"links"`
}

// Serialize produces the canonical persisted-blob encoding of g: hex
// hashes, base-64 signatures, links ordered by hash for determinism.
func Serialize(g *Graph) ([]byte, error) {
	hashes := make([]Hash, 0, len(g.Links))
	for h := range g.Links {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i].String() < hashes[j].String() })

	wg := wireGraph{Root: g.Root.String(), Head: g.Head.String()}
	for _, h := range hashes {
		l := g.Links[h]
		wl := wireLink{
			Hash:        l.Hash.String(),
			Type:        l.Type,
			PayloadType: l.PayloadType,
			Payload:     json.RawMessage(l.Payload),
			Prev:        hashesToStrings(l.Prev),
			Timestamp:   l.Timestamp,
			Author:      l.Author,
		}
		if l.Signature != nil {
			wl.Signature = base64.StdEncoding.EncodeToString(l.Signature)
		}
		wg.Links = append(wg.Links, wl)
	}
	return json.Marshal(wg)
}

// Deserialize parses a persisted team blob. It verifies that every link's
// declared hash matches the hash recomputed from its body (detecting
// tampering such as a rewritten payload with a stale hash field) but does
// NOT verify signatures — callers must call Validate with a KeyResolver
// built from team state for that.
func Deserialize(data []byte) (*Graph, error) {
	var wg wireGraph
	if err := json.Unmarshal(data, &wg); err != nil {
		return nil, fmt.Errorf("graph: decode blob: %w", err)
	}
	root, err := ParseHash(wg.Root)
	if err != nil {
		return nil, fmt.Errorf("graph: decode root hash: %w", err)
	}
	head, err := ParseHash(wg.Head)
	if err != nil {
		return nil, fmt.Errorf("graph: decode head hash: %w", err)
	}
	links := make(map[Hash]*Link, len(wg.Links))
	for _, wl := range wg.Links {
		h, err := ParseHash(wl.Hash)
		if err != nil {
			return nil, fmt.Errorf("graph: decode link hash: %w", err)
		}
		prev := make([]Hash, 0, len(wl.Prev))
		for _, p := range wl.Prev {
			ph, err := ParseHash(p)
			if err != nil {
				return nil, fmt.Errorf("graph: decode prev hash: %w", err)
			}
			prev = append(prev, ph)
		}
		var sig []byte
		if wl.Signature != "" {
			sig, err = base64.StdEncoding.DecodeString(wl.Signature)
			if err != nil {
				return nil, fmt.Errorf("graph: decode signature: %w", err)
			}
		}
		link := &Link{
			Hash: h, Type: wl.Type, PayloadType: wl.PayloadType,
			Payload: []byte(wl.Payload), Prev: prev, Timestamp: wl.Timestamp,
			Author: wl.Author, Signature: sig,
		}
		if link.Type != MergeLink {
			expected, err := computeHash(link.signableBody())
			if err != nil {
				return nil, err
			}
			if expected != h {
				return nil, ErrGraphTampered
			}
		}
		links[h] = link
	}
	if _, ok := links[root]; !ok {
		return nil, ErrDanglingParent
	}
	if _, ok := links[head]; !ok {
		return nil, ErrDanglingParent
	}
	return &Graph{Root: root, Head: head, Links: links}, nil
}
