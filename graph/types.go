// Package graph implements the append-only, tamper-evident, signed DAG of
// membership events: root/action/merge links addressed by content hash,
// deterministic linearization via a pluggable resolver, and serialization
// to the canonical persisted team blob format.
package graph

import (
	"encoding/hex"

	"github.com/localfirst/teamgraph/action"
)

// Hash is a 256-bit content digest identifying a link.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the unset hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a hex-encoded hash string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, errInvalidHashLength
	}
	copy(h[:], b)
	return h, nil
}

// LinkType distinguishes the three link shapes.
type LinkType string

const (
	Root      LinkType = "ROOT"
	Action    LinkType = "ACTION"
	MergeLink LinkType = "MERGE"
)

// Author identifies the user and device that produced a link.
type Author struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

// Link is one node of the graph: a root, an action, or a merge.
type Link struct {
	Hash        Hash              `json:"hash"`
	Type        LinkType          `json:"type"`
	PayloadType action.PayloadType `json:"payloadType,omitempty"`
	Payload     []byte            `json:"payload,omitempty"` // canonical-JSON-encoded action.*Payload
	Prev        []Hash            `json:"prev,omitempty"`
	Timestamp   int64             `json:"timestamp,omitempty"` // unix millis; zero for merge links
	Author      Author            `json:"author,omitempty"`
	Signature   []byte            `json:"signature,omitempty"` // nil for merge links
}

// Graph is the append-only DAG: a link table plus the identity of its
// unique root and current head.
type Graph struct {
	Root  Hash
	Head  Hash
	Links map[Hash]*Link
}

// Link looks up a link by hash.
func (g *Graph) Link(h Hash) (*Link, bool) {
	l, ok := g.Links[h]
	return l, ok
}

// Len returns the number of links in the graph.
func (g *Graph) Len() int {
	return len(g.Links)
}

// AuthorContext supplies the identity and signing key used by Create and
// Append to produce a new link.
type AuthorContext struct {
	UserID   string
	DeviceID string
	Signer   Signer
	// Now returns the wall-clock time used as the link's timestamp; tests
	// inject a fixed clock, production code leaves it nil (time.Now).
	Now func() int64
}

func (c AuthorContext) author() Author {
	return Author{UserID: c.UserID, DeviceID: c.DeviceID}
}

func (c AuthorContext) now() int64 {
	if c.Now != nil {
		return c.Now()
	}
	return nowMillis()
}

// Signer is the minimal signing capability Append/Create need from a
// device keyset — satisfied by *keyset.Keyset.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}
