package graph

import (
	"crypto/sha256"
	"fmt"

	"github.com/localfirst/teamgraph/action"
	"github.com/localfirst/teamgraph/keyset"
)

// signable is the byte-for-byte content that gets canonicalized, hashed,
// and (for root/action links) signed. It deliberately excludes the Hash
// and Signature fields of Link, which are derived from it.
type signable struct {
	Type        LinkType           `json:"type"`
	PayloadType action.PayloadType `json:"payloadType,omitempty"`
	Payload     []byte             `json:"payload,omitempty"`
	Prev        []string           `json:"prev,omitempty"`
	Timestamp   int64              `json:"timestamp,omitempty"`
	Author      Author             `json:"author,omitempty"`
}

func hashesToStrings(hs []Hash) []string {
	if len(hs) == 0 {
		return nil
	}
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.String()
	}
	return out
}

func (l *Link) signableBody() signable {
	return signable{
		Type:        l.Type,
		PayloadType: l.PayloadType,
		Payload:     l.Payload,
		Prev:        hashesToStrings(l.Prev),
		Timestamp:   l.Timestamp,
		Author:      l.Author,
	}
}

func computeHash(body signable) (Hash, error) {
	data, err := Canonicalize(body)
	if err != nil {
		return Hash{}, err
	}
	return Hash(sha256.Sum256(data)), nil
}

// Create starts a new graph with a single root link carrying rootPayload,
// authored and signed per ctx. root == head == hash(rootLink).
func Create(rootPayload *action.RootPayload, ctx AuthorContext) (*Graph, error) {
	payload, err := Canonicalize(rootPayload)
	if err != nil {
		return nil, fmt.Errorf("graph: encode root payload: %w", err)
	}
	body := signable{
		Type:        Root,
		PayloadType: action.Root,
		Payload:     payload,
		Timestamp:   ctx.now(),
		Author:      ctx.author(),
	}
	hash, err := computeHash(body)
	if err != nil {
		return nil, err
	}
	sig, err := ctx.Signer.Sign(hash[:])
	if err != nil {
		return nil, fmt.Errorf("graph: sign root link: %w", err)
	}
	link := &Link{
		Hash: hash, Type: Root, PayloadType: action.Root, Payload: payload,
		Timestamp: body.Timestamp, Author: body.Author, Signature: sig,
	}
	return &Graph{Root: hash, Head: hash, Links: map[Hash]*Link{hash: link}}, nil
}

// Append creates a new action link on top of g's current head, returning
// a new Graph value (g is not mutated) whose head is the new link's hash.
func Append(g *Graph, payloadType action.PayloadType, payload interface{}, ctx AuthorContext) (*Graph, error) {
	encoded, err := Canonicalize(payload)
	if err != nil {
		return nil, fmt.Errorf("graph: encode %s payload: %w", payloadType, err)
	}
	body := signable{
		Type:        Action,
		PayloadType: payloadType,
		Payload:     encoded,
		Prev:        []string{g.Head.String()},
		Timestamp:   ctx.now(),
		Author:      ctx.author(),
	}
	hash, err := computeHash(body)
	if err != nil {
		return nil, err
	}
	sig, err := ctx.Signer.Sign(hash[:])
	if err != nil {
		return nil, fmt.Errorf("graph: sign %s link: %w", payloadType, err)
	}
	link := &Link{
		Hash: hash, Type: Action, PayloadType: payloadType, Payload: encoded,
		Prev: []Hash{g.Head}, Timestamp: body.Timestamp, Author: body.Author, Signature: sig,
	}
	return g.withLink(hash, link), nil
}

// withLink returns a shallow copy of g with link added and Head advanced.
func (g *Graph) withLink(head Hash, link *Link) *Graph {
	links := make(map[Hash]*Link, len(g.Links)+1)
	for k, v := range g.Links {
		links[k] = v
	}
	links[head] = link
	return &Graph{Root: g.Root, Head: head, Links: links}
}

// Merge unions the link tables of a and b and appends a merge link whose
// parents are the two incoming heads, ordered deterministically by hash
// so Merge(a, b) and Merge(b, a) produce an identical result.
func Merge(a, b *Graph) (*Graph, error) {
	if a.Root != b.Root {
		return nil, ErrRootMismatch
	}
	if a.Head == b.Head {
		return a, nil
	}
	links := make(map[Hash]*Link, len(a.Links)+len(b.Links)+1)
	for k, v := range a.Links {
		links[k] = v
	}
	for k, v := range b.Links {
		links[k] = v
	}

	// Fast-forward: when one head already descends from the other there
	// is nothing concurrent to reconcile, and minting a merge link here
	// would keep the two peers' heads forever chasing each other.
	if reachable(links, b.Head, a.Head) {
		return &Graph{Root: a.Root, Head: b.Head, Links: links}, nil
	}
	if reachable(links, a.Head, b.Head) {
		return &Graph{Root: a.Root, Head: a.Head, Links: links}, nil
	}

	p1, p2 := a.Head, b.Head
	if bytesGreater(p1, p2) {
		p1, p2 = p2, p1
	}
	body := signable{Type: MergeLink, Prev: []string{p1.String(), p2.String()}}
	hash, err := computeHash(body)
	if err != nil {
		return nil, err
	}
	if _, ok := links[hash]; !ok {
		links[hash] = &Link{Hash: hash, Type: MergeLink, Prev: []Hash{p1, p2}}
	}
	return &Graph{Root: a.Root, Head: hash, Links: links}, nil
}

// reachable reports whether target is an ancestor of (or equal to) from,
// walking backward through Prev.
func reachable(links map[Hash]*Link, from, target Hash) bool {
	seen := make(map[Hash]bool)
	var walk func(Hash) bool
	walk = func(h Hash) bool {
		if h == target {
			return true
		}
		if seen[h] {
			return false
		}
		seen[h] = true
		link, ok := links[h]
		if !ok {
			return false
		}
		for _, p := range link.Prev {
			if walk(p) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

func bytesGreater(a, b Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// KeyResolver returns the signing public key that should have been used
// to author the link identified by (author, atHash) — typically backed by
// the team state reduced up to (but not including) that link, so a
// rotated-out key cannot be used to forge history.
type KeyResolver func(author Author, atHash Hash) ([]byte, error)

// Validate checks the graph's structural invariants: exactly one root
// reachable from head, no dangling parents, and every signed link's
// signature verifies under resolveKey's answer.
func Validate(g *Graph, resolveKey KeyResolver) error {
	rootLink, ok := g.Links[g.Root]
	if !ok || rootLink.Type != Root {
		return ErrMultipleRoots
	}
	rootCount := 0
	for _, l := range g.Links {
		if l.Type == Root {
			rootCount++
		}
	}
	if rootCount != 1 {
		return ErrMultipleRoots
	}

	visited := make(map[Hash]bool, len(g.Links))
	reachedRoot := false
	var walk func(Hash) error
	walk = func(h Hash) error {
		if visited[h] {
			return nil
		}
		visited[h] = true
		link, ok := g.Links[h]
		if !ok {
			return ErrDanglingParent
		}
		for _, p := range link.Prev {
			if _, ok := g.Links[p]; !ok {
				return ErrDanglingParent
			}
			if err := walk(p); err != nil {
				return err
			}
		}
		if h == g.Root {
			reachedRoot = true
		}
		return nil
	}
	if err := walk(g.Head); err != nil {
		return err
	}
	if !reachedRoot {
		return ErrDanglingParent
	}

	for h, link := range g.Links {
		if link.Type == MergeLink {
			continue
		}
		expected, err := computeHash(link.signableBody())
		if err != nil {
			return err
		}
		if expected != h {
			return ErrGraphTampered
		}
		pub, err := resolveKey(link.Author, h)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnknownAuthor, err)
		}
		if err := keyset.VerifyWithPublic(pub, h[:], link.Signature); err != nil {
			return fmt.Errorf("%w: link %s", ErrInvalidSignature, h)
		}
	}
	return nil
}
