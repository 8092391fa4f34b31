package graph

// Resolver reconciles two concurrent branches (ancestor-excluded) of a
// merge into a single linearized slice. ancestor is the full linearized
// sequence from root through the branches' common ancestor (inclusive),
// given so a resolver can rank principals by order of first appearance —
// see the resolver package for the strong-remove implementation.
type Resolver func(ancestor, branchA, branchB []*Link) []*Link

// GetSequence deterministically linearizes g starting from root, resolving
// every merge with resolver (or the hash-order default if nil).
func GetSequence(g *Graph, resolver Resolver) ([]*Link, error) {
	if resolver == nil {
		resolver = defaultResolver
	}
	return sequenceUpTo(g, g.Head, resolver)
}

// sequenceUpTo returns the full linearized sequence from root through h
// inclusive.
func sequenceUpTo(g *Graph, h Hash, resolver Resolver) ([]*Link, error) {
	link, ok := g.Links[h]
	if !ok {
		return nil, ErrDanglingParent
	}
	switch link.Type {
	case Root:
		return []*Link{link}, nil
	case MergeLink:
		a, b := link.Prev[0], link.Prev[1]
		anc, err := commonAncestor(g, a, b)
		if err != nil {
			return nil, err
		}
		ancSeq, err := sequenceUpTo(g, anc, resolver)
		if err != nil {
			return nil, err
		}
		branchA, err := branchSequence(g, anc, a, resolver)
		if err != nil {
			return nil, err
		}
		branchB, err := branchSequence(g, anc, b, resolver)
		if err != nil {
			return nil, err
		}
		merged := resolver(ancSeq, branchA, branchB)
		out := make([]*Link, 0, len(ancSeq)+len(merged))
		out = append(out, ancSeq...)
		out = append(out, merged...)
		return out, nil
	default: // Action
		parentSeq, err := sequenceUpTo(g, link.Prev[0], resolver)
		if err != nil {
			return nil, err
		}
		return append(parentSeq, link), nil
	}
}

// branchSequence returns the links strictly after anc through h inclusive
// (h == anc yields an empty branch). A merge encountered inside a branch
// (a merge of merges) is resolved in place via sequenceUpTo/prefix-trim.
func branchSequence(g *Graph, anc, h Hash, resolver Resolver) ([]*Link, error) {
	if h == anc {
		return nil, nil
	}
	link, ok := g.Links[h]
	if !ok {
		return nil, ErrDanglingParent
	}
	if link.Type == MergeLink {
		full, err := sequenceUpTo(g, h, resolver)
		if err != nil {
			return nil, err
		}
		ancSeq, err := sequenceUpTo(g, anc, resolver)
		if err != nil {
			return nil, err
		}
		if len(full) < len(ancSeq) {
			return nil, ErrNoCommonAncestor
		}
		return append([]*Link{}, full[len(ancSeq):]...), nil
	}
	parent, err := branchSequence(g, anc, link.Prev[0], resolver)
	if err != nil {
		return nil, err
	}
	return append(parent, link), nil
}

// commonAncestor finds the most recent link reachable (backward through
// Prev) from both a and b.
func commonAncestor(g *Graph, a, b Hash) (Hash, error) {
	da := ancestorDepths(g, a)
	db := ancestorDepths(g, b)
	var best Hash
	bestDist := -1
	found := false
	for h, d1 := range da {
		if d2, ok := db[h]; ok {
			dist := d1 + d2
			if !found || dist < bestDist {
				bestDist = dist
				best = h
				found = true
			}
		}
	}
	if !found {
		return Hash{}, ErrNoCommonAncestor
	}
	return best, nil
}

func ancestorDepths(g *Graph, h Hash) map[Hash]int {
	depth := make(map[Hash]int)
	var walk func(Hash, int)
	walk = func(h Hash, d int) {
		if existing, ok := depth[h]; ok && existing <= d {
			return
		}
		depth[h] = d
		link, ok := g.Links[h]
		if !ok {
			return
		}
		for _, p := range link.Prev {
			walk(p, d+1)
		}
	}
	walk(h, 0)
	return depth
}

// defaultResolver is used when getSequence is called without a resolver:
// it orders the two whole branches by their first link's hash, lower
// first, and concatenates.
func defaultResolver(_, a, b []*Link) []*Link {
	if branchKey(b) < branchKey(a) {
		a, b = b, a
	}
	out := make([]*Link, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func branchKey(branch []*Link) string {
	if len(branch) == 0 {
		return ""
	}
	return branch[0].Hash.String()
}
