// Package resolver implements the strong-remove merge resolver: given two
// concurrent branches of a graph merge, it decides which of their links
// survive linearization, cross-cancelling mutual removals/demotions by
// seniority and cascading invalidation to the loser's other actions.
package resolver

import (
	"encoding/json"
	"sort"

	"github.com/localfirst/teamgraph/action"
	"github.com/localfirst/teamgraph/graph"
)

// revocation is one REMOVE_MEMBER / REMOVE_DEVICE / REMOVE_MEMBER_ROLE
// (ADMIN) link extracted from a branch.
type revocation struct {
	actor  string
	target string
	link   *graph.Link
}

// StrongRemove is a graph.Resolver. Register it when linearizing a graph
// whose merges may hide concurrent mutual removals or demotions:
//
//	seq, err := graph.GetSequence(g, resolver.StrongRemove)
func StrongRemove(ancestor, branchA, branchB []*graph.Link) []*graph.Link {
	seniority := rankBySeniority(ancestor, branchA, branchB)

	revA := extractRevocations(branchA)
	revB := extractRevocations(branchB)

	dropped := make(map[graph.Hash]bool)
	for _, ra := range revA {
		for _, rb := range revB {
			if ra.actor == rb.target && rb.actor == ra.target {
				// Mutual: a removed/demoted b, b removed/demoted a. The
				// junior principal's action is the one that is dropped.
				if seniorTo(seniority, ra.actor, rb.actor) {
					dropped[rb.link.Hash] = true
				} else {
					dropped[ra.link.Hash] = true
				}
			}
		}
	}

	targetsA := survivingTargets(revA, dropped)
	targetsB := survivingTargets(revB, dropped)

	filteredA := cascade(branchA, dropped, targetsB)
	filteredB := cascade(branchB, dropped, targetsA)

	merged := make([]*graph.Link, 0, len(filteredA)+len(filteredB))
	merged = append(merged, filteredA...)
	merged = append(merged, filteredB...)

	// Order survivors by branch-local timestamp, ties by link hash.
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Timestamp != merged[j].Timestamp {
			return merged[i].Timestamp < merged[j].Timestamp
		}
		return merged[i].Hash.String() < merged[j].Hash.String()
	})
	return merged
}

func survivingTargets(revs []revocation, dropped map[graph.Hash]bool) map[string]bool {
	out := make(map[string]bool)
	for _, r := range revs {
		if !dropped[r.link.Hash] {
			out[r.target] = true
		}
	}
	return out
}

// cascade drops links the other branch's surviving removals invalidate:
// every link authored by a principal targeted by one of those removals,
// except CHANGE_MEMBER_KEYS and ADD_DEVICE, which a demoted-but-still-
// member user may still post about themselves.
func cascade(branch []*graph.Link, dropped map[graph.Hash]bool, invalidated map[string]bool) []*graph.Link {
	out := make([]*graph.Link, 0, len(branch))
	for _, l := range branch {
		if dropped[l.Hash] {
			continue
		}
		if invalidated[l.Author.UserID] {
			if l.PayloadType == action.ChangeMemberKeys || l.PayloadType == action.AddDevice {
				out = append(out, l)
			}
			continue
		}
		out = append(out, l)
	}
	return out
}

func extractRevocations(branch []*graph.Link) []revocation {
	var out []revocation
	for _, l := range branch {
		switch l.PayloadType {
		case action.RemoveMember:
			var p action.RemoveMemberPayload
			if err := json.Unmarshal(l.Payload, &p); err == nil {
				out = append(out, revocation{actor: l.Author.UserID, target: p.UserID, link: l})
			}
		case action.RemoveDevice:
			var p action.RemoveDevicePayload
			if err := json.Unmarshal(l.Payload, &p); err == nil {
				out = append(out, revocation{actor: l.Author.UserID, target: p.UserID, link: l})
			}
		case action.RemoveMemberRole:
			var p action.RemoveMemberRolePayload
			if err := json.Unmarshal(l.Payload, &p); err == nil && p.RoleName == action.AdminRole {
				out = append(out, revocation{actor: l.Author.UserID, target: p.UserID, link: l})
			}
		}
	}
	return out
}

// rankBySeniority orders principals by first appearance — as a link
// author, as the founder named in the root payload, or as the subject of
// an ADD_MEMBER/ADMIT — walking the causal history before the branch
// point first, then each branch. Lower rank is more senior; the founder
// is always rank 0.
func rankBySeniority(ancestor, branchA, branchB []*graph.Link) map[string]int {
	rank := make(map[string]int)
	order := 0
	assign := func(seq []*graph.Link) {
		for _, l := range seq {
			for _, id := range appearanceUserIDs(l) {
				if id == "" {
					continue
				}
				if _, ok := rank[id]; !ok {
					rank[id] = order
					order++
				}
			}
		}
	}
	assign(ancestor)
	assign(branchA)
	assign(branchB)
	return rank
}

func appearanceUserIDs(l *graph.Link) []string {
	ids := []string{l.Author.UserID}
	switch l.PayloadType {
	case action.Root:
		var p action.RootPayload
		if err := json.Unmarshal(l.Payload, &p); err == nil {
			ids = append(ids, p.Founder.UserID)
		}
	case action.AddMember:
		var p action.AddMemberPayload
		if err := json.Unmarshal(l.Payload, &p); err == nil {
			ids = append(ids, p.Member.UserID)
		}
	case action.Admit:
		var p action.AdmitPayload
		if err := json.Unmarshal(l.Payload, &p); err == nil {
			ids = append(ids, p.Member.UserID)
		}
	}
	return ids
}

func seniorTo(rank map[string]int, x, y string) bool {
	const unranked = 1 << 30
	rx, ok := rank[x]
	if !ok {
		rx = unranked
	}
	ry, ok := rank[y]
	if !ok {
		ry = unranked
	}
	return rx < ry
}
