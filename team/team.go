// Package team implements the team facade: the mutation surface over a
// signed graph and its reduced state, scoped to one local user/device
// context. Every mutator builds a payload (plus whatever lockboxes the
// mutation requires), appends it to the graph, and incrementally
// re-reduces state from just the new link.
package team

import (
	"fmt"
	"sync"

	"github.com/localfirst/teamgraph/action"
	"github.com/localfirst/teamgraph/graph"
	"github.com/localfirst/teamgraph/internal/logger"
	"github.com/localfirst/teamgraph/internal/metrics"
	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/lockbox"
	"github.com/localfirst/teamgraph/reducer"
	"github.com/localfirst/teamgraph/resolver"
)

// Context identifies the local user and device a Team acts as, and
// carries the device's secret signing/encryption keyset used to sign
// every new link and to open lockboxes addressed to this device.
type Context struct {
	UserID   string
	DeviceID string
	Device   *keyset.Keyset // must carry secrets
}

func (c Context) author() graph.AuthorContext {
	return graph.AuthorContext{UserID: c.UserID, DeviceID: c.DeviceID, Signer: c.Device}
}

// Team is the facade over one team's graph + reduced state, for one
// local device. All mutations are serialized by mu; reads may be taken
// concurrently by holding RLock via the accessor methods.
type Team struct {
	mu      sync.RWMutex
	chain   *graph.Graph
	state   *reducer.State
	ctx     Context
	keyring map[string]*keyset.Keyset // scope/generation ID -> secret keyset, reachable via lockboxes
	held    map[string]*keyset.Keyset // extra secrets restored from persistence, see LoadWithKeyring
	reg     listenerRegistry
}

// Founding bundles the keysets generated at team creation, returned so
// the caller can persist or hand them to other devices out of band.
type Founding struct {
	Team      *Team
	TeamKeys  *keyset.Keyset
	AdminKeys *keyset.Keyset
}

// Create founds a brand-new team named teamName, with ctx's user as the
// sole founding admin and ctx's device as their first device.
func Create(teamName, founderName string, ctx Context) (*Founding, error) {
	if !ctx.Device.HasSecrets() {
		return nil, fmt.Errorf("team: context device keyset must carry secrets")
	}
	teamKeys, err := keyset.New(keyset.TeamScope())
	if err != nil {
		return nil, fmt.Errorf("team: create team keyset: %w", err)
	}
	adminKeys, err := keyset.New(keyset.RoleScope(action.AdminRole))
	if err != nil {
		return nil, fmt.Errorf("team: create admin keyset: %w", err)
	}
	memberKeys, err := keyset.New(keyset.MemberScope(ctx.UserID))
	if err != nil {
		return nil, fmt.Errorf("team: create founder member keyset: %w", err)
	}

	var boxes []*lockbox.Lockbox
	for _, ks := range []*keyset.Keyset{teamKeys, adminKeys} {
		box, err := lockbox.Create(ks, memberKeys.PublicOnly())
		if err != nil {
			return nil, fmt.Errorf("team: seal %s to founder: %w", ks.Scope, err)
		}
		boxes = append(boxes, box)
	}
	memberBox, err := lockbox.Create(memberKeys, ctx.Device.PublicOnly())
	if err != nil {
		return nil, fmt.Errorf("team: seal member keys to founder device: %w", err)
	}
	boxes = append(boxes, memberBox)

	root := &action.RootPayload{
		TeamName: teamName,
		Founder: action.Member{
			UserID: ctx.UserID, Name: founderName,
			Keys: memberKeys.PublicOnly(), Roles: []string{action.AdminRole},
		},
		FounderDevice: action.Device{ID: ctx.DeviceID, Name: "founder-device", Keys: ctx.Device.PublicOnly()},
		TeamKeys:      teamKeys.PublicOnly(),
		AdminKeys:     adminKeys.PublicOnly(),
		Lockboxes:     boxes,
	}
	chain, err := graph.Create(root, ctx.author())
	if err != nil {
		return nil, fmt.Errorf("team: create root link: %w", err)
	}

	t := &Team{chain: chain, ctx: ctx}
	t.reduceAll()
	return &Founding{Team: t, TeamKeys: teamKeys, AdminKeys: adminKeys}, nil
}

// Load reconstructs a Team facade from an existing graph for ctx.
func Load(chain *graph.Graph, ctx Context) *Team {
	t := &Team{chain: chain, ctx: ctx}
	t.reduceAll()
	return t
}

// LoadWithKeyring is Load plus a set of previously-held secret keysets
// (e.g. unsealed from a persisted share record) merged into the keyring
// recomputed from the lockbox graph. Old generations a device once held
// stay usable for decryption even when no current lockbox re-delivers
// them.
func LoadWithKeyring(chain *graph.Graph, ctx Context, held map[string]*keyset.Keyset) *Team {
	t := &Team{chain: chain, ctx: ctx, held: held}
	t.reduceAll()
	return t
}

// reduceAll recomputes state from scratch over the whole graph, using the
// strong-remove resolver to linearize any concurrent branches.
func (t *Team) reduceAll() {
	seq, err := graph.GetSequence(t.chain, resolver.StrongRemove)
	if err != nil {
		logger.ErrorMsg("team: failed to linearize graph", logger.Error(err))
		t.state = reducer.Reduce(nil)
		return
	}
	t.state = reducer.Reduce(seq)
	t.refreshKeyring()
}

// refreshKeyring recomputes the set of secret keysets this device can
// currently reach by opening lockboxes starting from its own device key.
func (t *Team) refreshKeyring() {
	keys, err := t.state.Lockboxes.VisibleKeys(t.ctx.Device)
	if err != nil {
		t.keyring = map[string]*keyset.Keyset{t.ctx.Device.PublicOnly().ID(): t.ctx.Device}
		return
	}
	ring := make(map[string]*keyset.Keyset, len(keys))
	for _, k := range keys {
		ring[k.PublicOnly().ID()] = k
	}
	for id, k := range t.held {
		if _, ok := ring[id]; !ok && k.HasSecrets() {
			ring[id] = k
		}
	}
	t.keyring = ring
}

// lookupSecret finds the held secret Keyset whose scope matches exactly,
// preferring the highest generation.
func (t *Team) lookupSecret(scope keyset.Scope) *keyset.Keyset {
	var best *keyset.Keyset
	for _, k := range t.keyring {
		if k.Scope != scope {
			continue
		}
		if best == nil || k.Generation > best.Generation {
			best = k
		}
	}
	return best
}

// lookupSecretGen finds the held secret Keyset matching scope and
// generation exactly, used by Decrypt to honor envelopes sealed under an
// older generation that is still reachable.
func (t *Team) lookupSecretGen(scope keyset.Scope, generation uint32) *keyset.Keyset {
	for _, k := range t.keyring {
		if k.Scope == scope && k.Generation == generation {
			return k
		}
	}
	return nil
}

// Keyring returns a snapshot of every secret keyset this device currently
// holds or can reach via lockboxes, for coordinator.SealKeyring to seal
// into a persisted share record (see pkg/storage).
func (t *Team) Keyring() map[string]*keyset.Keyset {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]*keyset.Keyset, len(t.keyring))
	for k, v := range t.keyring {
		out[k] = v
	}
	return out
}

// State returns the current reduced team state (read-only snapshot).
func (t *Team) State() *reducer.State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Graph returns the underlying signed graph (read-only snapshot).
func (t *Team) Graph() *graph.Graph {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chain
}

// Head is a convenience accessor for the graph's current head hash.
func (t *Team) Head() graph.Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.chain.Head
}

// append is the shared append-then-reduce-then-refresh sequence every
// mutator funnels through.
func (t *Team) append(payloadType action.PayloadType, payload interface{}) error {
	t.mu.Lock()
	next, err := graph.Append(t.chain, payloadType, payload, t.ctx.author())
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("team: append %s: %w", payloadType, err)
	}
	link := next.Links[next.Head]
	t.state = reducer.ReduceFrom(t.state, []*graph.Link{link})
	t.chain = next
	t.refreshKeyring()
	t.mu.Unlock()
	metrics.LinkAppended(string(payloadType))
	t.notify()
	return nil
}

// requireAdmin returns an error unless the local user currently holds
// ADMIN — a facade-level pre-check; the reducer enforces the same rule
// authoritatively when the link is folded.
func (t *Team) requireAdmin() error {
	if !t.state.IsAdmin(t.ctx.UserID) {
		return ErrNotAdmin
	}
	return nil
}

// sealTo seals contents (a keyset this device holds secrets for) to every
// recipient in recipients, skipping any recipient whose scope equals
// contents' own scope (lockbox.Create forbids self-addressed boxes).
func sealTo(contents *keyset.Keyset, recipients ...keyset.Public) ([]*lockbox.Lockbox, error) {
	var boxes []*lockbox.Lockbox
	for _, r := range recipients {
		if r.Scope == contents.Scope {
			continue
		}
		box, err := lockbox.Create(contents, r)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, box)
	}
	return boxes, nil
}

// memberRecipients returns the current member-scope public keysets of
// every given user id that is currently a member.
func (t *Team) memberRecipients(userIDs ...string) []keyset.Public {
	var out []keyset.Public
	for _, uid := range userIDs {
		if m, ok := t.state.Members[uid]; ok {
			out = append(out, m.Keys)
		}
	}
	return out
}

func (t *Team) allMemberIDs() []string {
	ids := make([]string, 0, len(t.state.Members))
	for uid := range t.state.Members {
		ids = append(ids, uid)
	}
	return ids
}

func (t *Team) adminMemberIDs() []string {
	var ids []string
	for uid, m := range t.state.Members {
		if m.Roles[action.AdminRole] {
			ids = append(ids, uid)
		}
	}
	return ids
}
