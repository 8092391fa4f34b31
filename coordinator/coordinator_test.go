package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localfirst/teamgraph/connection"
	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/pkg/storage/memory"
	"github.com/localfirst/teamgraph/team"
)

// cable joins two coordinators with queued delivery, so sends made while
// a machine holds its lock never re-enter the other side synchronously.
type cable struct {
	mu    sync.Mutex
	queue []func()
	a, b  *Coordinator
	// peer ids each side knows the other by
	aName, bName string
}

type cableEnd struct {
	c  *cable
	to **Coordinator
	as *string // the sender's name at the receiving end
}

func (e cableEnd) Send(env Envelope) error {
	e.c.mu.Lock()
	defer e.c.mu.Unlock()
	target, from := e.to, e.as
	e.c.queue = append(e.c.queue, func() {
		if coord := *target; coord != nil {
			env.PeerID = *from
			coord.Deliver(env)
		}
	})
	return nil
}

func (c *cable) ends() (Transport, Transport) {
	return cableEnd{c, &c.b, &c.aName}, cableEnd{c, &c.a, &c.bName}
}

func (c *cable) pump() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		next()
	}
}

func newKeyset(t *testing.T, scope keyset.Scope) *keyset.Keyset {
	t.Helper()
	ks, err := keyset.New(scope)
	require.NoError(t, err)
	return ks
}

func teamPair(t *testing.T) (aliceTeam, bobTeam *team.Team, aliceCtx, bobCtx team.Context) {
	t.Helper()
	aliceDevice := newKeyset(t, keyset.DeviceScope("alice-laptop"))
	aliceCtx = team.Context{UserID: "alice", DeviceID: "alice-laptop", Device: aliceDevice}
	f, err := team.Create("Spies", "Alice", aliceCtx)
	require.NoError(t, err)
	aliceTeam = f.Team

	bobMember := newKeyset(t, keyset.MemberScope("bob"))
	bobDevice := newKeyset(t, keyset.DeviceScope("bob-phone"))
	bobCtx = team.Context{UserID: "bob", DeviceID: "bob-phone", Device: bobDevice}
	require.NoError(t, aliceTeam.AddMember("bob", "Bob", bobMember.PublicOnly(), nil,
		"bob-phone", "phone", bobDevice.PublicOnly()))
	bobTeam = team.Load(aliceTeam.Graph(), bobCtx)
	return
}

func TestPeerCandidateConnectsMatchingShare(t *testing.T) {
	aliceTeam, bobTeam, aliceCtx, bobCtx := teamPair(t)

	c := &cable{aName: "alice", bName: "bob"}
	ta, tb := c.ends()
	alice, err := New(Config{Transport: ta})
	require.NoError(t, err)
	bob, err := New(Config{Transport: tb})
	require.NoError(t, err)
	c.a, c.b = alice, bob
	defer alice.Stop()
	defer bob.Stop()

	ctx := context.Background()
	require.NoError(t, alice.AddShare(ctx, &Share{ID: "spies", Team: aliceTeam, Context: aliceCtx}))
	require.NoError(t, bob.AddShare(ctx, &Share{ID: "spies", Team: bobTeam, Context: bobCtx}))

	alice.PeerCandidate("bob")
	bob.PeerCandidate("alice")
	c.pump()

	conn, shareID, ok := alice.Route("bob")
	require.True(t, ok)
	assert.Equal(t, "spies", shareID)
	assert.Equal(t, connection.StateConnected, conn.State())

	_, _, ok = bob.Route("alice")
	require.True(t, ok)
}

func TestEarlyMessagesBufferedUntilCandidate(t *testing.T) {
	aliceTeam, bobTeam, aliceCtx, bobCtx := teamPair(t)

	c := &cable{aName: "alice", bName: "bob"}
	ta, tb := c.ends()
	alice, err := New(Config{Transport: ta})
	require.NoError(t, err)
	bob, err := New(Config{Transport: tb})
	require.NoError(t, err)
	c.a, c.b = alice, bob
	defer alice.Stop()
	defer bob.Stop()

	ctx := context.Background()
	require.NoError(t, alice.AddShare(ctx, &Share{ID: "spies", Team: aliceTeam, Context: aliceCtx}))
	require.NoError(t, bob.AddShare(ctx, &Share{ID: "spies", Team: bobTeam, Context: bobCtx}))

	// Alice starts talking before bob has seen the candidate: bob's side
	// must buffer her HELLO and replay it once the connection exists.
	alice.PeerCandidate("bob")
	c.pump()

	_, ok := bob.Connection("spies", "alice")
	require.False(t, ok, "bob has no connection yet; alice's hello is buffered")

	bob.PeerCandidate("alice")
	c.pump()

	conn, _, ok := bob.Route("alice")
	require.True(t, ok)
	assert.Equal(t, connection.StateConnected, conn.State())
}

func TestRouteSelectsLowestShareID(t *testing.T) {
	// Two public shares both connect to the same peer; routing must pick
	// the lexicographically lowest share id.
	c := &cable{aName: "alice", bName: "bob"}
	ta, tb := c.ends()
	alice, err := New(Config{Transport: ta})
	require.NoError(t, err)
	bob, err := New(Config{Transport: tb})
	require.NoError(t, err)
	c.a, c.b = alice, bob
	defer alice.Stop()
	defer bob.Stop()

	ctx := context.Background()
	for _, id := range []string{"beta", "alpha"} {
		require.NoError(t, alice.AddShare(ctx, &Share{ID: id, Public: true, LocalName: "alice"}))
		require.NoError(t, bob.AddShare(ctx, &Share{ID: id, Public: true, LocalName: "bob"}))
	}
	alice.PeerCandidate("bob")
	bob.PeerCandidate("alice")
	c.pump()

	_, shareID, ok := alice.Route("bob")
	require.True(t, ok)
	assert.Equal(t, "alpha", shareID)
}

func TestShareRoundTripsThroughStore(t *testing.T) {
	aliceDevice := newKeyset(t, keyset.DeviceScope("alice-laptop"))
	aliceCtx := team.Context{UserID: "alice", DeviceID: "alice-laptop", Device: aliceDevice}
	f, err := team.Create("Spies", "Alice", aliceCtx)
	require.NoError(t, err)

	store := memory.NewStore()
	coord, err := New(Config{Transport: discard{}, Store: store})
	require.NoError(t, err)
	defer coord.Stop()

	ctx := context.Background()
	require.NoError(t, coord.AddShare(ctx, &Share{
		ID: "spies", Team: f.Team, Context: aliceCtx, DocumentIDs: []string{"doc-1"},
	}))

	// A fresh coordinator on the same store restores the share, with the
	// keyring unsealed by the same device key.
	coord2, err := New(Config{Transport: discard{}, Store: store})
	require.NoError(t, err)
	defer coord2.Stop()

	restored, err := coord2.LoadShare(ctx, "spies", aliceCtx)
	require.NoError(t, err)
	require.Equal(t, f.Team.Head(), restored.Team.Head())
	assert.Equal(t, []string{"doc-1"}, restored.DocumentIDs)
	assert.True(t, restored.Team.State().IsAdmin("alice"))

	// The restored side can still read team-scoped secrets.
	env, err := f.Team.Encrypt(keyset.TeamScope(), []byte("still here"))
	require.NoError(t, err)
	plaintext, err := restored.Team.Decrypt(env)
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), plaintext)
}

func TestSealKeyringWrongDeviceFails(t *testing.T) {
	device := newKeyset(t, keyset.DeviceScope("alice-laptop"))
	other := newKeyset(t, keyset.DeviceScope("mallory-pc"))
	teamKeys := newKeyset(t, keyset.TeamScope())

	sealed, err := SealKeyring(device, map[string]*keyset.Keyset{teamKeys.PublicOnly().ID(): teamKeys})
	require.NoError(t, err)

	_, err = OpenKeyring(other, sealed)
	assert.Error(t, err)

	ring, err := OpenKeyring(device, sealed)
	require.NoError(t, err)
	require.Len(t, ring, 1)
	for _, k := range ring {
		assert.Equal(t, keyset.TeamScope(), k.Scope)
		assert.True(t, k.HasSecrets())
	}
}

func TestInvitationTokenRoundTrip(t *testing.T) {
	secret := []byte("shared-idp-secret")
	token, err := EncodeInvitationToken(secret, "spies", "ABCD EFGH IJKL MNOP", "carol", "Carol", time.Hour)
	require.NoError(t, err)

	claims, err := DecodeInvitationToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "spies", claims.ShareID)
	assert.Equal(t, "abcdefghijklmnop", claims.Seed, "seed is normalized before signing")
	assert.Equal(t, "carol", claims.UserID)

	_, err = DecodeInvitationToken([]byte("wrong"), token)
	assert.Error(t, err)
}

// discard swallows outbound envelopes for tests with no peer.
type discard struct{}

func (discard) Send(Envelope) error { return nil }
