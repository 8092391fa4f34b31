package connection

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/localfirst/teamgraph/invitation"
	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/team"
)

// wire is an in-memory transport pairing two connections. Sends are
// queued (a connection sends while holding its own lock, so delivery
// must not be re-entrant) and drained by pump.
type wire struct {
	mu    sync.Mutex
	queue []func()
	a, b  *Connection
}

type endpoint struct {
	w  *wire
	to **Connection
}

func (e endpoint) Send(msg Message) error {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	target := e.to
	e.w.queue = append(e.w.queue, func() {
		if c := *target; c != nil {
			c.Deliver(msg)
		}
	})
	return nil
}

// endpoints returns the transport for each side; the wire learns the
// actual connections afterward via attach.
func (w *wire) endpoints() (Transport, Transport) {
	return endpoint{w, &w.b}, endpoint{w, &w.a}
}

func (w *wire) attach(a, b *Connection) {
	w.a, w.b = a, b
}

// pump drains queued deliveries until the wire goes quiet.
func (w *wire) pump() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		next := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()
		next()
	}
}

// pumpUntil keeps draining (including deliveries queued asynchronously
// by team listeners) until cond holds or the deadline passes.
func (w *wire) pumpUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w.pump()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition never reached")
}

func newKeyset(t *testing.T, scope keyset.Scope) *keyset.Keyset {
	t.Helper()
	ks, err := keyset.New(scope)
	require.NoError(t, err)
	return ks
}

// twoMemberTeams founds a team as alice, adds bob, and returns each
// side's team facade plus their contexts.
func twoMemberTeams(t *testing.T) (aliceTeam, bobTeam *team.Team, aliceCtx, bobCtx team.Context) {
	t.Helper()
	aliceDevice := newKeyset(t, keyset.DeviceScope("alice-laptop"))
	aliceCtx = team.Context{UserID: "alice", DeviceID: "alice-laptop", Device: aliceDevice}
	f, err := team.Create("Spies", "Alice", aliceCtx)
	require.NoError(t, err)
	aliceTeam = f.Team

	bobMember := newKeyset(t, keyset.MemberScope("bob"))
	bobDevice := newKeyset(t, keyset.DeviceScope("bob-phone"))
	bobCtx = team.Context{UserID: "bob", DeviceID: "bob-phone", Device: bobDevice}
	require.NoError(t, aliceTeam.AddMember("bob", "Bob", bobMember.PublicOnly(),
		[]string{"ADMIN"}, "bob-phone", "phone", bobDevice.PublicOnly()))

	bobTeam = team.Load(aliceTeam.Graph(), bobCtx)
	return aliceTeam, bobTeam, aliceCtx, bobCtx
}

func connectPair(t *testing.T, w *wire, aCfg, bCfg Config) (*Connection, *Connection) {
	t.Helper()
	ta, tb := w.endpoints()
	aCfg.Transport, bCfg.Transport = ta, tb
	a, err := New(aCfg)
	require.NoError(t, err)
	b, err := New(bCfg)
	require.NoError(t, err)
	w.attach(a, b)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	return a, b
}

func TestMutualMembersConnect(t *testing.T) {
	aliceTeam, bobTeam, aliceCtx, bobCtx := twoMemberTeams(t)
	w := &wire{}
	a, b := connectPair(t, w,
		Config{PeerID: "bob", Team: aliceTeam, Context: aliceCtx},
		Config{PeerID: "alice", Team: bobTeam, Context: bobCtx})
	defer a.Stop()
	defer b.Stop()

	w.pump()

	require.Equal(t, StateConnected, a.State())
	require.Equal(t, StateConnected, b.State())
	require.Equal(t, a.Session().GetID(), b.Session().GetID(),
		"both sides must derive the same session key")

	packet, err := a.Encrypt([]byte("rendezvous at dawn"))
	require.NoError(t, err)
	plaintext, err := b.Decrypt(packet)
	require.NoError(t, err)
	require.Equal(t, []byte("rendezvous at dawn"), plaintext)
}

func TestDivergedGraphsConverge(t *testing.T) {
	aliceTeam, bobTeam, aliceCtx, bobCtx := twoMemberTeams(t)

	// Both sides mutate while disconnected.
	require.NoError(t, aliceTeam.AddRole("MANAGERS"))
	require.NoError(t, bobTeam.AddRole("WRITERS"))
	require.NotEqual(t, aliceTeam.Head(), bobTeam.Head())

	w := &wire{}
	a, b := connectPair(t, w,
		Config{PeerID: "bob", Team: aliceTeam, Context: aliceCtx},
		Config{PeerID: "alice", Team: bobTeam, Context: bobCtx})
	defer a.Stop()
	defer b.Stop()

	w.pump()

	require.Equal(t, StateConnected, a.State())
	require.Equal(t, StateConnected, b.State())
	require.Equal(t, aliceTeam.Head(), bobTeam.Head(), "heads must converge")
	require.Contains(t, aliceTeam.State().Roles, "WRITERS")
	require.Contains(t, bobTeam.State().Roles, "MANAGERS")
}

func TestLiveUpdatesPropagate(t *testing.T) {
	aliceTeam, bobTeam, aliceCtx, bobCtx := twoMemberTeams(t)
	w := &wire{}
	a, b := connectPair(t, w,
		Config{PeerID: "bob", Team: aliceTeam, Context: aliceCtx},
		Config{PeerID: "alice", Team: bobTeam, Context: bobCtx})
	defer a.Stop()
	defer b.Stop()
	w.pump()
	require.Equal(t, StateConnected, a.State())

	// A local mutation while connected flows to the peer.
	require.NoError(t, aliceTeam.AddRole("MANAGERS"))
	w.pumpUntil(t, func() bool {
		_, ok := bobTeam.State().Roles["MANAGERS"]
		return ok && a.State() == StateConnected && b.State() == StateConnected
	})
}

func TestInviteeJoins(t *testing.T) {
	aliceDevice := newKeyset(t, keyset.DeviceScope("alice-laptop"))
	aliceCtx := team.Context{UserID: "alice", DeviceID: "alice-laptop", Device: aliceDevice}
	f, err := team.Create("Spies", "Alice", aliceCtx)
	require.NoError(t, err)
	aliceTeam := f.Team

	inv, err := aliceTeam.Invite(invitation.Params{Seed: "abcdefghijklmnop"})
	require.NoError(t, err)

	charlieDevice := newKeyset(t, keyset.DeviceScope("charlie-laptop"))
	charlieMember := newKeyset(t, keyset.MemberScope("charlie"))
	charlieCtx := team.Context{UserID: "charlie", DeviceID: "charlie-laptop", Device: charlieDevice}

	w := &wire{}
	a, c := connectPair(t, w,
		Config{PeerID: "charlie", Team: aliceTeam, Context: aliceCtx},
		Config{PeerID: "alice", Context: charlieCtx, Join: &JoinParams{
			Seed:       inv.Seed,
			UserID:     "charlie",
			UserName:   "Charlie",
			MemberKeys: charlieMember,
		}})
	defer a.Stop()
	defer c.Stop()

	w.pump()

	require.Equal(t, StateConnected, a.State())
	require.Equal(t, StateConnected, c.State())

	require.True(t, aliceTeam.State().IsMember("charlie"))
	require.Contains(t, aliceTeam.State().Members["charlie"].Devices, "charlie-laptop")
	require.Equal(t, charlieMember.PublicOnly(), aliceTeam.State().Members["charlie"].Keys,
		"charlie's starter keys are replaced by his permanent keys")

	charlieTeam := c.Team()
	require.NotNil(t, charlieTeam)
	require.Equal(t, aliceTeam.Head(), charlieTeam.Head())

	// Charlie can read a team-scoped secret sealed by alice.
	env, err := aliceTeam.Encrypt(keyset.TeamScope(), []byte("welcome"))
	require.NoError(t, err)
	plaintext, err := charlieTeam.Decrypt(env)
	require.NoError(t, err)
	require.Equal(t, []byte("welcome"), plaintext)
}

func TestUnknownIdentityRejected(t *testing.T) {
	aliceTeam, _, aliceCtx, _ := twoMemberTeams(t)

	malloryDevice := newKeyset(t, keyset.DeviceScope("mallory-pc"))
	malloryCtx := team.Context{UserID: "mallory", DeviceID: "mallory-pc", Device: malloryDevice}
	// Mallory holds a copy of the graph but was never admitted.
	malloryTeam := team.Load(aliceTeam.Graph(), malloryCtx)

	w := &wire{}
	a, m := connectPair(t, w,
		Config{PeerID: "mallory", Team: aliceTeam, Context: aliceCtx},
		Config{PeerID: "alice", Team: malloryTeam, Context: malloryCtx})

	w.pump()

	require.Equal(t, StateFailure, a.State())
	require.ErrorIs(t, a.Err(), ErrIdentityUnknown)
	require.Equal(t, StateFailure, m.State())
}

func TestRemovedDeviceRejected(t *testing.T) {
	aliceTeam, bobTeam, aliceCtx, bobCtx := twoMemberTeams(t)

	// Bob's phone is removed after he got a second device; his stale
	// context still tries to connect with the removed one.
	bobLaptop := newKeyset(t, keyset.DeviceScope("bob-laptop"))
	require.NoError(t, aliceTeam.AddDevice("bob", "bob-laptop", "laptop", bobLaptop.PublicOnly()))
	require.NoError(t, aliceTeam.RemoveDevice("bob", "bob-phone"))

	w := &wire{}
	a, b := connectPair(t, w,
		Config{PeerID: "bob", Team: aliceTeam, Context: aliceCtx},
		Config{PeerID: "alice", Team: bobTeam, Context: bobCtx})

	w.pump()

	require.Equal(t, StateFailure, a.State())
	require.ErrorIs(t, a.Err(), ErrIdentityUnknown)
	_ = b
}

func TestBothInvitedFails(t *testing.T) {
	charlieDevice := newKeyset(t, keyset.DeviceScope("charlie-laptop"))
	charlieCtx := team.Context{UserID: "charlie", DeviceID: "charlie-laptop", Device: charlieDevice}
	dwightDevice := newKeyset(t, keyset.DeviceScope("dwight-pc"))
	dwightCtx := team.Context{UserID: "dwight", DeviceID: "dwight-pc", Device: dwightDevice}
	charlieMember := newKeyset(t, keyset.MemberScope("charlie"))
	dwightMember := newKeyset(t, keyset.MemberScope("dwight"))

	w := &wire{}
	c, d := connectPair(t, w,
		Config{PeerID: "dwight", Context: charlieCtx, Join: &JoinParams{
			Seed: "abcdefghijklmnop", UserID: "charlie", UserName: "Charlie", MemberKeys: charlieMember,
		}},
		Config{PeerID: "charlie", Context: dwightCtx, Join: &JoinParams{
			Seed: "ponmlkjihgfedcba", UserID: "dwight", UserName: "Dwight", MemberKeys: dwightMember,
		}})

	w.pump()

	require.Equal(t, StateFailure, c.State())
	require.ErrorIs(t, c.Err(), ErrNeitherIsMember)
	require.Equal(t, StateFailure, d.State())
}

func TestOutOfOrderDeliveryBuffered(t *testing.T) {
	aliceTeam, bobTeam, aliceCtx, bobCtx := twoMemberTeams(t)

	// Capture alice's outbound messages instead of delivering directly.
	var captured []Message
	capture := transportFunc(func(m Message) error {
		captured = append(captured, m)
		return nil
	})

	a, err := New(Config{PeerID: "bob", Team: aliceTeam, Context: aliceCtx, Transport: capture})
	require.NoError(t, err)

	var toA []Message
	b, err := New(Config{PeerID: "alice", Team: bobTeam, Context: bobCtx,
		Transport: transportFunc(func(m Message) error { toA = append(toA, m); return nil })})
	require.NoError(t, err)

	require.NoError(t, a.Start())
	require.NoError(t, b.Start())

	// Deliver alice's HELLO, then her proof before her challenge:
	// bob must buffer index 3 until index 2 arrives.
	b.Deliver(captured[0])
	require.Len(t, toA, 2, "hello answered with a challenge")

	for _, m := range toA {
		a.Deliver(m)
	}
	require.GreaterOrEqual(t, len(captured), 3)

	b.Deliver(captured[2])
	require.Equal(t, StateConnecting, b.State(), "out-of-order message must be buffered, not processed")
	b.Deliver(captured[1])
	require.NotEqual(t, StateFailure, b.State())
}

func TestTimeout(t *testing.T) {
	aliceTeam, _, aliceCtx, _ := twoMemberTeams(t)
	a, err := New(Config{
		PeerID: "bob", Team: aliceTeam, Context: aliceCtx,
		Transport: transportFunc(func(Message) error { return nil }),
		Timeout:   50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, a.Start())

	require.Eventually(t, func() bool { return a.State() == StateFailure }, time.Second, 10*time.Millisecond)
	require.ErrorIs(t, a.Err(), ErrTimeout)
}

func TestStopDisconnectsBothSides(t *testing.T) {
	aliceTeam, bobTeam, aliceCtx, bobCtx := twoMemberTeams(t)
	w := &wire{}
	var disconnected []string
	a, b := connectPair(t, w,
		Config{PeerID: "bob", Team: aliceTeam, Context: aliceCtx},
		Config{PeerID: "alice", Team: bobTeam, Context: bobCtx,
			Events: eventRecorder{onDisconnected: func(peer, reason string) {
				disconnected = append(disconnected, reason)
			}}})
	w.pump()
	require.Equal(t, StateConnected, a.State())

	a.Stop()
	w.pump()

	require.Equal(t, StateDisconnected, a.State())
	require.Equal(t, StateDisconnected, b.State())
	require.Contains(t, disconnected, ReasonRemote)
	require.Nil(t, a.Session(), "session key material is released on disconnect")
}

// transportFunc adapts a function to the Transport interface.
type transportFunc func(Message) error

func (f transportFunc) Send(m Message) error { return f(m) }

// eventRecorder implements Events with optional hooks.
type eventRecorder struct {
	onDisconnected func(peer, reason string)
}

func (e eventRecorder) OnConnected(string) {}
func (e eventRecorder) OnDisconnected(peer, reason string) {
	if e.onDisconnected != nil {
		e.onDisconnected(peer, reason)
	}
}
func (e eventRecorder) OnFailure(string, error)      {}
func (e eventRecorder) OnRemoteError(string, string) {}
