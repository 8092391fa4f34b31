package connection

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/localfirst/teamgraph/graph"
	"github.com/localfirst/teamgraph/internal/logger"
	"github.com/localfirst/teamgraph/internal/metrics"
	"github.com/localfirst/teamgraph/invitation"
	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/session"
	"github.com/localfirst/teamgraph/team"
)

// DefaultTimeout caps how long any state waits for its next expected
// message before the connection fails with ErrTimeout.
const DefaultTimeout = 7 * time.Second

// seedAAD binds sealed session-key seeds to their purpose.
var seedAAD = []byte("connection-seed")

// JoinParams configures a Connection whose local side is an invitee: it
// holds no team yet and proves possession of an invitation seed instead
// of a recorded device identity.
type JoinParams struct {
	Seed     string
	UserID   string
	UserName string
	// MemberKeys are the invitee's permanent member-scope keys, posted
	// via CHANGE_MEMBER_KEYS once the team has been adopted.
	MemberKeys *keyset.Keyset
}

// Config assembles a Connection's dependencies.
type Config struct {
	// PeerID identifies the remote peer at the transport level, used in
	// event callbacks and session bookkeeping.
	PeerID string
	// Team is the local team. Nil when Join is set.
	Team *team.Team
	// Context is the local user/device identity. For an invitee this is
	// the permanent device; the seed-derived bootstrap identity is used
	// on the wire until the team has been adopted.
	Context team.Context
	// Join marks this side as an invitee.
	Join      *JoinParams
	Transport Transport
	Events    Events
	// Sessions optionally shares one session manager across connections;
	// a private one is created when nil.
	Sessions *session.Manager
	Session  session.Config
	Timeout  time.Duration
}

// Connection is the per-peer protocol state machine. It is fed inbound
// messages via Deliver, emits outbound messages through its Transport,
// and reports lifecycle changes through Events. All processing is
// serialized by an internal mutex; messages arriving out of order by
// index are buffered and released in sequence.
type Connection struct {
	mu  sync.Mutex
	cfg Config

	state State
	team  *team.Team

	// wire ordering
	outIndex uint64
	nextIn   uint64
	inbox    map[uint64]Message

	// connecting substate
	peerClaim     IdentityClaim
	peerHello     bool
	peerInvited   bool
	peerDeviceKey keyset.Public // encryption target for our seed
	ourProven     bool
	theirVerified bool
	sentChallenge *ChallengeIdentityPayload

	// invitee bootstrap identity (seed-derived)
	starterDevice *keyset.Keyset

	// synchronizing
	theirHead   graph.Hash
	theirHashes map[graph.Hash]bool

	// negotiating
	ourSeed   []byte
	theirSeed []byte
	sess      session.Session
	sessions  *session.Manager
	ownedMgr  bool

	timer       *time.Timer
	unsubscribe func()
	err         error
}

// New assembles a Connection; call Start to send the opening HELLO.
func New(cfg Config) (*Connection, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("connection: transport is required")
	}
	if cfg.Events == nil {
		cfg.Events = NoopEvents{}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Team == nil && cfg.Join == nil {
		return nil, fmt.Errorf("connection: either a team or join params are required")
	}
	c := &Connection{
		cfg:      cfg,
		state:    StateIdle,
		team:     cfg.Team,
		inbox:    make(map[uint64]Message),
		nextIn:   1,
		sessions: cfg.Sessions,
	}
	if c.sessions == nil {
		c.sessions = session.NewManager()
		c.ownedMgr = true
	}
	if cfg.Join != nil {
		if cfg.Join.MemberKeys == nil || !cfg.Join.MemberKeys.HasSecrets() {
			return nil, fmt.Errorf("connection: join params need permanent member keys with secrets")
		}
		_, starterDevice, err := invitation.StarterKeys(cfg.Join.Seed, cfg.Join.UserID)
		if err != nil {
			return nil, fmt.Errorf("connection: derive starter keys: %w", err)
		}
		c.starterDevice = starterDevice
	}
	return c, nil
}

// State returns the machine's current top-level state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that moved the machine to failure, if any.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Team returns the team this connection operates on. For an invitee this
// is nil until the peer's ACCEPT_INVITATION has been adopted.
func (c *Connection) Team() *team.Team {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.team
}

// Session returns the negotiated secure channel, nil before connected.
func (c *Connection) Session() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Start sends the opening HELLO and arms the first timeout.
func (c *Connection) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return fmt.Errorf("connection: already started")
	}

	seed := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return fmt.Errorf("connection: generate session seed: %w", err)
	}
	c.ourSeed = seed

	hello := &HelloPayload{}
	if c.cfg.Join != nil {
		proof, err := invitation.GenerateProof(c.cfg.Join.Seed, c.cfg.Join.UserName)
		if err != nil {
			return fmt.Errorf("connection: generate invitation proof: %w", err)
		}
		starterMember, _, err := invitation.StarterKeys(c.cfg.Join.Seed, c.cfg.Join.UserID)
		if err != nil {
			return err
		}
		hello.Claim = IdentityClaim{
			UserID:   c.cfg.Join.UserID,
			DeviceID: invitation.BootstrapDeviceID(c.cfg.Join.UserID),
		}
		hello.Invitation = &InvitationProof{
			InvitationID: invitation.DeriveID(c.cfg.Join.Seed),
			UserName:     c.cfg.Join.UserName,
			Proof:        proof,
			MemberKeys:   starterMember.PublicOnly(),
			DeviceKeys:   c.starterDevice.PublicOnly(),
		}
	} else {
		hello.Claim = IdentityClaim{UserID: c.cfg.Context.UserID, DeviceID: c.cfg.Context.DeviceID}
		c.unsubscribe = c.team.Subscribe(c.onLocalUpdate)
	}

	c.state = StateConnecting
	metrics.ConnectionState(string(StateConnecting))
	c.send(Hello, Message{Hello: hello})
	c.armTimeout()
	return nil
}

// Stop cancels the connection: it tells the peer, moves to disconnected,
// and releases the session key material.
func (c *Connection) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected || c.state == StateFailure {
		return
	}
	c.send(Disconnect, Message{})
	c.err = ErrCancelled
	c.disconnect(ReasonStopped)
}

// Deliver feeds one inbound message to the machine. Messages are buffered
// by index and processed strictly in sequence, so the transport adapter
// may deliver out of order.
func (c *Connection) Deliver(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.Index < c.nextIn {
		return // duplicate
	}
	c.inbox[msg.Index] = msg
	for {
		next, ok := c.inbox[c.nextIn]
		if !ok {
			return
		}
		delete(c.inbox, c.nextIn)
		c.nextIn++
		if c.state == StateDisconnected || c.state == StateFailure {
			continue // drain without processing
		}
		c.process(next)
	}
}

// send stamps and emits one outbound message. Callers hold c.mu.
func (c *Connection) send(typ MessageType, msg Message) {
	c.outIndex++
	msg.ID = uuid.NewString()
	msg.Type = typ
	msg.Index = c.outIndex
	metrics.MessageSent(string(typ))
	if err := c.cfg.Transport.Send(msg); err != nil {
		logger.Warn("connection: send failed",
			logger.Peer(c.cfg.PeerID),
			logger.String("type", string(typ)),
			logger.Error(err))
	}
}

func (c *Connection) sendError(reason string) {
	c.send(ErrorMessage, Message{Error: &ErrorPayload{Reason: reason}})
}

// fail reports a locally-detected error, tells the peer, and halts the
// machine in the failure state.
func (c *Connection) fail(err error) {
	c.err = err
	c.sendError(err.Error())
	c.enterFailure()
	c.cfg.Events.OnFailure(c.cfg.PeerID, err)
}

func (c *Connection) enterFailure() {
	c.state = StateFailure
	metrics.ConnectionState(string(StateFailure))
	c.cleanup()
}

func (c *Connection) disconnect(reason string) {
	c.state = StateDisconnected
	metrics.ConnectionState(string(StateDisconnected))
	c.cleanup()
	c.cfg.Events.OnDisconnected(c.cfg.PeerID, reason)
}

// cleanup releases timers, subscriptions, and key material. Session keys
// live only in the connection and are zeroed here.
func (c *Connection) cleanup() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	for i := range c.ourSeed {
		c.ourSeed[i] = 0
	}
	for i := range c.theirSeed {
		c.theirSeed[i] = 0
	}
	// Only a connection that actually negotiated a session may drop it:
	// with a shared manager, a sibling share's failed attempt must not
	// tear down the winning share's channel to the same peer.
	if c.sess != nil {
		c.sessions.Remove(c.cfg.PeerID)
	}
	if c.ownedMgr {
		c.sessions.Close()
		c.ownedMgr = false
	}
	c.sess = nil
}

// armTimeout (re)starts the single-outstanding-message deadline.
func (c *Connection) armTimeout() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.Timeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		switch c.state {
		case StateConnected, StateDisconnected, StateFailure, StateIdle:
			return
		}
		c.fail(ErrTimeout)
	})
}

// process dispatches one in-sequence message. Callers hold c.mu.
func (c *Connection) process(msg Message) {
	metrics.MessageReceived(string(msg.Type))
	switch msg.Type {
	case Hello:
		c.onHello(msg)
	case AcceptInvitation:
		c.onAcceptInvitation(msg)
	case ChallengeIdentity:
		c.onChallenge(msg)
	case ProveIdentity:
		c.onProve(msg)
	case AcceptIdentity:
		c.onAcceptIdentity(msg)
	case Update, LocalUpdate:
		c.onUpdate(msg)
	case MissingLinks:
		c.onMissingLinks(msg)
	case Seed:
		c.onSeed(msg)
	case Disconnect:
		c.err = nil
		c.disconnect(ReasonRemote)
	case ErrorMessage:
		reason := ""
		if msg.Error != nil {
			reason = msg.Error.Reason
		}
		c.err = fmt.Errorf("connection: peer error: %s", reason)
		c.cfg.Events.OnRemoteError(c.cfg.PeerID, reason)
		c.enterFailure()
	default:
		c.fail(ErrUnexpectedMessage)
	}
}

func (c *Connection) onHello(msg Message) {
	if c.state != StateConnecting || msg.Hello == nil || c.peerHello {
		c.fail(ErrUnexpectedMessage)
		return
	}
	c.peerHello = true
	c.peerClaim = msg.Hello.Claim
	c.peerInvited = msg.Hello.Invitation != nil
	c.armTimeout()

	if c.peerInvited && c.cfg.Join != nil {
		c.fail(ErrNeitherIsMember)
		return
	}

	if c.peerInvited {
		c.admitPeer(msg.Hello)
		return
	}

	if c.cfg.Join != nil {
		// We are the invitee: the peer's membership can only be checked
		// once we have a team, so we wait for ACCEPT_INVITATION.
		return
	}

	// Mutual members: the claimed device must exist in our team.
	if _, ok := c.team.State().SigningKeyFor(c.peerClaim.UserID, c.peerClaim.DeviceID); !ok {
		c.fail(ErrIdentityUnknown)
		return
	}
	c.challengePeer()
}

// admitPeer validates the invitee's proof against our team and, on
// success, posts the ADMIT/ADD_DEVICE links and hands over the graph.
func (c *Connection) admitPeer(hello *HelloPayload) {
	p := hello.Invitation
	inv, ok := c.team.State().Invitations[p.InvitationID]
	if !ok {
		c.fail(fmt.Errorf("%w: %s", invitation.ErrNotFound, p.InvitationID))
		return
	}
	if err := invitation.Validate(p.Proof, p.UserName, *inv, time.Now().UnixMilli()); err != nil {
		c.fail(err)
		return
	}
	if err := c.team.Admit(p.InvitationID, p.Proof, hello.Claim.UserID, p.UserName,
		p.MemberKeys, p.DeviceKeys, hello.Claim.DeviceID, nil); err != nil {
		c.fail(err)
		return
	}
	serialized, err := c.team.Save()
	if err != nil {
		c.fail(err)
		return
	}
	c.send(AcceptInvitation, Message{AcceptInvitation: &AcceptInvitationPayload{SerializedGraph: serialized}})

	// Possession of the invitation seed is the invitee's identity proof;
	// no challenge is issued. Accept them and hand over our seed half.
	c.peerDeviceKey = p.DeviceKeys
	c.acceptPeerIdentity()
}

func (c *Connection) onAcceptInvitation(msg Message) {
	if c.state != StateConnecting || c.cfg.Join == nil || msg.AcceptInvitation == nil || c.team != nil {
		c.fail(ErrUnexpectedMessage)
		return
	}
	g, err := graph.Deserialize(msg.AcceptInvitation.SerializedGraph)
	if err != nil {
		c.fail(err)
		return
	}

	join := c.cfg.Join
	starterCtx := team.Context{
		UserID:   join.UserID,
		DeviceID: invitation.BootstrapDeviceID(join.UserID),
		Device:   c.starterDevice,
	}
	t := team.Load(g, starterCtx)
	if err := t.Validate(); err != nil {
		c.fail(err)
		return
	}

	// The team we were handed must actually carry our invitation, and the
	// ADMIT the peer just posted for us.
	if _, ok := t.State().Invitations[invitation.DeriveID(join.Seed)]; !ok {
		c.fail(ErrWrongTeam)
		return
	}
	if !t.State().IsMember(join.UserID) {
		c.fail(ErrWrongTeam)
		return
	}
	if _, ok := t.State().SigningKeyFor(c.peerClaim.UserID, c.peerClaim.DeviceID); !ok {
		c.fail(ErrIdentityUnknown)
		return
	}

	// Adopt, then replace the seed-derived bootstrap identity with our
	// permanent device and member keys.
	if err := t.Join(c.cfg.Context.DeviceID, "device", c.cfg.Context.Device.PublicOnly(), join.MemberKeys); err != nil {
		c.fail(err)
		return
	}
	c.team = t
	c.unsubscribe = t.Subscribe(c.onLocalUpdate)
	c.ourProven = true // proven by invitation

	// The peer is still unverified from our side: challenge them.
	c.challengePeer()
}

// challengePeer issues a fresh nonce challenge for the peer's claimed
// device. Callers hold c.mu.
func (c *Connection) challengePeer() {
	nonce := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		c.fail(fmt.Errorf("connection: generate challenge nonce: %w", err))
		return
	}
	challenge := &ChallengeIdentityPayload{
		Scope:     keyset.DeviceScope(c.peerClaim.DeviceID),
		Nonce:     nonce,
		Timestamp: time.Now().UnixMilli(),
	}
	c.sentChallenge = challenge
	c.send(ChallengeIdentity, Message{ChallengeIdentity: challenge})
	c.armTimeout()
}

func (c *Connection) onChallenge(msg Message) {
	if c.state != StateConnecting || msg.ChallengeIdentity == nil {
		c.fail(ErrUnexpectedMessage)
		return
	}
	ch := msg.ChallengeIdentity
	if time.Now().UnixMilli()-ch.Timestamp > c.cfg.Timeout.Milliseconds() {
		c.fail(ErrChallengeExpired)
		return
	}
	signer := c.cfg.Context.Device
	if c.cfg.Join != nil {
		signer = c.starterDevice
	}
	body, err := graph.Canonicalize(ch)
	if err != nil {
		c.fail(err)
		return
	}
	sig, err := signer.Sign(body)
	if err != nil {
		c.fail(err)
		return
	}
	c.send(ProveIdentity, Message{ProveIdentity: &ProveIdentityPayload{Signature: sig}})
	c.armTimeout()
}

func (c *Connection) onProve(msg Message) {
	if c.state != StateConnecting || msg.ProveIdentity == nil || c.sentChallenge == nil {
		c.fail(ErrUnexpectedMessage)
		return
	}
	challenge := c.sentChallenge
	c.sentChallenge = nil

	if c.sessions.SeenNonce(c.cfg.PeerID, string(challenge.Nonce)) {
		c.fail(ErrProofMismatch)
		return
	}
	pub, ok := c.team.State().SigningKeyFor(c.peerClaim.UserID, c.peerClaim.DeviceID)
	if !ok {
		c.fail(ErrIdentityUnknown)
		return
	}
	body, err := graph.Canonicalize(challenge)
	if err != nil {
		c.fail(err)
		return
	}
	if err := keyset.VerifyWithPublic(pub, body, msg.ProveIdentity.Signature); err != nil {
		metrics.IdentityCheck(false)
		c.fail(ErrProofMismatch)
		return
	}
	metrics.IdentityCheck(true)

	m := c.team.State().Members[c.peerClaim.UserID]
	c.peerDeviceKey = m.Devices[c.peerClaim.DeviceID].Keys
	c.acceptPeerIdentity()
}

// acceptPeerIdentity marks the peer verified and sends ACCEPT_IDENTITY
// carrying our half of the session-key seed, sealed to the peer's device
// encryption key. Callers hold c.mu.
func (c *Connection) acceptPeerIdentity() {
	sealed, err := keyset.Seal(c.peerDeviceKey, c.ourSeed, seedAAD)
	if err != nil {
		c.fail(err)
		return
	}
	c.theirVerified = true
	c.send(AcceptIdentity, Message{AcceptIdentity: &AcceptIdentityPayload{EncryptedSeed: sealed}})
	c.maybeFinishConnecting()
}

func (c *Connection) onAcceptIdentity(msg Message) {
	if c.state != StateConnecting || msg.AcceptIdentity == nil {
		c.fail(ErrUnexpectedMessage)
		return
	}
	opener := c.cfg.Context.Device
	if c.cfg.Join != nil {
		opener = c.starterDevice
	}
	seed, err := opener.Open(msg.AcceptIdentity.EncryptedSeed, seedAAD)
	if err != nil {
		c.fail(err)
		return
	}
	c.theirSeed = seed
	c.ourProven = true
	c.maybeFinishConnecting()
}

// maybeFinishConnecting advances to synchronizing once both parallel
// substates (proving our identity, verifying theirs) are complete.
func (c *Connection) maybeFinishConnecting() {
	if !c.ourProven || !c.theirVerified || c.state != StateConnecting {
		return
	}
	c.state = StateSynchronizing
	metrics.ConnectionState(string(StateSynchronizing))
	c.sendUpdate()
	c.armTimeout()
}

// sendUpdate announces our current graph position. Callers hold c.mu.
func (c *Connection) sendUpdate() {
	g := c.team.Graph()
	hashes := make([]graph.Hash, 0, len(g.Links))
	for h := range g.Links {
		hashes = append(hashes, h)
	}
	c.send(Update, Message{Update: &UpdatePayload{Root: g.Root, Head: g.Head, AllHashes: hashes}})
}

func (c *Connection) onUpdate(msg Message) {
	if msg.Update == nil {
		c.fail(ErrUnexpectedMessage)
		return
	}
	switch c.state {
	case StateSynchronizing, StateNegotiating, StateConnected:
	default:
		c.fail(ErrUnexpectedMessage)
		return
	}
	if msg.Update.Root != c.team.Graph().Root {
		c.fail(ErrWrongTeam)
		return
	}

	c.theirHead = msg.Update.Head
	c.theirHashes = make(map[graph.Hash]bool, len(msg.Update.AllHashes))
	for _, h := range msg.Update.AllHashes {
		c.theirHashes[h] = true
	}

	if c.state == StateConnected {
		if c.theirHead == c.team.Head() {
			return
		}
		c.state = StateSynchronizing
		metrics.ConnectionState(string(StateSynchronizing))
		c.sendUpdate()
	}
	c.syncStep()
}

// syncStep runs one round of the head-reconciliation loop. Callers hold
// c.mu.
func (c *Connection) syncStep() {
	ourHead := c.team.Head()
	if c.theirHead == ourHead {
		c.enterNegotiating()
		return
	}

	g := c.team.Graph()
	var missing []*graph.Link
	for h, l := range g.Links {
		if !c.theirHashes[h] {
			missing = append(missing, l)
		}
	}
	if len(missing) > 0 {
		metrics.SyncRound(len(missing))
		c.send(MissingLinks, Message{MissingLinks: &MissingLinksPayload{OurHead: ourHead, Links: missing}})
	}
	// Otherwise the peer holds links we lack; our UPDATE lets them
	// compute the difference and send MISSING_LINKS back.
	c.armTimeout()
}

func (c *Connection) onMissingLinks(msg Message) {
	if msg.MissingLinks == nil {
		c.fail(ErrUnexpectedMessage)
		return
	}
	// Both sides may push links at once, so a round's last MISSING_LINKS
	// can trail in after we already advanced past synchronizing; merging
	// is idempotent, so accept it in any post-identity state.
	switch c.state {
	case StateSynchronizing, StateNegotiating, StateConnected:
	default:
		c.fail(ErrUnexpectedMessage)
		return
	}
	g := c.team.Graph()
	links := make(map[graph.Hash]*graph.Link, len(g.Links)+len(msg.MissingLinks.Links))
	for h, l := range g.Links {
		links[h] = l
	}
	for _, l := range msg.MissingLinks.Links {
		links[l.Hash] = l
	}
	incoming := &graph.Graph{Root: g.Root, Head: msg.MissingLinks.OurHead, Links: links}
	for _, l := range links {
		for _, p := range l.Prev {
			if _, ok := links[p]; !ok {
				c.fail(graph.ErrDanglingParent)
				return
			}
		}
	}
	if err := c.team.Merge(incoming); err != nil {
		c.fail(err)
		return
	}

	// The peer may have just learned of a removal that covers them.
	if !c.team.State().IsMember(c.peerClaim.UserID) {
		c.err = ErrPeerRemoved
		c.disconnect(ReasonPeerRemoved)
		return
	}

	c.theirHead = msg.MissingLinks.OurHead
	c.sendUpdate()
	c.syncStep()
}

// enterNegotiating starts session-key negotiation once heads agree. Both
// seed halves were exchanged during the identity phase; SEED re-sends
// ours if the peer somehow lacks it.
func (c *Connection) enterNegotiating() {
	if c.state == StateConnected {
		return
	}
	c.state = StateNegotiating
	metrics.ConnectionState(string(StateNegotiating))
	if len(c.theirSeed) == 0 {
		sealed, err := keyset.Seal(c.peerDeviceKey, c.ourSeed, seedAAD)
		if err != nil {
			c.fail(err)
			return
		}
		c.send(Seed, Message{Seed: &SeedPayload{Sealed: sealed}})
		c.armTimeout()
		return
	}
	c.establishSession()
}

func (c *Connection) onSeed(msg Message) {
	if msg.Seed == nil || (c.state != StateNegotiating && c.state != StateSynchronizing) {
		c.fail(ErrUnexpectedMessage)
		return
	}
	opener := c.cfg.Context.Device
	if c.cfg.Join != nil {
		opener = c.starterDevice
	}
	seed, err := opener.Open(msg.Seed.Sealed, seedAAD)
	if err != nil {
		c.fail(err)
		return
	}
	c.theirSeed = seed
	if c.state == StateNegotiating {
		c.establishSession()
	}
}

func (c *Connection) establishSession() {
	sess, _, err := c.sessions.EnsureSession(c.cfg.PeerID, c.ourSeed, c.theirSeed, &c.cfg.Session)
	if err != nil {
		c.fail(err)
		return
	}
	c.sess = sess
	c.state = StateConnected
	metrics.ConnectionState(string(StateConnected))
	metrics.SessionEstablished()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.cfg.Events.OnConnected(c.cfg.PeerID)
}

// onLocalUpdate runs on the team's listener path after every local
// mutation or merge. The machine's own appends (admitting an invitee,
// merging synced links) fire it while c.mu is held, so the actual work
// is dispatched to a fresh goroutine; those machine-driven cases see a
// non-connected state or an already-announced head and no-op.
func (c *Connection) onLocalUpdate() {
	go func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state != StateConnected {
			return
		}
		if c.theirHead == c.team.Head() {
			return
		}
		c.sendUpdate()
	}()
}

// Encrypt seals application payload bytes with the negotiated session
// key; only valid while connected.
func (c *Connection) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("connection: no session established")
	}
	return sess.Encrypt(plaintext)
}

// Decrypt opens application payload bytes sealed by the peer's session.
func (c *Connection) Decrypt(data []byte) ([]byte, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil, fmt.Errorf("connection: no session established")
	}
	return sess.Decrypt(data)
}

