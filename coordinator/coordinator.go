// Package coordinator owns the set of shares a device participates in
// and multiplexes all of their per-peer connections over one underlying
// transport. For every new peer candidate it optimistically spins up one
// connection per share; at most one reaches connected. Inbound messages
// for connections that do not exist yet are buffered by (shareId, peerId)
// until the candidate shows up.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/localfirst/teamgraph/connection"
	"github.com/localfirst/teamgraph/graph"
	"github.com/localfirst/teamgraph/internal/logger"
	"github.com/localfirst/teamgraph/internal/metrics"
	"github.com/localfirst/teamgraph/pkg/storage"
	"github.com/localfirst/teamgraph/session"
	"github.com/localfirst/teamgraph/team"
)

// Envelope wraps a connection message with the routing ids the shared
// transport needs.
type Envelope struct {
	ShareID string             `json:"shareId"`
	PeerID  string             `json:"peerId"`
	Message connection.Message `json:"message"`
}

// Transport is the single underlying duplex the coordinator multiplexes
// every share's traffic over.
type Transport interface {
	Send(Envelope) error
}

// Share is one group this device participates in: a private team, a
// team we are joining by invitation, or a public anonymous group.
type Share struct {
	ID      string
	Team    *team.Team   // nil for public shares and not-yet-joined invitations
	Context team.Context // local identity used on this share
	Join    *connection.JoinParams
	Public  bool
	// LocalName identifies us on a public share, where no team exists.
	LocalName string
	// DocumentIDs are the application documents synced under this share.
	DocumentIDs []string
}

type connKey struct {
	shareID string
	peerID  string
}

// Config assembles a Coordinator.
type Config struct {
	Transport Transport
	Store     storage.Store // optional persistence
	Events    connection.Events
	Session   session.Config
}

// Coordinator is the per-process owner of shares and their connections.
// Create one with New and tear it down with Stop; there is no ambient
// global instance.
type Coordinator struct {
	mu       sync.Mutex
	cfg      Config
	shares   map[string]*Share
	conns    map[connKey]connection.ConnectionLike
	buffered map[connKey][]connection.Message
	sessions *session.Manager
	stopped  bool
}

// New creates an empty coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("coordinator: transport is required")
	}
	if cfg.Events == nil {
		cfg.Events = connection.NoopEvents{}
	}
	return &Coordinator{
		cfg:      cfg,
		shares:   make(map[string]*Share),
		conns:    make(map[connKey]connection.ConnectionLike),
		buffered: make(map[connKey][]connection.Message),
		sessions: session.NewManager(),
	}, nil
}

// AddShare registers a share. Private shares are persisted immediately
// when a store is configured.
func (c *Coordinator) AddShare(ctx context.Context, s *Share) error {
	c.mu.Lock()
	if _, exists := c.shares[s.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: share %q already registered", s.ID)
	}
	c.shares[s.ID] = s
	c.mu.Unlock()

	if s.Team != nil {
		s.Team.Subscribe(func() { c.persistShare(context.Background(), s) })
	}
	return c.persist(ctx, s)
}

// LoadShare restores a private share from the configured store: the
// serialized graph plus the keyring unsealed with ctx's device key.
func (c *Coordinator) LoadShare(ctx context.Context, shareID string, tctx team.Context) (*Share, error) {
	if c.cfg.Store == nil {
		return nil, fmt.Errorf("coordinator: no store configured")
	}
	record, err := c.cfg.Store.ShareStore().Get(ctx, shareID)
	if err != nil {
		return nil, err
	}
	g, err := graph.Deserialize(record.SerializedGraph)
	if err != nil {
		return nil, fmt.Errorf("coordinator: load share %q: %w", shareID, err)
	}
	ring, err := OpenKeyring(tctx.Device, record.SealedKeyring)
	if err != nil {
		return nil, err
	}
	s := &Share{
		ID:          shareID,
		Team:        team.LoadWithKeyring(g, tctx, ring),
		Context:     tctx,
		DocumentIDs: record.DocumentIDs,
	}
	if err := c.AddShare(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// PeerCandidate reacts to a new peer appearing on the transport by
// optimistically starting one connection per known share.
func (c *Coordinator) PeerCandidate(peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	ids := make([]string, 0, len(c.shares))
	for id := range c.shares {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c.startConnLocked(c.shares[id], peerID)
	}
}

// startConnLocked spins up (and starts) the connection for one
// (share, peer) pair, then replays any buffered inbound messages.
func (c *Coordinator) startConnLocked(s *Share, peerID string) {
	key := connKey{shareID: s.ID, peerID: peerID}
	if _, exists := c.conns[key]; exists {
		return
	}
	transport := shareTransport{c: c, shareID: s.ID, peerID: peerID}

	var conn connection.ConnectionLike
	if s.Public {
		anon := connection.NewAnonymous(peerID, s.LocalName, transport, c.cfg.Events)
		if err := anon.Start(); err != nil {
			logger.Warn("coordinator: start anonymous connection",
				logger.String("share", s.ID), logger.Peer(peerID), logger.Error(err))
			return
		}
		conn = anon
	} else {
		auth, err := connection.New(connection.Config{
			PeerID:    peerID,
			Team:      s.Team,
			Context:   s.Context,
			Join:      s.Join,
			Transport: transport,
			Events:    c.cfg.Events,
			Sessions:  c.sessions,
			Session:   c.cfg.Session,
		})
		if err != nil {
			logger.Warn("coordinator: build connection",
				logger.String("share", s.ID), logger.Peer(peerID), logger.Error(err))
			return
		}
		if err := auth.Start(); err != nil {
			logger.Warn("coordinator: start connection",
				logger.String("share", s.ID), logger.Peer(peerID), logger.Error(err))
			return
		}
		conn = auth
	}
	c.conns[key] = conn

	queued := c.buffered[key]
	delete(c.buffered, key)
	metrics.BufferedMessages.Sub(float64(len(queued)))
	for _, msg := range queued {
		conn.Deliver(msg)
	}
}

// Deliver routes one inbound envelope to its connection, or buffers it
// until PeerCandidate creates one.
func (c *Coordinator) Deliver(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	key := connKey{shareID: env.ShareID, peerID: env.PeerID}
	if conn, ok := c.conns[key]; ok {
		conn.Deliver(env.Message)
		return
	}
	c.buffered[key] = append(c.buffered[key], env.Message)
	metrics.BufferedMessages.Inc()
}

// Route picks the connection application traffic for peerID should use:
// the connected one with the lowest share id.
func (c *Coordinator) Route(peerID string) (connection.ConnectionLike, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var bestID string
	var best connection.ConnectionLike
	for key, conn := range c.conns {
		if key.peerID != peerID || conn.State() != connection.StateConnected {
			continue
		}
		if best == nil || key.shareID < bestID {
			best, bestID = conn, key.shareID
		}
	}
	return best, bestID, best != nil
}

// Connection returns the machine for one exact (share, peer) pair.
func (c *Coordinator) Connection(shareID, peerID string) (connection.ConnectionLike, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, ok := c.conns[connKey{shareID: shareID, peerID: peerID}]
	return conn, ok
}

// persist writes one private share's record when a store is configured.
func (c *Coordinator) persist(ctx context.Context, s *Share) error {
	if c.cfg.Store == nil || s.Public || s.Team == nil {
		return nil
	}
	blob, err := s.Team.Save()
	if err != nil {
		return err
	}
	sealed, err := SealKeyring(s.Context.Device, s.Team.Keyring())
	if err != nil {
		return err
	}
	return c.cfg.Store.ShareStore().Put(ctx, &storage.ShareRecord{
		ShareID:         s.ID,
		SerializedGraph: blob,
		SealedKeyring:   sealed,
		DocumentIDs:     s.DocumentIDs,
	})
}

// persistShare is persist with errors demoted to logs, for the
// team-listener path where there is no caller to return them to.
func (c *Coordinator) persistShare(ctx context.Context, s *Share) {
	if err := c.persist(ctx, s); err != nil {
		logger.Warn("coordinator: persist share", logger.String("share", s.ID), logger.Error(err))
	}
}

// Save persists every private share, concurrently.
func (c *Coordinator) Save(ctx context.Context) error {
	c.mu.Lock()
	shares := make([]*Share, 0, len(c.shares))
	for _, s := range c.shares {
		shares = append(shares, s)
	}
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, s := range shares {
		s := s
		g.Go(func() error { return c.persist(ctx, s) })
	}
	return g.Wait()
}

// Stop tears the coordinator down: every connection is stopped and the
// session manager is closed.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	conns := make([]connection.ConnectionLike, 0, len(c.conns))
	for _, conn := range c.conns {
		conns = append(conns, conn)
	}
	c.conns = make(map[connKey]connection.ConnectionLike)
	c.buffered = make(map[connKey][]connection.Message)
	c.mu.Unlock()

	for _, conn := range conns {
		conn.Stop()
	}
	c.sessions.Close()
}

// shareTransport stamps outbound messages with their routing ids.
type shareTransport struct {
	c       *Coordinator
	shareID string
	peerID  string
}

func (t shareTransport) Send(msg connection.Message) error {
	return t.c.cfg.Transport.Send(Envelope{ShareID: t.shareID, PeerID: t.peerID, Message: msg})
}
