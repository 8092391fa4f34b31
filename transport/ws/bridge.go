// Package ws bridges a coordinator to its peers over WebSocket links,
// one persistent connection per peer, with JSON-framed envelopes.
//
// The bridge is deliberately dumb: framing and link lifecycle only. All
// authentication, ordering, and routing live in the coordinator and its
// connection machines.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/localfirst/teamgraph/coordinator"
	"github.com/localfirst/teamgraph/internal/logger"
)

// Bridge multiplexes a coordinator's envelopes over WebSocket links. It
// implements coordinator.Transport for the outbound direction; inbound
// frames are handed to the bound coordinator's Deliver.
type Bridge struct {
	localName string

	mu    sync.Mutex
	coord *coordinator.Coordinator
	peers map[string]*websocket.Conn

	upgrader     websocket.Upgrader
	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewBridge creates a bridge identifying itself to peers as localName.
func NewBridge(localName string) *Bridge {
	return &Bridge{
		localName: localName,
		peers:     make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		dialTimeout:  30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 30 * time.Second,
	}
}

// Bind attaches the coordinator inbound frames are delivered to. Must be
// called before Handler or Dial.
func (b *Bridge) Bind(coord *coordinator.Coordinator) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.coord = coord
}

// Send implements coordinator.Transport by writing the envelope to the
// peer's link.
func (b *Bridge) Send(env coordinator.Envelope) error {
	b.mu.Lock()
	conn, ok := b.peers[env.PeerID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("ws: no link to peer %q", env.PeerID)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(b.writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Handler returns the http.Handler that accepts inbound peer links. The
// remote identifies itself with the ?peer= query parameter; an absent
// name gets a generated one.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peerID := r.URL.Query().Get("peer")
		if peerID == "" {
			peerID = "peer-" + uuid.NewString()
		}
		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, fmt.Sprintf("ws: upgrade failed: %v", err), http.StatusBadRequest)
			return
		}
		b.attach(peerID, conn)
		b.readLoop(peerID, conn)
	})
}

// Dial opens an outbound link to a peer's bridge endpoint.
func (b *Bridge) Dial(ctx context.Context, url, peerID string) error {
	dialer := &websocket.Dialer{HandshakeTimeout: b.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, url+"?peer="+b.localName, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("ws: dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("ws: dial failed: %w", err)
	}
	b.attach(peerID, conn)
	go b.readLoop(peerID, conn)
	return nil
}

// attach registers the link and announces the peer candidate.
func (b *Bridge) attach(peerID string, conn *websocket.Conn) {
	b.mu.Lock()
	if old, ok := b.peers[peerID]; ok {
		_ = old.Close()
	}
	b.peers[peerID] = conn
	coord := b.coord
	b.mu.Unlock()
	if coord != nil {
		coord.PeerCandidate(peerID)
	}
}

// readLoop pumps inbound frames into the coordinator until the link
// drops.
func (b *Bridge) readLoop(peerID string, conn *websocket.Conn) {
	defer b.detach(peerID, conn)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(b.readTimeout)); err != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("ws: read failed", logger.Peer(peerID), logger.Error(err))
			}
			return
		}
		var env coordinator.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.Warn("ws: dropping undecodable frame", logger.Peer(peerID), logger.Error(err))
			continue
		}
		// Trust the link, not the frame, for the sender's identity.
		env.PeerID = peerID
		b.mu.Lock()
		coord := b.coord
		b.mu.Unlock()
		if coord != nil {
			coord.Deliver(env)
		}
	}
}

func (b *Bridge) detach(peerID string, conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.peers[peerID]; ok && current == conn {
		delete(b.peers, peerID)
	}
	_ = conn.Close()
}

// Close drops every link.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, conn := range b.peers {
		_ = conn.Close()
		delete(b.peers, id)
	}
}
