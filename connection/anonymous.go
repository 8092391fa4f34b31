package connection

import (
	"sync"

	"github.com/google/uuid"

	"github.com/localfirst/teamgraph/internal/metrics"
)

// ConnectionLike is the behavior the coordinator needs from any per-peer
// machine, implemented by both the authenticated Connection and the
// Anonymous variant used for public shares.
type ConnectionLike interface {
	State() State
	Deliver(Message)
	Stop()
}

// Anonymous is the connection variant for public shares: no membership
// graph, no identity proofs, no session key. Peers exchange HELLOs and
// are connected; the application layers its own protocol on top.
type Anonymous struct {
	mu        sync.Mutex
	peerID    string
	localName string
	transport Transport
	events    Events
	state     State
	outIndex  uint64
	nextIn    uint64
	inbox     map[uint64]Message
}

// NewAnonymous assembles an Anonymous connection for a public share.
func NewAnonymous(peerID, localName string, transport Transport, events Events) *Anonymous {
	if events == nil {
		events = NoopEvents{}
	}
	return &Anonymous{
		peerID:    peerID,
		localName: localName,
		transport: transport,
		events:    events,
		state:     StateIdle,
		nextIn:    1,
		inbox:     make(map[uint64]Message),
	}
}

// State returns the machine's current state.
func (a *Anonymous) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Start sends the opening HELLO.
func (a *Anonymous) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateIdle {
		return nil
	}
	a.state = StateConnecting
	metrics.ConnectionState(string(StateConnecting))
	a.send(Hello, Message{Hello: &HelloPayload{Claim: IdentityClaim{UserID: a.localName}}})
	return nil
}

// Deliver feeds one inbound message, buffering out-of-order indexes.
func (a *Anonymous) Deliver(msg Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if msg.Index < a.nextIn {
		return
	}
	a.inbox[msg.Index] = msg
	for {
		next, ok := a.inbox[a.nextIn]
		if !ok {
			return
		}
		delete(a.inbox, a.nextIn)
		a.nextIn++
		if a.state == StateDisconnected {
			continue
		}
		a.process(next)
	}
}

func (a *Anonymous) process(msg Message) {
	switch msg.Type {
	case Hello:
		if a.state != StateConnecting {
			return
		}
		a.state = StateConnected
		metrics.ConnectionState(string(StateConnected))
		a.events.OnConnected(a.peerID)
	case Disconnect:
		a.state = StateDisconnected
		metrics.ConnectionState(string(StateDisconnected))
		a.events.OnDisconnected(a.peerID, ReasonRemote)
	default:
		// Anything else is application traffic; the coordinator hands it
		// to the owning share.
	}
}

// Stop tells the peer and moves to disconnected.
func (a *Anonymous) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateDisconnected {
		return
	}
	a.send(Disconnect, Message{})
	a.state = StateDisconnected
	metrics.ConnectionState(string(StateDisconnected))
	a.events.OnDisconnected(a.peerID, ReasonStopped)
}

func (a *Anonymous) send(typ MessageType, msg Message) {
	a.outIndex++
	msg.ID = uuid.NewString()
	msg.Type = typ
	msg.Index = a.outIndex
	metrics.MessageSent(string(typ))
	_ = a.transport.Send(msg)
}
