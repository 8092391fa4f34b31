// Package connection implements the per-peer protocol that synchronizes
// two devices' views of a team: proving identity (directly, or via an
// invitation), exchanging missing graph links until both heads agree, and
// negotiating a session key for the messages that follow.
package connection

import (
	"encoding/json"

	"github.com/localfirst/teamgraph/graph"
	"github.com/localfirst/teamgraph/keyset"
)

// State is a top-level connection state.
type State string

const (
	StateIdle          State = "idle"
	StateConnecting    State = "connecting"
	StateSynchronizing State = "synchronizing"
	StateNegotiating   State = "negotiating"
	StateConnected     State = "connected"
	StateDisconnected  State = "disconnected"
	StateFailure       State = "failure"
)

// MessageType discriminates the wire protocol's message shapes.
type MessageType string

const (
	Hello             MessageType = "HELLO"
	AcceptInvitation  MessageType = "ACCEPT_INVITATION"
	ChallengeIdentity MessageType = "CHALLENGE_IDENTITY"
	ProveIdentity     MessageType = "PROVE_IDENTITY"
	AcceptIdentity    MessageType = "ACCEPT_IDENTITY"
	Update            MessageType = "UPDATE"
	MissingLinks      MessageType = "MISSING_LINKS"
	Seed              MessageType = "SEED"
	LocalUpdate       MessageType = "LOCAL_UPDATE"
	Disconnect        MessageType = "DISCONNECT"
	ErrorMessage      MessageType = "ERROR"
)

// IdentityClaim is who a HELLO's sender claims to be.
type IdentityClaim struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
}

// InvitationProof accompanies a HELLO when the sender is joining via
// invitation rather than an already-recognized device.
type InvitationProof struct {
	InvitationID string        `json:"invitationId"`
	UserName     string        `json:"userName"`
	Proof        []byte        `json:"proof"`
	MemberKeys   keyset.Public `json:"memberKeys"`
	DeviceKeys   keyset.Public `json:"deviceKeys"`
}

// HelloPayload is HELLO's body: an identity claim, and optionally proof of
// an invitation when the sender isn't a recognized member yet.
type HelloPayload struct {
	Claim      IdentityClaim    `json:"claim"`
	Invitation *InvitationProof `json:"invitation,omitempty"`
}

// AcceptInvitationPayload carries the full serialized team graph handed to
// a newly-admitted invitee so they can adopt it as their team.
type AcceptInvitationPayload struct {
	SerializedGraph []byte `json:"serializedGraph"`
}

// ChallengeIdentityPayload is the verifier's fresh nonce challenge to a
// claimed device.
type ChallengeIdentityPayload struct {
	Scope     keyset.Scope `json:"scope"`
	Nonce     []byte       `json:"nonce"`
	Timestamp int64        `json:"timestamp"`
}

// ProveIdentityPayload is the prover's signature over the challenge.
type ProveIdentityPayload struct {
	Signature []byte `json:"signature"`
}

// AcceptIdentityPayload carries the sender's half of the session-key seed,
// sealed to the peer's device encryption key.
type AcceptIdentityPayload struct {
	EncryptedSeed []byte `json:"encryptedSeed"`
}

// UpdatePayload announces the sender's current graph position.
type UpdatePayload struct {
	Root      graph.Hash   `json:"root"`
	Head      graph.Hash   `json:"head"`
	AllHashes []graph.Hash `json:"allHashes"`
}

// MissingLinksPayload carries links the recipient is missing, so they can
// merge them into their own graph.
type MissingLinksPayload struct {
	OurHead graph.Hash    `json:"ourHead"`
	Links   []*graph.Link `json:"links"`
}

// SeedPayload carries the sender's half of the session-key seed, sealed to
// the peer.
type SeedPayload struct {
	Sealed []byte `json:"sealed"`
}

// ErrorPayload carries a human-readable reason for an ERROR or a
// disconnected/failure transition.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// Message is one envelope of the wire protocol. Index is a monotonically
// increasing per-sender sequence number used for ordered delivery; exactly
// one of the typed payload fields is populated, matching Type.
type Message struct {
	ID                string                    `json:"id"`
	Type              MessageType               `json:"type"`
	Index             uint64                    `json:"index"`
	Hello             *HelloPayload             `json:"hello,omitempty"`
	AcceptInvitation  *AcceptInvitationPayload  `json:"acceptInvitation,omitempty"`
	ChallengeIdentity *ChallengeIdentityPayload `json:"challengeIdentity,omitempty"`
	ProveIdentity     *ProveIdentityPayload     `json:"proveIdentity,omitempty"`
	AcceptIdentity    *AcceptIdentityPayload    `json:"acceptIdentity,omitempty"`
	Update            *UpdatePayload            `json:"update,omitempty"`
	MissingLinks      *MissingLinksPayload      `json:"missingLinks,omitempty"`
	Seed              *SeedPayload              `json:"seed,omitempty"`
	Error             *ErrorPayload             `json:"error,omitempty"`
}

func (m Message) String() string {
	b, _ := json.Marshal(m)
	return string(b)
}

// Transport is the minimal send capability a Connection needs; delivery in
// the other direction happens via Deliver, called by whatever wires two
// peers together (see coordinator for the multi-share router).
type Transport interface {
	Send(Message) error
}

// Events are the application-visible lifecycle callbacks a Connection
// fires as it moves through states. OnFailure reports errors this side
// detected; OnRemoteError reports an ERROR message the peer sent us.
// Callbacks run synchronously on the machine's goroutine and must not
// call back into the Connection.
type Events interface {
	OnConnected(peerID string)
	OnDisconnected(peerID, reason string)
	OnFailure(peerID string, err error)
	OnRemoteError(peerID, reason string)
}

// NoopEvents is a null Events implementation for callers with no hooks.
type NoopEvents struct{}

func (NoopEvents) OnConnected(string)             {}
func (NoopEvents) OnDisconnected(string, string)  {}
func (NoopEvents) OnFailure(string, error)        {}
func (NoopEvents) OnRemoteError(string, string)   {}
