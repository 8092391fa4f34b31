// Package action defines the closed set of membership-graph action
// payloads (the tagged union graph links carry) and the small value types
// — members, devices, roles, invitation records — that the reducer folds
// them into. Kept separate from graph/reducer so both can depend on it
// without a cycle.
package action

import "github.com/localfirst/teamgraph/keyset"
import "github.com/localfirst/teamgraph/lockbox"

// PayloadType is the discriminant of the closed action-payload sum type.
type PayloadType string

const (
	Root              PayloadType = "ROOT"
	AddMember         PayloadType = "ADD_MEMBER"
	RemoveMember      PayloadType = "REMOVE_MEMBER"
	AddRole           PayloadType = "ADD_ROLE"
	RemoveRole        PayloadType = "REMOVE_ROLE"
	AddMemberRole     PayloadType = "ADD_MEMBER_ROLE"
	RemoveMemberRole  PayloadType = "REMOVE_MEMBER_ROLE"
	AddDevice         PayloadType = "ADD_DEVICE"
	RemoveDevice      PayloadType = "REMOVE_DEVICE"
	ChangeMemberKeys  PayloadType = "CHANGE_MEMBER_KEYS"
	ChangeDeviceKeys  PayloadType = "CHANGE_DEVICE_KEYS"
	Invite            PayloadType = "INVITE"
	RevokeInvitation  PayloadType = "REVOKE_INVITATION"
	Admit             PayloadType = "ADMIT"
	ChangeServerKeys  PayloadType = "CHANGE_SERVER_KEYS"
	AddServer         PayloadType = "ADD_SERVER"
	RemoveServer      PayloadType = "REMOVE_SERVER"
	SetTeamName       PayloadType = "SET_TEAM_NAME"
	AddMessage        PayloadType = "ADD_MESSAGE"
)

// AdminRole is the built-in role every team has from creation.
const AdminRole = "ADMIN"

// Device is a device belonging to a member, identified by its own
// device-scoped keyset.
type Device struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Keys      keyset.Public `json:"keys"`
}

// Member is a team member: a user identity plus the devices and roles it
// holds and its member-scoped keyset.
type Member struct {
	UserID string        `json:"userId"`
	Name   string        `json:"name"`
	Keys   keyset.Public `json:"keys"`
	Roles  []string      `json:"roles"`
}

// Invitation is the posted record of a single-use invitation token.
type Invitation struct {
	ID             string `json:"id"`
	PublicKey      []byte `json:"publicKey"`
	Expiration     int64  `json:"expiration,omitempty"`
	MaxUses        int    `json:"maxUses"`
	RemainingUses  int    `json:"remainingUses"`
	Revoked        bool   `json:"revoked"`
	Used           bool   `json:"used"`
	UserID         string `json:"userId,omitempty"`
}

// RootPayload initializes a team: founder as admin member plus the team
// and admin keysets/lockboxes created at genesis.
type RootPayload struct {
	TeamName       string            `json:"teamName"`
	Founder        Member            `json:"founder"`
	FounderDevice  Device            `json:"founderDevice"`
	TeamKeys       keyset.Public     `json:"teamKeys"`
	AdminKeys      keyset.Public     `json:"adminKeys"`
	Lockboxes      []*lockbox.Lockbox `json:"lockboxes"`
}

type AddMemberPayload struct {
	Member    Member             `json:"member"`
	Lockboxes []*lockbox.Lockbox `json:"lockboxes"`
}

type RemoveMemberPayload struct {
	UserID      string             `json:"userId"`
	Lockboxes   []*lockbox.Lockbox `json:"lockboxes"`
	RotatedKeys []keyset.Public    `json:"rotatedKeys,omitempty"`
}

type AddRolePayload struct {
	RoleName  string             `json:"roleName"`
	Keys      keyset.Public      `json:"keys"`
	Lockboxes []*lockbox.Lockbox `json:"lockboxes"`
}

type RemoveRolePayload struct {
	RoleName string `json:"roleName"`
}

type AddMemberRolePayload struct {
	UserID    string             `json:"userId"`
	RoleName  string             `json:"roleName"`
	Lockboxes []*lockbox.Lockbox `json:"lockboxes"`
}

type RemoveMemberRolePayload struct {
	UserID      string             `json:"userId"`
	RoleName    string             `json:"roleName"`
	Lockboxes   []*lockbox.Lockbox `json:"lockboxes"`
	RotatedKeys []keyset.Public    `json:"rotatedKeys,omitempty"`
}

type AddDevicePayload struct {
	UserID    string             `json:"userId"`
	Device    Device             `json:"device"`
	Lockboxes []*lockbox.Lockbox `json:"lockboxes"`
}

type RemoveDevicePayload struct {
	UserID      string             `json:"userId"`
	DeviceID    string             `json:"deviceId"`
	Lockboxes   []*lockbox.Lockbox `json:"lockboxes"`
	RotatedKeys []keyset.Public    `json:"rotatedKeys,omitempty"`
}

type ChangeMemberKeysPayload struct {
	UserID string        `json:"userId"`
	Keys   keyset.Public `json:"keys"`
}

type ChangeDeviceKeysPayload struct {
	UserID   string        `json:"userId"`
	DeviceID string        `json:"deviceId"`
	Keys     keyset.Public `json:"keys"`
}

type InvitePayload struct {
	Invitation Invitation `json:"invitation"`
}

type RevokeInvitationPayload struct {
	ID string `json:"id"`
}

type AdmitPayload struct {
	ID        string             `json:"id"`
	Member    Member             `json:"member"`
	Proof     []byte             `json:"proof"`
	Lockboxes []*lockbox.Lockbox `json:"lockboxes"`
}

type ChangeServerKeysPayload struct {
	ServerID string        `json:"serverId"`
	Keys     keyset.Public `json:"keys"`
}

type AddServerPayload struct {
	ServerID string        `json:"serverId"`
	Host     string        `json:"host"`
	Keys     keyset.Public `json:"keys"`
}

type RemoveServerPayload struct {
	ServerID string `json:"serverId"`
}

type SetTeamNamePayload struct {
	Name string `json:"name"`
}

type AddMessagePayload struct {
	Channel string `json:"channel,omitempty"`
	Message string `json:"message"`
}
