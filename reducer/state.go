// Package reducer implements the pure fold from a linearized sequence of
// graph links to team state: membership, roles,
// invitations, devices, and the lockbox/keyset generations they rotate
// through. Authorization failures and invalid transitions are logged and
// the offending link is skipped rather than aborting the whole reduction.
package reducer

import (
	"github.com/localfirst/teamgraph/action"
	"github.com/localfirst/teamgraph/graph"
	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/lockbox"
)

// MemberState is the materialized view of a team member.
type MemberState struct {
	UserID  string
	Name    string
	Keys    keyset.Public
	Roles   map[string]bool
	Devices map[string]action.Device // deviceID -> Device
}

func newMemberState(userID, name string, keys keyset.Public) *MemberState {
	return &MemberState{UserID: userID, Name: name, Keys: keys, Roles: map[string]bool{}, Devices: map[string]action.Device{}}
}

func (m *MemberState) clone() *MemberState {
	c := &MemberState{UserID: m.UserID, Name: m.Name, Keys: m.Keys, Roles: map[string]bool{}, Devices: map[string]action.Device{}}
	for k, v := range m.Roles {
		c.Roles[k] = v
	}
	for k, v := range m.Devices {
		c.Devices[k] = v
	}
	return c
}

// RoleState is a named role, the set of members currently holding it, and
// its role-scoped keyset header.
type RoleState struct {
	Name    string
	Keys    keyset.Public
	Members map[string]bool
}

func newRoleState(name string, keys keyset.Public) *RoleState {
	return &RoleState{Name: name, Keys: keys, Members: map[string]bool{}}
}

func (r *RoleState) clone() *RoleState {
	c := &RoleState{Name: r.Name, Keys: r.Keys, Members: map[string]bool{}}
	for k, v := range r.Members {
		c.Members[k] = v
	}
	return c
}

// ServerState is an optional non-human team participant, managed by the
// ADD_SERVER/REMOVE_SERVER/CHANGE_SERVER_KEYS actions.
type ServerState struct {
	ServerID string
	Host     string
	Keys     keyset.Public
}

// State is the materialized team: who's a member, what roles exist, who
// holds which role, which devices belong to whom, which invitations are
// outstanding, and the current lockbox graph and key generations. It is
// produced and owned by Reduce — never mutated in place by callers.
type State struct {
	TeamName       string
	Members        map[string]*MemberState
	Roles          map[string]*RoleState
	RemovedMembers map[string]bool
	RemovedDevices map[string]bool
	Invitations    map[string]*action.Invitation
	Lockboxes      lockbox.Set
	TeamKeys       keyset.Public
	AdminKeys      keyset.Public
	Servers        map[string]*ServerState
	Messages       []string
	Head           graph.Hash // hash of the last link folded into this state
}

func empty() *State {
	return &State{
		Members:        map[string]*MemberState{},
		Roles:          map[string]*RoleState{},
		RemovedMembers: map[string]bool{},
		RemovedDevices: map[string]bool{},
		Invitations:    map[string]*action.Invitation{},
		Servers:        map[string]*ServerState{},
	}
}

// Clone deep-copies State so the reducer never mutates a state a caller
// may still be holding a reference to.
func (s *State) Clone() *State {
	c := empty()
	c.TeamName = s.TeamName
	c.TeamKeys = s.TeamKeys
	c.AdminKeys = s.AdminKeys
	c.Head = s.Head
	c.Lockboxes = append(lockbox.Set{}, s.Lockboxes...)
	c.Messages = append([]string{}, s.Messages...)
	for k, v := range s.Members {
		c.Members[k] = v.clone()
	}
	for k, v := range s.Roles {
		c.Roles[k] = v.clone()
	}
	for k, v := range s.RemovedMembers {
		c.RemovedMembers[k] = v
	}
	for k, v := range s.RemovedDevices {
		c.RemovedDevices[k] = v
	}
	for k, v := range s.Invitations {
		cp := *v
		c.Invitations[k] = &cp
	}
	for k, v := range s.Servers {
		cp := *v
		c.Servers[k] = &cp
	}
	return c
}

// IsAdmin reports whether userID currently holds the ADMIN role.
func (s *State) IsAdmin(userID string) bool {
	m, ok := s.Members[userID]
	return ok && m.Roles[action.AdminRole]
}

// IsMember reports whether userID is a current (non-removed) member.
func (s *State) IsMember(userID string) bool {
	_, ok := s.Members[userID]
	return ok
}

// AdminCount returns the number of current members holding ADMIN.
func (s *State) AdminCount() int {
	n := 0
	for _, m := range s.Members {
		if m.Roles[action.AdminRole] {
			n++
		}
	}
	return n
}

// DeviceOwner returns the userID owning deviceID, if any device with that
// ID currently exists.
func (s *State) DeviceOwner(deviceID string) (string, bool) {
	for uid, m := range s.Members {
		if _, ok := m.Devices[deviceID]; ok {
			return uid, true
		}
	}
	return "", false
}

// SigningKeyFor resolves the Ed25519 signing public key that should be
// used to verify a link authored by (userID, deviceID) against this
// state — the graph.KeyResolver contract.
func (s *State) SigningKeyFor(userID, deviceID string) ([]byte, bool) {
	m, ok := s.Members[userID]
	if !ok {
		return nil, false
	}
	d, ok := m.Devices[deviceID]
	if !ok {
		return nil, false
	}
	return d.Keys.SigningPublic, true
}
