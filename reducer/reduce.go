package reducer

import (
	"encoding/json"

	"github.com/localfirst/teamgraph/action"
	"github.com/localfirst/teamgraph/graph"
	"github.com/localfirst/teamgraph/internal/logger"
	"github.com/localfirst/teamgraph/internal/metrics"
	"github.com/localfirst/teamgraph/lockbox"
)

// Reduce folds a linearized sequence of links (as produced by
// graph.GetSequence, typically with resolver.StrongRemove) into a team
// state, starting from an empty state. It is a pure function: the same
// sequence always yields the same state, and it never mutates the links
// it reads.
func Reduce(seq []*graph.Link) *State {
	state := empty()
	for _, link := range seq {
		state = apply(state, link)
	}
	return state
}

// ReduceFrom folds seq on top of an already-materialized state, used by
// the team facade to incrementally re-reduce just the new head after a
// local append instead of replaying the whole graph.
func ReduceFrom(state *State, seq []*graph.Link) *State {
	for _, link := range seq {
		state = apply(state, link)
	}
	return state
}

// apply folds a single link into state, returning a new State. A link
// that fails an authorization or invariant check is dropped with a
// warning log and the previous state is returned unchanged; reduction
// never aborts.
func apply(state *State, link *graph.Link) *State {
	next := state.Clone()
	next.Head = link.Hash

	if link.Type == graph.MergeLink {
		return next
	}

	if !authorized(state, link) {
		metrics.ReducerDrop("unauthorized")
		logger.Warn("reducer: dropping unauthorized link",
			logger.Hash(link.Hash),
			logger.String("payloadType", string(link.PayloadType)),
			logger.String("author", link.Author.UserID))
		return next
	}

	switch link.PayloadType {
	case action.Root:
		var p action.RootPayload
		if !decode(link, &p) {
			return next
		}
		member := newMemberState(p.Founder.UserID, p.Founder.Name, p.Founder.Keys)
		member.Roles[action.AdminRole] = true
		member.Devices[p.FounderDevice.ID] = p.FounderDevice
		next.Members[member.UserID] = member
		next.TeamName = p.TeamName
		next.TeamKeys = p.TeamKeys
		next.AdminKeys = p.AdminKeys
		admin := newRoleState(action.AdminRole, p.AdminKeys)
		admin.Members[member.UserID] = true
		next.Roles[action.AdminRole] = admin
		next.Lockboxes = append(lockbox.Set{}, p.Lockboxes...)

	case action.AddMember:
		var p action.AddMemberPayload
		if !decode(link, &p) {
			return next
		}
		if _, exists := next.Members[p.Member.UserID]; exists {
			return next
		}
		member := newMemberState(p.Member.UserID, p.Member.Name, p.Member.Keys)
		for _, r := range p.Member.Roles {
			member.Roles[r] = true
			if rs, ok := next.Roles[r]; ok {
				rs.Members[member.UserID] = true
			}
		}
		next.Members[member.UserID] = member
		next.Lockboxes = append(next.Lockboxes, p.Lockboxes...)

	case action.RemoveMember:
		var p action.RemoveMemberPayload
		if !decode(link, &p) {
			return next
		}
		if _, ok := next.Members[p.UserID]; !ok {
			return next // already removed: idempotent no-op
		}
		wasAdmin := next.IsAdmin(p.UserID)
		if wasAdmin && next.AdminCount() <= 1 {
			metrics.ReducerDrop("invariant")
			logger.Warn("reducer: refusing removal that would leave team without an admin",
				logger.String("userId", p.UserID))
			return next
		}
		delete(next.Members, p.UserID)
		next.RemovedMembers[p.UserID] = true
		for _, rs := range next.Roles {
			delete(rs.Members, p.UserID)
		}
		next.Lockboxes = append(next.Lockboxes, p.Lockboxes...)
		if len(p.RotatedKeys) > 0 {
			next.TeamKeys = p.RotatedKeys[0]
		}

	case action.AddRole:
		var p action.AddRolePayload
		if !decode(link, &p) {
			return next
		}
		if _, exists := next.Roles[p.RoleName]; exists {
			return next
		}
		next.Roles[p.RoleName] = newRoleState(p.RoleName, p.Keys)
		next.Lockboxes = append(next.Lockboxes, p.Lockboxes...)

	case action.RemoveRole:
		var p action.RemoveRolePayload
		if !decode(link, &p) {
			return next
		}
		if p.RoleName == action.AdminRole {
			logger.Warn("reducer: refusing to remove the built-in ADMIN role")
			return next
		}
		for _, m := range next.Members {
			delete(m.Roles, p.RoleName)
		}
		delete(next.Roles, p.RoleName)

	case action.AddMemberRole:
		var p action.AddMemberRolePayload
		if !decode(link, &p) {
			return next
		}
		m, ok := next.Members[p.UserID]
		if !ok {
			return next
		}
		m.Roles[p.RoleName] = true
		if rs, ok := next.Roles[p.RoleName]; ok {
			rs.Members[p.UserID] = true
		}
		next.Lockboxes = append(next.Lockboxes, p.Lockboxes...)

	case action.RemoveMemberRole:
		var p action.RemoveMemberRolePayload
		if !decode(link, &p) {
			return next
		}
		m, ok := next.Members[p.UserID]
		if !ok {
			return next
		}
		if p.RoleName == action.AdminRole && next.AdminCount() <= 1 {
			metrics.ReducerDrop("invariant")
			logger.Warn("reducer: refusing demotion that would leave team without an admin",
				logger.String("userId", p.UserID))
			return next
		}
		delete(m.Roles, p.RoleName)
		if rs, ok := next.Roles[p.RoleName]; ok {
			delete(rs.Members, p.UserID)
		}
		next.Lockboxes = append(next.Lockboxes, p.Lockboxes...)
		if p.RoleName == action.AdminRole && len(p.RotatedKeys) > 0 {
			next.AdminKeys = p.RotatedKeys[0]
		}

	case action.AddDevice:
		var p action.AddDevicePayload
		if !decode(link, &p) {
			return next
		}
		m, ok := next.Members[p.UserID]
		if !ok {
			return next
		}
		m.Devices[p.Device.ID] = p.Device
		next.Lockboxes = append(next.Lockboxes, p.Lockboxes...)

	case action.RemoveDevice:
		var p action.RemoveDevicePayload
		if !decode(link, &p) {
			return next
		}
		m, ok := next.Members[p.UserID]
		if !ok {
			return next
		}
		if _, ok := m.Devices[p.DeviceID]; !ok {
			return next
		}
		if len(m.Devices) <= 1 {
			metrics.ReducerDrop("invariant")
			logger.Warn("reducer: refusing to remove a member's only device",
				logger.String("userId", p.UserID), logger.String("deviceId", p.DeviceID))
			return next
		}
		delete(m.Devices, p.DeviceID)
		next.RemovedDevices[p.DeviceID] = true
		next.Lockboxes = append(next.Lockboxes, p.Lockboxes...)

	case action.ChangeMemberKeys:
		var p action.ChangeMemberKeysPayload
		if !decode(link, &p) {
			return next
		}
		m, ok := next.Members[p.UserID]
		if !ok {
			return next
		}
		if p.Keys.Generation < m.Keys.Generation {
			return next
		}
		m.Keys = p.Keys

	case action.ChangeDeviceKeys:
		var p action.ChangeDeviceKeysPayload
		if !decode(link, &p) {
			return next
		}
		m, ok := next.Members[p.UserID]
		if !ok {
			return next
		}
		d, ok := m.Devices[p.DeviceID]
		if !ok {
			return next
		}
		d.Keys = p.Keys
		m.Devices[p.DeviceID] = d

	case action.Invite:
		var p action.InvitePayload
		if !decode(link, &p) {
			return next
		}
		inv := p.Invitation
		next.Invitations[inv.ID] = &inv

	case action.RevokeInvitation:
		var p action.RevokeInvitationPayload
		if !decode(link, &p) {
			return next
		}
		if inv, ok := next.Invitations[p.ID]; ok {
			inv.Revoked = true
		}

	case action.Admit:
		var p action.AdmitPayload
		if !decode(link, &p) {
			return next
		}
		inv, ok := next.Invitations[p.ID]
		if !ok || inv.Revoked || inv.Used || inv.RemainingUses <= 0 {
			logger.Warn("reducer: dropping ADMIT against an unusable invitation",
				logger.String("invitationId", p.ID))
			return next
		}
		if _, exists := next.Members[p.Member.UserID]; exists {
			// At most one ADMIT takes effect per user: once admitted,
			// further ADMIT links against the same invitation for the
			// same user are idempotent no-ops rather than errors.
			return next
		}
		member := newMemberState(p.Member.UserID, p.Member.Name, p.Member.Keys)
		for _, r := range p.Member.Roles {
			member.Roles[r] = true
			if rs, ok := next.Roles[r]; ok {
				rs.Members[member.UserID] = true
			}
		}
		next.Members[member.UserID] = member
		next.Lockboxes = append(next.Lockboxes, p.Lockboxes...)
		inv.RemainingUses--
		if inv.RemainingUses <= 0 {
			inv.Used = true
		}

	case action.ChangeServerKeys:
		var p action.ChangeServerKeysPayload
		if !decode(link, &p) {
			return next
		}
		if srv, ok := next.Servers[p.ServerID]; ok {
			srv.Keys = p.Keys
		}

	case action.AddServer:
		var p action.AddServerPayload
		if !decode(link, &p) {
			return next
		}
		next.Servers[p.ServerID] = &ServerState{ServerID: p.ServerID, Host: p.Host, Keys: p.Keys}

	case action.RemoveServer:
		var p action.RemoveServerPayload
		if !decode(link, &p) {
			return next
		}
		delete(next.Servers, p.ServerID)

	case action.SetTeamName:
		var p action.SetTeamNamePayload
		if !decode(link, &p) {
			return next
		}
		next.TeamName = p.Name

	case action.AddMessage:
		var p action.AddMessagePayload
		if !decode(link, &p) {
			return next
		}
		next.Messages = append(next.Messages, p.Message)

	default:
		logger.Warn("reducer: unknown payload type, dropping link",
			logger.String("payloadType", string(link.PayloadType)))
	}

	return next
}

func decode(link *graph.Link, v interface{}) bool {
	if err := json.Unmarshal(link.Payload, v); err != nil {
		metrics.ReducerDrop("undecodable")
		logger.Warn("reducer: dropping link with undecodable payload",
			logger.Hash(link.Hash),
			logger.Error(err))
		return false
	}
	return true
}

// adminOnly is the closed set of action types that require the author to
// currently hold ADMIN. Self-admission via invitation and changes to the
// author's own keys or devices are exempt.
var adminOnly = map[action.PayloadType]bool{
	action.AddMember:         true,
	action.RemoveMember:      true,
	action.AddRole:           true,
	action.RemoveRole:        true,
	action.AddMemberRole:     true,
	action.RemoveMemberRole:  true,
	action.RemoveDevice:      true,
	action.Invite:            true,
	action.RevokeInvitation:  true,
	action.ChangeServerKeys:  true,
	action.AddServer:         true,
	action.RemoveServer:      true,
	action.SetTeamName:       true,
	action.AddMessage:        false,
	action.AddDevice:         false,
}

// authorized reports whether link's author is permitted to post its
// payload type, evaluated against state as it stood immediately before
// the link (never including the link's own effects).
func authorized(state *State, link *graph.Link) bool {
	switch link.PayloadType {
	case action.Root:
		return true // the founder's own genesis link is self-authorizing
	case action.Admit:
		// Self-admission via a valid invitation does not require the
		// admitting author to already be a team member.
		return true
	case action.ChangeMemberKeys:
		var p action.ChangeMemberKeysPayload
		if err := json.Unmarshal(link.Payload, &p); err != nil {
			return false
		}
		return p.UserID == link.Author.UserID || state.IsAdmin(link.Author.UserID)
	case action.ChangeDeviceKeys:
		var p action.ChangeDeviceKeysPayload
		if err := json.Unmarshal(link.Payload, &p); err != nil {
			return false
		}
		return p.UserID == link.Author.UserID || state.IsAdmin(link.Author.UserID)
	case action.AddDevice:
		var p action.AddDevicePayload
		if err := json.Unmarshal(link.Payload, &p); err != nil {
			return false
		}
		return p.UserID == link.Author.UserID || state.IsAdmin(link.Author.UserID)
	}
	if adminOnly[link.PayloadType] {
		return state.IsAdmin(link.Author.UserID)
	}
	return true
}
