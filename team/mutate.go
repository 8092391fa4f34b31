package team

import (
	"fmt"
	"time"

	"github.com/localfirst/teamgraph/action"
	"github.com/localfirst/teamgraph/internal/metrics"
	"github.com/localfirst/teamgraph/invitation"
	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/lockbox"
)

// AddMember admits a member directly (no invitation), granting roles and
// registering one initial device — used for pre-shared-key bootstrapping
// rather than the invitation flow. Requires the local user to be admin.
func (t *Team) AddMember(userID, name string, memberKeys keyset.Public, roles []string, deviceID, deviceName string, deviceKeys keyset.Public) error {
	t.mu.RLock()
	if err := t.requireAdmin(); err != nil {
		t.mu.RUnlock()
		return err
	}
	var roleKeysets []*keyset.Keyset
	for _, r := range roles {
		if ks := t.lookupSecret(keyset.RoleScope(r)); ks != nil {
			roleKeysets = append(roleKeysets, ks)
		}
	}
	teamKeys := t.lookupSecret(keyset.TeamScope())
	t.mu.RUnlock()
	if teamKeys == nil {
		return ErrUnknownScope
	}

	memberBoxes, err := sealMany(append([]*keyset.Keyset{teamKeys}, roleKeysets...), memberKeys)
	if err != nil {
		return err
	}
	if err := t.append(action.AddMember, action.AddMemberPayload{
		Member:    action.Member{UserID: userID, Name: name, Keys: memberKeys, Roles: roles},
		Lockboxes: memberBoxes,
	}); err != nil {
		return err
	}

	deviceBoxes, err := sealMany(append([]*keyset.Keyset{teamKeys}, roleKeysets...), deviceKeys)
	if err != nil {
		return err
	}
	return t.append(action.AddDevice, action.AddDevicePayload{
		UserID:    userID,
		Device:    action.Device{ID: deviceID, Name: deviceName, Keys: deviceKeys},
		Lockboxes: deviceBoxes,
	})
}

// sealMany seals each of contents to recipient, skipping any whose scope
// equals recipient's own scope.
func sealMany(contents []*keyset.Keyset, recipient keyset.Public) ([]*lockbox.Lockbox, error) {
	var boxes []*lockbox.Lockbox
	for _, c := range contents {
		b, err := sealTo(c, recipient)
		if err != nil {
			return nil, err
		}
		boxes = append(boxes, b...)
	}
	return boxes, nil
}

// Remove removes a member from the team, rotating the team keyset and
// redistributing the new generation to every remaining member.
func (t *Team) Remove(userID string) error {
	t.mu.RLock()
	if err := t.requireAdmin(); err != nil {
		t.mu.RUnlock()
		return err
	}
	if _, ok := t.state.Members[userID]; !ok {
		t.mu.RUnlock()
		return ErrUnknownMember
	}
	if t.state.IsAdmin(userID) && t.state.AdminCount() <= 1 {
		t.mu.RUnlock()
		return ErrCannotRemoveAdmin
	}
	oldTeamKeys := t.lookupSecret(keyset.TeamScope())
	remaining := t.allMemberIDs()
	t.mu.RUnlock()
	if oldTeamKeys == nil {
		return ErrUnknownScope
	}
	newTeamKeys, err := oldTeamKeys.NextGeneration()
	if err != nil {
		return fmt.Errorf("team: rotate team keys: %w", err)
	}
	metrics.KeyRotation(string(keyset.ScopeTeam))

	var targets []string
	for _, uid := range remaining {
		if uid != userID {
			targets = append(targets, uid)
		}
	}
	boxes, err := sealTo(newTeamKeys, t.memberRecipients(targets...)...)
	if err != nil {
		return err
	}
	return t.append(action.RemoveMember, action.RemoveMemberPayload{
		UserID:      userID,
		Lockboxes:   boxes,
		RotatedKeys: []keyset.Public{newTeamKeys.PublicOnly()},
	})
}

// AddRole creates a new role, delivering its keyset to every current admin.
func (t *Team) AddRole(roleName string) error {
	t.mu.RLock()
	if err := t.requireAdmin(); err != nil {
		t.mu.RUnlock()
		return err
	}
	if _, exists := t.state.Roles[roleName]; exists {
		t.mu.RUnlock()
		return fmt.Errorf("team: role %q already exists", roleName)
	}
	admins := t.memberRecipients(t.adminMemberIDs()...)
	t.mu.RUnlock()

	roleKeys, err := keyset.New(keyset.RoleScope(roleName))
	if err != nil {
		return fmt.Errorf("team: create role keyset: %w", err)
	}
	boxes, err := sealTo(roleKeys, admins...)
	if err != nil {
		return err
	}
	return t.append(action.AddRole, action.AddRolePayload{
		RoleName: roleName, Keys: roleKeys.PublicOnly(), Lockboxes: boxes,
	})
}

// RemoveRole deletes a non-built-in role.
func (t *Team) RemoveRole(roleName string) error {
	if roleName == action.AdminRole {
		return ErrCannotRemoveAdminRole
	}
	t.mu.RLock()
	err := t.requireAdmin()
	_, exists := t.state.Roles[roleName]
	t.mu.RUnlock()
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownRole
	}
	return t.append(action.RemoveRole, action.RemoveRolePayload{RoleName: roleName})
}

// AddMemberRole grants roleName to userID, delivering the role's current
// keyset to that member.
func (t *Team) AddMemberRole(userID, roleName string) error {
	t.mu.RLock()
	if err := t.requireAdmin(); err != nil {
		t.mu.RUnlock()
		return err
	}
	m, ok := t.state.Members[userID]
	if !ok {
		t.mu.RUnlock()
		return ErrUnknownMember
	}
	roleKeys := t.lookupSecret(keyset.RoleScope(roleName))
	recipient := m.Keys
	t.mu.RUnlock()
	if roleKeys == nil {
		return ErrUnknownScope
	}
	boxes, err := sealTo(roleKeys, recipient)
	if err != nil {
		return err
	}
	return t.append(action.AddMemberRole, action.AddMemberRolePayload{
		UserID: userID, RoleName: roleName, Lockboxes: boxes,
	})
}

// RemoveMemberRole revokes roleName from userID. Revoking ADMIN rotates
// the admin keyset and redistributes it to the remaining admins.
func (t *Team) RemoveMemberRole(userID, roleName string) error {
	t.mu.RLock()
	if err := t.requireAdmin(); err != nil {
		t.mu.RUnlock()
		return err
	}
	m, ok := t.state.Members[userID]
	if !ok || !m.Roles[roleName] {
		t.mu.RUnlock()
		return ErrUnknownMember
	}
	if roleName == action.AdminRole && t.state.AdminCount() <= 1 {
		t.mu.RUnlock()
		return ErrCannotRemoveAdmin
	}
	if roleName != action.AdminRole {
		t.mu.RUnlock()
		return t.append(action.RemoveMemberRole, action.RemoveMemberRolePayload{UserID: userID, RoleName: roleName})
	}
	oldAdminKeys := t.lookupSecret(keyset.RoleScope(action.AdminRole))
	var remainingAdmins []string
	for _, uid := range t.adminMemberIDs() {
		if uid != userID {
			remainingAdmins = append(remainingAdmins, uid)
		}
	}
	recipients := t.memberRecipients(remainingAdmins...)
	t.mu.RUnlock()
	if oldAdminKeys == nil {
		return ErrUnknownScope
	}
	newAdminKeys, err := oldAdminKeys.NextGeneration()
	if err != nil {
		return fmt.Errorf("team: rotate admin keys: %w", err)
	}
	metrics.KeyRotation(string(keyset.ScopeRole))
	boxes, err := sealTo(newAdminKeys, recipients...)
	if err != nil {
		return err
	}
	return t.append(action.RemoveMemberRole, action.RemoveMemberRolePayload{
		UserID: userID, RoleName: roleName, Lockboxes: boxes,
		RotatedKeys: []keyset.Public{newAdminKeys.PublicOnly()},
	})
}

// AddDevice registers a new device for userID, delivering the team key
// and every role key the member currently holds. The local user must be
// either the device's own owner or an admin.
func (t *Team) AddDevice(userID, deviceID, name string, deviceKeys keyset.Public) error {
	t.mu.RLock()
	m, ok := t.state.Members[userID]
	isSelfOrAdmin := userID == t.ctx.UserID || t.state.IsAdmin(t.ctx.UserID)
	if !ok {
		t.mu.RUnlock()
		return ErrUnknownMember
	}
	if !isSelfOrAdmin {
		t.mu.RUnlock()
		return ErrNotAdmin
	}
	var contents []*keyset.Keyset
	if teamKeys := t.lookupSecret(keyset.TeamScope()); teamKeys != nil {
		contents = append(contents, teamKeys)
	}
	for role := range m.Roles {
		if ks := t.lookupSecret(keyset.RoleScope(role)); ks != nil {
			contents = append(contents, ks)
		}
	}
	t.mu.RUnlock()

	boxes, err := sealMany(contents, deviceKeys)
	if err != nil {
		return err
	}
	return t.append(action.AddDevice, action.AddDevicePayload{
		UserID: userID, Device: action.Device{ID: deviceID, Name: name, Keys: deviceKeys}, Lockboxes: boxes,
	})
}

// RemoveDevice detaches deviceID from userID and rotates every keyset the
// device's own lockboxes show it could reach, redistributing the new
// generations to the team's remaining members.
func (t *Team) RemoveDevice(userID, deviceID string) error {
	t.mu.RLock()
	if err := t.requireAdmin(); err != nil {
		t.mu.RUnlock()
		return err
	}
	m, ok := t.state.Members[userID]
	if !ok {
		t.mu.RUnlock()
		return ErrUnknownMember
	}
	device, ok := m.Devices[deviceID]
	if !ok {
		t.mu.RUnlock()
		return fmt.Errorf("team: no such device %q", deviceID)
	}
	reachable := t.state.Lockboxes.ForRecipient(device.Keys)
	remainingMembers := t.allMemberIDs()
	t.mu.RUnlock()

	var rotated []keyset.Public
	var boxes []*lockbox.Lockbox
	for _, box := range reachable {
		old := t.lookupSecret(box.Contents)
		if old == nil {
			continue
		}
		next, err := old.NextGeneration()
		if err != nil {
			return fmt.Errorf("team: rotate %s: %w", box.Contents, err)
		}
		metrics.KeyRotation(string(old.Scope.Type))
		var recipients []keyset.Public
		for _, uid := range remainingMembers {
			if uid == userID {
				continue
			}
			if mm, ok := t.state.Members[uid]; ok {
				recipients = append(recipients, mm.Keys)
			}
		}
		rb, err := sealTo(next, recipients...)
		if err != nil {
			return err
		}
		boxes = append(boxes, rb...)
		rotated = append(rotated, next.PublicOnly())
	}

	return t.append(action.RemoveDevice, action.RemoveDevicePayload{
		UserID: userID, DeviceID: deviceID, Lockboxes: boxes, RotatedKeys: rotated,
	})
}

// ChangeKeys rotates the local user's own member keyset, e.g. after
// suspected compromise, or to replace an invitation's seed-derived
// starter key with a permanent one.
func (t *Team) ChangeKeys(newKeys *keyset.Keyset) error {
	return t.append(action.ChangeMemberKeys, action.ChangeMemberKeysPayload{
		UserID: t.ctx.UserID, Keys: newKeys.PublicOnly(),
	})
}

// ChangeDeviceKeys rotates the local device's own public keyset header.
func (t *Team) ChangeDeviceKeys(newKeys *keyset.Keyset) error {
	return t.append(action.ChangeDeviceKeys, action.ChangeDeviceKeysPayload{
		UserID: t.ctx.UserID, DeviceID: t.ctx.DeviceID, Keys: newKeys.PublicOnly(),
	})
}

// SetTeamName renames the team.
func (t *Team) SetTeamName(name string) error {
	t.mu.RLock()
	err := t.requireAdmin()
	t.mu.RUnlock()
	if err != nil {
		return err
	}
	return t.append(action.SetTeamName, action.SetTeamNamePayload{Name: name})
}

// AddMessage appends an opaque message to the team's log.
func (t *Team) AddMessage(channel, message string) error {
	return t.append(action.AddMessage, action.AddMessagePayload{Channel: channel, Message: message})
}

// AddServer registers a non-human participant: a relay that replicates
// the graph but holds no member authority and receives no team keys.
func (t *Team) AddServer(serverID, host string, serverKeys keyset.Public) error {
	t.mu.RLock()
	err := t.requireAdmin()
	t.mu.RUnlock()
	if err != nil {
		return err
	}
	return t.append(action.AddServer, action.AddServerPayload{
		ServerID: serverID, Host: host, Keys: serverKeys,
	})
}

// RemoveServer deregisters a server.
func (t *Team) RemoveServer(serverID string) error {
	t.mu.RLock()
	err := t.requireAdmin()
	t.mu.RUnlock()
	if err != nil {
		return err
	}
	return t.append(action.RemoveServer, action.RemoveServerPayload{ServerID: serverID})
}

// ChangeServerKeys replaces a server's recorded public keyset.
func (t *Team) ChangeServerKeys(serverID string, keys keyset.Public) error {
	t.mu.RLock()
	err := t.requireAdmin()
	t.mu.RUnlock()
	if err != nil {
		return err
	}
	return t.append(action.ChangeServerKeys, action.ChangeServerKeysPayload{ServerID: serverID, Keys: keys})
}

// Invite creates an invitation (single-use unless p.MaxUses says
// otherwise) and posts its record.
func (t *Team) Invite(p invitation.Params) (*invitation.Invite, error) {
	t.mu.RLock()
	err := t.requireAdmin()
	t.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	inv, err := invitation.Create(p)
	if err != nil {
		return nil, err
	}
	if err := t.append(action.Invite, action.InvitePayload{Invitation: inv.Record}); err != nil {
		return nil, err
	}
	return inv, nil
}

// RevokeInvitation marks an outstanding invitation unusable.
func (t *Team) RevokeInvitation(id string) error {
	t.mu.RLock()
	err := t.requireAdmin()
	_, exists := t.state.Invitations[id]
	t.mu.RUnlock()
	if err != nil {
		return err
	}
	if !exists {
		return ErrNoSuchInvitation
	}
	return t.append(action.RevokeInvitation, action.RevokeInvitationPayload{ID: id})
}

// Admit validates proof against the named invitation and, on success,
// posts ADMIT granting membership under memberKeys (the invitee's own
// public keyset header, presented over the wire during the connection's
// identity exchange — see connection.go) followed by an ADD_DEVICE
// registering deviceKeys as that member's first device. roles grants any
// roles the invitation or local policy assigns at admission time.
func (t *Team) Admit(invitationID string, proof []byte, userID, userName string, memberKeys, deviceKeys keyset.Public, deviceID string, roles []string) error {
	t.mu.RLock()
	if err := t.requireAdmin(); err != nil {
		t.mu.RUnlock()
		return err
	}
	inv, ok := t.state.Invitations[invitationID]
	if !ok {
		t.mu.RUnlock()
		return ErrNoSuchInvitation
	}
	invCopy := *inv
	var roleKeysets []*keyset.Keyset
	for _, r := range roles {
		if ks := t.lookupSecret(keyset.RoleScope(r)); ks != nil {
			roleKeysets = append(roleKeysets, ks)
		}
	}
	teamKeys := t.lookupSecret(keyset.TeamScope())
	t.mu.RUnlock()
	if teamKeys == nil {
		return ErrUnknownScope
	}
	if err := invitation.Validate(proof, userName, invCopy, time.Now().UnixMilli()); err != nil {
		return err
	}

	memberBoxes, err := sealMany(append([]*keyset.Keyset{teamKeys}, roleKeysets...), memberKeys)
	if err != nil {
		return err
	}
	if err := t.append(action.Admit, action.AdmitPayload{
		ID:        invitationID,
		Member:    action.Member{UserID: userID, Name: userName, Keys: memberKeys, Roles: roles},
		Proof:     proof,
		Lockboxes: memberBoxes,
	}); err != nil {
		return err
	}

	deviceBoxes, err := sealMany(append([]*keyset.Keyset{teamKeys}, roleKeysets...), deviceKeys)
	if err != nil {
		return err
	}
	return t.append(action.AddDevice, action.AddDevicePayload{
		UserID:    userID,
		Device:    action.Device{ID: deviceID, Name: "bootstrap", Keys: deviceKeys},
		Lockboxes: deviceBoxes,
	})
}

// Join is called by a freshly-admitted invitee, operating under the
// seed-derived starter keys (invitation.StarterKeys), to replace those
// starter keys with its permanent member and device keys: it registers
// realDeviceKeys as a second device and rotates its own member keys to
// realMemberKeys.
func (t *Team) Join(realDeviceID, realDeviceName string, realDeviceKeys keyset.Public, realMemberKeys *keyset.Keyset) error {
	var contents []*keyset.Keyset
	if teamKeys := t.lookupSecret(keyset.TeamScope()); teamKeys != nil {
		contents = append(contents, teamKeys)
	}
	if m, ok := t.state.Members[t.ctx.UserID]; ok {
		for role := range m.Roles {
			if ks := t.lookupSecret(keyset.RoleScope(role)); ks != nil {
				contents = append(contents, ks)
			}
		}
	}
	boxes, err := sealMany(contents, realDeviceKeys)
	if err != nil {
		return err
	}
	if err := t.append(action.AddDevice, action.AddDevicePayload{
		UserID:    t.ctx.UserID,
		Device:    action.Device{ID: realDeviceID, Name: realDeviceName, Keys: realDeviceKeys},
		Lockboxes: boxes,
	}); err != nil {
		return err
	}
	return t.ChangeKeys(realMemberKeys)
}
