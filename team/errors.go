package team

import "errors"

// Errors returned by Team's mutators at the facade's pre-check layer;
// the reducer enforces the same rules authoritatively when the link is
// folded.
var (
	ErrNotAdmin            = errors.New("team: local user is not an admin")
	ErrCannotRemoveAdmin   = errors.New("team: removing this member or role would leave the team without an admin")
	ErrCannotRemoveAdminRole = errors.New("team: ADMIN is a built-in role and cannot be removed")
	ErrUnknownMember       = errors.New("team: no such member")
	ErrUnknownRole         = errors.New("team: no such role")
	ErrUnknownScope        = errors.New("team: no key held for scope")
	ErrNoSuchInvitation    = errors.New("team: no such invitation")
)
