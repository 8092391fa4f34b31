package team

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localfirst/teamgraph/action"
	"github.com/localfirst/teamgraph/invitation"
	"github.com/localfirst/teamgraph/keyset"
)

func newDeviceKeyset(t *testing.T, deviceID string) *keyset.Keyset {
	t.Helper()
	ks, err := keyset.New(keyset.DeviceScope(deviceID))
	require.NoError(t, err)
	return ks
}

func founderCtx(t *testing.T) Context {
	t.Helper()
	return Context{UserID: "alice", DeviceID: "alice-laptop", Device: newDeviceKeyset(t, "alice-laptop")}
}

func TestCreateFounds(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)

	st := f.Team.State()
	require.Equal(t, "Spies", st.TeamName)
	require.True(t, st.IsAdmin("alice"))
	require.Equal(t, f.TeamKeys.PublicOnly(), f.Team.TeamKeys())
}

func TestAddMemberAndDeviceDistributeTeamKeys(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)
	tm := f.Team

	bobMemberKeys, err := keyset.New(keyset.MemberScope("bob"))
	require.NoError(t, err)
	bobDeviceKeys := newDeviceKeyset(t, "bob-phone")

	err = tm.AddMember("bob", "Bob", bobMemberKeys.PublicOnly(), nil, "bob-phone", "phone", bobDeviceKeys.PublicOnly())
	require.NoError(t, err)

	require.True(t, tm.State().IsMember("bob"))
	boxes := tm.State().Lockboxes.ForRecipient(bobDeviceKeys.PublicOnly())
	require.NotEmpty(t, boxes, "bob's device should have at least one lockbox (the team key) addressed to it")
}

func TestRemoveMemberRotatesTeamKeys(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)
	tm := f.Team

	bobMemberKeys, err := keyset.New(keyset.MemberScope("bob"))
	require.NoError(t, err)
	bobDeviceKeys := newDeviceKeyset(t, "bob-phone")
	require.NoError(t, tm.AddMember("bob", "Bob", bobMemberKeys.PublicOnly(), []string{action.AdminRole}, "bob-phone", "phone", bobDeviceKeys.PublicOnly()))

	oldTeamKeys := tm.TeamKeys()
	require.NoError(t, tm.Remove("bob"))

	newTeamKeys := tm.TeamKeys()
	require.Greater(t, newTeamKeys.Generation, oldTeamKeys.Generation)
	require.False(t, tm.State().IsMember("bob"))
}

func TestCannotRemoveLastAdmin(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)
	err = f.Team.Remove("alice")
	require.ErrorIs(t, err, ErrCannotRemoveAdmin)
}

func TestNonAdminCannotMutate(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)

	bobDevice := newDeviceKeyset(t, "bob-phone")
	bobMemberKeys, err := keyset.New(keyset.MemberScope("bob"))
	require.NoError(t, err)
	require.NoError(t, f.Team.AddMember("bob", "Bob", bobMemberKeys.PublicOnly(), nil, "bob-phone", "phone", bobDevice.PublicOnly()))

	bobTeam := Load(f.Team.Graph(), Context{UserID: "bob", DeviceID: "bob-phone", Device: bobDevice})
	err = bobTeam.AddRole("WRITER")
	require.ErrorIs(t, err, ErrNotAdmin)
}

func TestInviteAdmitJoinFlow(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)
	tm := f.Team

	inv, err := tm.Invite(invitation.Params{Seed: "abcdefghijklmnop"})
	require.NoError(t, err)

	proof, err := invitation.GenerateProof(inv.Seed, "Carol")
	require.NoError(t, err)

	starterMember, starterDevice, err := invitation.StarterKeys(inv.Seed, "carol")
	require.NoError(t, err)

	err = tm.Admit(inv.Record.ID, proof, "carol", "Carol",
		starterMember.PublicOnly(), starterDevice.PublicOnly(), invitation.BootstrapDeviceID("carol"), nil)
	require.NoError(t, err)
	require.True(t, tm.State().IsMember("carol"))

	// carol operates her side of the team using the seed-derived starter
	// device keyset (it shares alice's-issued bootstrap device signing key).
	carolTeam := Load(tm.Graph(), Context{
		UserID: "carol", DeviceID: invitation.BootstrapDeviceID("carol"), Device: starterDevice,
	})
	require.True(t, carolTeam.State().IsMember("carol"))

	realDevice := newDeviceKeyset(t, "carol-laptop")
	realMember, err := keyset.New(keyset.MemberScope("carol"))
	require.NoError(t, err)
	err = carolTeam.Join("carol-laptop", "laptop", realDevice.PublicOnly(), realMember)
	require.NoError(t, err)

	require.Contains(t, carolTeam.State().Members["carol"].Devices, "carol-laptop")
	require.Equal(t, realMember.PublicOnly(), carolTeam.State().Members["carol"].Keys)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)
	tm := f.Team

	env, err := tm.Encrypt(keyset.TeamScope(), []byte("mission briefing"))
	require.NoError(t, err)

	plaintext, err := tm.Decrypt(env)
	require.NoError(t, err)
	require.Equal(t, []byte("mission briefing"), plaintext)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)
	tm := f.Team

	sig, err := tm.Sign([]byte("order 66"))
	require.NoError(t, err)
	require.NoError(t, tm.Verify("alice", "alice-laptop", []byte("order 66"), sig))
	require.Error(t, tm.Verify("alice", "alice-laptop", []byte("order 67"), sig))
}

func TestSaveRoundTrips(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)

	blob, err := f.Team.Save()
	require.NoError(t, err)
	require.NotEmpty(t, blob)
}

func TestValidateAcceptsOwnGraph(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)
	tm := f.Team

	bobMemberKeys, err := keyset.New(keyset.MemberScope("bob"))
	require.NoError(t, err)
	bobDevice := newDeviceKeyset(t, "bob-phone")
	require.NoError(t, tm.AddMember("bob", "Bob", bobMemberKeys.PublicOnly(), nil, "bob-phone", "phone", bobDevice.PublicOnly()))
	require.NoError(t, tm.AddRole("WRITER"))

	require.NoError(t, tm.Validate())
}

func TestValidateRejectsForgedSignature(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)
	tm := f.Team
	require.NoError(t, tm.AddRole("WRITER"))

	head := tm.Graph().Links[tm.Head()]
	head.Signature[0] ^= 0xff
	require.Error(t, tm.Validate())
}

func TestSetTeamNameAndMessages(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)
	tm := f.Team

	require.NoError(t, tm.SetTeamName("Moles"))
	require.Equal(t, "Moles", tm.State().TeamName)

	require.NoError(t, tm.AddMessage("general", "hello"))
	require.Len(t, tm.State().Messages, 1)
}

func TestServerLifecycle(t *testing.T) {
	f, err := Create("Spies", "Alice", founderCtx(t))
	require.NoError(t, err)
	tm := f.Team

	srvKeys, err := keyset.New(keyset.DeviceScope("relay-1"))
	require.NoError(t, err)
	require.NoError(t, tm.AddServer("relay-1", "relay.example.com", srvKeys.PublicOnly()))
	require.Contains(t, tm.State().Servers, "relay-1")

	next, err := srvKeys.NextGeneration()
	require.NoError(t, err)
	require.NoError(t, tm.ChangeServerKeys("relay-1", next.PublicOnly()))
	require.Equal(t, uint32(1), tm.State().Servers["relay-1"].Keys.Generation)

	require.NoError(t, tm.RemoveServer("relay-1"))
	require.NotContains(t, tm.State().Servers, "relay-1")
}
