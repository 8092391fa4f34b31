package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localfirst/teamgraph/action"
	"github.com/localfirst/teamgraph/graph"
	"github.com/localfirst/teamgraph/keyset"
	"github.com/localfirst/teamgraph/reducer"
)

func ctxFor(t *testing.T, userID, deviceID string) graph.AuthorContext {
	t.Helper()
	ks, err := keyset.New(keyset.DeviceScope(deviceID))
	require.NoError(t, err)
	return graph.AuthorContext{UserID: userID, DeviceID: deviceID, Signer: ks}
}

func memberKeys(t *testing.T, userID string) keyset.Public {
	t.Helper()
	ks, err := keyset.New(keyset.MemberScope(userID))
	require.NoError(t, err)
	return ks.PublicOnly()
}

// threeAdmins builds a base chain where alice founds the team, then adds
// bob and charlie as admins, in that order (so seniority is
// alice > bob > charlie).
func threeAdmins(t *testing.T) (*graph.Graph, map[string]graph.AuthorContext) {
	t.Helper()
	ctxs := map[string]graph.AuthorContext{
		"alice":   ctxFor(t, "alice", "alice-laptop"),
		"bob":     ctxFor(t, "bob", "bob-phone"),
		"charlie": ctxFor(t, "charlie", "charlie-pc"),
	}

	root := &action.RootPayload{
		TeamName: "Spies",
		Founder: action.Member{
			UserID: "alice", Name: "Alice", Keys: memberKeys(t, "alice"), Roles: []string{action.AdminRole},
		},
		FounderDevice: action.Device{ID: "alice-laptop", Name: "laptop"},
	}
	chain, err := graph.Create(root, ctxs["alice"])
	require.NoError(t, err)

	for _, uid := range []string{"bob", "charlie"} {
		chain, err = graph.Append(chain, action.AddMember, action.AddMemberPayload{
			Member: action.Member{UserID: uid, Name: uid, Keys: memberKeys(t, uid), Roles: []string{action.AdminRole}},
		}, ctxs["alice"])
		require.NoError(t, err)
	}
	return chain, ctxs
}

func reduceMerged(t *testing.T, a, b *graph.Graph) *reducer.State {
	t.Helper()
	merged, err := graph.Merge(a, b)
	require.NoError(t, err)
	seq, err := graph.GetSequence(merged, StrongRemove)
	require.NoError(t, err)
	return reducer.Reduce(seq)
}

func TestMutualDemotionSeniorWins(t *testing.T) {
	base, ctxs := threeAdmins(t)

	// Disconnected: bob demotes alice while alice demotes bob.
	branchA, err := graph.Append(base, action.RemoveMemberRole, action.RemoveMemberRolePayload{
		UserID: "bob", RoleName: action.AdminRole,
	}, ctxs["alice"])
	require.NoError(t, err)
	branchB, err := graph.Append(base, action.RemoveMemberRole, action.RemoveMemberRolePayload{
		UserID: "alice", RoleName: action.AdminRole,
	}, ctxs["bob"])
	require.NoError(t, err)

	state := reduceMerged(t, branchA, branchB)

	require.True(t, state.IsAdmin("alice"), "the senior principal keeps admin")
	require.False(t, state.IsAdmin("bob"), "the junior principal loses admin")
	require.True(t, state.IsMember("bob"), "demotion is not removal")
}

func TestMutualDemotionConvergesBothMergeOrders(t *testing.T) {
	base, ctxs := threeAdmins(t)
	branchA, err := graph.Append(base, action.RemoveMemberRole, action.RemoveMemberRolePayload{
		UserID: "charlie", RoleName: action.AdminRole,
	}, ctxs["bob"])
	require.NoError(t, err)
	branchB, err := graph.Append(base, action.RemoveMemberRole, action.RemoveMemberRolePayload{
		UserID: "bob", RoleName: action.AdminRole,
	}, ctxs["charlie"])
	require.NoError(t, err)

	ab := reduceMerged(t, branchA, branchB)
	ba := reduceMerged(t, branchB, branchA)

	// bob was added before charlie, so bob wins either way.
	for _, state := range []*reducer.State{ab, ba} {
		require.True(t, state.IsAdmin("bob"))
		require.False(t, state.IsAdmin("charlie"))
	}
	require.Equal(t, ab.AdminCount(), ba.AdminCount())
}

func TestCascadeInvalidatesRemovedMembersActions(t *testing.T) {
	base, ctxs := threeAdmins(t)

	// Alice removes bob; concurrently bob creates a role and invites.
	branchA, err := graph.Append(base, action.RemoveMember, action.RemoveMemberPayload{
		UserID: "bob",
	}, ctxs["alice"])
	require.NoError(t, err)

	branchB, err := graph.Append(base, action.AddRole, action.AddRolePayload{
		RoleName: "SABOTEURS",
	}, ctxs["bob"])
	require.NoError(t, err)
	branchB, err = graph.Append(branchB, action.Invite, action.InvitePayload{
		Invitation: action.Invitation{ID: "inv-x", MaxUses: 1, RemainingUses: 1},
	}, ctxs["bob"])
	require.NoError(t, err)

	state := reduceMerged(t, branchA, branchB)

	require.False(t, state.IsMember("bob"))
	require.NotContains(t, state.Roles, "SABOTEURS", "actions by a concurrently-removed member are dropped")
	require.NotContains(t, state.Invitations, "inv-x")
}

func TestDemotedMemberKeepsOwnDeviceAndKeyChanges(t *testing.T) {
	base, ctxs := threeAdmins(t)

	branchA, err := graph.Append(base, action.RemoveMemberRole, action.RemoveMemberRolePayload{
		UserID: "bob", RoleName: action.AdminRole,
	}, ctxs["alice"])
	require.NoError(t, err)

	// Concurrently bob registers a new device, rotates his member keys,
	// and also tries an admin action.
	tabletKeys, err := keyset.New(keyset.DeviceScope("bob-tablet"))
	require.NoError(t, err)
	branchB, err := graph.Append(base, action.AddDevice, action.AddDevicePayload{
		UserID: "bob", Device: action.Device{ID: "bob-tablet", Name: "tablet", Keys: tabletKeys.PublicOnly()},
	}, ctxs["bob"])
	require.NoError(t, err)
	branchB, err = graph.Append(branchB, action.ChangeMemberKeys, action.ChangeMemberKeysPayload{
		UserID: "bob", Keys: memberKeys(t, "bob"),
	}, ctxs["bob"])
	require.NoError(t, err)
	branchB, err = graph.Append(branchB, action.AddRole, action.AddRolePayload{
		RoleName: "SABOTEURS",
	}, ctxs["bob"])
	require.NoError(t, err)

	state := reduceMerged(t, branchA, branchB)

	require.False(t, state.IsAdmin("bob"))
	require.Contains(t, state.Members["bob"].Devices, "bob-tablet",
		"a demoted member's own device additions survive")
	require.NotContains(t, state.Roles, "SABOTEURS",
		"a demoted member's admin actions are invalidated")
}

func TestConcurrentRemovalsOfSameTargetBothKept(t *testing.T) {
	base, ctxs := threeAdmins(t)

	// Both alice and bob remove charlie concurrently.
	branchA, err := graph.Append(base, action.RemoveMember, action.RemoveMemberPayload{
		UserID: "charlie",
	}, ctxs["alice"])
	require.NoError(t, err)
	branchB, err := graph.Append(base, action.RemoveMember, action.RemoveMemberPayload{
		UserID: "charlie",
	}, ctxs["bob"])
	require.NoError(t, err)

	ab := reduceMerged(t, branchA, branchB)
	ba := reduceMerged(t, branchB, branchA)

	for _, state := range []*reducer.State{ab, ba} {
		require.False(t, state.IsMember("charlie"))
		require.True(t, state.IsAdmin("alice"))
		require.True(t, state.IsAdmin("bob"))
	}
}

func TestConcurrentAdmitsOfSingleUseInvitation(t *testing.T) {
	base, ctxs := threeAdmins(t)
	base, err := graph.Append(base, action.Invite, action.InvitePayload{
		Invitation: action.Invitation{ID: "inv-1", MaxUses: 1, RemainingUses: 1},
	}, ctxs["alice"])
	require.NoError(t, err)

	branchA, err := graph.Append(base, action.Admit, action.AdmitPayload{
		ID: "inv-1", Member: action.Member{UserID: "carol", Name: "Carol", Keys: memberKeys(t, "carol")},
	}, ctxs["alice"])
	require.NoError(t, err)
	branchB, err := graph.Append(base, action.Admit, action.AdmitPayload{
		ID: "inv-1", Member: action.Member{UserID: "dave", Name: "Dave", Keys: memberKeys(t, "dave")},
	}, ctxs["bob"])
	require.NoError(t, err)

	ab := reduceMerged(t, branchA, branchB)
	ba := reduceMerged(t, branchB, branchA)

	for _, state := range []*reducer.State{ab, ba} {
		admitted := 0
		if state.IsMember("carol") {
			admitted++
		}
		if state.IsMember("dave") {
			admitted++
		}
		require.Equal(t, 1, admitted, "a single-use invitation admits exactly one member")
		require.True(t, state.Invitations["inv-1"].Used)
	}
	require.Equal(t, ab.IsMember("carol"), ba.IsMember("carol"),
		"both merge orders must agree on which admit survived")
}

func TestCircularDemotionResolvedBySequentialMerges(t *testing.T) {
	// Three concurrent demotions form a cycle: bob demotes charlie,
	// charlie demotes alice, alice demotes bob. A cycle longer than two
	// never meets the mutual cross-cancellation rule inside a single
	// merge; it unwinds pairwise, in the order the merges entered the
	// graph. Here bob and charlie sync first, then alice's branch lands:
	// the first merge cancels charlie's demotion of alice (charlie is
	// the target of bob's concurrent demotion), the second cancels bob's
	// demotion of charlie (bob is the target of alice's), and only the
	// founder's own demotion survives.
	base, ctxs := threeAdmins(t)

	branchA, err := graph.Append(base, action.RemoveMemberRole, action.RemoveMemberRolePayload{
		UserID: "bob", RoleName: action.AdminRole,
	}, ctxs["alice"])
	require.NoError(t, err)
	branchB, err := graph.Append(base, action.RemoveMemberRole, action.RemoveMemberRolePayload{
		UserID: "charlie", RoleName: action.AdminRole,
	}, ctxs["bob"])
	require.NoError(t, err)
	branchC, err := graph.Append(base, action.RemoveMemberRole, action.RemoveMemberRolePayload{
		UserID: "alice", RoleName: action.AdminRole,
	}, ctxs["charlie"])
	require.NoError(t, err)

	bobCharlie, err := graph.Merge(branchB, branchC)
	require.NoError(t, err)
	full, err := graph.Merge(bobCharlie, branchA)
	require.NoError(t, err)

	seq, err := graph.GetSequence(full, StrongRemove)
	require.NoError(t, err)
	state := reducer.Reduce(seq)

	require.True(t, state.IsAdmin("alice"), "the founder keeps admin")
	require.False(t, state.IsAdmin("bob"))
	require.True(t, state.IsAdmin("charlie"))
	for _, uid := range []string{"alice", "bob", "charlie"} {
		require.True(t, state.IsMember(uid), "demotion is not removal")
	}

	// The merge links are part of the graph, so a fourth peer that syncs
	// the finished history replays the identical sequence and lands on
	// the identical state, however it received the links.
	blob, err := graph.Serialize(full)
	require.NoError(t, err)
	dwightCopy, err := graph.Deserialize(blob)
	require.NoError(t, err)
	dwightSeq, err := graph.GetSequence(dwightCopy, StrongRemove)
	require.NoError(t, err)
	dwightState := reducer.Reduce(dwightSeq)
	require.Equal(t, state.IsAdmin("alice"), dwightState.IsAdmin("alice"))
	require.Equal(t, state.IsAdmin("bob"), dwightState.IsAdmin("bob"))
	require.Equal(t, state.IsAdmin("charlie"), dwightState.IsAdmin("charlie"))

	// The final merge is operand-order independent: a peer that merged
	// alice's branch into the pair instead gets the same head and state.
	flipped, err := graph.Merge(branchA, bobCharlie)
	require.NoError(t, err)
	require.Equal(t, full.Head, flipped.Head)
}

func TestNonConflictingBranchesBothRetained(t *testing.T) {
	base, ctxs := threeAdmins(t)

	branchA, err := graph.Append(base, action.AddRole, action.AddRolePayload{RoleName: "MANAGERS"}, ctxs["alice"])
	require.NoError(t, err)
	branchB, err := graph.Append(base, action.Invite, action.InvitePayload{
		Invitation: action.Invitation{ID: "inv-2", MaxUses: 1, RemainingUses: 1},
	}, ctxs["bob"])
	require.NoError(t, err)

	state := reduceMerged(t, branchA, branchB)
	require.Contains(t, state.Roles, "MANAGERS")
	require.Contains(t, state.Invitations, "inv-2")
}
