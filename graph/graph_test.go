package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/localfirst/teamgraph/action"
	"github.com/localfirst/teamgraph/keyset"
)

func testCtx(t *testing.T, userID, deviceID string) (AuthorContext, *keyset.Keyset) {
	t.Helper()
	ks, err := keyset.New(keyset.DeviceScope(deviceID))
	require.NoError(t, err)
	return AuthorContext{UserID: userID, DeviceID: deviceID, Signer: ks}, ks
}

func testRoot(t *testing.T) (*Graph, AuthorContext, *keyset.Keyset) {
	t.Helper()
	ctx, device := testCtx(t, "alice", "alice-laptop")
	memberKeys, err := keyset.New(keyset.MemberScope("alice"))
	require.NoError(t, err)
	root := &action.RootPayload{
		TeamName: "Spies",
		Founder: action.Member{
			UserID: "alice", Name: "Alice", Keys: memberKeys.PublicOnly(), Roles: []string{action.AdminRole},
		},
		FounderDevice: action.Device{ID: "alice-laptop", Name: "laptop", Keys: device.PublicOnly()},
	}
	g, err := Create(root, ctx)
	require.NoError(t, err)
	return g, ctx, device
}

// allKey resolves every author to the one test device, for graphs where
// a single signer authored everything.
func allKey(device *keyset.Keyset) KeyResolver {
	return func(Author, Hash) ([]byte, error) {
		return device.PublicOnly().SigningPublic, nil
	}
}

func TestCreateSetsRootAndHead(t *testing.T) {
	g, _, _ := testRoot(t)
	require.Equal(t, g.Root, g.Head)
	require.Len(t, g.Links, 1)
	require.Equal(t, Root, g.Links[g.Root].Type)
}

func TestAppendAdvancesHead(t *testing.T) {
	g, ctx, _ := testRoot(t)
	g2, err := Append(g, action.AddRole, action.AddRolePayload{RoleName: "WRITER"}, ctx)
	require.NoError(t, err)

	require.NotEqual(t, g.Head, g2.Head)
	require.Equal(t, []Hash{g.Head}, g2.Links[g2.Head].Prev)
	require.Len(t, g.Links, 1, "append must not mutate the original graph")
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	g, ctx, device := testRoot(t)
	g, err := Append(g, action.AddRole, action.AddRolePayload{RoleName: "MANAGERS"}, ctx)
	require.NoError(t, err)

	blob, err := Serialize(g)
	require.NoError(t, err)

	restored, err := Deserialize(blob)
	require.NoError(t, err)
	require.Equal(t, g.Root, restored.Root)
	require.Equal(t, g.Head, restored.Head)
	require.Len(t, restored.Links, len(g.Links))

	require.NoError(t, Validate(g, allKey(device)))
	require.NoError(t, Validate(restored, allKey(device)))
}

func TestDeserializeRejectsTamperedPayload(t *testing.T) {
	g, ctx, _ := testRoot(t)
	g, err := Append(g, action.SetTeamName, action.SetTeamNamePayload{Name: "Spies"}, ctx)
	require.NoError(t, err)

	blob, err := Serialize(g)
	require.NoError(t, err)

	// Mallory rewrites the team name inside the serialized blob.
	tampered := []byte(string(blob))
	for i := 0; i+5 < len(tampered); i++ {
		if string(tampered[i:i+5]) == "Spies" {
			copy(tampered[i:i+5], "Moles")
			break
		}
	}
	require.NotEqual(t, blob, tampered)

	_, err = Deserialize(tampered)
	require.ErrorIs(t, err, ErrGraphTampered)
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	g, ctx, device := testRoot(t)
	g, err := Append(g, action.AddRole, action.AddRolePayload{RoleName: "WRITER"}, ctx)
	require.NoError(t, err)
	require.NoError(t, Validate(g, allKey(device)))

	link := g.Links[g.Head]
	link.Signature[0] ^= 0xff
	require.ErrorIs(t, Validate(g, allKey(device)), ErrInvalidSignature)
}

func TestValidateRejectsDanglingParent(t *testing.T) {
	g, ctx, device := testRoot(t)
	g, err := Append(g, action.AddRole, action.AddRolePayload{RoleName: "WRITER"}, ctx)
	require.NoError(t, err)

	delete(g.Links, g.Root)
	err = Validate(g, allKey(device))
	require.Error(t, err)
}

func TestMergeIsCommutative(t *testing.T) {
	base, ctx, _ := testRoot(t)
	a, err := Append(base, action.AddRole, action.AddRolePayload{RoleName: "MANAGERS"}, ctx)
	require.NoError(t, err)
	b, err := Append(base, action.AddRole, action.AddRolePayload{RoleName: "WRITERS"}, ctx)
	require.NoError(t, err)

	ab, err := Merge(a, b)
	require.NoError(t, err)
	ba, err := Merge(b, a)
	require.NoError(t, err)

	require.Equal(t, ab.Head, ba.Head, "merge heads must be identical regardless of call order")
	require.Len(t, ab.Links, len(a.Links)+2) // b's branch link plus the merge link
}

func TestMergeFastForwards(t *testing.T) {
	base, ctx, _ := testRoot(t)
	ahead, err := Append(base, action.AddRole, action.AddRolePayload{RoleName: "MANAGERS"}, ctx)
	require.NoError(t, err)

	// One side is a strict ancestor of the other: no merge link needed.
	merged, err := Merge(base, ahead)
	require.NoError(t, err)
	require.Equal(t, ahead.Head, merged.Head)
	require.Len(t, merged.Links, len(ahead.Links))

	merged2, err := Merge(ahead, base)
	require.NoError(t, err)
	require.Equal(t, ahead.Head, merged2.Head)
}

func TestMergeRejectsForeignRoot(t *testing.T) {
	a, _, _ := testRoot(t)
	b, _, _ := testRoot(t)
	_, err := Merge(a, b)
	require.ErrorIs(t, err, ErrRootMismatch)
}

func TestGetSequenceLinearizesMergeDeterministically(t *testing.T) {
	base, ctx, _ := testRoot(t)
	a, err := Append(base, action.AddRole, action.AddRolePayload{RoleName: "MANAGERS"}, ctx)
	require.NoError(t, err)
	b, err := Append(base, action.AddRole, action.AddRolePayload{RoleName: "WRITERS"}, ctx)
	require.NoError(t, err)

	ab, err := Merge(a, b)
	require.NoError(t, err)
	ba, err := Merge(b, a)
	require.NoError(t, err)

	seqAB, err := GetSequence(ab, nil)
	require.NoError(t, err)
	seqBA, err := GetSequence(ba, nil)
	require.NoError(t, err)

	require.Len(t, seqAB, 3) // root plus one link per branch; merge links carry no payload
	for i := range seqAB {
		require.Equal(t, seqAB[i].Hash, seqBA[i].Hash,
			"linearization must not depend on how the graph was assembled")
	}
}

func TestGetSequenceChain(t *testing.T) {
	g, ctx, _ := testRoot(t)
	g, err := Append(g, action.AddRole, action.AddRolePayload{RoleName: "A"}, ctx)
	require.NoError(t, err)
	g, err = Append(g, action.AddRole, action.AddRolePayload{RoleName: "B"}, ctx)
	require.NoError(t, err)

	seq, err := GetSequence(g, nil)
	require.NoError(t, err)
	require.Len(t, seq, 3)
	require.Equal(t, Root, seq[0].Type)
	require.Equal(t, g.Head, seq[2].Hash)
}
