package lockbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localfirst/teamgraph/keyset"
)

func mustKeyset(t *testing.T, scope keyset.Scope) *keyset.Keyset {
	t.Helper()
	ks, err := keyset.New(scope)
	require.NoError(t, err)
	return ks
}

func TestCreateOpenRoundTrip(t *testing.T) {
	teamKeys := mustKeyset(t, keyset.TeamScope())
	device := mustKeyset(t, keyset.DeviceScope("alice-laptop"))

	box, err := Create(teamKeys, device.PublicOnly())
	require.NoError(t, err)
	assert.Equal(t, keyset.TeamScope(), box.Contents)

	opened, err := Open(box, device)
	require.NoError(t, err)
	assert.Equal(t, teamKeys.Scope, opened.Scope)
	assert.Equal(t, teamKeys.Generation, opened.Generation)
	assert.True(t, opened.HasSecrets())
	assert.Equal(t, teamKeys.SigningPublic, opened.SigningPublic)
}

func TestOpenWrongRecipient(t *testing.T) {
	teamKeys := mustKeyset(t, keyset.TeamScope())
	device := mustKeyset(t, keyset.DeviceScope("alice-laptop"))
	other := mustKeyset(t, keyset.DeviceScope("bob-phone"))

	box, err := Create(teamKeys, device.PublicOnly())
	require.NoError(t, err)

	_, err = Open(box, other)
	assert.ErrorIs(t, err, ErrWrongRecipient)
}

func TestOpenTamperedCiphertext(t *testing.T) {
	teamKeys := mustKeyset(t, keyset.TeamScope())
	device := mustKeyset(t, keyset.DeviceScope("alice-laptop"))

	box, err := Create(teamKeys, device.PublicOnly())
	require.NoError(t, err)
	box.EncryptedPayload[len(box.EncryptedPayload)-1] ^= 0xff

	_, err = Open(box, device)
	assert.ErrorIs(t, err, ErrCiphertextInvalid)
}

func TestCreateRejectsSelfAddressed(t *testing.T) {
	teamKeys := mustKeyset(t, keyset.TeamScope())
	_, err := Create(teamKeys, teamKeys.PublicOnly())
	assert.ErrorIs(t, err, ErrRecipientEqualsContents)
}

func TestRotatePreservesScope(t *testing.T) {
	teamKeys := mustKeyset(t, keyset.TeamScope())
	device := mustKeyset(t, keyset.DeviceScope("alice-laptop"))
	box, err := Create(teamKeys, device.PublicOnly())
	require.NoError(t, err)

	next, err := teamKeys.NextGeneration()
	require.NoError(t, err)
	rotated, err := Rotate(box, next)
	require.NoError(t, err)
	assert.Equal(t, box.Contents, rotated.Contents)
	assert.Equal(t, uint32(1), rotated.ContentsGen)

	roleKeys := mustKeyset(t, keyset.RoleScope("MANAGERS"))
	_, err = Rotate(box, roleKeys)
	assert.ErrorIs(t, err, ErrRotationScopeMismatch)
}

func TestVisibleKeysTransitiveClosure(t *testing.T) {
	// device -> member -> {team, role}
	device := mustKeyset(t, keyset.DeviceScope("alice-laptop"))
	member := mustKeyset(t, keyset.MemberScope("alice"))
	teamKeys := mustKeyset(t, keyset.TeamScope())
	roleKeys := mustKeyset(t, keyset.RoleScope("MANAGERS"))

	memberBox, err := Create(member, device.PublicOnly())
	require.NoError(t, err)
	teamBox, err := Create(teamKeys, member.PublicOnly())
	require.NoError(t, err)
	roleBox, err := Create(roleKeys, member.PublicOnly())
	require.NoError(t, err)

	// An unrelated box the device must not reach.
	stranger := mustKeyset(t, keyset.MemberScope("bob"))
	strangerBox, err := Create(teamKeys, stranger.PublicOnly())
	require.NoError(t, err)

	set := Set{memberBox, teamBox, roleBox, strangerBox}
	keys, err := set.VisibleKeys(device)
	require.NoError(t, err)

	scopes := make(map[string]bool)
	for _, k := range keys {
		scopes[k.Scope.String()] = true
	}
	assert.True(t, scopes[keyset.MemberScope("alice").String()])
	assert.True(t, scopes[keyset.TeamScope().String()])
	assert.True(t, scopes[keyset.RoleScope("MANAGERS").String()])
	assert.Len(t, keys, 4, "device itself plus the three reachable keysets")

	visible, err := set.VisibleScopes(device)
	require.NoError(t, err)
	assert.Len(t, visible, 4)
}

func TestForRecipientAndLatest(t *testing.T) {
	device := mustKeyset(t, keyset.DeviceScope("alice-laptop"))
	teamKeys := mustKeyset(t, keyset.TeamScope())
	gen1, err := teamKeys.NextGeneration()
	require.NoError(t, err)

	box0, err := Create(teamKeys, device.PublicOnly())
	require.NoError(t, err)
	box1, err := Create(gen1, device.PublicOnly())
	require.NoError(t, err)

	set := Set{box0, box1}
	assert.Len(t, set.ForRecipient(device.PublicOnly()), 2)
	latest := set.Latest(keyset.TeamScope())
	require.NotNil(t, latest)
	assert.Equal(t, uint32(1), latest.ContentsGen)
}
