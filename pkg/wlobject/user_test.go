package wlobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildland-go/wildland/pkg/sigcontext"
)

type fakeUserLoader struct {
	users map[sigcontext.Fingerprint]*User
}

func (f *fakeUserLoader) LoadUser(fpr sigcontext.Fingerprint) (*User, error) {
	u, ok := f.users[fpr]
	if !ok {
		return nil, assert.AnError
	}
	return u, nil
}

func TestUserFromFieldsParsesCatalogAndMembers(t *testing.T) {
	fields := map[string]interface{}{
		"paths":   []interface{}{"/users/alice"},
		"pubkeys": []interface{}{"pub-a"},
		"manifests-catalog": []interface{}{
			"wildland:0xabc:/.manifests:",
		},
		"members": []interface{}{
			map[string]interface{}{"user": "0xbob"},
		},
	}
	u, err := UserFromFields("0xabc", fields)
	require.NoError(t, err)
	assert.Equal(t, []string{"/users/alice"}, u.Paths)
	require.Len(t, u.ManifestsCatalog, 1)
	assert.Equal(t, "wildland:0xabc:/.manifests:", u.ManifestsCatalog[0].URL)
	require.Len(t, u.Members, 1)
	assert.Equal(t, "0xbob", u.Members[0].User)
}

func TestEffectivePubkeysWalksMembersTransitively(t *testing.T) {
	alice := &User{Owner: "0xalice", Pubkeys: [][]byte{[]byte("pub-alice")},
		Members: []AccessEntry{{User: "0xbob"}}}
	bob := &User{Owner: "0xbob", Pubkeys: [][]byte{[]byte("pub-bob")},
		Members: []AccessEntry{{User: "0xcarol"}}}
	carol := &User{Owner: "0xcarol", Pubkeys: [][]byte{[]byte("pub-carol")}}

	loader := &fakeUserLoader{users: map[sigcontext.Fingerprint]*User{
		"0xbob":   bob,
		"0xcarol": carol,
	}}

	keys := alice.EffectivePubkeys(loader)
	assert.Len(t, keys, 3)
	assert.Contains(t, keys, []byte("pub-alice"))
	assert.Contains(t, keys, []byte("pub-bob"))
	assert.Contains(t, keys, []byte("pub-carol"))
}

func TestEffectivePubkeysTerminatesOnMemberCycle(t *testing.T) {
	alice := &User{Owner: "0xalice", Pubkeys: [][]byte{[]byte("pub-alice")},
		Members: []AccessEntry{{User: "0xbob"}}}
	bob := &User{Owner: "0xbob", Pubkeys: [][]byte{[]byte("pub-bob")},
		Members: []AccessEntry{{User: "0xalice"}}}

	loader := &fakeUserLoader{users: map[sigcontext.Fingerprint]*User{
		"0xalice": alice,
		"0xbob":   bob,
	}}

	keys := alice.EffectivePubkeys(loader)
	assert.Len(t, keys, 2)
}

func TestEffectivePubkeysIgnoresPublicMemberEntry(t *testing.T) {
	alice := &User{Owner: "0xalice", Pubkeys: [][]byte{[]byte("pub-alice")},
		Members: []AccessEntry{{User: PublicAccessUser}}}
	keys := alice.EffectivePubkeys(&fakeUserLoader{users: map[sigcontext.Fingerprint]*User{}})
	assert.Len(t, keys, 1)
}
