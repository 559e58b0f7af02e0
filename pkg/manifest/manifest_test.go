package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildland-go/wildland/pkg/sigcontext"
	"github.com/wildland-go/wildland/pkg/wlerr"
)

func testFields(owner sigcontext.Fingerprint) *OrderedMap {
	return NewOrderedMap(
		Field{"version", CurrentVersion},
		Field{"object", "user"},
		Field{"owner", string(owner)},
		Field{"paths", []string{"/users/alice"}},
	)
}

func TestManifestRoundTrip(t *testing.T) {
	sc := sigcontext.New(t.TempDir(), false)
	kp, err := sc.Generate()
	require.NoError(t, err)

	m, err := FromFields(kp.Fingerprint, testFields(kp.Fingerprint), sc)
	require.NoError(t, err)

	data := m.ToBytes()
	loaded, err := FromBytes(data, sc, LoadOptions{})
	require.NoError(t, err)

	assert.Equal(t, kp.Fingerprint, loaded.Header.Fingerprint)
	assert.Equal(t, "user", loaded.Fields["object"])
	assert.Equal(t, string(kp.Fingerprint), loaded.Fields["owner"])
}

func TestManifestRejectsTamperedBody(t *testing.T) {
	sc := sigcontext.New(t.TempDir(), false)
	kp, err := sc.Generate()
	require.NoError(t, err)

	m, err := FromFields(kp.Fingerprint, testFields(kp.Fingerprint), sc)
	require.NoError(t, err)

	data := m.ToBytes()
	data = append(data, []byte("\nextra: injected\n")...)

	_, err = FromBytes(data, sc, LoadOptions{})
	assert.ErrorIs(t, err, wlerr.ErrSignature)
}

func TestManifestRejectsUnknownVersion(t *testing.T) {
	sc := sigcontext.New(t.TempDir(), false)
	kp, err := sc.Generate()
	require.NoError(t, err)

	fields := NewOrderedMap(
		Field{"version", "99"},
		Field{"object", "user"},
		Field{"owner", string(kp.Fingerprint)},
	)
	m, err := FromFields(kp.Fingerprint, fields, sc)
	require.NoError(t, err)

	_, err = FromBytes(m.ToBytes(), sc, LoadOptions{})
	assert.ErrorIs(t, err, wlerr.ErrSchema)
}

func TestManifestEncryptedRoundTripForRecipient(t *testing.T) {
	sc := sigcontext.New(t.TempDir(), false)
	alice, err := sc.Generate()
	require.NoError(t, err)
	bobSC := sigcontext.New(t.TempDir(), false)
	bob, err := bobSC.Generate()
	require.NoError(t, err)

	fields := NewOrderedMap(
		Field{"version", CurrentVersion},
		Field{"object", "container"},
		Field{"owner", string(alice.Fingerprint)},
		Field{"secret-title", "my private files"},
	)
	m, err := FromFieldsEncrypted(alice.Fingerprint, fields, [][]byte{alice.PublicKey, bob.PublicKey}, sc)
	require.NoError(t, err)

	data := m.ToBytes()

	loadedByAlice, err := FromBytes(data, sc, LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "my private files", loadedByAlice.Fields["secret-title"])

	loadedByBob, err := FromBytes(data, bobSC, LoadOptions{TrustedPubkey: alice.PublicKey})
	require.NoError(t, err)
	assert.Equal(t, "my private files", loadedByBob.Fields["secret-title"])
}

func TestManifestEncryptedFailsForOutsider(t *testing.T) {
	sc := sigcontext.New(t.TempDir(), false)
	alice, err := sc.Generate()
	require.NoError(t, err)

	fields := NewOrderedMap(
		Field{"version", CurrentVersion},
		Field{"object", "container"},
		Field{"owner", string(alice.Fingerprint)},
	)
	m, err := FromFieldsEncrypted(alice.Fingerprint, fields, [][]byte{alice.PublicKey}, sc)
	require.NoError(t, err)
	data := m.ToBytes()

	outsiderSC := sigcontext.New(t.TempDir(), false)
	_, err = outsiderSC.LoadSecretKey(alice.Fingerprint)
	require.Error(t, err)

	_, err = FromBytes(data, outsiderSC, LoadOptions{SelfSigned: true, TrustedPubkey: alice.PublicKey})
	assert.ErrorIs(t, err, wlerr.ErrDecrypt)
}

func TestManifestForbidsEncryptionWithNoRecipients(t *testing.T) {
	sc := sigcontext.New(t.TempDir(), false)
	kp, err := sc.Generate()
	require.NoError(t, err)

	_, err = FromFieldsEncrypted(kp.Fingerprint, testFields(kp.Fingerprint), nil, sc)
	assert.Error(t, err)
}

func TestSelfSignedSkipsUnknownKeyVerification(t *testing.T) {
	issuer := sigcontext.New(t.TempDir(), false)
	kp, err := issuer.Generate()
	require.NoError(t, err)
	m, err := FromFields(kp.Fingerprint, testFields(kp.Fingerprint), issuer)
	require.NoError(t, err)

	fresh := sigcontext.New(t.TempDir(), false)
	loaded, err := FromBytes(m.ToBytes(), fresh, LoadOptions{SelfSigned: true})
	require.NoError(t, err)
	assert.Equal(t, kp.Fingerprint, loaded.Header.Fingerprint)
}
