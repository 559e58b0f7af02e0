package wlobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccessListParsesUserAndUserPath(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"user": "0xabc"},
		map[string]interface{}{"user-path": "wildland:0xabc:/users/alice:"},
	}
	entries, err := ParseAccessList(raw)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "0xabc", entries[0].User)
	assert.Equal(t, "wildland:0xabc:/users/alice:", entries[1].UserPath)
}

func TestParseAccessListRejectsEmptyEntry(t *testing.T) {
	raw := []interface{}{map[string]interface{}{}}
	_, err := ParseAccessList(raw)
	assert.Error(t, err)
}

func TestValidateAccessListPublicMustBeSole(t *testing.T) {
	entries := []AccessEntry{{User: PublicAccessUser}, {User: "0xabc"}}
	err := ValidateAccessList(entries, false)
	assert.Error(t, err)
}

func TestValidateAccessListPublicForbidsEncryption(t *testing.T) {
	entries := []AccessEntry{{User: PublicAccessUser}}
	err := ValidateAccessList(entries, true)
	assert.Error(t, err)
}

func TestValidateAccessListPublicUnencryptedOK(t *testing.T) {
	entries := []AccessEntry{{User: PublicAccessUser}}
	assert.NoError(t, ValidateAccessList(entries, false))
}

func TestRecipientFingerprintsRejectsPublicList(t *testing.T) {
	entries := []AccessEntry{{User: PublicAccessUser}}
	_, err := RecipientFingerprints(entries)
	assert.Error(t, err)
}

func TestRecipientFingerprintsCollectsUsers(t *testing.T) {
	entries := []AccessEntry{{User: "0xabc"}, {User: "0xdef"}}
	fprs, err := RecipientFingerprints(entries)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0xabc", "0xdef"}, []string{string(fprs[0]), string(fprs[1])})
}
