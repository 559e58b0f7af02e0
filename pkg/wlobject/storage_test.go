package wlobject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageFromFieldsParsesKnownAndParamFields(t *testing.T) {
	fields := map[string]interface{}{
		"owner":      "0xabc",
		"type":       "local",
		"backend-id": "fixed-id",
		"read-only":  true,
		"path":       "/srv/data",
	}
	s, err := StorageFromFields(fields)
	require.NoError(t, err)
	assert.Equal(t, "local", s.Type)
	assert.Equal(t, "fixed-id", s.BackendID)
	assert.True(t, s.ReadOnly)
	assert.Equal(t, "/srv/data", s.Params["path"])
}

func TestStorageFromFieldsRequiresType(t *testing.T) {
	_, err := StorageFromFields(map[string]interface{}{"owner": "0xabc"})
	assert.Error(t, err)
}

func TestStorageFromFieldsGeneratesBackendIDWhenAbsent(t *testing.T) {
	s, err := StorageFromFields(map[string]interface{}{"type": "memory"})
	require.NoError(t, err)
	assert.NotEmpty(t, s.BackendID)
}

func TestValidateStoragePrimaryRejectsMultiplePrimaries(t *testing.T) {
	storages := []*Storage{
		{Type: "local", Primary: true},
		{Type: "memory", Primary: true},
	}
	assert.Error(t, ValidateStoragePrimary(storages))
}

func TestValidateStoragePrimaryAllowsZeroOrOne(t *testing.T) {
	assert.NoError(t, ValidateStoragePrimary(nil))
	assert.NoError(t, ValidateStoragePrimary([]*Storage{{Type: "local", Primary: true}, {Type: "memory"}}))
}
