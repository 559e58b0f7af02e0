package wlobject

import (
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerFromFieldsParsesInlineStorages(t *testing.T) {
	fields := map[string]interface{}{
		"owner": "0xabc",
		"paths": []interface{}{"/photos"},
		"storages": []interface{}{
			map[string]interface{}{"type": "local", "path": "/srv/photos", "primary": true},
		},
	}
	c, err := ContainerFromFields(fields)
	require.NoError(t, err)
	require.Len(t, c.Storages, 1)
	assert.Equal(t, "local", c.Storages[0].Type)
	assert.Same(t, c.Storages[0], c.PrimaryStorage())
}

func TestContainerFromFieldsRejectsMultiplePrimaryStorages(t *testing.T) {
	fields := map[string]interface{}{
		"owner": "0xabc",
		"storages": []interface{}{
			map[string]interface{}{"type": "local", "primary": true},
			map[string]interface{}{"type": "memory", "primary": true},
		},
	}
	_, err := ContainerFromFields(fields)
	assert.Error(t, err)
}

func TestEnsureUUIDCreatesPathWhenMissing(t *testing.T) {
	c := &Container{Paths: []string{"/photos"}}
	id := c.EnsureUUID()
	require.NotEmpty(t, id)
	assert.Equal(t, "/.uuid/"+id, c.Paths[0])
	assert.Equal(t, "/photos", c.Paths[1])
}

func TestEnsureUUIDReusesExistingUUIDPath(t *testing.T) {
	c := &Container{Paths: []string{"/.uuid/fixed-id", "/photos"}}
	assert.Equal(t, "fixed-id", c.EnsureUUID())
	assert.Len(t, c.Paths, 2)
}

func TestMountPathsExpandsCategoryPermutations(t *testing.T) {
	c := &Container{
		Paths:      []string{"/photos"},
		Title:      "vacation",
		Categories: []string{"/cat/a", "/cat/b"},
	}
	paths := c.MountPaths()
	assert.Contains(t, paths, "/photos")
	assert.Contains(t, paths, path.Join("/cat/a", "vacation"))
	assert.Contains(t, paths, path.Join("/cat/b", "vacation"))
	assert.Contains(t, paths, path.Join("/cat/a", "cat/b", "vacation"))
	assert.Contains(t, paths, path.Join("/cat/b", "cat/a", "vacation"))
}

func TestMountPathsWithoutTitleIsJustPaths(t *testing.T) {
	c := &Container{Paths: []string{"/photos", "/pics"}}
	assert.Equal(t, []string{"/photos", "/pics"}, c.MountPaths())
}

func TestAccessSubjectsReportsPublic(t *testing.T) {
	c := &Container{Access: []AccessEntry{{User: PublicAccessUser}}}
	fprs, public := c.AccessSubjects()
	assert.True(t, public)
	assert.Nil(t, fprs)
}

func TestAccessSubjectsCollectsFingerprints(t *testing.T) {
	c := &Container{Access: []AccessEntry{{User: "0xabc"}, {User: "0xdef"}}}
	fprs, public := c.AccessSubjects()
	assert.False(t, public)
	assert.Equal(t, []string{"0xabc", "0xdef"}, fprs)
}
