package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildland-go/wildland/pkg/wlerr"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Defaults(dir, dir)
	cfg.Aliases["@work"] = "0xdeadbeef"
	cfg.LocalOwners = []string{"0xabc"}

	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.UserDir, loaded.UserDir)
	assert.Equal(t, cfg.Aliases, loaded.Aliases)
	assert.Equal(t, cfg.LocalOwners, loaded.LocalOwners)
	assert.Equal(t, ":", loaded.AltBridgeSeparator)
}

func TestLoadRejectsInvalidAlias(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Defaults(dir, dir)
	cfg.Aliases["not-an-alias"] = "0xabc"
	require.NoError(t, Save(cfg, path))

	_, err := Load(path)
	assert.ErrorIs(t, err, wlerr.ErrSchema)
}

func TestValidateAcceptsWellFormedAliases(t *testing.T) {
	cfg := Defaults(t.TempDir(), t.TempDir())
	cfg.Aliases["@default"] = "0xabc"
	cfg.Aliases["@work-laptop"] = "0xdef"
	assert.NoError(t, cfg.Validate())
}

func TestDefaultsSizesWorkerPoolsAtEight(t *testing.T) {
	cfg := Defaults(t.TempDir(), t.TempDir())
	assert.Equal(t, 8, cfg.SyncWorkers)
	assert.Equal(t, 8, cfg.MountWorkers)
}

func TestDefaultPathUsesConfigHomeConvention(t *testing.T) {
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Contains(t, path, filepath.Join(".config", "wildland", "config.yaml"))
}

func TestCatalogWriteReadListDelete(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults(dir, dir)
	cat := NewCatalog(cfg)

	require.NoError(t, cat.Write(ObjectTypeContainer, "mycontainer", []byte("object: container\n")))

	data, err := cat.Read(ObjectTypeContainer, "mycontainer")
	require.NoError(t, err)
	assert.Equal(t, "object: container\n", string(data))

	p, err := cat.Path(ObjectTypeContainer, "mycontainer")
	require.NoError(t, err)
	assert.Equal(t, "mycontainer.container.yaml", filepath.Base(p))

	names, err := cat.List(ObjectTypeContainer)
	require.NoError(t, err)
	assert.Equal(t, []string{"mycontainer"}, names)

	require.NoError(t, cat.Delete(ObjectTypeContainer, "mycontainer"))

	_, err = cat.Read(ObjectTypeContainer, "mycontainer")
	assert.Error(t, err)
}

func TestCatalogListOnMissingDirReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults(dir, dir)
	cat := NewCatalog(cfg)

	names, err := cat.List(ObjectTypeBridge)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCatalogDirUnconfiguredReturnsSchemaError(t *testing.T) {
	cat := &Catalog{dirs: map[ObjectType]string{}}
	_, err := cat.Dir(ObjectTypeUser)
	assert.ErrorIs(t, err, wlerr.ErrSchema)
}
