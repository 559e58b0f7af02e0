package storagebackend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildland-go/wildland/pkg/wlobject"
)

func TestDefaultRegistryBuildsLocalAndMemory(t *testing.T) {
	mem, err := DefaultRegistry.Build(&wlobject.Storage{Type: "memory"})
	require.NoError(t, err)
	assert.False(t, mem.Capabilities().ReadOnly)

	local, err := DefaultRegistry.Build(&wlobject.Storage{Type: "local", Params: map[string]interface{}{"path": t.TempDir()}})
	require.NoError(t, err)
	require.NotNil(t, local)
}

func TestRegistryBuildUnknownTypeErrors(t *testing.T) {
	_, err := DefaultRegistry.Build(&wlobject.Storage{Type: "does-not-exist"})
	assert.Error(t, err)
}

func TestFindManifestsUsesManifestPatternTemplate(t *testing.T) {
	ctx := context.Background()
	mem, err := NewMemoryBackend(&wlobject.Storage{Type: "memory"})
	require.NoError(t, err)
	memBackend := mem.(*MemoryBackend)
	require.NoError(t, memBackend.Create(ctx, "/manifests/forests_bob.yaml"))
	_, err = memBackend.Write(ctx, "/manifests/forests_bob.yaml", []byte("owner: 0xbob\n"), 0)
	require.NoError(t, err)

	reg := NewRegistry()
	reg.Register("test-memory", func(storage *wlobject.Storage) (Backend, error) { return mem, nil })

	storage := &wlobject.Storage{
		Type:            "test-memory",
		ManifestPattern: map[string]interface{}{"path": "/manifests/{path}.yaml"},
	}
	results, err := reg.FindManifests(ctx, storage, "forests_bob")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, string(results[0]), "owner: 0xbob")
}

func TestReadLinkReadsFromInlineStorage(t *testing.T) {
	ctx := context.Background()
	mem, err := NewMemoryBackend(&wlobject.Storage{Type: "memory"})
	require.NoError(t, err)
	memBackend := mem.(*MemoryBackend)
	require.NoError(t, memBackend.Create(ctx, "/.manifests/user.yaml"))
	_, err = memBackend.Write(ctx, "/.manifests/user.yaml", []byte("owner: 0xabc\n"), 0)
	require.NoError(t, err)

	reg := NewRegistry()
	reg.Register("test-memory", func(storage *wlobject.Storage) (Backend, error) { return mem, nil })

	link := &wlobject.Link{
		Storage: &wlobject.Storage{Type: "test-memory"},
		File:    "/.manifests/user.yaml",
	}
	data, err := reg.ReadLink(ctx, link)
	require.NoError(t, err)
	assert.Contains(t, string(data), "owner: 0xabc")
}
