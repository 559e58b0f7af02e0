package mountcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wildland-go/wildland/pkg/storagebackend"
	"github.com/wildland-go/wildland/pkg/wlerr"
	"github.com/wildland-go/wildland/pkg/wlobject"
)

func newTestRegistry() *storagebackend.Registry {
	reg := storagebackend.NewRegistry()
	reg.Register("memory", storagebackend.NewMemoryBackend)
	return reg
}

func TestMountAndReadWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	core := NewCore(newTestRegistry(), zap.NewNop())

	ids, err := core.Mount(MountRequest{Items: []MountItem{{
		Paths:   []string{"/photos"},
		Storage: &wlobject.Storage{Type: "memory"},
	}}})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	require.NoError(t, core.Create(ctx, "/photos/a.txt"))
	n, err := core.Write(ctx, "/photos/a.txt", []byte("hello"), 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	data, err := core.Read(ctx, "/photos/a.txt", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestReaddirIncludesIntermediateSyntheticDirectories(t *testing.T) {
	ctx := context.Background()
	core := NewCore(newTestRegistry(), zap.NewNop())

	_, err := core.Mount(MountRequest{Items: []MountItem{
		{Paths: []string{"/photos/2020"}, Storage: &wlobject.Storage{Type: "memory"}},
		{Paths: []string{"/videos"}, Storage: &wlobject.Storage{Type: "memory"}},
	}})
	require.NoError(t, err)

	entries, err := core.Readdir(ctx, "/")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "photos")
	assert.Contains(t, names, "videos")

	entries, err = core.Readdir(ctx, "/photos")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2020", entries[0].Name)
	assert.True(t, entries[0].IsDir)
}

func TestPseudoManifestFileServesManifestBytes(t *testing.T) {
	ctx := context.Background()
	core := NewCore(newTestRegistry(), zap.NewNop())

	_, err := core.Mount(MountRequest{Items: []MountItem{{
		Paths:         []string{"/photos"},
		Storage:       &wlobject.Storage{Type: "memory"},
		ManifestBytes: []byte("owner: 0xabc\n"),
	}}})
	require.NoError(t, err)

	entries, err := core.Readdir(ctx, "/photos")
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Name == manifestFileName {
			found = true
		}
	}
	assert.True(t, found)

	data, err := core.Read(ctx, "/photos/"+manifestFileName, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "owner: 0xabc\n", string(data))

	_, err = core.Write(ctx, "/photos/"+manifestFileName, []byte("x"), 0)
	assert.ErrorIs(t, err, wlerr.ErrReadOnly)
}

func TestLazyMountDefersBackendOpen(t *testing.T) {
	ctx := context.Background()
	core := NewCore(newTestRegistry(), zap.NewNop())

	_, err := core.Mount(MountRequest{
		Lazy: true,
		Items: []MountItem{{
			Paths:   []string{"/photos"},
			Storage: &wlobject.Storage{Type: "memory"},
		}},
	})
	require.NoError(t, err)

	entries := core.table.list()
	require.Len(t, entries, 1)
	entries[0].mu.Lock()
	opened := entries[0].opened
	entries[0].mu.Unlock()
	assert.False(t, opened)

	_, err = core.Stat(ctx, "/photos")
	require.NoError(t, err)

	entries[0].mu.Lock()
	opened = entries[0].opened
	entries[0].mu.Unlock()
	assert.True(t, opened)
}

type failingBackend struct{ storagebackend.Backend }

func (f failingBackend) Read(ctx context.Context, path string, offset int64, length int) ([]byte, error) {
	return nil, wlerr.Wrap(wlerr.ErrBackendIO, "simulated failure")
}

func TestReadFallsBackToSecondaryStorageOnError(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry()
	reg.Register("failing", func(storage *wlobject.Storage) (storagebackend.Backend, error) {
		mem, err := storagebackend.NewMemoryBackend(storage)
		if err != nil {
			return nil, err
		}
		return failingBackend{mem}, nil
	})
	core := NewCore(reg, zap.NewNop())

	container := &wlobject.Container{Owner: "0xowner", Paths: []string{"/shared"}}

	secondaryStorage := &wlobject.Storage{Type: "memory", BackendID: "secondary"}
	_, err := core.Mount(MountRequest{Items: []MountItem{{
		Paths: []string{"/shared"}, Storage: secondaryStorage, Container: container,
	}}})
	require.NoError(t, err)

	entries := core.table.list()
	require.Len(t, entries, 1)
	backend, err := entries[0].ensureBackend(ctx, reg)
	require.NoError(t, err)
	require.NoError(t, backend.(*storagebackend.MemoryBackend).Create(ctx, "/f.txt"))
	_, err = backend.(*storagebackend.MemoryBackend).Write(ctx, "/f.txt", []byte("ok"), 0)
	require.NoError(t, err)

	primaryStorage := &wlobject.Storage{Type: "failing", BackendID: "primary", Primary: true}
	_, err = core.Mount(MountRequest{Items: []MountItem{{
		Paths: []string{"/shared"}, Storage: primaryStorage, Container: container,
	}}})
	require.NoError(t, err)

	data, err := core.Read(ctx, "/shared/f.txt", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(data))
}

func TestUnmountRemovesPath(t *testing.T) {
	ctx := context.Background()
	core := NewCore(newTestRegistry(), zap.NewNop())

	ids, err := core.Mount(MountRequest{Items: []MountItem{{
		Paths: []string{"/photos"}, Storage: &wlobject.Storage{Type: "memory"},
	}}})
	require.NoError(t, err)

	require.NoError(t, core.Unmount(ids[0]))
	_, err = core.Stat(ctx, "/photos")
	assert.Error(t, err)
}

func TestRemountReusesStorageIDWhenBackendIDMatches(t *testing.T) {
	core := NewCore(newTestRegistry(), zap.NewNop())

	ids, err := core.Mount(MountRequest{Items: []MountItem{{
		Paths:   []string{"/photos"},
		Storage: &wlobject.Storage{Type: "memory", BackendID: "same-id"},
	}}})
	require.NoError(t, err)

	ids2, err := core.Mount(MountRequest{Items: []MountItem{{
		Paths:   []string{"/photos"},
		Storage: &wlobject.Storage{Type: "memory", BackendID: "same-id"},
		Remount: true,
	}}})
	require.NoError(t, err)
	assert.Equal(t, ids[0], ids2[0])

	status := core.Status()
	require.Len(t, status, 1)
}

func TestClearCacheResetsLazyEntry(t *testing.T) {
	ctx := context.Background()
	core := NewCore(newTestRegistry(), zap.NewNop())

	_, err := core.Mount(MountRequest{
		Lazy:  true,
		Items: []MountItem{{Paths: []string{"/photos"}, Storage: &wlobject.Storage{Type: "memory"}}},
	})
	require.NoError(t, err)

	_, err = core.Stat(ctx, "/photos")
	require.NoError(t, err)

	require.NoError(t, core.ClearCache(nil))
	entries := core.table.list()
	entries[0].mu.Lock()
	opened := entries[0].opened
	entries[0].mu.Unlock()
	assert.False(t, opened)
}

func TestAddWatchDeliversMatchingPaths(t *testing.T) {
	core := NewCore(newTestRegistry(), zap.NewNop())
	ids, err := core.Mount(MountRequest{Items: []MountItem{{
		Paths:   []string{"/photos"},
		Storage: &wlobject.Storage{Type: "memory", WatcherInterval: 1},
	}}})
	require.NoError(t, err)

	require.NoError(t, core.AddWatch(ids[0], "", false))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, core.Unmount(ids[0]))
}
