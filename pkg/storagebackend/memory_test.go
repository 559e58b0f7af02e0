package storagebackend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildland-go/wildland/pkg/wlerr"
	"github.com/wildland-go/wildland/pkg/wlobject"
)

func TestMemoryBackendCreateWriteReadTruncate(t *testing.T) {
	b, err := NewMemoryBackend(&wlobject.Storage{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Create(ctx, "/a.txt"))
	_, err = b.Write(ctx, "/a.txt", []byte("0123456789"), 0)
	require.NoError(t, err)

	data, err := b.Read(ctx, "/a.txt", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(data))

	require.NoError(t, b.Truncate(ctx, "/a.txt", 3))
	data, err = b.Read(ctx, "/a.txt", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "012", string(data))
}

func TestMemoryBackendRename(t *testing.T) {
	b, err := NewMemoryBackend(&wlobject.Storage{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, b.Create(ctx, "/a.txt"))
	require.NoError(t, b.Rename(ctx, "/a.txt", "/b.txt"))
	_, err = b.Read(ctx, "/a.txt", 0, -1)
	assert.ErrorIs(t, err, wlerr.ErrNotFound)
	_, err = b.Read(ctx, "/b.txt", 0, -1)
	assert.NoError(t, err)
}

func TestMemoryBackendUnlink(t *testing.T) {
	b, err := NewMemoryBackend(&wlobject.Storage{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, b.Create(ctx, "/a.txt"))
	require.NoError(t, b.Unlink(ctx, "/a.txt"))
	_, err = b.Stat(ctx, "/a.txt")
	assert.ErrorIs(t, err, wlerr.ErrNotFound)
}

func TestMemoryBackendReadOnlyRejectsMutation(t *testing.T) {
	b, err := NewMemoryBackend(&wlobject.Storage{ReadOnly: true})
	require.NoError(t, err)
	err = b.Create(context.Background(), "/a.txt")
	assert.ErrorIs(t, err, wlerr.ErrReadOnly)
}

func TestMemoryBackendMkdirAndReaddir(t *testing.T) {
	b, err := NewMemoryBackend(&wlobject.Storage{})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, b.Mkdir(ctx, "/sub"))
	require.NoError(t, b.Create(ctx, "/sub/file.txt"))

	entries, err := b.Readdir(ctx, "/sub")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.txt", entries[0].Name)
}
