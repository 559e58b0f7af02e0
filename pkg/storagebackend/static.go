package storagebackend

import (
	"context"
	"time"

	"github.com/wildland-go/wildland/pkg/wlerr"
	"github.com/wildland-go/wildland/pkg/wlobject"
)

// StaticBackend serves a fixed, read-only set of files declared
// inline in a storage manifest's "content" param, grounded on
// Bridge.to_placeholder_container's {'type': 'static', 'content': {...}}
// shape: the synthetic "you're about to mount a forest" directory a
// bridge target gets before its real containers are known.
type StaticBackend struct {
	content map[string]string
}

// NewStaticBackend builds a StaticBackend from a storage manifest's
// "content" param, a flat map of file name to file contents.
func NewStaticBackend(storage *wlobject.Storage) (Backend, error) {
	raw, _ := storage.Params["content"].(map[string]interface{})
	content := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			content[k] = s
		}
	}
	return &StaticBackend{content: content}, nil
}

func (b *StaticBackend) Capabilities() Capabilities {
	return Capabilities{ReadOnly: true}
}

func (b *StaticBackend) Stat(ctx context.Context, path string) (FileInfo, error) {
	if path == "/" {
		return FileInfo{Name: "/", IsDir: true}, nil
	}
	name := trimLeadingSlash(path)
	data, ok := b.content[name]
	if !ok {
		return FileInfo{}, wlerr.Wrap(wlerr.ErrNotFound, "%s not found", path)
	}
	return FileInfo{Name: name, Size: int64(len(data))}, nil
}

func (b *StaticBackend) Readdir(ctx context.Context, path string) ([]FileInfo, error) {
	if path != "/" {
		return nil, wlerr.Wrap(wlerr.ErrNotFound, "%s not a directory", path)
	}
	out := make([]FileInfo, 0, len(b.content))
	for name, data := range b.content {
		out = append(out, FileInfo{Name: name, Size: int64(len(data))})
	}
	return out, nil
}

func (b *StaticBackend) Read(ctx context.Context, path string, offset int64, length int) ([]byte, error) {
	name := trimLeadingSlash(path)
	data, ok := b.content[name]
	if !ok {
		return nil, wlerr.Wrap(wlerr.ErrNotFound, "%s not found", path)
	}
	bytes := []byte(data)
	if offset >= int64(len(bytes)) {
		return nil, nil
	}
	bytes = bytes[offset:]
	if length < 0 || length > len(bytes) {
		length = len(bytes)
	}
	return bytes[:length], nil
}

func (b *StaticBackend) Write(ctx context.Context, path string, data []byte, offset int64) (int, error) {
	return 0, wlerr.Wrap(wlerr.ErrReadOnly, "static storage is read-only")
}

func (b *StaticBackend) Create(ctx context.Context, path string) error {
	return wlerr.Wrap(wlerr.ErrReadOnly, "static storage is read-only")
}

func (b *StaticBackend) Truncate(ctx context.Context, path string, size int64) error {
	return wlerr.Wrap(wlerr.ErrReadOnly, "static storage is read-only")
}

func (b *StaticBackend) Unlink(ctx context.Context, path string) error {
	return wlerr.Wrap(wlerr.ErrReadOnly, "static storage is read-only")
}

func (b *StaticBackend) Mkdir(ctx context.Context, path string) error {
	return wlerr.Wrap(wlerr.ErrReadOnly, "static storage is read-only")
}

func (b *StaticBackend) Rmdir(ctx context.Context, path string) error {
	return wlerr.Wrap(wlerr.ErrReadOnly, "static storage is read-only")
}

func (b *StaticBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	return wlerr.Wrap(wlerr.ErrReadOnly, "static storage is read-only")
}

func (b *StaticBackend) Watch(ctx context.Context, interval time.Duration, handler func([]string)) (func(), error) {
	return func() {}, nil
}

func (b *StaticBackend) ListSubcontainers(ctx context.Context) ([]string, error) {
	return nil, nil
}

func trimLeadingSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}
