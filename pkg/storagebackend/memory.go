package storagebackend

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wildland-go/wildland/pkg/wlerr"
	"github.com/wildland-go/wildland/pkg/wlobject"
)

// MemoryBackend is an in-memory Backend, used by tests and by
// anything that wants ephemeral, process-local storage without
// touching disk.
type MemoryBackend struct {
	mu       sync.Mutex
	files    map[string][]byte
	dirs     map[string]bool
	readOnly bool
}

// NewMemoryBackend builds an empty MemoryBackend.
func NewMemoryBackend(storage *wlobject.Storage) (Backend, error) {
	return &MemoryBackend{
		files:    map[string][]byte{},
		dirs:     map[string]bool{"/": true},
		readOnly: storage.ReadOnly,
	}, nil
}

func (b *MemoryBackend) Capabilities() Capabilities {
	return Capabilities{ReadOnly: b.readOnly}
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func (b *MemoryBackend) Stat(ctx context.Context, p string) (FileInfo, error) {
	p = normalizePath(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dirs[p] {
		return FileInfo{Name: path.Base(p), IsDir: true}, nil
	}
	data, ok := b.files[p]
	if !ok {
		return FileInfo{}, wlerr.Wrap(wlerr.ErrNotFound, "%s not found", p)
	}
	return FileInfo{Name: path.Base(p), Size: int64(len(data))}, nil
}

func (b *MemoryBackend) Readdir(ctx context.Context, p string) ([]FileInfo, error) {
	p = normalizePath(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirs[p] {
		return nil, wlerr.Wrap(wlerr.ErrNotFound, "%s not a directory", p)
	}
	seen := map[string]FileInfo{}
	for fp, data := range b.files {
		if path.Dir(fp) == p {
			seen[path.Base(fp)] = FileInfo{Name: path.Base(fp), Size: int64(len(data))}
		}
	}
	for dp := range b.dirs {
		if dp != "/" && path.Dir(dp) == p {
			seen[path.Base(dp)] = FileInfo{Name: path.Base(dp), IsDir: true}
		}
	}
	out := make([]FileInfo, 0, len(seen))
	for _, fi := range seen {
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (b *MemoryBackend) Read(ctx context.Context, p string, offset int64, length int) ([]byte, error) {
	p = normalizePath(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[p]
	if !ok {
		return nil, wlerr.Wrap(wlerr.ErrNotFound, "%s not found", p)
	}
	if offset >= int64(len(data)) {
		return nil, nil
	}
	data = data[offset:]
	if length < 0 || length > len(data) {
		length = len(data)
	}
	out := make([]byte, length)
	copy(out, data[:length])
	return out, nil
}

func (b *MemoryBackend) Write(ctx context.Context, p string, data []byte, offset int64) (int, error) {
	if b.readOnly {
		return 0, wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", p)
	}
	p = normalizePath(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	existing := b.files[p]
	end := int(offset) + len(data)
	if end > len(existing) {
		grown := make([]byte, end)
		copy(grown, existing)
		existing = grown
	}
	copy(existing[offset:], data)
	b.files[p] = existing
	return len(data), nil
}

func (b *MemoryBackend) Create(ctx context.Context, p string) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", p)
	}
	p = normalizePath(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[p]; ok {
		return wlerr.Wrap(wlerr.ErrConflict, "%s already exists", p)
	}
	b.files[p] = []byte{}
	return nil
}

func (b *MemoryBackend) Truncate(ctx context.Context, p string, size int64) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", p)
	}
	p = normalizePath(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[p]
	if !ok {
		return wlerr.Wrap(wlerr.ErrNotFound, "%s not found", p)
	}
	if int64(len(data)) == size {
		return nil
	}
	grown := make([]byte, size)
	copy(grown, data)
	b.files[p] = grown
	return nil
}

func (b *MemoryBackend) Unlink(ctx context.Context, p string) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", p)
	}
	p = normalizePath(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[p]; !ok {
		return wlerr.Wrap(wlerr.ErrNotFound, "%s not found", p)
	}
	delete(b.files, p)
	return nil
}

func (b *MemoryBackend) Mkdir(ctx context.Context, p string) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", p)
	}
	p = normalizePath(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dirs[p] = true
	return nil
}

func (b *MemoryBackend) Rmdir(ctx context.Context, p string) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", p)
	}
	p = normalizePath(p)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.dirs[p] {
		return wlerr.Wrap(wlerr.ErrNotFound, "%s not a directory", p)
	}
	delete(b.dirs, p)
	return nil
}

func (b *MemoryBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage rename on %s is read-only", oldPath)
	}
	oldPath, newPath = normalizePath(oldPath), normalizePath(newPath)
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.files[oldPath]
	if !ok {
		return wlerr.Wrap(wlerr.ErrNotFound, "%s not found", oldPath)
	}
	delete(b.files, oldPath)
	b.files[newPath] = data
	return nil
}

// Watch is a no-op for MemoryBackend: nothing outside this process can
// mutate it, so there is nothing to poll for.
func (b *MemoryBackend) Watch(ctx context.Context, interval time.Duration, handler func([]string)) (func(), error) {
	return func() {}, nil
}

func (b *MemoryBackend) ListSubcontainers(ctx context.Context) ([]string, error) {
	return nil, nil
}
