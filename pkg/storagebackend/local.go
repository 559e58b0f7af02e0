package storagebackend

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/wildland-go/wildland/pkg/wlerr"
	"github.com/wildland-go/wildland/pkg/wlobject"
)

// LocalBackend serves a container's data straight out of a local
// POSIX directory, grounded on storage_backends/base.py's contract
// with plain os.* calls standing in for the original's FUSE-level
// open/read/write primitives.
type LocalBackend struct {
	root     string
	readOnly bool
}

// NewLocalBackend builds a LocalBackend from a storage manifest's
// "path" param.
func NewLocalBackend(storage *wlobject.Storage) (Backend, error) {
	root, _ := storage.Params["path"].(string)
	if root == "" {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "local storage missing 'path'")
	}
	return &LocalBackend{root: root, readOnly: storage.ReadOnly}, nil
}

func (b *LocalBackend) Capabilities() Capabilities {
	return Capabilities{ReadOnly: b.readOnly}
}

func (b *LocalBackend) resolve(path string) string {
	return filepath.Join(b.root, filepath.Clean("/"+path))
}

func (b *LocalBackend) Stat(ctx context.Context, path string) (FileInfo, error) {
	fi, err := os.Stat(b.resolve(path))
	if err != nil {
		return FileInfo{}, translateOSErr(err)
	}
	return toFileInfo(fi), nil
}

func (b *LocalBackend) Readdir(ctx context.Context, path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(b.resolve(path))
	if err != nil {
		return nil, translateOSErr(err)
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, toFileInfo(info))
	}
	return out, nil
}

func (b *LocalBackend) Read(ctx context.Context, path string, offset int64, length int) ([]byte, error) {
	f, err := os.Open(b.resolve(path))
	if err != nil {
		return nil, translateOSErr(err)
	}
	defer f.Close()
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, wlerr.Wrap(wlerr.ErrBackendIO, "seeking %s: %v", path, err)
		}
	}
	if length < 0 {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, wlerr.Wrap(wlerr.ErrBackendIO, "reading %s: %v", path, err)
		}
		return data, nil
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, wlerr.Wrap(wlerr.ErrBackendIO, "reading %s: %v", path, err)
	}
	return buf[:n], nil
}

func (b *LocalBackend) Write(ctx context.Context, path string, data []byte, offset int64) (int, error) {
	if b.readOnly {
		return 0, wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", path)
	}
	f, err := os.OpenFile(b.resolve(path), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, translateOSErr(err)
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, wlerr.Wrap(wlerr.ErrBackendIO, "seeking %s: %v", path, err)
	}
	n, err := f.Write(data)
	if err != nil {
		return n, wlerr.Wrap(wlerr.ErrBackendIO, "writing %s: %v", path, err)
	}
	return n, nil
}

func (b *LocalBackend) Create(ctx context.Context, path string) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", path)
	}
	f, err := os.OpenFile(b.resolve(path), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return translateOSErr(err)
	}
	return f.Close()
}

func (b *LocalBackend) Truncate(ctx context.Context, path string, size int64) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", path)
	}
	return translateOSErr(os.Truncate(b.resolve(path), size))
}

func (b *LocalBackend) Unlink(ctx context.Context, path string) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", path)
	}
	return translateOSErr(os.Remove(b.resolve(path)))
}

func (b *LocalBackend) Mkdir(ctx context.Context, path string) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", path)
	}
	return translateOSErr(os.Mkdir(b.resolve(path), 0755))
}

func (b *LocalBackend) Rmdir(ctx context.Context, path string) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage for %s is read-only", path)
	}
	return translateOSErr(os.Remove(b.resolve(path)))
}

func (b *LocalBackend) Rename(ctx context.Context, oldPath, newPath string) error {
	if b.readOnly {
		return wlerr.Wrap(wlerr.ErrReadOnly, "storage rename on %s is read-only", oldPath)
	}
	return translateOSErr(os.Rename(b.resolve(oldPath), b.resolve(newPath)))
}

// Watch polls the directory tree on interval, matching
// SimpleStorageWatcher's strategy for backends with no native
// notification mechanism (spec.md §4.5's documented fallback).
func (b *LocalBackend) Watch(ctx context.Context, interval time.Duration, handler func([]string)) (func(), error) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	stopCh := make(chan struct{})
	go func() {
		prev := b.snapshot()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				cur := b.snapshot()
				changed := diffSnapshots(prev, cur)
				prev = cur
				if len(changed) > 0 {
					handler(changed)
				}
			}
		}
	}()
	return func() { close(stopCh) }, nil
}

func (b *LocalBackend) snapshot() map[string]time.Time {
	out := map[string]time.Time{}
	_ = filepath.Walk(b.root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(b.root, path)
		if relErr != nil {
			return nil
		}
		out["/"+rel] = info.ModTime()
		return nil
	})
	return out
}

func diffSnapshots(prev, cur map[string]time.Time) []string {
	var changed []string
	for p, mt := range cur {
		if prevMt, ok := prev[p]; !ok || !prevMt.Equal(mt) {
			changed = append(changed, p)
		}
	}
	for p := range prev {
		if _, ok := cur[p]; !ok {
			changed = append(changed, p)
		}
	}
	return changed
}

// ListSubcontainers is a no-op for the plain local driver: it has no
// way to distinguish a regular subdirectory from one holding a
// mountable sub-container without a manifest-pattern hint, which
// spec.md §4.5 leaves to the (unimplemented) categorization_proxy-style
// backends instead.
func (b *LocalBackend) ListSubcontainers(ctx context.Context) ([]string, error) {
	return nil, nil
}

func toFileInfo(fi os.FileInfo) FileInfo {
	return FileInfo{Name: fi.Name(), Size: fi.Size(), IsDir: fi.IsDir(), Mode: fi.Mode(), ModTime: fi.ModTime()}
}

func translateOSErr(err error) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return wlerr.Wrap(wlerr.ErrNotFound, "%v", err)
	}
	if os.IsExist(err) {
		return wlerr.Wrap(wlerr.ErrConflict, "%v", err)
	}
	return wlerr.Wrap(wlerr.ErrBackendIO, "%v", err)
}
