// Package storagebackend implements spec.md §4.5's StorageBackend
// contract: the pluggable driver interface MountCore and the Resolver
// use to read, write, and enumerate a container's actual data, plus
// the reference "local", "memory", and "static" drivers.
package storagebackend

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/wildland-go/wildland/pkg/wlerr"
	"github.com/wildland-go/wildland/pkg/wlobject"
)

// FileInfo is a minimal POSIX-ish stat result, independent of any
// particular driver's native representation.
type FileInfo struct {
	Name    string
	Size    int64
	IsDir   bool
	Mode    os.FileMode
	ModTime time.Time
}

// Capabilities declares which optional contract methods a driver
// actually implements, mirroring the original implementation's
// OptionalError escape hatch: MountCore checks these instead of
// calling a method and catching "not implemented".
type Capabilities struct {
	ReadOnly              bool
	SupportsWatcherNative bool
	SupportsSubcontainers bool
}

// Backend is the contract every storage driver implements, grounded
// on storage_backends/base.py's StorageBackend: open/read/write/
// truncate/create/unlink/readdir/mkdir/rmdir/rename/stat, plus the
// watcher and subcontainer-listing extensions.
type Backend interface {
	Capabilities() Capabilities

	Stat(ctx context.Context, path string) (FileInfo, error)
	Readdir(ctx context.Context, path string) ([]FileInfo, error)
	Read(ctx context.Context, path string, offset int64, length int) ([]byte, error)
	Write(ctx context.Context, path string, data []byte, offset int64) (int, error)
	Create(ctx context.Context, path string) error
	Truncate(ctx context.Context, path string, size int64) error
	Unlink(ctx context.Context, path string) error
	Mkdir(ctx context.Context, path string) error
	Rmdir(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error

	// Watch starts a watcher that calls handler with a batch of
	// changed paths whenever the backend observes a change, returning
	// a cancel function that stops it. Drivers without a native
	// notification mechanism poll on interval, per spec.md §4.5's
	// documented watcher fallback.
	Watch(ctx context.Context, interval time.Duration, handler func([]string)) (cancel func(), err error)

	// ListSubcontainers returns the paths of any container manifests
	// this backend exposes as mountable sub-containers (e.g. a
	// directory full of per-album containers), per spec.md §4.5.
	ListSubcontainers(ctx context.Context) ([]string, error)
}

// Constructor builds a Backend from a storage manifest's Params.
type Constructor func(storage *wlobject.Storage) (Backend, error)

// Registry maps a storage manifest's "type" field to the Constructor
// that knows how to build it, the role storage_backends' types()
// class method plays in the original implementation.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry builds an empty Registry. DefaultRegistry is normally
// what callers want; NewRegistry exists for tests that need isolation.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds or replaces the constructor for a backend type.
func (r *Registry) Register(typeName string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[typeName] = ctor
}

// Build constructs the Backend for storage, looking up storage.Type.
func (r *Registry) Build(storage *wlobject.Storage) (Backend, error) {
	r.mu.RLock()
	ctor, ok := r.ctors[storage.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, wlerr.Wrap(wlerr.ErrSchema, "no storage backend registered for type %q", storage.Type)
	}
	return ctor(storage)
}

// DefaultRegistry holds the reference drivers every wlfs/wlsyncd
// process registers at startup.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.Register("local", NewLocalBackend)
	DefaultRegistry.Register("memory", NewMemoryBackend)
	DefaultRegistry.Register("static", NewStaticBackend)
}

// FindManifests implements resolver.ManifestScanner: it reads
// manifest-pattern-matching files under storage's root looking for
// one whose basename derived from part's last path component matches,
// grounded on search.py's storage_find_manifests helper.
func (r *Registry) FindManifests(ctx context.Context, storage *wlobject.Storage, part string) ([][]byte, error) {
	backend, err := r.Build(storage)
	if err != nil {
		return nil, err
	}
	candidates, err := manifestCandidatePaths(storage, part)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, p := range candidates {
		data, err := backend.Read(ctx, p, 0, -1)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out, nil
}

// ReadLink implements resolver.ManifestScanner for inline Link
// catalog entries: build the link's own embedded storage and read its
// named file.
func (r *Registry) ReadLink(ctx context.Context, link *wlobject.Link) ([]byte, error) {
	backend, err := r.Build(link.Storage)
	if err != nil {
		return nil, err
	}
	return backend.Read(ctx, link.File, 0, -1)
}

// manifestCandidatePaths expands a storage's manifest-pattern (a
// {path: "/manifests/{path}.yaml"}-shaped template, defaulting to
// "/manifests/{path}.yaml" per spec.md §4.5) against a Wildland path
// segment.
func manifestCandidatePaths(storage *wlobject.Storage, part string) ([]string, error) {
	template, _ := storage.ManifestPattern["path"].(string)
	if template == "" {
		template = "/manifests/{path}.yaml"
	}
	name := part
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	return []string{fmt.Sprintf(templateToPrintf(template), name)}, nil
}

func templateToPrintf(template string) string {
	out := make([]byte, 0, len(template))
	for i := 0; i < len(template); i++ {
		if template[i] == '%' {
			out = append(out, '%', '%')
			continue
		}
		if i+6 <= len(template) && template[i:i+6] == "{path}" {
			out = append(out, '%', 's')
			i += 5
			continue
		}
		out = append(out, template[i])
	}
	return string(out)
}
