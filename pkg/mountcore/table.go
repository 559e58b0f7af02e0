package mountcore

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/wildland-go/wildland/pkg/storagebackend"
	"github.com/wildland-go/wildland/pkg/wlobject"
)

// MountItem describes one storage to mount, mirroring spec.md §6's
// fs-commands "mount" item shape: {paths[], storage(params), read-only?,
// extra, remount?}.
type MountItem struct {
	Paths         []string
	Storage       *wlobject.Storage
	Container     *wlobject.Container
	ManifestBytes []byte
	ReadOnly      bool
	Extra         map[string]interface{}
	Remount       bool
}

// MountRequest is the full "mount" command argument set.
type MountRequest struct {
	Items []MountItem
	Lazy  bool
}

// mountEntry is one live (or lazily-pending) storage mount: the paths
// it is visible under, its backend, and the container it belongs to for
// pseudo-manifest serving and primary/fallback grouping.
type mountEntry struct {
	id            int64
	paths         []string
	storage       *wlobject.Storage
	container     *wlobject.Container
	containerUUID string
	manifestBytes []byte
	readOnly      bool
	lazy          bool

	mu          sync.Mutex
	backend     storagebackend.Backend
	opened      bool
	watchCancel func()
}

func (e *mountEntry) ensureBackend(ctx context.Context, registry *storagebackend.Registry) (storagebackend.Backend, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opened {
		return e.backend, nil
	}
	b, err := registry.Build(e.storage)
	if err != nil {
		return nil, err
	}
	e.backend = b
	e.opened = true
	return b, nil
}

func (e *mountEntry) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchCancel != nil {
		e.watchCancel()
		e.watchCancel = nil
	}
	e.backend = nil
	e.opened = false
}

// table is the mount table: monotonic storage-id to live entry, plus
// the reverse index from container UUID to its storage-ids, used for
// primary-owning-storage-with-fallback reads.
type table struct {
	mu          sync.RWMutex
	entries     map[int64]*mountEntry
	byContainer map[string][]int64
	nextID      int64
	registry    *storagebackend.Registry
}

func newTable(registry *storagebackend.Registry) *table {
	return &table{
		entries:     make(map[int64]*mountEntry),
		byContainer: make(map[string][]int64),
		registry:    registry,
	}
}

func (t *table) add(item MountItem, lazy bool) *mountEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	uuid := containerUUID(item)
	e := &mountEntry{
		id:            t.nextID,
		paths:         append([]string{}, item.Paths...),
		storage:       item.Storage,
		container:     item.Container,
		containerUUID: uuid,
		manifestBytes: item.ManifestBytes,
		readOnly:      item.ReadOnly || (item.Storage != nil && item.Storage.ReadOnly),
		lazy:          lazy,
	}
	t.entries[e.id] = e
	t.byContainer[uuid] = append(t.byContainer[uuid], e.id)
	return e
}

func containerUUID(item MountItem) string {
	if item.Container != nil {
		return item.Container.EnsureUUID()
	}
	if len(item.Paths) > 0 {
		return item.Paths[0]
	}
	return ""
}

func (t *table) remove(id int64) (*mountEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, false
	}
	delete(t.entries, id)
	ids := t.byContainer[e.containerUUID]
	for i, cid := range ids {
		if cid == id {
			t.byContainer[e.containerUUID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return e, true
}

func (t *table) get(id int64) (*mountEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

func (t *table) list() []*mountEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*mountEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// storagesFor returns every entry sharing e's container,
// primary storage first, matching PrimaryStorage()'s fallback order.
func (t *table) storagesFor(e *mountEntry) []*mountEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.byContainer[e.containerUUID]
	out := make([]*mountEntry, 0, len(ids))
	for _, id := range ids {
		if other, ok := t.entries[id]; ok {
			out = append(out, other)
		}
	}
	sort := make([]*mountEntry, 0, len(out))
	for _, o := range out {
		if o.storage != nil && o.storage.Primary {
			sort = append([]*mountEntry{o}, sort...)
		} else {
			sort = append(sort, o)
		}
	}
	return sort
}

// resolve finds the mount entry whose path is fusePath or an ancestor
// of it, returning the backend-relative remainder. Longest match wins
// so a deeper mount shadows a shallower one covering the same prefix.
func (t *table) resolve(fusePath string) (*mountEntry, string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best *mountEntry
	var bestRel string
	bestLen := -1
	for _, e := range t.entries {
		for _, mp := range e.paths {
			rel, ok := matchMount(mp, fusePath)
			if !ok {
				continue
			}
			if len(mp) > bestLen {
				bestLen = len(mp)
				best = e
				bestRel = rel
			}
		}
	}
	if best == nil {
		return nil, "", false
	}
	return best, bestRel, true
}

// matchMount reports whether fusePath lies under mountPath, returning
// the backend-relative remainder ("/" if they are equal).
func matchMount(mountPath, fusePath string) (string, bool) {
	mountPath = path.Clean(mountPath)
	fusePath = path.Clean(fusePath)
	if fusePath == mountPath {
		return "/", true
	}
	if mountPath == "/" {
		return fusePath, true
	}
	if strings.HasPrefix(fusePath, mountPath+"/") {
		return strings.TrimPrefix(fusePath, mountPath), true
	}
	return "", false
}

// intermediateChildren returns the set of immediate child names visible
// at prefix purely from mounted paths themselves, letting a directory
// listing show synthetic ancestors of deeper mounts even before any
// backend is consulted.
func (t *table) intermediateChildren(prefix string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	prefix = path.Clean(prefix)
	seen := map[string]bool{}
	var names []string
	for _, e := range t.entries {
		for _, mp := range e.paths {
			mp = path.Clean(mp)
			if mp == prefix {
				continue
			}
			var rel string
			if prefix == "/" {
				if !strings.HasPrefix(mp, "/") {
					continue
				}
				rel = strings.TrimPrefix(mp, "/")
			} else if strings.HasPrefix(mp, prefix+"/") {
				rel = strings.TrimPrefix(mp, prefix+"/")
			} else {
				continue
			}
			name := strings.SplitN(rel, "/", 2)[0]
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}
