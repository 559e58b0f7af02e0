package mountcore

import (
	"context"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/wildland-go/wildland/pkg/wlerr"
)

// defaultWatcherInterval is used when a storage manifest doesn't
// declare watcher-interval, matching storagebackend's own local-driver
// default.
const defaultWatcherInterval = 5 * time.Second

// AddWatch starts (or replaces) a change watcher on storageID, filtering
// reported paths against pattern (an empty pattern matches everything)
// and logging the matching paths at debug level. Matched paths are not
// sent back to the control socket caller, and ignoreOwn is not used.
func (c *Core) AddWatch(storageID int64, pattern string, ignoreOwn bool) error {
	e, ok := c.table.get(storageID)
	if !ok {
		return wlerr.Wrap(wlerr.ErrNotFound, "no mounted storage %d", storageID)
	}
	backend, err := e.ensureBackend(context.Background(), c.registry)
	if err != nil {
		return err
	}

	interval := defaultWatcherInterval
	if e.storage != nil && e.storage.WatcherInterval > 0 {
		interval = time.Duration(e.storage.WatcherInterval) * time.Second
	}

	cancel, err := backend.Watch(context.Background(), interval, func(paths []string) {
		var matched []string
		for _, p := range paths {
			if pattern == "" {
				matched = append(matched, p)
				continue
			}
			if ok, _ := path.Match(pattern, p); ok {
				matched = append(matched, p)
			}
		}
		if len(matched) == 0 {
			return
		}
		c.logger.Debug("watch event", zap.Int64("storage-id", storageID), zap.Strings("paths", matched))
	})
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.watchCancel != nil {
		e.watchCancel()
	}
	e.watchCancel = cancel
	e.mu.Unlock()
	return nil
}

// subcontainerState tracks which subcontainer manifest paths a backend
// has most recently advertised, so reconcileSubcontainers can diff
// against it and mount/unmount only what actually changed.
type subcontainerState struct {
	known map[string]int64 // manifest path -> mounted storage-id
}

// AddSubcontainerWatch starts a watcher on storageID's subcontainer
// listing, per spec.md §4.6's subcontainer remount rule: changes are
// reconciled into mount/unmount calls, serialized with other
// path-affecting commands under Core's mountMu. Each added or removed
// subcontainer updates the table separately, so a concurrent reader
// can observe a reconcile pass partway through.
func (c *Core) AddSubcontainerWatch(storageID int64, ignoreOwn bool, decode func([]byte) (MountItem, error)) error {
	e, ok := c.table.get(storageID)
	if !ok {
		return wlerr.Wrap(wlerr.ErrNotFound, "no mounted storage %d", storageID)
	}
	backend, err := e.ensureBackend(context.Background(), c.registry)
	if err != nil {
		return err
	}
	if !backend.Capabilities().SupportsSubcontainers {
		return wlerr.Wrap(wlerr.ErrBadCommand, "storage %d does not support subcontainers", storageID)
	}

	state := &subcontainerState{known: map[string]int64{}}
	reconcile := func() {
		c.mountMu.Lock()
		defer c.mountMu.Unlock()

		current, err := backend.ListSubcontainers(context.Background())
		if err != nil {
			c.logger.Warn("subcontainer listing failed", zap.Int64("storage-id", storageID), zap.Error(err))
			return
		}
		seen := map[string]bool{}
		for _, manifestPath := range current {
			seen[manifestPath] = true
			if _, already := state.known[manifestPath]; already {
				continue
			}
			data, err := backend.Read(context.Background(), manifestPath, 0, -1)
			if err != nil {
				continue
			}
			item, err := decode(data)
			if err != nil {
				c.logger.Warn("subcontainer manifest decode failed", zap.String("path", manifestPath), zap.Error(err))
				continue
			}
			ent := c.table.add(item, false)
			state.known[manifestPath] = ent.id
		}
		for manifestPath, id := range state.known {
			if seen[manifestPath] {
				continue
			}
			if ent, ok := c.table.remove(id); ok {
				ent.reset()
			}
			delete(state.known, manifestPath)
		}
	}

	reconcile()

	interval := defaultWatcherInterval
	if e.storage != nil && e.storage.WatcherInterval > 0 {
		interval = time.Duration(e.storage.WatcherInterval) * time.Second
	}
	cancel, err := backend.Watch(context.Background(), interval, func([]string) { reconcile() })
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.watchCancel != nil {
		e.watchCancel()
	}
	e.watchCancel = cancel
	e.mu.Unlock()
	return nil
}

// FileInfo is the control socket's "fileinfo" command: a single path's
// stat result.
func (c *Core) FileInfo(ctx context.Context, fusePath string) (interface{}, error) {
	return c.Stat(ctx, fusePath)
}

// DirInfo is the control socket's "dirinfo" command: a directory's full
// listing.
func (c *Core) DirInfo(ctx context.Context, fusePath string) (interface{}, error) {
	return c.Readdir(ctx, fusePath)
}
