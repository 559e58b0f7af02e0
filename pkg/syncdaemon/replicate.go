package syncdaemon

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wildland-go/wildland/pkg/storagebackend"
	"github.com/wildland-go/wildland/pkg/wlerr"
)

// keyedMutex serializes operations against the same path, per
// spec.md §5's "replicate actions ... MUST serialize per-path" rule,
// without blocking work on disjoint paths.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(path string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[path]
	if !ok {
		l = &sync.Mutex{}
		k.locks[path] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// scanWithRetry wraps scan with spec.md §5's bounded exponential
// backoff for transient backend failures.
func (j *Job) scanWithRetry(ctx context.Context, backend storagebackend.Backend) (index, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		idx, err := scan(ctx, backend)
		if err == nil {
			return idx, nil
		}
		lastErr = err
		if !retryable(err) || attempt == maxRetries {
			break
		}
		if !sleepOrDone(ctx, backoffDelay(attempt)) {
			return nil, wlerr.Wrap(wlerr.ErrBackendIO, "scan cancelled: %v", ctx.Err())
		}
	}
	return nil, lastErr
}

// replicateAll dispatches every op in ops onto the job's worker pool,
// serializing per path but letting disjoint paths run concurrently,
// per spec.md §5.
func (j *Job) replicateAll(ctx context.Context, ops []diffOp) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, op := range ops {
		op := op
		submitted := make(chan error, 1)
		job := func(ctx context.Context) {
			submitted <- j.replicateWithRetry(ctx, op)
		}
		if err := j.pool.Submit(job); err != nil {
			return err
		}
		g.Go(func() error {
			select {
			case err := <-submitted:
				return err
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	return g.Wait()
}

// replicateWithRetry performs one diffOp with bounded exponential
// backoff on transient failure.
func (j *Job) replicateWithRetry(ctx context.Context, op diffOp) error {
	unlock := j.paths.lock(op.Path)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := j.replicateOne(ctx, op)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt == maxRetries {
			break
		}
		if !sleepOrDone(ctx, backoffDelay(attempt)) {
			return wlerr.Wrap(wlerr.ErrBackendIO, "replicate cancelled: %v", ctx.Err())
		}
	}
	return lastErr
}

// replicateOne copies or deletes a single path in the direction op
// names.
func (j *Job) replicateOne(ctx context.Context, op diffOp) error {
	from, to := j.source, j.target
	if !op.ToTarget {
		from, to = j.target, j.source
	}

	if op.Delete {
		if err := to.Unlink(ctx, op.Path); err != nil {
			return err
		}
		return nil
	}

	data, err := from.Read(ctx, op.Path, 0, -1)
	if err != nil {
		return err
	}
	if err := ensureParentDirs(ctx, to, op.Path); err != nil {
		return err
	}
	if err := to.Create(ctx, op.Path); err != nil && !errors.Is(err, wlerr.ErrConflict) {
		return err
	}
	if _, err := to.Write(ctx, op.Path, data, 0); err != nil {
		return err
	}
	return to.Truncate(ctx, op.Path, int64(len(data)))
}

// ensureParentDirs makes sure every ancestor directory of filePath
// exists on to, mkdir-ing them root-down so a nested path's first
// replication doesn't fail with ErrNotFound on backends (like local)
// that require a directory's parent to already exist.
func ensureParentDirs(ctx context.Context, to storagebackend.Backend, filePath string) error {
	dir := path.Dir(filePath)
	var ancestors []string
	for dir != "/" && dir != "." && dir != "" {
		ancestors = append(ancestors, dir)
		dir = path.Dir(dir)
	}
	for i := len(ancestors) - 1; i >= 0; i-- {
		if err := to.Mkdir(ctx, ancestors[i]); err != nil && !errors.Is(err, wlerr.ErrConflict) {
			return err
		}
	}
	return nil
}

func retryable(err error) bool {
	return errors.Is(err, wlerr.ErrBackendTimeout) || errors.Is(err, wlerr.ErrNetwork) || errors.Is(err, wlerr.ErrBackendIO)
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
