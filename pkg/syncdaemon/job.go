// Package syncdaemon implements spec.md §4.7's SyncDaemon: per-job
// state machines that replicate a container's data between a source
// and target StorageBackend, grounded on the original implementation's
// sync_manager.py/sync_internal.py job model (INIT->SCANNING->SYNCING
// <->SYNCED->{STOPPED,ERROR}) and sync_types.py's event taxonomy.
package syncdaemon

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wildland-go/wildland/pkg/storagebackend"
	"github.com/wildland-go/wildland/pkg/wlerr"
	"github.com/wildland-go/wildland/pkg/wlobject"
	"github.com/wildland-go/wildland/pkg/workerpool"
)

// State is one node of the per-job state machine spec.md §4.7 defines.
type State string

const (
	StateInit     State = "INIT"
	StateScanning State = "SCANNING"
	StateSyncing  State = "SYNCING"
	StateSynced   State = "SYNCED"
	StateStopped  State = "STOPPED"
	StateError    State = "ERROR"
)

// Spec is the parameters a "start" command supplies for one job.
type Spec struct {
	ContainerName  string
	JobID          string
	Source         *wlobject.Storage
	Target         *wlobject.Storage
	Continuous     bool
	Unidirectional bool
	ActiveEvents   []EventType
}

// Job runs one container's sync state machine end to end.
type Job struct {
	id     string
	spec   Spec
	source storagebackend.Backend
	target storagebackend.Backend
	pool   *workerpool.Pool
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	lastErr error
	filter  activeEventFilter

	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	paths keyedMutex
}

// newJob builds a Job ready to Run, given already-constructed backends
// for its two sides.
func newJob(spec Spec, source, target storagebackend.Backend, pool *workerpool.Pool, logger *zap.Logger) *Job {
	return &Job{
		id:     spec.JobID,
		spec:   spec,
		source: source,
		target: target,
		pool:   pool,
		logger: logger,
		state:  StateInit,
		filter: newActiveEventFilter(spec.ActiveEvents),
		events: make(chan Event, 64),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// State returns the job's current state and last recorded error.
func (j *Job) State() (State, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, j.lastErr
}

func (j *Job) setState(s State) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.state = StateError
	j.lastErr = err
	j.mu.Unlock()
	if j.logger != nil {
		j.logger.Error("sync job failed", zap.String("job-id", j.id), zap.Error(err))
	}
}

// SetActiveEvents replaces the event-type filter live, per spec.md
// §4.7's "active-events" command.
func (j *Job) SetActiveEvents(types []EventType) {
	j.mu.Lock()
	j.filter = newActiveEventFilter(types)
	j.mu.Unlock()
}

// InjectTestError forces the job into ERROR, for suite use per
// spec.md §4.7's "test-error" command.
func (j *Job) InjectTestError() {
	j.fail(wlerr.Wrap(wlerr.ErrBackendIO, "test-error injected for job %s", j.id))
}

// Stop transitions SYNCING/SYNCED -> STOPPED: refuses new work and
// waits for the run loop (and any in-flight replicate ops) to exit.
func (j *Job) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	<-j.doneCh
}

// deliverEvent feeds a watcher-observed change into the job's
// single-consumer event queue, dropping it first if the active-events
// filter excludes its type.
func (j *Job) deliverEvent(ev Event) {
	j.mu.Lock()
	allowed := j.filter.allows(ev.Type)
	j.mu.Unlock()
	if !allowed {
		return
	}
	select {
	case j.events <- ev:
	case <-j.stopCh:
	}
}

// Run drives the job's state machine until it is stopped, errors
// non-retryably, or ctx is cancelled. Callers run it in its own
// goroutine.
func (j *Job) Run(ctx context.Context) {
	defer close(j.doneCh)

	var watchCancels []func()
	defer func() {
		for _, cancel := range watchCancels {
			cancel()
		}
	}()

	for {
		select {
		case <-j.stopCh:
			j.setState(StateStopped)
			return
		case <-ctx.Done():
			j.setState(StateStopped)
			return
		default:
		}

		j.setState(StateScanning)
		srcIdx, err := j.scanWithRetry(ctx, j.source)
		if err != nil {
			j.fail(err)
			return
		}
		tgtIdx, err := j.scanWithRetry(ctx, j.target)
		if err != nil {
			j.fail(err)
			return
		}

		ops := diff(srcIdx, tgtIdx, j.spec.Unidirectional)

		j.setState(StateSyncing)
		if err := j.replicateAll(ctx, ops); err != nil {
			j.fail(err)
			return
		}

		if !j.spec.Continuous {
			j.setState(StateStopped)
			return
		}

		if watchCancels == nil {
			watchCancels = j.attachWatchers(ctx)
		}

		j.setState(StateSynced)

		select {
		case ev := <-j.events:
			j.handleEvent(ctx, ev)
		case <-j.stopCh:
			j.setState(StateStopped)
			return
		case <-ctx.Done():
			j.setState(StateStopped)
			return
		}
	}
}

// handleEvent applies spec.md §4.7's delete-propagation rule directly
// (a watcher-reported delete is trusted and replicated immediately,
// rather than left for the next full diff to reinterpret as
// missing-on-one-side) before the loop re-enters SCANNING to pick up
// any other pending change.
func (j *Job) handleEvent(ctx context.Context, ev Event) {
	if ev.Type != EventDelete {
		return
	}
	op := diffOp{Path: ev.Path, ToTarget: ev.Side == SideSource, Delete: true}
	if err := j.replicateWithRetry(ctx, op); err != nil {
		j.logger.Warn("delete propagation failed, will retry on next scan",
			zap.String("job-id", j.id), zap.String("path", ev.Path), zap.Error(err))
	}
}

// attachWatchers wires both sides' backends into the job's event
// queue, per spec.md §4.7's "SYNCING -> SYNCED: ... both watchers
// attached" requirement for continuous jobs. A watcher only reports
// which paths changed, not how, so each path is re-stat'd to tell a
// delete from a create/modify before it's queued as an Event.
func (j *Job) attachWatchers(ctx context.Context) []func() {
	var cancels []func()
	cancel, err := j.source.Watch(ctx, defaultWatchInterval, func(paths []string) {
		j.classifyAndDeliver(ctx, SideSource, j.source, paths)
	})
	if err == nil {
		cancels = append(cancels, cancel)
	}
	cancel, err = j.target.Watch(ctx, defaultWatchInterval, func(paths []string) {
		j.classifyAndDeliver(ctx, SideTarget, j.target, paths)
	})
	if err == nil {
		cancels = append(cancels, cancel)
	}
	return cancels
}

func (j *Job) classifyAndDeliver(ctx context.Context, side Side, backend storagebackend.Backend, paths []string) {
	for _, p := range paths {
		evType := EventModify
		if _, err := backend.Stat(ctx, p); err != nil {
			evType = EventDelete
		}
		j.deliverEvent(Event{Side: side, Type: evType, Path: p})
	}
}

const defaultWatchInterval = 2 * time.Second
