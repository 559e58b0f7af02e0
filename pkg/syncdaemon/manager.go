package syncdaemon

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wildland-go/wildland/pkg/storagebackend"
	"github.com/wildland-go/wildland/pkg/wlerr"
	"github.com/wildland-go/wildland/pkg/workerpool"
)

// Manager owns the single-writer, many-reader job table spec.md §5
// requires, keyed by "<owner>|<container-uuid>" job-ids.
type Manager struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	cancels  map[string]context.CancelFunc
	registry *storagebackend.Registry
	pool     *workerpool.Pool
	logger   *zap.Logger
}

// NewManager builds a Manager backed by registry for constructing
// source/target backends, dispatching replicate work onto pool.
func NewManager(registry *storagebackend.Registry, pool *workerpool.Pool, logger *zap.Logger) *Manager {
	return &Manager{
		jobs:     make(map[string]*Job),
		cancels:  make(map[string]context.CancelFunc),
		registry: registry,
		pool:     pool,
		logger:   logger,
	}
}

// Start builds the job's backends and launches its state machine,
// rejecting a duplicate job-id with ErrJobAlreadyExist per spec.md §7.
func (m *Manager) Start(spec Spec) error {
	m.mu.Lock()
	if _, exists := m.jobs[spec.JobID]; exists {
		m.mu.Unlock()
		return wlerr.Wrap(wlerr.ErrJobAlreadyExist, "job %s already running", spec.JobID)
	}

	source, err := m.registry.Build(spec.Source)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	target, err := m.registry.Build(spec.Target)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	job := newJob(spec, source, target, m.pool, m.logger)
	ctx, cancel := context.WithCancel(context.Background())
	m.jobs[spec.JobID] = job
	m.cancels[spec.JobID] = cancel
	m.mu.Unlock()

	go job.Run(ctx)
	return nil
}

// Stop transitions a single job SYNCING/SYNCED -> STOPPED and removes
// it from the table once its run loop has exited.
func (m *Manager) Stop(jobID string) error {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	cancel := m.cancels[jobID]
	m.mu.Unlock()
	if !ok {
		return wlerr.Wrap(wlerr.ErrJobNotFound, "job %s not found", jobID)
	}

	job.Stop()
	if cancel != nil {
		cancel()
	}

	m.mu.Lock()
	delete(m.jobs, jobID)
	delete(m.cancels, jobID)
	m.mu.Unlock()
	return nil
}

// StopAll stops every running job, per spec.md §4.7's "stop-all" and
// the shutdown sequence it feeds.
func (m *Manager) StopAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.jobs))
	for id := range m.jobs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Stop(id)
	}
}

// Shutdown stops every job then tears down the worker pool, per
// spec.md §4.7's "stop-all then graceful socket close".
func (m *Manager) Shutdown() {
	m.StopAll()
	m.pool.Stop()
}

// JobState reports one job's current state and, if it is in ERROR,
// the message of its last error.
func (m *Manager) JobState(jobID string) (State, string, error) {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return "", "", wlerr.Wrap(wlerr.ErrJobNotFound, "job %s not found", jobID)
	}
	state, lastErr := job.State()
	if lastErr == nil {
		return state, "", nil
	}
	return state, lastErr.Error(), nil
}

// SetActiveEvents updates a running job's event-type filter.
func (m *Manager) SetActiveEvents(jobID string, types []EventType) error {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return wlerr.Wrap(wlerr.ErrJobNotFound, "job %s not found", jobID)
	}
	job.SetActiveEvents(types)
	return nil
}

// TestError injects a synthetic ERROR into jobID, per spec.md §4.7's
// "test-error" command.
func (m *Manager) TestError(jobID string) error {
	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()
	if !ok {
		return wlerr.Wrap(wlerr.ErrJobNotFound, "job %s not found", jobID)
	}
	job.InjectTestError()
	return nil
}

// JobStatus is one job's entry in Status's summary output.
type JobStatus struct {
	JobID          string `json:"job-id"`
	ContainerName  string `json:"container-name"`
	State          State  `json:"state"`
	Continuous     bool   `json:"continuous"`
	Unidirectional bool   `json:"unidirectional"`
	Error          string `json:"error,omitempty"`
}

// Status summarizes every job in the table, for the "status" command.
func (m *Manager) Status() []JobStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]JobStatus, 0, len(m.jobs))
	for id, job := range m.jobs {
		state, lastErr := job.State()
		s := JobStatus{
			JobID:          id,
			ContainerName:  job.spec.ContainerName,
			State:          state,
			Continuous:     job.spec.Continuous,
			Unidirectional: job.spec.Unidirectional,
		}
		if lastErr != nil {
			s.Error = lastErr.Error()
		}
		out = append(out, s)
	}
	return out
}
