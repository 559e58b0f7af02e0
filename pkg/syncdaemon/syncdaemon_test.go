package syncdaemon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wildland-go/wildland/pkg/storagebackend"
	"github.com/wildland-go/wildland/pkg/wlerr"
	"github.com/wildland-go/wildland/pkg/wlobject"
	"github.com/wildland-go/wildland/pkg/workerpool"
)

func newMemBackend(t *testing.T) storagebackend.Backend {
	t.Helper()
	b, err := storagebackend.NewMemoryBackend(&wlobject.Storage{})
	require.NoError(t, err)
	return b
}

func newLocalBackend(t *testing.T, dir string) storagebackend.Backend {
	t.Helper()
	b, err := storagebackend.NewLocalBackend(&wlobject.Storage{Params: map[string]interface{}{"path": dir}})
	require.NoError(t, err)
	return b
}

func TestDiffProducesCreateOpsForMissingFiles(t *testing.T) {
	source := index{"/a.txt": fileState{Hash: "h1"}}
	target := index{}

	ops := diff(source, target, false)
	require.Len(t, ops, 1)
	assert.Equal(t, "/a.txt", ops[0].Path)
	assert.True(t, ops[0].ToTarget)
	assert.False(t, ops[0].Delete)
}

func TestDiffUnidirectionalNeverProducesTargetToSourceOps(t *testing.T) {
	source := index{}
	target := index{"/only-on-target.txt": fileState{Hash: "h1"}}

	ops := diff(source, target, true)
	assert.Empty(t, ops)
}

func TestDiffBidirectionalRecreatesFromOtherSideWhenMissing(t *testing.T) {
	source := index{}
	target := index{"/only-on-target.txt": fileState{Hash: "h1"}}

	ops := diff(source, target, false)
	require.Len(t, ops, 1)
	assert.False(t, ops[0].ToTarget)
	assert.False(t, ops[0].Delete)
}

func TestResolveConflictPrefersNewerModTime(t *testing.T) {
	older := fileState{Hash: "a", ModTime: time.Unix(100, 0)}
	newer := fileState{Hash: "b", ModTime: time.Unix(200, 0)}
	assert.Equal(t, targetWins, resolveConflict(older, newer))
	assert.Equal(t, sourceWins, resolveConflict(newer, older))
}

func TestResolveConflictBreaksTieByHash(t *testing.T) {
	t0 := time.Unix(100, 0)
	low := fileState{Hash: "a", ModTime: t0}
	high := fileState{Hash: "z", ModTime: t0}
	assert.Equal(t, targetWins, resolveConflict(low, high))
	assert.Equal(t, sourceWins, resolveConflict(high, low))
}

func TestScanIndexesRegularFiles(t *testing.T) {
	backend := newMemBackend(t)
	ctx := context.Background()
	require.NoError(t, backend.Create(ctx, "/a.txt"))
	_, err := backend.Write(ctx, "/a.txt", []byte("hello"), 0)
	require.NoError(t, err)
	require.NoError(t, backend.Truncate(ctx, "/a.txt", 5))

	idx, err := scan(ctx, backend)
	require.NoError(t, err)
	require.Contains(t, idx, "/a.txt")
	assert.Equal(t, hashBytes([]byte("hello")), idx["/a.txt"].Hash)
}

func TestJobRunOneShotReplicatesSourceToTarget(t *testing.T) {
	ctx := context.Background()
	source := newMemBackend(t)
	target := newMemBackend(t)

	require.NoError(t, source.Create(ctx, "/file.txt"))
	_, err := source.Write(ctx, "/file.txt", []byte("wildland"), 0)
	require.NoError(t, err)
	require.NoError(t, source.Truncate(ctx, "/file.txt", 8))

	pool := workerpool.New(2, 4)
	defer pool.Stop()

	job := newJob(Spec{JobID: "test|uuid", Unidirectional: true, Continuous: false}, source, target, pool, zap.NewNop())
	job.Run(context.Background())

	state, lastErr := job.State()
	require.NoError(t, lastErr)
	assert.Equal(t, StateStopped, state)

	data, err := target.Read(ctx, "/file.txt", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "wildland", string(data))
}

// TestJobRunOverwritesExistingFileOnLocalBackend exercises replicateOne
// against the local (O_EXCL) backend when the target path already
// exists: the EEXIST from Create must be treated as a benign conflict,
// not surfaced as an error that retries the job into ERROR.
func TestJobRunOverwritesExistingFileOnLocalBackend(t *testing.T) {
	ctx := context.Background()
	source := newLocalBackend(t, t.TempDir())
	target := newLocalBackend(t, t.TempDir())

	require.NoError(t, source.Create(ctx, "/file.txt"))
	_, err := source.Write(ctx, "/file.txt", []byte("new-contents"), 0)
	require.NoError(t, err)
	require.NoError(t, source.Truncate(ctx, "/file.txt", int64(len("new-contents"))))

	require.NoError(t, target.Create(ctx, "/file.txt"))
	_, err = target.Write(ctx, "/file.txt", []byte("stale"), 0)
	require.NoError(t, err)
	require.NoError(t, target.Truncate(ctx, "/file.txt", int64(len("stale"))))

	pool := workerpool.New(2, 4)
	defer pool.Stop()

	job := newJob(Spec{JobID: "test|local-overwrite", Unidirectional: true, Continuous: false}, source, target, pool, zap.NewNop())
	job.Run(ctx)

	state, lastErr := job.State()
	require.NoError(t, lastErr)
	assert.Equal(t, StateStopped, state)

	data, err := target.Read(ctx, "/file.txt", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "new-contents", string(data))
}

// TestJobRunReplicatesNestedPathOnLocalBackend exercises replicateOne's
// parent-directory creation: the local backend's Create requires the
// containing directory to already exist, so a nested path must have its
// ancestor directories mkdir'd before the file is written.
func TestJobRunReplicatesNestedPathOnLocalBackend(t *testing.T) {
	ctx := context.Background()
	source := newLocalBackend(t, t.TempDir())
	target := newLocalBackend(t, t.TempDir())

	require.NoError(t, source.Mkdir(ctx, "/sub"))
	require.NoError(t, source.Create(ctx, "/sub/nested.txt"))
	_, err := source.Write(ctx, "/sub/nested.txt", []byte("deep"), 0)
	require.NoError(t, err)
	require.NoError(t, source.Truncate(ctx, "/sub/nested.txt", 4))

	pool := workerpool.New(2, 4)
	defer pool.Stop()

	job := newJob(Spec{JobID: "test|local-nested", Unidirectional: true, Continuous: false}, source, target, pool, zap.NewNop())
	job.Run(ctx)

	state, lastErr := job.State()
	require.NoError(t, lastErr)
	assert.Equal(t, StateStopped, state)

	data, err := target.Read(ctx, "/sub/nested.txt", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))
}

func TestJobStopTransitionsOutOfSynced(t *testing.T) {
	source := newMemBackend(t)
	target := newMemBackend(t)
	pool := workerpool.New(2, 4)
	defer pool.Stop()

	job := newJob(Spec{JobID: "test|uuid2", Continuous: true}, source, target, pool, zap.NewNop())
	go job.Run(context.Background())

	require.Eventually(t, func() bool {
		state, _ := job.State()
		return state == StateSynced
	}, 2*time.Second, 10*time.Millisecond)

	job.Stop()

	state, _ := job.State()
	assert.Equal(t, StateStopped, state)
}

func TestInjectTestErrorSetsErrorState(t *testing.T) {
	source := newMemBackend(t)
	target := newMemBackend(t)
	pool := workerpool.New(1, 1)
	defer pool.Stop()

	job := newJob(Spec{JobID: "test|uuid3"}, source, target, pool, zap.NewNop())
	job.InjectTestError()

	state, err := job.State()
	assert.Equal(t, StateError, state)
	assert.Error(t, err)
}

func TestActiveEventFilterEmptyAllowsAll(t *testing.T) {
	f := newActiveEventFilter(nil)
	assert.True(t, f.allows(EventCreate))
	assert.True(t, f.allows(EventDelete))
}

func TestActiveEventFilterRestrictsToSetTypes(t *testing.T) {
	f := newActiveEventFilter([]EventType{EventDelete})
	assert.False(t, f.allows(EventCreate))
	assert.True(t, f.allows(EventDelete))
}

func TestManagerStartRejectsDuplicateJobID(t *testing.T) {
	registry := storagebackend.NewRegistry()
	registry.Register("memory", storagebackend.NewMemoryBackend)
	pool := workerpool.New(2, 4)
	defer pool.Stop()
	m := NewManager(registry, pool, zap.NewNop())

	spec := Spec{
		JobID:  "dup|uuid",
		Source: &wlobject.Storage{Type: "memory"},
		Target: &wlobject.Storage{Type: "memory"},
	}
	require.NoError(t, m.Start(spec))
	defer m.Stop(spec.JobID)

	err := m.Start(spec)
	assert.Error(t, err)
}

func TestManagerStopUnknownJobReturnsNotFound(t *testing.T) {
	registry := storagebackend.NewRegistry()
	pool := workerpool.New(1, 1)
	defer pool.Stop()
	m := NewManager(registry, pool, zap.NewNop())

	err := m.Stop("does-not-exist")
	assert.ErrorIs(t, err, wlerr.ErrJobNotFound)
}

func TestManagerStatusReflectsJobState(t *testing.T) {
	registry := storagebackend.NewRegistry()
	registry.Register("memory", storagebackend.NewMemoryBackend)
	pool := workerpool.New(2, 4)
	defer pool.Stop()
	m := NewManager(registry, pool, zap.NewNop())

	spec := Spec{
		ContainerName: "mycontainer",
		JobID:         "status|uuid",
		Source:        &wlobject.Storage{Type: "memory"},
		Target:        &wlobject.Storage{Type: "memory"},
	}
	require.NoError(t, m.Start(spec))
	defer m.Stop(spec.JobID)

	require.Eventually(t, func() bool {
		for _, s := range m.Status() {
			if s.JobID == spec.JobID && s.State == StateStopped {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBackoffDelaySchedule(t *testing.T) {
	assert.Equal(t, 1*time.Second, backoffDelay(0))
	assert.Equal(t, 16*time.Second, backoffDelay(4))
	assert.Equal(t, 16*time.Second, backoffDelay(100))
}
