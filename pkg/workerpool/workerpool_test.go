package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsJobsConcurrently(t *testing.T) {
	pool := New(4, 8)
	defer pool.Stop()

	var count int64
	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) {
			atomic.AddInt64(&count, 1)
			done <- struct{}{}
		}))
	}
	for i := 0; i < 10; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs to complete")
		}
	}
	assert.Equal(t, int64(10), atomic.LoadInt64(&count))
}

func TestStopPreventsFurtherSubmit(t *testing.T) {
	pool := New(2, 2)
	pool.Stop()

	err := pool.Submit(func(ctx context.Context) {})
	assert.Error(t, err)
}

func TestNewDefaultsInvalidSizeToOne(t *testing.T) {
	pool := New(0, 0)
	defer pool.Stop()

	done := make(chan struct{})
	require.NoError(t, pool.Submit(func(ctx context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job never ran")
	}
}
