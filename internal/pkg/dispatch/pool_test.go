package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewPool(2, 16)
	pool.Start()
	defer pool.Stop()

	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		ok := pool.Submit("count", func() {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		})
		require.True(t, ok)
	}

	wg.Wait()
	assert.EqualValues(t, 10, atomic.LoadInt64(&count))
}

func TestSubmitRefusedWhenNotRunning(t *testing.T) {
	pool := NewPool(1, 4)

	ok := pool.Submit("noop", func() {})
	assert.False(t, ok)

	pool.Start()
	pool.Stop()

	ok = pool.Submit("noop", func() {})
	assert.False(t, ok)
}

func TestSubmitRefusedWhenQueueFull(t *testing.T) {
	pool := NewPool(1, 1)
	pool.Start()
	defer pool.Stop()

	block := make(chan struct{})
	started := make(chan struct{})

	require.True(t, pool.Submit("block", func() {
		close(started)
		<-block
	}))
	<-started

	// Worker is occupied; the single queue slot takes one more task.
	require.True(t, pool.Submit("queued", func() {}))
	assert.False(t, pool.Submit("overflow", func() {}))

	close(block)
}

func TestPanickingTaskDoesNotKillWorker(t *testing.T) {
	pool := NewPool(1, 4)
	pool.Start()
	defer pool.Stop()

	require.True(t, pool.Submit("boom", func() { panic("boom") }))

	done := make(chan struct{})
	require.True(t, pool.Submit("after", func() { close(done) }))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not recover from panicking task")
	}
}

func TestManagerRunsPeriodicJobs(t *testing.T) {
	mgr := NewManager(NewPool(1, 4))

	var runs int64
	mgr.AddPeriodic("tick", 10*time.Millisecond, func() {
		atomic.AddInt64(&runs, 1)
	})

	mgr.Start()
	time.Sleep(100 * time.Millisecond)
	mgr.Stop()

	assert.Greater(t, atomic.LoadInt64(&runs), int64(1))
}

func TestManagerStopIsIdempotent(t *testing.T) {
	mgr := NewManager(NewPool(1, 4))
	mgr.Start()
	mgr.Stop()
	mgr.Stop()
}
