package llmqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentworld-dev/runtime/pkg/runtimeconfig"
	"github.com/agentworld-dev/runtime/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() runtimeconfig.QueueConfig {
	return runtimeconfig.QueueConfig{
		MaxQueueSize:      100,
		ProcessingTimeout: time.Second,
		WarningThreshold:  0.5,
	}
}

func TestAdd_FIFOOrdering(t *testing.T) {
	q := New[string](testConfig())
	defer q.Close()

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})

	// first task blocks until release, so we can observe start order
	fut1, err := q.Add(context.Background(), "a1", "w1", func(ctx context.Context) (string, error) {
		mu.Lock()
		order = append(order, "t1")
		mu.Unlock()
		<-release
		return "r1", nil
	})
	require.NoError(t, err)

	fut2, err := q.Add(context.Background(), "a2", "w1", func(ctx context.Context) (string, error) {
		mu.Lock()
		order = append(order, "t2")
		mu.Unlock()
		return "r2", nil
	})
	require.NoError(t, err)

	// give the worker a moment to pick up t1 and block
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"t1"}, order)
	mu.Unlock()

	close(release)

	r1, err := fut1.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r1", r1)

	r2, err := fut2.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "r2", r2)

	mu.Lock()
	assert.Equal(t, []string{"t1", "t2"}, order)
	mu.Unlock()
}

func TestAdd_QueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueueSize = 1
	q := New[string](cfg)
	defer q.Close()

	block := make(chan struct{})
	_, err := q.Add(context.Background(), "a1", "w1", func(ctx context.Context) (string, error) {
		<-block
		return "", nil
	})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond) // ensure it's picked up (queue empties, processing=true)

	// Fill the queue to capacity (MaxQueueSize=1, items empty since task is running)
	_, err = q.Add(context.Background(), "a2", "w1", func(ctx context.Context) (string, error) { return "", nil })
	require.NoError(t, err)

	_, err = q.Add(context.Background(), "a3", "w1", func(ctx context.Context) (string, error) { return "", nil })
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrQueueFull))

	close(block)
}

func TestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessingTimeout = 100 * time.Millisecond
	q := New[string](cfg)
	defer q.Close()

	started := make(chan struct{})
	fut, err := q.Add(context.Background(), "a1", "w1", func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})
	require.NoError(t, err)

	<-started
	start := time.Now()
	_, err = fut.Await(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrLLMTimeout))
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestTimeout_AdvancesPastStuckTask(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessingTimeout = 100 * time.Millisecond
	q := New[string](cfg)
	defer q.Close()

	// First task ignores cancellation entirely (sleeps well past the
	// timeout); the second must still start once the first times out.
	fut1, err := q.Add(context.Background(), "stuck", "w1", func(ctx context.Context) (string, error) {
		time.Sleep(2 * time.Second)
		return "late", nil
	})
	require.NoError(t, err)

	fut2, err := q.Add(context.Background(), "next", "w1", func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	start := time.Now()
	_, err = fut1.Await(context.Background())
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrLLMTimeout))

	r2, err := fut2.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", r2)
	assert.Less(t, time.Since(start), time.Second, "queue must advance at the timeout, not when the stuck task returns")
}

func TestClearQueue_RejectsPending(t *testing.T) {
	q := New[string](testConfig())
	defer q.Close()

	block := make(chan struct{})
	_, err := q.Add(context.Background(), "a1", "w1", func(ctx context.Context) (string, error) {
		<-block
		return "", nil
	})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	fut2, err := q.Add(context.Background(), "a2", "w1", func(ctx context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	fut3, err := q.Add(context.Background(), "a3", "w1", func(ctx context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)

	n := q.ClearQueue()
	assert.Equal(t, 2, n)

	_, err = fut2.Await(context.Background())
	assert.True(t, types.Is(err, types.ErrQueueCleared))
	_, err = fut3.Await(context.Background())
	assert.True(t, types.Is(err, types.ErrQueueCleared))

	close(block)
}

func TestGetQueueStatus(t *testing.T) {
	q := New[string](testConfig())
	defer q.Close()

	block := make(chan struct{})
	_, err := q.Add(context.Background(), "a1", "w1", func(ctx context.Context) (string, error) {
		<-block
		return "", nil
	})
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	_, err = q.Add(context.Background(), "a2", "w2", func(ctx context.Context) (string, error) { return "", nil })
	require.NoError(t, err)

	status := q.GetQueueStatus()
	assert.True(t, status.Processing)
	assert.Equal(t, "a1", status.NextAgent)
	assert.Equal(t, "w1", status.NextWorld)
	assert.Equal(t, 1, status.Length)
	assert.Equal(t, 100, status.MaxQueueSize)

	close(block)
}
