// Package llmqueue implements the process-global, strictly-FIFO LLM
// call queue: a single in-flight task at a time, per-task warning and
// hard-timeout timers, and an emergency drain.
package llmqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/agentworld-dev/runtime/pkg/logger"
	"github.com/agentworld-dev/runtime/pkg/runtimeconfig"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// Task is the transport-agnostic unit of work a caller enqueues: it
// dispatches to whatever provider-specific integration the caller wired
// up (direct OpenAI-compatible REST, Anthropic, Google, or Ollama over
// the OpenAI-compatible path), and must honor ctx cancellation promptly
// so a timed-out task doesn't keep running after the queue advances.
type Task[T any] func(ctx context.Context) (T, error)

type call[T any] struct {
	id      string
	agentID string
	worldID string
	run     Task[T]
	fut     *Future[T]
}

// Status reports the queue's current occupancy.
type Status struct {
	Length       int
	Processing   bool
	NextAgent    string
	NextWorld    string
	MaxQueueSize int
}

// Queue is the process-global serialized LLM call queue. Construct one
// per process (or one per test) and share it across worlds; it is not
// per-world state.
type Queue[T any] struct {
	mu         sync.Mutex
	items      []*call[T]
	processing bool
	curAgent   string
	curWorld   string

	cfg runtimeconfig.QueueConfig

	wake   chan struct{}
	closed chan struct{}
	nextID int
}

// New constructs a Queue and starts its single worker goroutine. Call
// Close to stop the worker (used by tests to get a clean shutdown, and by
// long-running processes at exit).
func New[T any](cfg runtimeconfig.QueueConfig) *Queue[T] {
	q := &Queue[T]{
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Add enqueues a task for the given agent/world. It fails immediately
// with ErrQueueFull if the queue is already at MaxQueueSize; no work
// starts for a rejected task.
func (q *Queue[T]) Add(ctx context.Context, agentID, worldID string, task Task[T]) (*Future[T], error) {
	q.mu.Lock()
	if len(q.items) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		return nil, types.NewError(types.ErrQueueFull, "llm queue is full")
	}
	q.nextID++
	c := &call[T]{
		id:      strconv.Itoa(q.nextID),
		agentID: agentID,
		worldID: worldID,
		run:     task,
		fut:     NewFuture[T](),
	}
	q.items = append(q.items, c)
	q.mu.Unlock()

	logger.G(ctx).WithField("agent_id", agentID).WithField("world_id", worldID).
		Debug("llm task enqueued")

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return c.fut, nil
}

// ClearQueue rejects every pending task with ErrQueueCleared and returns
// the count removed. The in-flight task, if any, is not affected — only
// queued-but-not-started tasks are drained.
func (q *Queue[T]) ClearQueue() int {
	q.mu.Lock()
	cleared := q.items
	q.items = nil
	q.mu.Unlock()

	for _, c := range cleared {
		c.fut.settle(zeroOf[T](), types.NewError(types.ErrQueueCleared, "llm queue was cleared"))
	}
	return len(cleared)
}

// GetQueueStatus reports queue occupancy and what would run next.
func (q *Queue[T]) GetQueueStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Status{
		Length:       len(q.items),
		Processing:   q.processing,
		MaxQueueSize: q.cfg.MaxQueueSize,
	}
	if q.processing {
		s.NextAgent = q.curAgent
		s.NextWorld = q.curWorld
	} else if len(q.items) > 0 {
		s.NextAgent = q.items[0].agentID
		s.NextWorld = q.items[0].worldID
	}
	return s
}

// Close stops the worker goroutine. Pending tasks are left untouched;
// call ClearQueue first if they should be rejected.
func (q *Queue[T]) Close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}

// loop is the single FIFO worker: only one task executes at a time, and
// it never returns until Close is called, so no stray goroutine
// outlives the queue.
func (q *Queue[T]) loop() {
	for {
		c := q.dequeue()
		if c == nil {
			select {
			case <-q.wake:
				continue
			case <-q.closed:
				return
			}
		}
		q.runOne(c)

		select {
		case <-q.closed:
			return
		default:
		}
	}
}

func (q *Queue[T]) dequeue() *call[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	c := q.items[0]
	q.items = q.items[1:]
	q.processing = true
	q.curAgent = c.agentID
	q.curWorld = c.worldID
	return c
}

func (q *Queue[T]) runOne(c *call[T]) {
	defer func() {
		q.mu.Lock()
		q.processing = false
		q.curAgent = ""
		q.curWorld = ""
		q.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := logger.G(ctx).WithField("agent_id", c.agentID).WithField("world_id", c.worldID)

	start := time.Now()
	warnAt := time.Duration(float64(q.cfg.ProcessingTimeout) * q.cfg.WarningThreshold)
	warnTimer := time.AfterFunc(warnAt, func() {
		log.WithField("elapsed_ms", time.Since(start).Milliseconds()).
			Warn("llm task approaching processing timeout")
	})
	timedOut := make(chan struct{})
	timeoutTimer := time.AfterFunc(q.cfg.ProcessingTimeout, func() {
		cancel()
		c.fut.settle(zeroOf[T](), types.NewError(types.ErrLLMTimeout, "llm call exceeded processing timeout"))
		close(timedOut)
	})
	// Both timers are stopped as soon as the task settles by any path —
	// a correctness requirement, otherwise the process cannot exit
	// cleanly while a 15-minute timer is still pending.
	defer warnTimer.Stop()
	defer timeoutTimer.Stop()

	resultCh := make(chan taskResult[T], 1)
	go func() {
		res, err := c.run(ctx)
		resultCh <- taskResult[T]{res, err}
	}()

	// On timeout the queue advances immediately rather than waiting for a
	// task that ignores cancellation; the task goroutine drains into the
	// buffered resultCh and its late result is discarded by settle's
	// exactly-once guarantee.
	select {
	case res := <-resultCh:
		c.fut.settle(res.value, res.err)
	case <-timedOut:
		log.WithField("elapsed_ms", time.Since(start).Milliseconds()).
			Warn("llm task timed out, queue advancing")
	}
}

type taskResult[T any] struct {
	value T
	err   error
}

func zeroOf[T any]() T {
	var z T
	return z
}
