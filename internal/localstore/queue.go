package localstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/fellowship/internal/domain"
)

// errQueueClosed is returned for writes submitted after Close.
var errQueueClosed = errors.New("write queue closed")

// writeJob is one serialized write.
type writeJob struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error // buffered, size 1
}

// writeQueue is an unbounded FIFO of writes for one kind, drained by a
// single worker goroutine.
//
// Enqueue never blocks, so a hook or a burst of Commands cannot stall the
// caller on queue capacity. The signal channel has a buffer of one:
// multiple enqueues between two worker wake-ups coalesce into one signal.
type writeQueue struct {
	kind domain.Kind

	mu     sync.Mutex
	jobs   []writeJob
	closed bool
	signal chan struct{}

	stopped chan struct{}
}

func newWriteQueue(kind domain.Kind) *writeQueue {
	return &writeQueue{
		kind:    kind,
		jobs:    make([]writeJob, 0, 16),
		signal:  make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Enqueue appends a job. Returns false if the queue is closed.
func (q *writeQueue) Enqueue(j writeJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue pops the front job without blocking.
func (q *writeQueue) tryDequeue() (writeJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return writeJob{}, false
	}
	j := q.jobs[0]
	// Clear the slot so the backing array does not pin the job's closure.
	q.jobs[0] = writeJob{}
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Close stops accepting jobs. Jobs already queued still run.
func (q *writeQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Len returns the number of jobs waiting.
func (q *writeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// run is the worker loop. It returns once the queue is closed and drained.
func (q *writeQueue) run() {
	defer close(q.stopped)

	for {
		if j, ok := q.tryDequeue(); ok {
			q.execute(j)
			continue
		}

		if _, open := <-q.signal; !open {
			// Closed: drain whatever raced in before Close.
			for {
				j, ok := q.tryDequeue()
				if !ok {
					return
				}
				q.execute(j)
			}
		}
	}
}

func (q *writeQueue) execute(j writeJob) {
	if err := j.ctx.Err(); err != nil {
		j.done <- err
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("write job panicked", "kind", q.kind, "panic", r)
			j.done <- domain.StorageError("write", q.kind, errors.New("write job panicked"))
		}
	}()
	j.done <- j.fn(j.ctx)
}

// submit enqueues fn on kind's queue and waits for it to finish or for ctx
// to end. A job whose ctx ended before it started is skipped.
func (s *Store) submit(ctx context.Context, kind domain.Kind, fn func(ctx context.Context) error) error {
	q, ok := s.queues[kind]
	if !ok {
		return &domain.Error{Code: domain.CodeInvalidCommand, Op: "write", Kind: kind, Message: "unknown kind"}
	}

	j := writeJob{ctx: ctx, fn: fn, done: make(chan error, 1)}
	if !q.Enqueue(j) {
		return domain.StorageError("write", kind, errQueueClosed)
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
