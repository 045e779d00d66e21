// Package queue provides a rate-limited FIFO task queue. Tasks run one at
// a time in submission order, paced by a token-bucket limiter with burst 1,
// so consecutive dispatches are at least one interval apart. Submissions
// beyond the pending capacity fail immediately instead of blocking the
// caller.
package queue

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

var (
	// ErrOverflow is returned when the pending buffer is full at
	// submission time.
	ErrOverflow = errors.New("queue overflow")
	// ErrClosed is returned for submissions to, or tasks stranded in, a
	// closed queue.
	ErrClosed = errors.New("queue closed")
)

// Task is one unit of queued work.
type Task[T any] func(ctx context.Context) (T, error)

// Future resolves to a task's result once the queue has run it.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the task has run or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (f *Future[T]) fail(err error) {
	f.err = err
	close(f.done)
}

type item[T any] struct {
	ctx  context.Context
	task Task[T]
	fut  *Future[T]
}

// Queue runs tasks sequentially at a bounded rate.
type Queue[T any] struct {
	limiter *rate.Limiter
	pending chan item[T]

	stop      chan struct{}
	closeOnce sync.Once
}

// New builds a queue dispatching at most rps tasks per second with up to
// queueMax tasks pending, and starts its worker.
func New[T any](rps float64, queueMax int) *Queue[T] {
	if rps <= 0 {
		rps = 1
	}
	if queueMax <= 0 {
		queueMax = 10
	}
	q := &Queue[T]{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		pending: make(chan item[T], queueMax),
		stop:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Schedule enqueues task. It never blocks: a full queue returns
// ErrOverflow, a closed queue ErrClosed. The task runs under ctx; if ctx
// is done before dispatch, the task is skipped and its future fails with
// the context error.
func (q *Queue[T]) Schedule(ctx context.Context, task Task[T]) (*Future[T], error) {
	select {
	case <-q.stop:
		return nil, ErrClosed
	default:
	}
	fut := &Future[T]{done: make(chan struct{})}
	select {
	case q.pending <- item[T]{ctx: ctx, task: task, fut: fut}:
		return fut, nil
	default:
		return nil, ErrOverflow
	}
}

// Len reports the number of pending tasks, excluding one possibly running.
func (q *Queue[T]) Len() int { return len(q.pending) }

// Close stops the worker. Pending tasks fail with ErrClosed; the running
// task, if any, finishes.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.stop) })
}

func (q *Queue[T]) run() {
	for {
		select {
		case <-q.stop:
			q.drain()
			return
		case it := <-q.pending:
			q.dispatch(it)
		}
	}
}

func (q *Queue[T]) dispatch(it item[T]) {
	if err := it.ctx.Err(); err != nil {
		it.fut.fail(err)
		return
	}
	// Wait aborts, releasing its reservation, if the submitter gives up.
	if err := q.limiter.Wait(it.ctx); err != nil {
		it.fut.fail(err)
		return
	}
	select {
	case <-q.stop:
		it.fut.fail(ErrClosed)
		return
	default:
	}
	it.fut.val, it.fut.err = it.task(it.ctx)
	close(it.fut.done)
}

func (q *Queue[T]) drain() {
	for {
		select {
		case it := <-q.pending:
			it.fut.fail(ErrClosed)
		default:
			return
		}
	}
}
