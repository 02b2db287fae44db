package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

const defaultQueueSize = 256

var ErrQueueClosed = errors.New("work queue closed")

// WorkQueue is the FIFO between platform handlers and the single inference
// worker. Enqueue blocks while the buffer is full instead of dropping work.
type WorkQueue struct {
	requests chan Request
	done     chan struct{}
	once     sync.Once

	enqueued  atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
}

func NewWorkQueue(size int) *WorkQueue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &WorkQueue{
		requests: make(chan Request, size),
		done:     make(chan struct{}),
	}
}

func (q *WorkQueue) Enqueue(ctx context.Context, req Request) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.requests <- req:
		q.enqueued.Add(1)
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue blocks for the next request. ok is false once the queue is closed
// or ctx is cancelled.
func (q *WorkQueue) Dequeue(ctx context.Context) (Request, bool) {
	select {
	case req := <-q.requests:
		return req, true
	case <-q.done:
		return Request{}, false
	case <-ctx.Done():
		return Request{}, false
	}
}

func (q *WorkQueue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Len is the number of requests waiting.
func (q *WorkQueue) Len() int {
	return len(q.requests)
}

func (q *WorkQueue) MarkProcessed() { q.processed.Add(1) }
func (q *WorkQueue) MarkFailed() { q.failed.Add(1) }

func (q *WorkQueue) Enqueued() uint64 { return q.enqueued.Load() }
func (q *WorkQueue) Processed() uint64 { return q.processed.Load() }
func (q *WorkQueue) Failed() uint64 { return q.failed.Load() }
