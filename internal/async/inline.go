package async

import (
	"context"
	"sync"
	"time"
)

// InlineQueue runs jobs on the caller's goroutine and ignores delays. It
// serves one-shot tools and tests that want the whole chain to finish
// before Enqueue returns.
type InlineQueue struct {
	handler Handler

	mu     sync.Mutex
	closed bool
}

func NewInlineQueue(h Handler) *InlineQueue {
	return &InlineQueue{handler: h}
}

func (q *InlineQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	return q.handler.Handle(ctx, job)
}

func (q *InlineQueue) EnqueueAfter(job Job, _ time.Duration) error {
	return q.Enqueue(context.Background(), job)
}

func (q *InlineQueue) Shutdown(context.Context) {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
