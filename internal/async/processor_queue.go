package async

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessorQueue is an in-process worker pool fed by a buffered channel.
type ProcessorQueue struct {
	handler Handler
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// mu is held for reading while sending and for writing while closing ch.
	mu      sync.RWMutex
	closed  bool
	closing atomic.Bool

	timersMu sync.Mutex
	timers   map[uint64]*time.Timer
	timerID  uint64
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(h Handler, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		handler: h,
		logger:  logger,
		workers: 4,
		timeout: 10 * time.Minute,
		ch:      make(chan Job, 256),
		timers:  map[uint64]*time.Timer{},
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					err := q.handler.Handle(ctx, job)
					cancel()

					if err != nil {
						q.logger.Error("job failed", "worker_id", workerID, "doc_id", job.DocumentID,
							"stage", job.Stage, "attempt", job.Attempt, "error", err)
					} else {
						q.logger.Debug("job done", "worker_id", workerID, "doc_id", job.DocumentID, "stage", job.Stage)
					}
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

// Enqueue blocks while the buffer is full. Workers never call it directly;
// follow-up jobs go through EnqueueAfter so a full buffer cannot stall them.
func (q *ProcessorQueue) Enqueue(_ context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "doc_id", job.DocumentID, "stage", job.Stage)
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queued job", "doc_id", job.DocumentID, "stage", job.Stage, "attempt", job.Attempt)
	default:
		q.logger.Warn("queue full, applying backpressure", "doc_id", job.DocumentID)
		q.ch <- job
	}
	return nil
}

// EnqueueAfter never blocks, so workers may call it.
func (q *ProcessorQueue) EnqueueAfter(job Job, delay time.Duration) error {
	if q.closing.Load() {
		return ErrQueueClosed
	}
	q.timersMu.Lock()
	defer q.timersMu.Unlock()
	q.timerID++
	id := q.timerID
	q.timers[id] = time.AfterFunc(max(delay, 0), func() {
		q.timersMu.Lock()
		delete(q.timers, id)
		q.timersMu.Unlock()
		if err := q.Enqueue(context.Background(), job); err != nil {
			q.logger.Warn("delayed job dropped", "doc_id", job.DocumentID, "stage", job.Stage, "error", err)
		}
	})
	return nil
}

// Shutdown stops accepting work, cancels delayed jobs that have not fired,
// and waits for in-flight jobs until ctx is done.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	if q.closing.Swap(true) {
		return
	}
	q.timersMu.Lock()
	stopped := 0
	for id, t := range q.timers {
		if t.Stop() {
			stopped++
		}
		delete(q.timers, id)
	}
	q.timersMu.Unlock()

	q.mu.Lock()
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	if stopped > 0 {
		q.logger.Warn("delayed jobs cancelled by shutdown", "count", stopped)
	}

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
