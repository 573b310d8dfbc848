package async

import (
	"context"
	"errors"
	"time"
)

// Job asks a worker to run one pipeline stage for one document.
type Job struct {
	DocumentID  string
	Stage       int // index into the workflow
	Attempt     int // 1-based
	SubmittedAt time.Time
	TraceID     string
	Claim       string // run that owns the stage, carried by retries and resumes
}

// Handler executes a job. Scheduling follow-up work is the handler's business.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// EnqueueAfter submits job once delay has elapsed.
	EnqueueAfter(job Job, delay time.Duration) error
	Shutdown(ctx context.Context)
}

// ErrQueueClosed is returned for submissions after Shutdown started.
var ErrQueueClosed = errors.New("queue is shutting down")
