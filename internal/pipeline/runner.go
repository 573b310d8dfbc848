package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/plan-analyzer/constants"
	"github.com/joseph-ayodele/plan-analyzer/internal/async"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
	"github.com/joseph-ayodele/plan-analyzer/internal/metrics"
	"github.com/joseph-ayodele/plan-analyzer/internal/repository"
)

// Config holds the runner's scheduling knobs.
type Config struct {
	ChainDelay   time.Duration // pause before the next stage is enqueued, default 2s
	WriteTimeout time.Duration // bound on each store write, default 10s
}

// Runner executes workflow jobs. It is the queue's handler and also the
// only component that schedules follow-up work.
type Runner struct {
	repo     repository.DocumentRepository
	workflow Workflow
	queue    async.Queue
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

var _ async.Handler = (*Runner)(nil)

func NewRunner(repo repository.DocumentRepository, wf Workflow, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Runner {
	if cfg.ChainDelay < 0 {
		cfg.ChainDelay = 0
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{repo: repo, workflow: wf, cfg: cfg, metrics: m, logger: logger}
}

// SetQueue attaches the queue jobs are scheduled on. The queue needs the
// runner as its handler, so this cannot be a constructor argument.
func (r *Runner) SetQueue(q async.Queue) { r.queue = q }

func (r *Runner) Workflow() Workflow { return r.workflow }

// Start schedules the first stage for a freshly admitted document.
func (r *Runner) Start(ctx context.Context, docID string) error {
	return r.enqueue(ctx, async.Job{DocumentID: docID, Stage: 0, Attempt: 1, TraceID: uuid.NewString()})
}

// Resume re-schedules documents whose chain was interrupted, such as by a restart.
func (r *Runner) Resume(ctx context.Context, limit int) (int, error) {
	docs, err := r.repo.ListInProgress(ctx, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range docs {
		i, ok := r.workflow.Resume(doc.Stage)
		if !ok {
			continue
		}
		job := async.Job{DocumentID: doc.ID, Stage: i, Attempt: 1, TraceID: uuid.NewString()}
		if doc.Stage == r.workflow[i].Running {
			// take over the interrupted run
			job.Claim = uuid.NewString()
			err := r.repo.Advance(ctx, doc.ID, repository.Transition{From: doc.Stage, Stage: doc.Stage, Claim: job.Claim})
			if errors.Is(err, common.ErrConflict) {
				continue
			}
			if err != nil {
				return n, err
			}
		}
		if err := r.enqueue(ctx, job); err != nil {
			return n, err
		}
		r.logger.Info("pipeline.resume", "doc_id", doc.ID, "stage", r.workflow[i].Name, "marker", doc.Stage)
		n++
	}
	return n, nil
}

func (r *Runner) enqueue(ctx context.Context, job async.Job) error {
	if r.queue == nil {
		return errors.New("pipeline: runner has no queue")
	}
	return r.queue.Enqueue(ctx, job)
}

func (r *Runner) schedule(job async.Job, delay time.Duration) {
	if r.queue == nil {
		r.logger.Error("pipeline.schedule.no_queue", "doc_id", job.DocumentID)
		return
	}
	if err := r.queue.EnqueueAfter(job, delay); err != nil {
		r.logger.Warn("pipeline.schedule.failed", "doc_id", job.DocumentID, "stage", job.Stage, "error", err)
	}
}

// errSuperseded means another run owns the stage now; its write was dropped.
var errSuperseded = errors.New("pipeline: run superseded")

// Handle runs one stage attempt: precondition check, running marker,
// handler, then success, retry, degrade or terminate.
//
// A job starts its stage only from the predecessor's completed marker, by
// claiming the running marker. Retries and resumes continue a stage only
// while the document still holds their claim. Anything else is a job left
// behind by a manual retry or a duplicate chain and is dropped.
func (r *Runner) Handle(ctx context.Context, job async.Job) error {
	if job.Stage < 0 || job.Stage >= len(r.workflow) {
		return fmt.Errorf("pipeline: stage index %d out of range", job.Stage)
	}
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	st := r.workflow[job.Stage]
	log := r.logger.With("doc_id", job.DocumentID, "stage", st.Name, "attempt", job.Attempt, "trace_id", job.TraceID)
	ctx = common.WithDocumentID(ctx, job.DocumentID)

	doc, err := r.repo.GetByID(ctx, job.DocumentID)
	if errors.Is(err, common.ErrNotFound) {
		log.Warn("pipeline.stage.skipped", "reason", "document not found")
		r.metrics.RecordStage(st.Name, "skipped", 0)
		return nil
	}
	if err != nil {
		return err
	}
	if doc.Halted() {
		log.Warn("pipeline.stage.skipped", "reason", "document failed", "error_message", doc.ErrorMessage)
		r.metrics.RecordStage(st.Name, "skipped", 0)
		return nil
	}
	switch {
	case doc.Stage == r.workflow.Predecessor(job.Stage):
		job.Claim = uuid.NewString()
		err := r.write(ctx, doc.ID, repository.Transition{
			From:  doc.Stage,
			Stage: st.Running,
			Claim: job.Claim,
		})
		if errors.Is(err, common.ErrConflict) {
			log.Warn("pipeline.stage.skipped", "reason", "claimed by another job", "error", err)
			r.metrics.RecordStage(st.Name, "skipped", 0)
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark running: %w", err)
		}
	case doc.Stage == st.Running && job.Claim != "" && job.Claim == doc.Claim:
		// retry attempt or resumed run
	default:
		log.Warn("pipeline.stage.skipped", "reason", "stale job", "marker", doc.Stage)
		r.metrics.RecordStage(st.Name, "skipped", 0)
		return nil
	}
	log = log.With("claim", job.Claim)
	log.Info("pipeline.stage.start")

	start := time.Now()
	upd, runErr := st.Handler.Run(ctx, *doc)
	elapsed := time.Since(start)

	if runErr == nil {
		err := r.complete(ctx, job, st, doc, upd, "")
		if errors.Is(err, errSuperseded) {
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("pipeline.stage.ok", "elapsed_ms", elapsed.Milliseconds())
		r.metrics.RecordStage(st.Name, "success", elapsed)
		return nil
	}

	action := st.Policy.Decide(job.Attempt, runErr)
	r.metrics.RecordStage(st.Name, action.String(), elapsed)
	switch action {
	case ActionRetry:
		log.Warn("pipeline.stage.retry", "error", runErr, "delay", st.Policy.Delay)
		next := job
		next.Attempt++
		r.schedule(next, st.Policy.Delay)
		return nil

	case ActionDegrade:
		log.Warn("pipeline.stage.degraded", "error", runErr)
		note := fmt.Sprintf("%s degraded: %v", st.Name, runErr)
		err := r.complete(ctx, job, st, doc, st.Handler.Degrade(*doc, runErr), note)
		if errors.Is(err, errSuperseded) {
			return nil
		}
		return err

	default:
		log.Error("pipeline.stage.terminated", "error", runErr)
		msg := runErr.Error()
		err := r.write(ctx, doc.ID, repository.Transition{
			From:         st.Running,
			Claim:        job.Claim,
			Stage:        constants.StageError,
			Status:       constants.StatusFailed,
			ErrorMessage: &msg,
		})
		if errors.Is(err, common.ErrConflict) {
			log.Warn("pipeline.stage.superseded", "error", err)
			return nil
		}
		return err
	}
}

// complete writes the stage's update with its completed marker and chains
// the next stage.
func (r *Runner) complete(ctx context.Context, job async.Job, st Stage, doc *entity.Document, upd entity.Update, note string) error {
	t := repository.Transition{From: st.Running, Claim: job.Claim, Stage: st.Completed, Update: upd}
	if st.Completed == constants.StageAllCompleted {
		t.Status = constants.StatusCompleted
	}
	if note != "" {
		msg := note
		if prev := strings.TrimSpace(doc.ErrorMessage); prev != "" {
			msg = prev + "; " + note
		}
		t.ErrorMessage = &msg
	}
	err := r.write(ctx, doc.ID, t)
	if errors.Is(err, common.ErrConflict) {
		// a manual retry rewound the document while this run was working
		r.logger.Warn("pipeline.stage.superseded", "doc_id", doc.ID, "stage", st.Name, "error", err)
		r.metrics.RecordStage(st.Name, "superseded", 0)
		return errSuperseded
	}
	if err != nil {
		return fmt.Errorf("complete %s: %w", st.Name, err)
	}

	if next := job.Stage + 1; next < len(r.workflow) {
		r.schedule(async.Job{
			DocumentID: job.DocumentID,
			Stage:      next,
			Attempt:    1,
			TraceID:    job.TraceID,
		}, r.cfg.ChainDelay)
	} else {
		r.logger.Info("pipeline.done", "doc_id", doc.ID, "trace_id", job.TraceID)
	}
	return nil
}

// write persists with its own deadline so a stage that ran out of time can
// still record its outcome.
func (r *Runner) write(ctx context.Context, id string, t repository.Transition) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.WriteTimeout)
	defer cancel()
	return r.repo.Advance(wctx, id, t)
}
