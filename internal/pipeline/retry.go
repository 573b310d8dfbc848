package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/plan-analyzer/internal/async"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
)

// RetryTarget names where a manual retry restarts the chain.
type RetryTarget string

const (
	RetryAll       RetryTarget = "all"
	RetryBasicInfo RetryTarget = "basic_info"
	RetryTable     RetryTarget = "table"
	RetrySummary   RetryTarget = "summary"
)

var retryStart = map[RetryTarget]string{
	RetryAll:       StageTableSource,
	RetryBasicInfo: StageBasicInfo,
	RetryTable:     StagePrimaryTable,
	RetrySummary:   StageSummary,
}

// RetryTargets lists the accepted targets.
func RetryTargets() []string {
	return []string{string(RetryAll), string(RetryBasicInfo), string(RetryTable), string(RetrySummary)}
}

// ParseRetryTarget accepts the target names; empty means all.
func ParseRetryTarget(s string) (RetryTarget, error) {
	if s == "" {
		return RetryAll, nil
	}
	t := RetryTarget(s)
	if _, ok := retryStart[t]; !ok {
		return "", common.NewAppError("INVALID_RETRY_STAGE", fmt.Sprintf("unsupported retry stage %q", s), common.ErrInvalidInput)
	}
	return t, nil
}

// Retry rewinds a document to just before the target stage, clears its
// failure and schedules the target. The chain continues forward from there.
func (r *Runner) Retry(ctx context.Context, docID string, target RetryTarget) (Stage, error) {
	name, ok := retryStart[target]
	if !ok {
		return Stage{}, common.NewAppError("INVALID_RETRY_STAGE", fmt.Sprintf("unsupported retry stage %q", target), common.ErrInvalidInput)
	}
	i := r.workflow.Index(name)
	if i < 0 {
		return Stage{}, fmt.Errorf("pipeline: workflow has no %s stage", name)
	}

	doc, err := r.repo.GetByID(ctx, docID)
	if err != nil {
		return Stage{}, err
	}
	if !doc.HasContent() {
		return Stage{}, common.NewAppError("NO_CONTENT", "document has no content; cannot retry", common.ErrInvalidInput)
	}

	if err := r.repo.ResetForRetry(ctx, docID, r.workflow.Predecessor(i)); err != nil {
		return Stage{}, err
	}
	job := async.Job{DocumentID: docID, Stage: i, Attempt: 1, TraceID: uuid.NewString()}
	if err := r.enqueue(ctx, job); err != nil {
		return Stage{}, err
	}
	r.logger.Info("pipeline.retry.scheduled", "doc_id", docID, "target", target, "stage", name,
		"previous_marker", doc.Stage, "trace_id", job.TraceID)
	return r.workflow[i], nil
}
