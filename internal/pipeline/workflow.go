// Package pipeline runs the six analysis stages over an admitted document.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/plan-analyzer/constants"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
	"github.com/joseph-ayodele/plan-analyzer/internal/extract"
)

// StageHandler does one stage's work on a document snapshot and returns the
// stage's own partial update. It never writes to the store itself.
type StageHandler interface {
	Run(ctx context.Context, doc entity.Document) (entity.Update, error)
	// Degrade returns the update written when retries are exhausted.
	Degrade(doc entity.Document, err error) entity.Update
}

// Stage describes one step of the workflow.
type Stage struct {
	Name      string
	Running   constants.ProcessingStage
	Completed constants.ProcessingStage
	Handler   StageHandler
	Policy    RetryPolicy
}

// Exhausted says what happens once a stage has used all its attempts.
type Exhausted int

const (
	Degrade Exhausted = iota
	Terminate
)

// RetryPolicy bounds how often a stage is attempted and what happens after.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	OnExhausted Exhausted
}

// Action is the runner's next move after a failed attempt.
type Action int

const (
	ActionRetry Action = iota
	ActionDegrade
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionDegrade:
		return "degraded"
	default:
		return "terminated"
	}
}

// Decide maps a failed attempt (1-based) to the next action. Fatal errors
// terminate regardless of attempts left.
func (p RetryPolicy) Decide(attempt int, err error) Action {
	if errors.Is(err, common.ErrFatal) {
		return ActionTerminate
	}
	if attempt < p.MaxAttempts {
		return ActionRetry
	}
	if p.OnExhausted == Terminate {
		return ActionTerminate
	}
	return ActionDegrade
}

// InferencePolicy is the default for stages that call the model: the first
// call plus two retries a minute apart, then degrade.
func InferencePolicy(maxAttempts int, delay time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if delay < 0 {
		delay = 60 * time.Second
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Delay: delay, OnExhausted: Degrade}
}

// Stage names, also used by manual retry and metrics.
const (
	StageTableSource    = "table_source"
	StageBasicInfo      = "basic_info"
	StageTableSummary   = "table_summary"
	StagePrimaryTable   = "primary_table"
	StageSecondaryTable = "secondary_table"
	StageSummary        = "summary"
)

// Workflow is the ordered stage list. The next stage is the next index.
type Workflow []Stage

// Index returns the position of the stage with the given name, or -1.
func (w Workflow) Index(name string) int {
	for i, s := range w {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Resume returns the stage index a document at marker should continue with:
// the stage that is running at that marker or the one after the stage that
// completed there. ok is false when nothing is left to do.
func (w Workflow) Resume(marker constants.ProcessingStage) (int, bool) {
	if marker == constants.StagePending {
		return 0, len(w) > 0
	}
	for i, s := range w {
		if s.Running == marker {
			return i, true
		}
		if s.Completed == marker {
			return i + 1, i+1 < len(w)
		}
	}
	return 0, false
}

// Predecessor is the marker a document must be at for stage i to start.
func (w Workflow) Predecessor(i int) constants.ProcessingStage {
	if i <= 0 {
		return constants.StagePending
	}
	return w[i-1].Completed
}

// NewWorkflow builds the six-stage plan analysis workflow. policy applies to
// every inference stage. Table source extraction is deterministic, so it gets
// a single attempt and degrades to an empty source.
func NewWorkflow(ex extract.Extractor, policy RetryPolicy) Workflow {
	return Workflow{
		{
			Name:      StageTableSource,
			Running:   constants.StageExtractingTableSource,
			Completed: constants.StageTableSourceCompleted,
			Handler:   TableSourceHandler{},
			Policy:    RetryPolicy{MaxAttempts: 1, OnExhausted: Degrade},
		},
		{
			Name:      StageBasicInfo,
			Running:   constants.StageExtractingBasicInfo,
			Completed: constants.StageBasicInfoCompleted,
			Handler:   BasicInfoHandler{Extractor: ex},
			Policy:    policy,
		},
		{
			Name:      StageTableSummary,
			Running:   constants.StageExtractingTableSummary,
			Completed: constants.StageTableSummaryCompleted,
			Handler:   TableSummaryHandler{Extractor: ex},
			Policy:    policy,
		},
		{
			Name:      StagePrimaryTable,
			Running:   constants.StageExtractingPrimaryTable,
			Completed: constants.StagePrimaryTableCompleted,
			Handler:   PrimaryTableHandler{Extractor: ex},
			Policy:    policy,
		},
		{
			Name:      StageSecondaryTable,
			Running:   constants.StageExtractingSecondaryTable,
			Completed: constants.StageSecondaryTableCompleted,
			Handler:   SecondaryTableHandler{Extractor: ex},
			Policy:    policy,
		},
		{
			Name:      StageSummary,
			Running:   constants.StageExtractingSummary,
			Completed: constants.StageAllCompleted,
			Handler:   SummaryHandler{Extractor: ex},
			Policy:    policy,
		},
	}
}
