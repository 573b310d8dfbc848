package extract

import (
	"context"
	"encoding/json"

	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
)

// TableKind selects which value table a check/extract pair targets.
type TableKind string

const (
	// TableSurrender is the base plan's surrender-value table (primary).
	TableSurrender TableKind = "surrender"
	// TableIncome is the income-withdrawal value table (secondary).
	TableIncome TableKind = "income"
)

// Extractor turns plan text into structured results. Each method is one
// stage's model interaction; callers own persistence.
type Extractor interface {
	BasicInfo(ctx context.Context, content string) (entity.BasicInfo, json.RawMessage, error)
	TableSummary(ctx context.Context, content string) (string, error)
	// FindTable runs the check call. found is false when the model answers
	// with a "no such table" sentinel.
	FindTable(ctx context.Context, kind TableKind, tableSummary string) (descriptor string, found bool, err error)
	SurrenderTable(ctx context.Context, descriptor, content string) (*entity.SurrenderTable, error)
	IncomeTable(ctx context.Context, descriptor, content string) (*entity.IncomeTable, error)
	Summary(ctx context.Context, in SummaryInput) (string, error)
}

// SummaryInput is everything the narrative summary may draw on.
type SummaryInput struct {
	Content   string
	BasicInfo entity.BasicInfo
	Primary   *entity.SurrenderTable
	Secondary *entity.IncomeTable
}
