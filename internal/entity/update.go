package entity

import (
	"encoding/json"
	"fmt"

	"github.com/joseph-ayodele/plan-analyzer/constants"
)

// Column names owned by pipeline stages.
const (
	ColTableSource      = "table_source"
	ColInsuredName      = "insured_name"
	ColInsuredAge       = "insured_age"
	ColInsuredGender    = "insured_gender"
	ColInsuranceProduct = "insurance_product"
	ColInsuranceCompany = "insurance_company"
	ColSumAssured       = "sum_assured"
	ColAnnualPremium    = "annual_premium"
	ColPaymentYears     = "payment_years"
	ColInsurancePeriod  = "insurance_period"
	ColBasicInfoRaw     = "basic_info_raw"
	ColTableSummary     = "table_summary"
	ColPrimaryTable     = "primary_table"
	ColSecondaryTable   = "secondary_table"
	ColNarrativeSummary = "narrative_summary"
)

// Update is the partial write produced by one stage. The set of implementations
// is closed: each stage can only produce its own type, so no stage can touch
// another stage's columns.
type Update interface {
	// Stage is the completion marker this update belongs to.
	Stage() constants.ProcessingStage
	// Columns returns column -> value for the persistence layer.
	Columns() (map[string]any, error)
	sealed()
}

type TableSourceUpdate struct {
	TableSource string
}

func (TableSourceUpdate) Stage() constants.ProcessingStage {
	return constants.StageTableSourceCompleted
}
func (u TableSourceUpdate) Columns() (map[string]any, error) {
	return map[string]any{ColTableSource: u.TableSource}, nil
}
func (TableSourceUpdate) sealed() {}

type BasicInfoUpdate struct {
	Info BasicInfo
	Raw  json.RawMessage // model output as returned, nil when degraded
}

func (BasicInfoUpdate) Stage() constants.ProcessingStage {
	return constants.StageBasicInfoCompleted
}
func (u BasicInfoUpdate) Columns() (map[string]any, error) {
	raw := ""
	if len(u.Raw) > 0 {
		raw = string(u.Raw)
	}
	return map[string]any{
		ColInsuredName:      u.Info.InsuredName,
		ColInsuredAge:       u.Info.InsuredAge,
		ColInsuredGender:    u.Info.InsuredGender,
		ColInsuranceProduct: u.Info.InsuranceProduct,
		ColInsuranceCompany: u.Info.InsuranceCompany,
		ColSumAssured:       u.Info.SumAssured,
		ColAnnualPremium:    u.Info.AnnualPremium,
		ColPaymentYears:     u.Info.PaymentYears,
		ColInsurancePeriod:  u.Info.InsurancePeriod,
		ColBasicInfoRaw:     raw,
	}, nil
}
func (BasicInfoUpdate) sealed() {}

type TableSummaryUpdate struct {
	TableSummary string
}

func (TableSummaryUpdate) Stage() constants.ProcessingStage {
	return constants.StageTableSummaryCompleted
}
func (u TableSummaryUpdate) Columns() (map[string]any, error) {
	return map[string]any{ColTableSummary: u.TableSummary}, nil
}
func (TableSummaryUpdate) sealed() {}

// PrimaryTableUpdate with a nil Table stores the empty result.
type PrimaryTableUpdate struct {
	Table *SurrenderTable
}

func (PrimaryTableUpdate) Stage() constants.ProcessingStage {
	return constants.StagePrimaryTableCompleted
}
func (u PrimaryTableUpdate) Columns() (map[string]any, error) {
	s, err := encodeTable(u.Table, u.Table == nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{ColPrimaryTable: s}, nil
}
func (PrimaryTableUpdate) sealed() {}

// SecondaryTableUpdate with a nil Table stores the empty result.
type SecondaryTableUpdate struct {
	Table *IncomeTable
}

func (SecondaryTableUpdate) Stage() constants.ProcessingStage {
	return constants.StageSecondaryTableCompleted
}
func (u SecondaryTableUpdate) Columns() (map[string]any, error) {
	s, err := encodeTable(u.Table, u.Table == nil)
	if err != nil {
		return nil, err
	}
	return map[string]any{ColSecondaryTable: s}, nil
}
func (SecondaryTableUpdate) sealed() {}

type SummaryUpdate struct {
	Summary string
}

func (SummaryUpdate) Stage() constants.ProcessingStage {
	return constants.StageAllCompleted
}
func (u SummaryUpdate) Columns() (map[string]any, error) {
	return map[string]any{ColNarrativeSummary: u.Summary}, nil
}
func (SummaryUpdate) sealed() {}

func encodeTable(v any, empty bool) (string, error) {
	if empty {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode table: %w", err)
	}
	return string(b), nil
}
