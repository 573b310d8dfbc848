package entity

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/joseph-ayodele/plan-analyzer/constants"
)

// Document is an insurance-plan document moving through the analysis pipeline.
// Values of this type are snapshots: stages read them and return an Update.
type Document struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id,omitempty"`
	FileName string `json:"file_name"`
	FileRef  string `json:"file_ref,omitempty"`
	FileSize int64  `json:"file_size"`

	Content string `json:"content,omitempty"`

	BasicInfo    BasicInfo         `json:"basic_info"`
	BasicInfoRaw json.RawMessage   `json:"basic_info_raw,omitempty"`
	OCRMeta      map[string]string `json:"ocr_meta,omitempty"`

	TableSource      string          `json:"table_source,omitempty"`
	TableSummary     string          `json:"table_summary,omitempty"`
	PrimaryTable     *SurrenderTable `json:"primary_table,omitempty"`
	SecondaryTable   *IncomeTable    `json:"secondary_table,omitempty"`
	NarrativeSummary string          `json:"narrative_summary,omitempty"`

	Stage        constants.ProcessingStage `json:"processing_stage"`
	Status       constants.DocumentStatus  `json:"status"`
	ErrorMessage string                    `json:"error_message,omitempty"`
	// Claim identifies the run that holds the current running marker.
	Claim string `json:"-"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}

// HasContent reports whether OCR text is attached.
func (d Document) HasContent() bool {
	return strings.TrimSpace(d.Content) != ""
}

// Halted reports whether an upstream failure has stopped the pipeline.
func (d Document) Halted() bool {
	return d.Status == constants.StatusFailed || d.Stage == constants.StageError
}

// BasicInfo holds the scalar facts extracted in the basic-info stage. All optional.
type BasicInfo struct {
	InsuredName      *string `json:"insured_name,omitempty"`
	InsuredAge       *int    `json:"insured_age,omitempty"`
	InsuredGender    *string `json:"insured_gender,omitempty"`
	InsuranceProduct *string `json:"insurance_product,omitempty"`
	InsuranceCompany *string `json:"insurance_company,omitempty"`
	SumAssured       *int64  `json:"sum_assured,omitempty"`
	AnnualPremium    *int64  `json:"annual_premium,omitempty"`
	PaymentYears     *int    `json:"payment_years,omitempty"`
	InsurancePeriod  *string `json:"insurance_period,omitempty"`
}

// IsZero reports whether no field was extracted.
func (b BasicInfo) IsZero() bool {
	return b == BasicInfo{}
}

// SurrenderRow is one policy year of the base plan's surrender-value table.
type SurrenderRow struct {
	PolicyYear int     `json:"policy_year"`
	Guaranteed float64 `json:"guaranteed"`
	Total      float64 `json:"total"`
}

// SurrenderTable is the primary value table.
type SurrenderTable struct {
	Years []SurrenderRow `json:"years"`
}

// IncomeRow is one policy year of the income-withdrawal table.
type IncomeRow struct {
	PolicyYear    int     `json:"policy_year"`
	Withdraw      float64 `json:"withdraw"`
	WithdrawTotal float64 `json:"withdraw_total"`
	Total         float64 `json:"total"`
}

// IncomeTable is the secondary value table.
type IncomeTable struct {
	Years []IncomeRow `json:"years"`
}
