package constants

import "strings"

// ProcessingStage is the canonical progress marker stored on a document.
type ProcessingStage string

// Stable values (store these exact strings in DB).
const (
	StageOCRPending               ProcessingStage = "ocr_pending"
	StageOCRProcessing            ProcessingStage = "ocr_processing"
	StageOCRCompleted             ProcessingStage = "ocr_completed"
	StagePending                  ProcessingStage = "pending" // admitted, pipeline not started
	StageExtractingTableSource    ProcessingStage = "extracting_table_source"
	StageTableSourceCompleted     ProcessingStage = "table_source_completed"
	StageExtractingBasicInfo      ProcessingStage = "extracting_basic_info"
	StageBasicInfoCompleted       ProcessingStage = "basic_info_completed"
	StageExtractingTableSummary   ProcessingStage = "extracting_table_summary"
	StageTableSummaryCompleted    ProcessingStage = "table_summary_completed"
	StageExtractingPrimaryTable   ProcessingStage = "extracting_primary_table"
	StagePrimaryTableCompleted    ProcessingStage = "primary_table_completed"
	StageExtractingSecondaryTable ProcessingStage = "extracting_secondary_table"
	StageSecondaryTableCompleted  ProcessingStage = "secondary_table_completed"
	StageExtractingSummary        ProcessingStage = "extracting_summary"
	StageAllCompleted             ProcessingStage = "all_completed"
	StageError                    ProcessingStage = "error" // absorbing
)

var stageOrder = []ProcessingStage{
	StageOCRPending,
	StageOCRProcessing,
	StageOCRCompleted,
	StagePending,
	StageExtractingTableSource,
	StageTableSourceCompleted,
	StageExtractingBasicInfo,
	StageBasicInfoCompleted,
	StageExtractingTableSummary,
	StageTableSummaryCompleted,
	StageExtractingPrimaryTable,
	StagePrimaryTableCompleted,
	StageExtractingSecondaryTable,
	StageSecondaryTableCompleted,
	StageExtractingSummary,
	StageAllCompleted,
}

var stageRank = func() map[ProcessingStage]int {
	m := make(map[ProcessingStage]int, len(stageOrder))
	for i, s := range stageOrder {
		m[s] = i
	}
	return m
}()

// progressPercent is what the UI polls; "pending" sits between OCR and stage 1.
var progressPercent = map[ProcessingStage]int{
	StageOCRPending:               5,
	StageOCRProcessing:            10,
	StageOCRCompleted:             15,
	StagePending:                  18,
	StageExtractingTableSource:    20,
	StageTableSourceCompleted:     25,
	StageExtractingBasicInfo:      35,
	StageBasicInfoCompleted:       45,
	StageExtractingTableSummary:   55,
	StageTableSummaryCompleted:    60,
	StageExtractingPrimaryTable:   65,
	StagePrimaryTableCompleted:    75,
	StageExtractingSecondaryTable: 80,
	StageSecondaryTableCompleted:  85,
	StageExtractingSummary:        90,
	StageAllCompleted:             100,
	StageError:                    0,
}

// Stages returns the forward order (without the error state).
func Stages() []ProcessingStage {
	out := make([]ProcessingStage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Valid reports whether s is a known stage, including StageError.
func (s ProcessingStage) Valid() bool {
	if s == StageError {
		return true
	}
	_, ok := stageRank[s]
	return ok
}

// Rank is the position of s in the forward order, or -1 for error/unknown.
func (s ProcessingStage) Rank() int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return -1
}

// CanAdvanceTo reports whether a write may move the marker from s to next.
// The marker moves one step at a time along the forward order, so a stage can
// only start from its predecessor's completed marker and only complete from
// its own running marker. Re-writing the same marker is allowed, and any
// marker may move to error. Nothing leaves error.
func (s ProcessingStage) CanAdvanceTo(next ProcessingStage) bool {
	if s == StageError {
		return false
	}
	if next == StageError || next == s {
		return true
	}
	from, ok1 := stageRank[s]
	to, ok2 := stageRank[next]
	return ok1 && ok2 && to == from+1
}

// Running reports whether s marks a stage in progress.
func (s ProcessingStage) Running() bool {
	return strings.HasPrefix(string(s), "extracting_")
}

// Progress maps a stage to a 0..100 percentage; unknown stages map to 0.
func (s ProcessingStage) Progress() int {
	return progressPercent[s]
}

// BeforeAdmission reports whether the document is still waiting for OCR output.
func (s ProcessingStage) BeforeAdmission() bool {
	return s == StageOCRPending || s == StageOCRProcessing || s == StageOCRCompleted
}

// DocumentStatus is the coarse outcome of a document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)
