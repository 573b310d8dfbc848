// Package export renders analysed plan documents as XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
	"github.com/joseph-ayodele/plan-analyzer/internal/extract"
	"github.com/joseph-ayodele/plan-analyzer/internal/repository"
)

const (
	SheetPlan      = "Plan"
	SheetSurrender = "Surrender Values"
	SheetIncome    = "Income Withdrawals"
)

// Service is a small façade over the document repository that produces XLSX bytes.
type Service struct {
	repo   repository.DocumentRepository
	logger *slog.Logger
}

func NewService(repo repository.DocumentRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// ExportPlanXLSX loads a document and returns its workbook.
func (s *Service) ExportPlanXLSX(ctx context.Context, docID string) ([]byte, error) {
	doc, err := s.repo.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	return s.Workbook(doc)
}

// Workbook writes three sheets: basic info with value milestones, then the
// surrender and income tables. A missing table yields a header-only sheet.
func (s *Service) Workbook(doc *entity.Document) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetPlan); err != nil {
		return nil, err
	}
	for _, name := range []string{SheetSurrender, SheetIncome} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	writePlanSheet(f, doc)

	var surrender []entity.SurrenderRow
	if doc.PrimaryTable != nil {
		surrender = doc.PrimaryTable.Years
	}
	writeRow(f, SheetSurrender, 1, "Policy Year", "Guaranteed", "Total")
	for i, r := range surrender {
		writeRow(f, SheetSurrender, i+2, r.PolicyYear, r.Guaranteed, r.Total)
	}

	var income []entity.IncomeRow
	if doc.SecondaryTable != nil {
		income = doc.SecondaryTable.Years
	}
	writeRow(f, SheetIncome, 1, "Policy Year", "Withdraw", "Withdraw Total", "Total")
	for i, r := range income {
		writeRow(f, SheetIncome, i+2, r.PolicyYear, r.Withdraw, r.WithdrawTotal, r.Total)
	}

	_ = f.SetColWidth(SheetPlan, "A", "A", 22)
	_ = f.SetColWidth(SheetPlan, "B", "B", 48)
	_ = f.SetColWidth(SheetSurrender, "A", "C", 16)
	_ = f.SetColWidth(SheetIncome, "A", "D", 16)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"doc_id", doc.ID,
		"surrender_rows", len(surrender),
		"income_rows", len(income),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writePlanSheet(f *excelize.File, doc *entity.Document) {
	b := doc.BasicInfo
	rows := [][2]any{
		{"File", doc.FileName},
		{"Insured Name", deref(b.InsuredName)},
		{"Insured Age", deref(b.InsuredAge)},
		{"Insured Gender", deref(b.InsuredGender)},
		{"Product", deref(b.InsuranceProduct)},
		{"Company", deref(b.InsuranceCompany)},
		{"Sum Assured", deref(b.SumAssured)},
		{"Annual Premium", deref(b.AnnualPremium)},
		{"Payment Years", deref(b.PaymentYears)},
		{"Insurance Period", deref(b.InsurancePeriod)},
		{"Processing Stage", string(doc.Stage)},
	}
	row := 1
	for _, kv := range rows {
		writeRow(f, SheetPlan, row, kv[0], kv[1])
		row++
	}
	for _, m := range extract.Milestones(doc.PrimaryTable, b) {
		row++
		writeRow(f, SheetPlan, row, fmt.Sprintf("%.0fx premiums", m.Multiple), m.String())
	}
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

// deref renders an optional field; unset fields become empty cells.
func deref[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}
