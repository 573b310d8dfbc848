package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/plan-analyzer/constants"
	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanDocument reads one row selected with documentColumns.
func scanDocument(row rowScanner) (*entity.Document, error) {
	var (
		d                                      entity.Document
		ocrMeta, basicRaw, primary, secondary  string
		stage, status                          string
		name, gender, product, company, period sql.NullString
		age, years                             sql.NullInt64
		sumAssured, premium                    sql.NullInt64
		lastProcessed                          sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.UserID, &d.FileName, &d.FileRef, &d.FileSize, &d.Content, &ocrMeta,
		&name, &age, &gender,
		&product, &company, &sumAssured,
		&premium, &years, &period,
		&basicRaw, &d.TableSource, &d.TableSummary,
		&primary, &secondary, &d.NarrativeSummary,
		&stage, &status, &d.ErrorMessage, &d.Claim,
		&d.CreatedAt, &d.UpdatedAt, &lastProcessed,
	)
	if err != nil {
		return nil, err
	}

	d.Stage = constants.ProcessingStage(stage)
	d.Status = constants.DocumentStatus(status)
	d.BasicInfo = entity.BasicInfo{
		InsuredName:      nullString(name),
		InsuredAge:       nullInt(age),
		InsuredGender:    nullString(gender),
		InsuranceProduct: nullString(product),
		InsuranceCompany: nullString(company),
		SumAssured:       nullInt64(sumAssured),
		AnnualPremium:    nullInt64(premium),
		PaymentYears:     nullInt(years),
		InsurancePeriod:  nullString(period),
	}
	if basicRaw != "" {
		d.BasicInfoRaw = json.RawMessage(basicRaw)
	}
	if lastProcessed.Valid {
		t := lastProcessed.Time
		d.LastProcessedAt = &t
	}
	if strings.TrimSpace(ocrMeta) != "" {
		if err := json.Unmarshal([]byte(ocrMeta), &d.OCRMeta); err != nil {
			return nil, fmt.Errorf("decode ocr_meta: %w", err)
		}
	}
	if strings.TrimSpace(primary) != "" {
		var t entity.SurrenderTable
		if err := json.Unmarshal([]byte(primary), &t); err != nil {
			return nil, fmt.Errorf("decode primary_table: %w", err)
		}
		d.PrimaryTable = &t
	}
	if strings.TrimSpace(secondary) != "" {
		var t entity.IncomeTable
		if err := json.Unmarshal([]byte(secondary), &t); err != nil {
			return nil, fmt.Errorf("decode secondary_table: %w", err)
		}
		d.SecondaryTable = &t
	}
	return &d, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullInt64(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
