package pipeline

import (
	"context"
	"strings"

	"github.com/joseph-ayodele/plan-analyzer/internal/admission"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
	"github.com/joseph-ayodele/plan-analyzer/internal/extract"
)

func requireContent(doc entity.Document) error {
	if !doc.HasContent() {
		return common.Fatalf("document %s has no OCR content", doc.ID)
	}
	return nil
}

// TableSourceHandler copies the raw <table> regions out of the OCR text. No inference.
type TableSourceHandler struct{}

func (TableSourceHandler) Run(_ context.Context, doc entity.Document) (entity.Update, error) {
	if err := requireContent(doc); err != nil {
		return nil, err
	}
	return entity.TableSourceUpdate{TableSource: admission.TableSource(doc.Content)}, nil
}

func (TableSourceHandler) Degrade(entity.Document, error) entity.Update {
	return entity.TableSourceUpdate{}
}

type BasicInfoHandler struct {
	Extractor extract.Extractor
}

func (h BasicInfoHandler) Run(ctx context.Context, doc entity.Document) (entity.Update, error) {
	if err := requireContent(doc); err != nil {
		return nil, err
	}
	info, raw, err := h.Extractor.BasicInfo(ctx, doc.Content)
	if err != nil {
		return nil, common.WrapError(err, "basic info")
	}
	return entity.BasicInfoUpdate{Info: info, Raw: raw}, nil
}

func (BasicInfoHandler) Degrade(entity.Document, error) entity.Update {
	return entity.BasicInfoUpdate{}
}

type TableSummaryHandler struct {
	Extractor extract.Extractor
}

func (h TableSummaryHandler) Run(ctx context.Context, doc entity.Document) (entity.Update, error) {
	if err := requireContent(doc); err != nil {
		return nil, err
	}
	s, err := h.Extractor.TableSummary(ctx, doc.Content)
	if err != nil {
		return nil, common.WrapError(err, "table summary")
	}
	return entity.TableSummaryUpdate{TableSummary: s}, nil
}

func (TableSummaryHandler) Degrade(entity.Document, error) entity.Update {
	return entity.TableSummaryUpdate{}
}

// PrimaryTableHandler runs the check/extract pair for the surrender-value table.
type PrimaryTableHandler struct {
	Extractor extract.Extractor
}

func (h PrimaryTableHandler) Run(ctx context.Context, doc entity.Document) (entity.Update, error) {
	if err := requireContent(doc); err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.TableSummary) == "" {
		return entity.PrimaryTableUpdate{}, nil
	}
	desc, found, err := h.Extractor.FindTable(ctx, extract.TableSurrender, doc.TableSummary)
	if err != nil {
		return nil, common.WrapError(err, "check surrender table")
	}
	if !found {
		return entity.PrimaryTableUpdate{}, nil
	}
	t, err := h.Extractor.SurrenderTable(ctx, desc, doc.Content)
	if err != nil {
		return nil, common.WrapError(err, "extract surrender table")
	}
	if t == nil || len(t.Years) == 0 {
		return entity.PrimaryTableUpdate{}, nil
	}
	return entity.PrimaryTableUpdate{Table: t}, nil
}

func (PrimaryTableHandler) Degrade(entity.Document, error) entity.Update {
	return entity.PrimaryTableUpdate{}
}

// SecondaryTableHandler runs the check/extract pair for the income-withdrawal table.
type SecondaryTableHandler struct {
	Extractor extract.Extractor
}

func (h SecondaryTableHandler) Run(ctx context.Context, doc entity.Document) (entity.Update, error) {
	if err := requireContent(doc); err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.TableSummary) == "" {
		return entity.SecondaryTableUpdate{}, nil
	}
	desc, found, err := h.Extractor.FindTable(ctx, extract.TableIncome, doc.TableSummary)
	if err != nil {
		return nil, common.WrapError(err, "check income table")
	}
	if !found {
		return entity.SecondaryTableUpdate{}, nil
	}
	t, err := h.Extractor.IncomeTable(ctx, desc, doc.Content)
	if err != nil {
		return nil, common.WrapError(err, "extract income table")
	}
	if t == nil || len(t.Years) == 0 {
		return entity.SecondaryTableUpdate{}, nil
	}
	return entity.SecondaryTableUpdate{Table: t}, nil
}

func (SecondaryTableHandler) Degrade(entity.Document, error) entity.Update {
	return entity.SecondaryTableUpdate{}
}

type SummaryHandler struct {
	Extractor extract.Extractor
}

func (h SummaryHandler) Run(ctx context.Context, doc entity.Document) (entity.Update, error) {
	if err := requireContent(doc); err != nil {
		return nil, err
	}
	s, err := h.Extractor.Summary(ctx, extract.SummaryInput{
		Content:   doc.Content,
		BasicInfo: doc.BasicInfo,
		Primary:   doc.PrimaryTable,
		Secondary: doc.SecondaryTable,
	})
	if err != nil {
		return nil, common.WrapError(err, "summary")
	}
	return entity.SummaryUpdate{Summary: s}, nil
}

func (SummaryHandler) Degrade(entity.Document, error) entity.Update {
	return entity.SummaryUpdate{}
}
