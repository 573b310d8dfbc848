package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/joseph-ayodele/plan-analyzer/constants"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
)

func openTestRepo(t *testing.T) DocumentRepository {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := OpenSQLite(context.Background(), ":memory:", logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return NewDocumentRepository(db, logger)
}

func ptr[T any](v T) *T { return &v }

func advanceThrough(t *testing.T, repo DocumentRepository, id string, steps ...Transition) {
	t.Helper()
	for _, s := range steps {
		if err := repo.Advance(context.Background(), id, s); err != nil {
			t.Fatalf("advance %s: %v", s.Stage, err)
		}
	}
}

func TestCreateAndAdmit(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)

	doc, err := repo.Create(ctx, NewDocument{UserID: "u1", FileName: "plan.pdf"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if doc.Stage != constants.StageOCRPending || doc.Status != constants.StatusPending {
		t.Fatalf("new doc = %s/%s", doc.Stage, doc.Status)
	}

	err = repo.Admit(ctx, doc.ID, Admission{Content: "hello 世界", Meta: map[string]string{"result_dir": "/out/1"}})
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	got, err := repo.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != constants.StagePending || got.Status != constants.StatusProcessing {
		t.Errorf("admitted doc = %s/%s", got.Stage, got.Status)
	}
	if got.Content != "hello 世界" || got.FileSize != int64(len("hello 世界")) {
		t.Errorf("content/file_size = %q/%d", got.Content, got.FileSize)
	}
	if got.OCRMeta["result_dir"] != "/out/1" {
		t.Errorf("ocr_meta = %v", got.OCRMeta)
	}

	// a second admission would restart the chain
	if err := repo.Admit(ctx, doc.ID, Admission{Content: "again"}); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("re-admit at pending err = %v, want ErrConflict", err)
	}
	err = repo.Advance(ctx, doc.ID, Transition{Stage: constants.StageExtractingTableSource})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := repo.Admit(ctx, doc.ID, Admission{Content: "again"}); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("re-admit err = %v, want ErrConflict", err)
	}
}

func TestAdvanceMovesOneStepAtATime(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	doc, _ := repo.Create(ctx, NewDocument{FileName: "plan.pdf"})
	_ = repo.Admit(ctx, doc.ID, Admission{Content: "x"})

	err := repo.Advance(ctx, doc.ID, Transition{
		Stage:  constants.StageTableSummaryCompleted,
		Update: entity.TableSummaryUpdate{TableSummary: "1. table"},
	})
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("skip ahead err = %v, want ErrConflict", err)
	}
	advanceThrough(t, repo, doc.ID,
		Transition{Stage: constants.StageExtractingTableSource},
		Transition{Stage: constants.StageTableSourceCompleted},
	)
	if err := repo.Advance(ctx, doc.ID, Transition{Stage: constants.StageExtractingTableSource}); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("regression err = %v, want ErrConflict", err)
	}
	// same marker is an idempotent rewrite
	if err := repo.Advance(ctx, doc.ID, Transition{Stage: constants.StageTableSourceCompleted}); err != nil {
		t.Fatalf("rewrite same marker: %v", err)
	}
}

func TestAdvanceChecksMarkerAndClaim(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	doc, _ := repo.Create(ctx, NewDocument{FileName: "plan.pdf"})
	_ = repo.Admit(ctx, doc.ID, Admission{Content: "x"})

	advanceThrough(t, repo, doc.ID, Transition{
		From:  constants.StagePending,
		Stage: constants.StageExtractingTableSource,
		Claim: "run-a",
	})
	// a second job starting the same stage finds it taken
	err := repo.Advance(ctx, doc.ID, Transition{
		From:  constants.StagePending,
		Stage: constants.StageExtractingTableSource,
		Claim: "run-b",
	})
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("second start err = %v, want ErrConflict", err)
	}
	got, _ := repo.GetByID(ctx, doc.ID)
	if got.Claim != "run-a" {
		t.Fatalf("claim = %q, want run-a", got.Claim)
	}

	err = repo.Advance(ctx, doc.ID, Transition{
		From:   constants.StageExtractingTableSource,
		Stage:  constants.StageTableSourceCompleted,
		Claim:  "run-b",
		Update: entity.TableSourceUpdate{TableSource: "<table></table>"},
	})
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("foreign completion err = %v, want ErrConflict", err)
	}
	advanceThrough(t, repo, doc.ID, Transition{
		From:   constants.StageExtractingTableSource,
		Stage:  constants.StageTableSourceCompleted,
		Claim:  "run-a",
		Update: entity.TableSourceUpdate{TableSource: "<table></table>"},
	})
	got, _ = repo.GetByID(ctx, doc.ID)
	if got.Stage != constants.StageTableSourceCompleted || got.Claim != "" || got.TableSource != "<table></table>" {
		t.Errorf("after completion = %s claim=%q source=%q", got.Stage, got.Claim, got.TableSource)
	}

	// a reset drops the claim of whatever run was in flight
	advanceThrough(t, repo, doc.ID, Transition{Stage: constants.StageExtractingBasicInfo, Claim: "run-c"})
	if err := repo.ResetForRetry(ctx, doc.ID, constants.StagePending); err != nil {
		t.Fatalf("reset: %v", err)
	}
	err = repo.Advance(ctx, doc.ID, Transition{
		From:  constants.StageExtractingBasicInfo,
		Stage: constants.StageBasicInfoCompleted,
		Claim: "run-c",
	})
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("completion after reset err = %v, want ErrConflict", err)
	}
}

func TestAdvanceRejectsForeignUpdate(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	doc, _ := repo.Create(ctx, NewDocument{FileName: "plan.pdf"})

	err := repo.Advance(ctx, doc.ID, Transition{
		Stage:  constants.StageBasicInfoCompleted,
		Update: entity.SummaryUpdate{Summary: "nope"},
	})
	if !errors.Is(err, common.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestStageUpdatesAreDisjoint(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	doc, _ := repo.Create(ctx, NewDocument{FileName: "plan.pdf"})
	_ = repo.Admit(ctx, doc.ID, Admission{Content: "content"})

	steps := []Transition{
		{Stage: constants.StageExtractingTableSource},
		{Stage: constants.StageTableSourceCompleted},
		{Stage: constants.StageExtractingBasicInfo},
		{Stage: constants.StageBasicInfoCompleted, Update: entity.BasicInfoUpdate{
			Info: entity.BasicInfo{InsuredName: ptr("Chan Tai Man"), InsuredAge: ptr(35), AnnualPremium: ptr(int64(50000))},
			Raw:  []byte(`{"insured_name":"Chan Tai Man"}`),
		}},
		{Stage: constants.StageExtractingTableSummary},
		{Stage: constants.StageTableSummaryCompleted, Update: entity.TableSummaryUpdate{TableSummary: "summary"}},
		{Stage: constants.StageExtractingPrimaryTable},
		{Stage: constants.StagePrimaryTableCompleted, Update: entity.PrimaryTableUpdate{
			Table: &entity.SurrenderTable{Years: []entity.SurrenderRow{{PolicyYear: 1, Guaranteed: 100, Total: 150}}},
		}},
		{Stage: constants.StageExtractingSecondaryTable},
		{Stage: constants.StageSecondaryTableCompleted, Update: entity.SecondaryTableUpdate{}},
		{Stage: constants.StageExtractingSummary},
		{Stage: constants.StageAllCompleted, Status: constants.StatusCompleted, Update: entity.SummaryUpdate{Summary: "# Plan"}},
	}
	advanceThrough(t, repo, doc.ID, steps...)

	// re-running basic info with nothing extracted leaves later stages alone
	_ = repo.ResetForRetry(ctx, doc.ID, constants.StageTableSourceCompleted)
	advanceThrough(t, repo, doc.ID,
		Transition{Stage: constants.StageExtractingBasicInfo},
		Transition{Stage: constants.StageBasicInfoCompleted, Update: entity.BasicInfoUpdate{}},
	)

	got, err := repo.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BasicInfo.InsuredName != nil {
		t.Errorf("basic info not rewritten: %v", *got.BasicInfo.InsuredName)
	}
	if got.TableSummary != "summary" || got.NarrativeSummary != "# Plan" {
		t.Errorf("later stages lost: summary=%q narrative=%q", got.TableSummary, got.NarrativeSummary)
	}
	if got.PrimaryTable == nil || len(got.PrimaryTable.Years) != 1 || got.PrimaryTable.Years[0].Total != 150 {
		t.Errorf("primary table = %+v", got.PrimaryTable)
	}
	if got.SecondaryTable != nil {
		t.Errorf("secondary table should be empty, got %+v", got.SecondaryTable)
	}
}

func TestErrorIsAbsorbing(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	doc, _ := repo.Create(ctx, NewDocument{FileName: "plan.pdf"})

	msg := "no content"
	if err := repo.Advance(ctx, doc.ID, Transition{Stage: constants.StageError, Status: constants.StatusFailed, ErrorMessage: &msg}); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := repo.Advance(ctx, doc.ID, Transition{Stage: constants.StageAllCompleted}); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("leaving error err = %v, want ErrConflict", err)
	}
	if err := repo.ResetForRetry(ctx, doc.ID, constants.StagePending); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ := repo.GetByID(ctx, doc.ID)
	if got.Stage != constants.StagePending || got.Status != constants.StatusProcessing || got.ErrorMessage != "" {
		t.Errorf("after reset = %s/%s/%q", got.Stage, got.Status, got.ErrorMessage)
	}
}

func TestDeleteAndCount(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	a, _ := repo.Create(ctx, NewDocument{FileName: "a.pdf"})
	_, _ = repo.Create(ctx, NewDocument{FileName: "b.pdf"})

	counts, err := repo.CountByStage(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[constants.StageOCRPending] != 2 {
		t.Errorf("ocr_pending count = %d, want 2", counts[constants.StageOCRPending])
	}
	if err := repo.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, a.ID); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("get deleted err = %v", err)
	}
	if err := repo.Delete(ctx, a.ID); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("double delete err = %v", err)
	}
}

func TestMarkFailedKeepsStage(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	doc, _ := repo.Create(ctx, NewDocument{FileName: "plan.pdf"})

	if err := repo.MarkFailed(ctx, doc.ID, "failed to fetch OCR result"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, _ := repo.GetByID(ctx, doc.ID)
	if got.Status != constants.StatusFailed || got.Stage != constants.StageOCRPending {
		t.Fatalf("doc = %s/%s", got.Stage, got.Status)
	}
	if got.ErrorMessage != "failed to fetch OCR result" {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}

	// a later delivery can still admit it
	if err := repo.Admit(ctx, doc.ID, Admission{Content: "ok"}); err != nil {
		t.Fatalf("admit after failure: %v", err)
	}
	got, _ = repo.GetByID(ctx, doc.ID)
	if got.Status != constants.StatusProcessing || got.ErrorMessage != "" {
		t.Errorf("after admit = %s %q", got.Status, got.ErrorMessage)
	}

	if err := repo.MarkFailed(ctx, "missing", "x"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("missing doc err = %v", err)
	}
}
