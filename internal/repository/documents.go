package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/plan-analyzer/constants"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
)

// NewDocument is what an upload flow supplies when it registers a document.
type NewDocument struct {
	UserID   string
	FileName string
	FileRef  string
}

// Admission carries accepted OCR output onto a pre-created document.
type Admission struct {
	Content string
	Meta    map[string]string // merged into ocr_meta
}

// Transition moves a document's progress marker and, optionally, writes the
// partial update of the stage that owns that marker, in one statement.
type Transition struct {
	Stage        constants.ProcessingStage
	Status       constants.DocumentStatus // empty keeps the current status
	ErrorMessage *string                  // nil keeps the current message
	Update       entity.Update

	// From, when set, is the marker the document must hold for the write to apply.
	From constants.ProcessingStage
	// Claim names the run making the write. Moving onto a running marker
	// records it; any other write that carries a claim must match the stored one.
	Claim string
}

type DocumentRepository interface {
	Create(ctx context.Context, in NewDocument) (*entity.Document, error)
	GetByID(ctx context.Context, id string) (*entity.Document, error)
	Delete(ctx context.Context, id string) error
	Admit(ctx context.Context, id string, in Admission) error
	Advance(ctx context.Context, id string, t Transition) error
	ResetForRetry(ctx context.Context, id string, to constants.ProcessingStage) error
	MarkFailed(ctx context.Context, id string, message string) error
	ListInProgress(ctx context.Context, limit int) ([]*entity.Document, error)
	CountByStage(ctx context.Context) (map[constants.ProcessingStage]int, error)
}

type documentRepo struct {
	db  *DB
	b   *entsql.DialectBuilder
	log *slog.Logger
	now func() time.Time
}

func NewDocumentRepository(db *DB, log *slog.Logger) DocumentRepository {
	if log == nil {
		log = slog.Default()
	}
	return &documentRepo{
		db:  db,
		b:   entsql.Dialect(db.Dialect),
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

var documentColumns = []string{
	"id", "user_id", "file_name", "file_ref", "file_size", "content", "ocr_meta",
	entity.ColInsuredName, entity.ColInsuredAge, entity.ColInsuredGender,
	entity.ColInsuranceProduct, entity.ColInsuranceCompany, entity.ColSumAssured,
	entity.ColAnnualPremium, entity.ColPaymentYears, entity.ColInsurancePeriod,
	entity.ColBasicInfoRaw, entity.ColTableSource, entity.ColTableSummary,
	entity.ColPrimaryTable, entity.ColSecondaryTable, entity.ColNarrativeSummary,
	"processing_stage", "status", "error_message", "stage_claim",
	"created_at", "updated_at", "last_processed_at",
}

func (r *documentRepo) Create(ctx context.Context, in NewDocument) (*entity.Document, error) {
	now := r.now()
	doc := &entity.Document{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		FileName:  in.FileName,
		FileRef:   in.FileRef,
		Stage:     constants.StageOCRPending,
		Status:    constants.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q, args := r.b.Insert(documentsTable).
		Columns("id", "user_id", "file_name", "file_ref", "processing_stage", "status", "created_at", "updated_at").
		Values(doc.ID, doc.UserID, doc.FileName, doc.FileRef, string(doc.Stage), string(doc.Status), now, now).
		Query()
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		r.log.Error("document create failed", "file_name", in.FileName, "err", err)
		return nil, common.NewAppError("DB_ERROR", "create document", errors.Join(common.ErrDatabase, err))
	}
	r.log.Info("document created", "doc_id", doc.ID, "file_name", doc.FileName)
	return doc, nil
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	return r.get(ctx, r.db.DB, id, false)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// get loads one document. lock takes a row lock on Postgres; SQLite
// serializes writers on its own.
func (r *documentRepo) get(ctx context.Context, qr queryer, id string, lock bool) (*entity.Document, error) {
	sel := r.b.Select(documentColumns...).
		From(r.b.Table(documentsTable)).
		Where(entsql.EQ("id", id))
	if lock && r.db.Dialect == dialect.Postgres {
		sel.ForUpdate()
	}
	q, args := sel.Query()
	doc, err := scanDocument(qr.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("document %s not found", id), common.ErrNotFound)
	}
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "load document", errors.Join(common.ErrDatabase, err))
	}
	return doc, nil
}

func (r *documentRepo) Delete(ctx context.Context, id string) error {
	q, args := r.b.Delete(documentsTable).Where(entsql.EQ("id", id)).Query()
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		r.log.Error("document delete failed", "doc_id", id, "err", err)
		return common.NewAppError("DB_ERROR", "delete document", errors.Join(common.ErrDatabase, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("document %s not found", id), common.ErrNotFound)
	}
	r.log.Warn("document deleted", "doc_id", id)
	return nil
}

func (r *documentRepo) Admit(ctx context.Context, id string, in Admission) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := r.get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if !cur.Stage.BeforeAdmission() {
			return common.NewAppError("ALREADY_ADMITTED",
				fmt.Sprintf("document %s already at %s", id, cur.Stage), common.ErrConflict)
		}
		meta := maps.Clone(cur.OCRMeta)
		if meta == nil {
			meta = map[string]string{}
		}
		maps.Copy(meta, in.Meta)
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode ocr meta: %w", err)
		}
		now := r.now()
		q, args := r.b.Update(documentsTable).
			Set("content", in.Content).
			Set("file_size", int64(len(in.Content))).
			Set("ocr_meta", string(metaJSON)).
			Set("status", string(constants.StatusProcessing)).
			Set("processing_stage", string(constants.StagePending)).
			Set("error_message", "").
			Set("stage_claim", "").
			Set("updated_at", now).
			Set("last_processed_at", now).
			Where(unchanged(id, cur)).
			Query()
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return common.NewAppError("DB_ERROR", "admit document", errors.Join(common.ErrDatabase, err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return common.NewAppError("ALREADY_ADMITTED",
				fmt.Sprintf("document %s changed during admission", id), common.ErrConflict)
		}
		r.log.Info("document admitted", "doc_id", id, "content_len", len(in.Content))
		return nil
	})
}

func (r *documentRepo) Advance(ctx context.Context, id string, t Transition) error {
	if !t.Stage.Valid() {
		return common.NewAppError("INVALID_STAGE", string(t.Stage), common.ErrInvalidInput)
	}
	var cols map[string]any
	if t.Update != nil {
		if t.Update.Stage() != t.Stage {
			return common.NewAppError("INVALID_UPDATE",
				fmt.Sprintf("update for %s written with marker %s", t.Update.Stage(), t.Stage), common.ErrInvalidInput)
		}
		var err error
		if cols, err = t.Update.Columns(); err != nil {
			return err
		}
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := r.get(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if t.From != "" && cur.Stage != t.From {
			return common.NewAppError("STAGE_CONFLICT",
				fmt.Sprintf("document %s is at %s, not %s", id, cur.Stage, t.From), common.ErrConflict)
		}
		if !cur.Stage.CanAdvanceTo(t.Stage) {
			return common.NewAppError("STAGE_CONFLICT",
				fmt.Sprintf("document %s cannot move from %s to %s", id, cur.Stage, t.Stage), common.ErrConflict)
		}
		if t.Claim != "" && !t.Stage.Running() && cur.Claim != t.Claim {
			return common.NewAppError("STAGE_CONFLICT",
				fmt.Sprintf("document %s: run %s no longer holds %s", id, t.Claim, cur.Stage), common.ErrConflict)
		}
		now := r.now()
		ub := r.b.Update(documentsTable).
			Set("processing_stage", string(t.Stage)).
			Set("updated_at", now).
			Set("last_processed_at", now)
		switch {
		case t.Stage.Running() && t.Claim != "":
			ub.Set("stage_claim", t.Claim)
		case !t.Stage.Running():
			ub.Set("stage_claim", "")
		}
		if t.Status != "" {
			ub.Set("status", string(t.Status))
		}
		if t.ErrorMessage != nil {
			ub.Set("error_message", *t.ErrorMessage)
		}
		for _, k := range slices.Sorted(maps.Keys(cols)) {
			ub.Set(k, cols[k])
		}
		q, args := ub.Where(unchanged(id, cur)).Query()
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			r.log.Error("document advance failed", "doc_id", id, "stage", t.Stage, "err", err)
			return common.NewAppError("DB_ERROR", "advance document", errors.Join(common.ErrDatabase, err))
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return common.NewAppError("STAGE_CONFLICT",
				fmt.Sprintf("document %s changed while moving to %s", id, t.Stage), common.ErrConflict)
		}
		r.log.Debug("document advanced", "doc_id", id, "from", cur.Stage, "to", t.Stage, "columns", len(cols))
		return nil
	})
}

// ResetForRetry is the operator override: it is the only write that may move
// the marker backwards, and it clears the failure so the chain can resume.
func (r *documentRepo) ResetForRetry(ctx context.Context, id string, to constants.ProcessingStage) error {
	if !to.Valid() || to == constants.StageError {
		return common.NewAppError("INVALID_STAGE", string(to), common.ErrInvalidInput)
	}
	now := r.now()
	q, args := r.b.Update(documentsTable).
		Set("processing_stage", string(to)).
		Set("status", string(constants.StatusProcessing)).
		Set("error_message", "").
		Set("stage_claim", "").
		Set("updated_at", now).
		Where(entsql.EQ("id", id)).
		Query()
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return common.NewAppError("DB_ERROR", "reset document", errors.Join(common.ErrDatabase, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("document %s not found", id), common.ErrNotFound)
	}
	r.log.Warn("document reset for retry", "doc_id", id, "stage", to)
	return nil
}

// MarkFailed records a failure that happened outside the stage chain, such as
// an OCR fetch error. The progress marker is left alone so a redelivered
// webhook can still admit the document.
func (r *documentRepo) MarkFailed(ctx context.Context, id string, message string) error {
	q, args := r.b.Update(documentsTable).
		Set("status", string(constants.StatusFailed)).
		Set("error_message", message).
		Set("updated_at", r.now()).
		Where(entsql.EQ("id", id)).
		Query()
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return common.NewAppError("DB_ERROR", "mark document failed", errors.Join(common.ErrDatabase, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("document %s not found", id), common.ErrNotFound)
	}
	r.log.Warn("document marked failed", "doc_id", id, "reason", message)
	return nil
}

// ListInProgress returns admitted documents whose chain has not finished,
// oldest first. The in-process queue loses pending jobs on restart, so these
// are the documents to resume.
func (r *documentRepo) ListInProgress(ctx context.Context, limit int) ([]*entity.Document, error) {
	sel := r.b.Select(documentColumns...).
		From(r.b.Table(documentsTable)).
		Where(entsql.And(
			entsql.EQ("status", string(constants.StatusProcessing)),
			entsql.NotIn("processing_stage",
				string(constants.StageOCRPending), string(constants.StageOCRProcessing),
				string(constants.StageOCRCompleted), string(constants.StageAllCompleted),
				string(constants.StageError)),
		)).
		OrderBy("updated_at")
	if limit > 0 {
		sel.Limit(limit)
	}
	q, args := sel.Query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "list documents", errors.Join(common.ErrDatabase, err))
	}
	defer rows.Close()
	var out []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, common.NewAppError("DB_ERROR", "scan document", errors.Join(common.ErrDatabase, err))
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (r *documentRepo) CountByStage(ctx context.Context) (map[constants.ProcessingStage]int, error) {
	q, args := r.b.Select("processing_stage", entsql.Count("*")).
		From(r.b.Table(documentsTable)).
		GroupBy("processing_stage").
		Query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "count documents", errors.Join(common.ErrDatabase, err))
	}
	defer rows.Close()
	out := map[constants.ProcessingStage]int{}
	for rows.Next() {
		var (
			stage string
			n     int
		)
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		out[constants.ProcessingStage(stage)] = n
	}
	return out, rows.Err()
}

// unchanged matches the row only while it still holds the marker and claim
// that were read.
func unchanged(id string, cur *entity.Document) *entsql.Predicate {
	return entsql.And(
		entsql.EQ("id", id),
		entsql.EQ("processing_stage", string(cur.Stage)),
		entsql.EQ("stage_claim", cur.Claim),
	)
}

func (r *documentRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return common.NewAppError("DB_ERROR", "begin tx", errors.Join(common.ErrDatabase, err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return common.NewAppError("DB_ERROR", "commit", errors.Join(common.ErrDatabase, err))
	}
	return nil
}
