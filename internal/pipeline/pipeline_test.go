package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joseph-ayodele/plan-analyzer/constants"
	"github.com/joseph-ayodele/plan-analyzer/internal/async"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
	"github.com/joseph-ayodele/plan-analyzer/internal/extract"
	"github.com/joseph-ayodele/plan-analyzer/internal/llm/llmtest"
	"github.com/joseph-ayodele/plan-analyzer/internal/metrics"
	"github.com/joseph-ayodele/plan-analyzer/internal/repository"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	matchBasicInfo      = "Extract the following fields"
	matchTableSummary   = "List every table"
	matchCheckSurrender = "the base plan's surrender value table (guaranteed"
	matchCheckIncome    = "an income or withdrawal value table"
	matchSurrender      = "Extract the base plan's surrender value table"
	matchIncome         = "Extract the income withdrawal value table"
	matchSummary        = "Markdown summary"
)

// recordingRepo keeps every marker written, in order.
type recordingRepo struct {
	repository.DocumentRepository
	mu      sync.Mutex
	markers []constants.ProcessingStage
}

func (r *recordingRepo) Advance(ctx context.Context, id string, t repository.Transition) error {
	err := r.DocumentRepository.Advance(ctx, id, t)
	if err == nil {
		r.mu.Lock()
		r.markers = append(r.markers, t.Stage)
		r.mu.Unlock()
	}
	return err
}

type harness struct {
	repo   *recordingRepo
	fake   *llmtest.Fake
	runner *Runner
}

func newHarness(t *testing.T, rules ...llmtest.Rule) *harness {
	t.Helper()
	ctx := context.Background()
	db, err := repository.OpenSQLite(ctx, ":memory:", quiet)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := repository.EnsureSchema(ctx, db); err != nil {
		t.Fatalf("schema: %v", err)
	}
	repo := &recordingRepo{DocumentRepository: repository.NewDocumentRepository(db, quiet)}

	fake := llmtest.New(rules...)
	wf := NewWorkflow(extract.NewService(fake, extract.Options{}, quiet), InferencePolicy(3, 0))
	r := NewRunner(repo, wf, Config{}, metrics.New(prometheus.NewRegistry()), quiet)
	r.SetQueue(async.NewInlineQueue(r))
	return &harness{repo: repo, fake: fake, runner: r}
}

// defaultRules answers every stage successfully.
func defaultRules() []llmtest.Rule {
	return []llmtest.Rule{
		{Match: matchBasicInfo, Reply: `{"insured_name":"Chan","insured_age":40,"annual_premium":10000,"payment_years":5}`},
		{Match: matchTableSummary, Reply: "1. Surrender values, 3 rows\n2. Income withdrawals, 3 rows"},
		{Match: matchCheckSurrender, Reply: "Surrender values, 3 rows, columns: year, guaranteed, total"},
		{Match: matchCheckIncome, Reply: "Income withdrawals, 3 rows"},
		{Match: matchSurrender, Reply: "```json\n" + `{"years":[{"policy_year":1,"guaranteed":0,"total":1000},{"policy_year":10,"guaranteed":40000,"total":60000}]}` + "\n```"},
		{Match: matchIncome, Reply: `{"years":[{"policy_year":6,"withdraw":2000,"withdraw_total":2000,"total":50000}]}`},
		{Match: matchSummary, Reply: "# Summary\n\nA plan."},
	}
}

func planContent() string {
	var b strings.Builder
	b.WriteString("Wealth Plan proposal for Chan, age 40.\n")
	b.WriteString(`<table><tr><td>Year</td><td>Guaranteed</td><td>Total</td></tr><tr><td>1</td><td>0</td><td>1,000</td></tr></table>`)
	b.WriteString("\n")
	b.WriteString(`<table><tr><td>Year</td><td>Withdraw</td><td>Total</td></tr><tr><td>6</td><td>2,000</td><td>50,000</td></tr></table>`)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("Policy terms and conditions apply. ", 60))
	return b.String()
}

func (h *harness) admitAndRun(t *testing.T, content string) *entity.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := h.repo.Create(ctx, repository.NewDocument{FileName: "plan.pdf"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.repo.Admit(ctx, doc.ID, repository.Admission{Content: content}); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := h.runner.Start(ctx, doc.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	return h.load(t, doc.ID)
}

// walk moves a document forward marker by marker, the way finished stages would.
func (h *harness) walk(t *testing.T, id string, steps ...constants.ProcessingStage) {
	t.Helper()
	for _, s := range steps {
		if err := h.repo.Advance(context.Background(), id, repository.Transition{Stage: s}); err != nil {
			t.Fatalf("advance %s: %v", s, err)
		}
	}
}

func (h *harness) load(t *testing.T, id string) *entity.Document {
	t.Helper()
	doc, err := h.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return doc
}

func TestPipelineCompletesWithBothTables(t *testing.T) {
	h := newHarness(t, defaultRules()...)
	doc := h.admitAndRun(t, planContent())

	if doc.Stage != constants.StageAllCompleted || doc.Status != constants.StatusCompleted {
		t.Fatalf("doc = %s/%s (%s)", doc.Stage, doc.Status, doc.ErrorMessage)
	}
	if doc.PrimaryTable == nil || len(doc.PrimaryTable.Years) != 2 {
		t.Errorf("primary table = %+v", doc.PrimaryTable)
	}
	if doc.SecondaryTable == nil || len(doc.SecondaryTable.Years) != 1 {
		t.Errorf("secondary table = %+v", doc.SecondaryTable)
	}
	if strings.Count(doc.TableSource, "<table>") != 2 {
		t.Errorf("table source = %q", doc.TableSource)
	}
	if doc.BasicInfo.InsuredAge == nil || *doc.BasicInfo.InsuredAge != 40 {
		t.Errorf("basic info = %+v", doc.BasicInfo)
	}
	if doc.NarrativeSummary != "# Summary\n\nA plan." || doc.ErrorMessage != "" {
		t.Errorf("summary = %q, error = %q", doc.NarrativeSummary, doc.ErrorMessage)
	}
	if !doc.HasContent() {
		t.Error("completed document without content")
	}
}

func TestMarkersNeverMoveBackward(t *testing.T) {
	h := newHarness(t, defaultRules()...)
	h.admitAndRun(t, planContent())

	want := []constants.ProcessingStage{
		constants.StageExtractingTableSource, constants.StageTableSourceCompleted,
		constants.StageExtractingBasicInfo, constants.StageBasicInfoCompleted,
		constants.StageExtractingTableSummary, constants.StageTableSummaryCompleted,
		constants.StageExtractingPrimaryTable, constants.StagePrimaryTableCompleted,
		constants.StageExtractingSecondaryTable, constants.StageSecondaryTableCompleted,
		constants.StageExtractingSummary, constants.StageAllCompleted,
	}
	if len(h.repo.markers) != len(want) {
		t.Fatalf("markers = %v", h.repo.markers)
	}
	for i, m := range h.repo.markers {
		if m != want[i] {
			t.Errorf("marker %d = %s, want %s", i, m, want[i])
		}
		if i > 0 && m.Progress() < h.repo.markers[i-1].Progress() {
			t.Errorf("progress went down at %s", m)
		}
	}
}

func TestSecondarySentinelSkipsExtraction(t *testing.T) {
	rules := []llmtest.Rule{{Match: matchCheckIncome, Reply: "不存在"}}
	h := newHarness(t, append(rules, defaultRules()...)...)
	doc := h.admitAndRun(t, planContent())

	if doc.Stage != constants.StageAllCompleted {
		t.Fatalf("stage = %s", doc.Stage)
	}
	if doc.SecondaryTable != nil {
		t.Errorf("secondary table = %+v, want empty", doc.SecondaryTable)
	}
	if n := h.fake.CallsMatching(matchIncome); n != 0 {
		t.Errorf("income extraction called %d times", n)
	}
	if doc.PrimaryTable == nil {
		t.Error("primary table missing")
	}
}

func TestTableFreeContentStillCompletes(t *testing.T) {
	h := newHarness(t, defaultRules()...)
	content := "Wealth Plan proposal for Chan, age 40.\n" + strings.Repeat("Policy terms and conditions apply. ", 60)
	doc := h.admitAndRun(t, content)

	if doc.TableSource != "" {
		t.Errorf("table source = %q, want empty", doc.TableSource)
	}
	if doc.Stage != constants.StageAllCompleted || doc.Status != constants.StatusCompleted {
		t.Fatalf("doc = %s/%s (%s)", doc.Stage, doc.Status, doc.ErrorMessage)
	}
	for _, m := range []string{matchBasicInfo, matchTableSummary, matchSummary} {
		if n := h.fake.CallsMatching(m); n != 1 {
			t.Errorf("%q called %d times, want 1", m, n)
		}
	}
	if len(h.repo.markers) != 12 {
		t.Errorf("markers = %v", h.repo.markers)
	}
}

func TestBasicInfoExhaustionDegrades(t *testing.T) {
	rules := []llmtest.Rule{{Match: matchBasicInfo, Err: errors.New("429 rate limited")}}
	h := newHarness(t, append(rules, defaultRules()...)...)
	doc := h.admitAndRun(t, planContent())

	if n := h.fake.CallsMatching(matchBasicInfo); n != 3 {
		t.Errorf("basic info attempts = %d, want 3", n)
	}
	if !doc.BasicInfo.IsZero() {
		t.Errorf("basic info = %+v, want empty", doc.BasicInfo)
	}
	if doc.Stage != constants.StageAllCompleted || doc.Status != constants.StatusCompleted {
		t.Fatalf("doc = %s/%s", doc.Stage, doc.Status)
	}
	if !strings.Contains(doc.ErrorMessage, "basic_info degraded") {
		t.Errorf("error_message = %q", doc.ErrorMessage)
	}
	if h.fake.CallsMatching(matchTableSummary) != 1 {
		t.Error("later stages did not run")
	}
}

func TestUnparseableTableDegradesToEmpty(t *testing.T) {
	rules := []llmtest.Rule{{Match: matchSurrender, Reply: "I'm sorry, the table is unreadable."}}
	h := newHarness(t, append(rules, defaultRules()...)...)
	doc := h.admitAndRun(t, planContent())

	if doc.PrimaryTable != nil {
		t.Errorf("primary table = %+v", doc.PrimaryTable)
	}
	if n := h.fake.CallsMatching(matchSurrender); n != 3 {
		t.Errorf("extraction attempts = %d", n)
	}
	if doc.Stage != constants.StageAllCompleted || doc.SecondaryTable == nil {
		t.Errorf("doc = %s, secondary = %+v", doc.Stage, doc.SecondaryTable)
	}
}

func TestRecoveredRetryKeepsResult(t *testing.T) {
	rules := []llmtest.Rule{{Match: matchTableSummary, Err: errors.New("timeout"), Times: 1}}
	h := newHarness(t, append(rules, defaultRules()...)...)
	doc := h.admitAndRun(t, planContent())

	if doc.TableSummary == "" || doc.ErrorMessage != "" {
		t.Errorf("table summary = %q, error = %q", doc.TableSummary, doc.ErrorMessage)
	}
	if n := h.fake.CallsMatching(matchTableSummary); n != 2 {
		t.Errorf("table summary attempts = %d", n)
	}
}

func TestEmptyContentAtBasicInfoTerminates(t *testing.T) {
	h := newHarness(t, defaultRules()...)
	ctx := context.Background()
	doc, _ := h.repo.Create(ctx, repository.NewDocument{FileName: "plan.pdf"})
	_ = h.repo.Admit(ctx, doc.ID, repository.Admission{Content: ""})
	h.walk(t, doc.ID, constants.StageExtractingTableSource, constants.StageTableSourceCompleted)

	if err := h.runner.Handle(ctx, async.Job{DocumentID: doc.ID, Stage: 1, Attempt: 1}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got := h.load(t, doc.ID)
	if got.Stage != constants.StageError || got.Status != constants.StatusFailed {
		t.Fatalf("doc = %s/%s", got.Stage, got.Status)
	}
	if got.ErrorMessage == "" {
		t.Error("error_message not recorded")
	}
	if n := len(h.fake.Calls()); n != 0 {
		t.Errorf("%d model calls after termination", n)
	}

	// a failed document short-circuits every later stage
	if err := h.runner.Handle(ctx, async.Job{DocumentID: doc.ID, Stage: 2, Attempt: 1}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if again := h.load(t, doc.ID); again.Stage != constants.StageError {
		t.Errorf("halted doc moved to %s", again.Stage)
	}
}

func TestMissingDocumentIsSkipped(t *testing.T) {
	h := newHarness(t)
	if err := h.runner.Handle(context.Background(), async.Job{DocumentID: "nope", Stage: 0}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := h.runner.Handle(context.Background(), async.Job{DocumentID: "nope", Stage: 9}); err == nil {
		t.Error("out-of-range stage should fail")
	}
}

func TestManualRetryTableKeepsEarlierFields(t *testing.T) {
	h := newHarness(t, defaultRules()...)
	doc := h.admitAndRun(t, planContent())
	basicCalls := h.fake.CallsMatching(matchBasicInfo)

	st, err := h.runner.Retry(context.Background(), doc.ID, RetryTable)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if st.Name != StagePrimaryTable {
		t.Errorf("restarted at %s", st.Name)
	}
	got := h.load(t, doc.ID)
	if got.Stage != constants.StageAllCompleted || got.Status != constants.StatusCompleted {
		t.Fatalf("doc = %s/%s", got.Stage, got.Status)
	}
	if h.fake.CallsMatching(matchBasicInfo) != basicCalls {
		t.Error("table retry re-ran basic info")
	}
	if h.fake.CallsMatching(matchSurrender) != 2 || h.fake.CallsMatching(matchSummary) != 2 {
		t.Errorf("surrender=%d summary=%d", h.fake.CallsMatching(matchSurrender), h.fake.CallsMatching(matchSummary))
	}
	if got.BasicInfo.InsuredName == nil || got.TableSummary != doc.TableSummary {
		t.Errorf("earlier stage fields lost: %+v %q", got.BasicInfo, got.TableSummary)
	}
}

func TestStaleLaterStageJobIsDropped(t *testing.T) {
	h := newHarness(t, defaultRules()...)
	ctx := context.Background()
	doc := h.admitAndRun(t, planContent())
	if err := h.repo.ResetForRetry(ctx, doc.ID, constants.StageTableSourceCompleted); err != nil {
		t.Fatalf("reset: %v", err)
	}
	h.repo.markers = nil
	incomeCalls := h.fake.CallsMatching(matchCheckIncome)

	// a secondary-table job queued before the reset must not skip ahead
	if err := h.runner.Handle(ctx, async.Job{DocumentID: doc.ID, Stage: 4, Attempt: 1}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got := h.load(t, doc.ID)
	if got.Stage != constants.StageTableSourceCompleted {
		t.Errorf("marker moved to %s", got.Stage)
	}
	if len(h.repo.markers) != 0 {
		t.Errorf("markers written: %v", h.repo.markers)
	}
	if h.fake.CallsMatching(matchCheckIncome) != incomeCalls {
		t.Error("stale job called the model")
	}

	// a retry attempt that lost its claim is dropped too
	h.walk(t, doc.ID, constants.StageExtractingBasicInfo)
	if err := h.runner.Handle(ctx, async.Job{DocumentID: doc.ID, Stage: 1, Attempt: 2, Claim: "gone"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := h.load(t, doc.ID); got.Stage != constants.StageExtractingBasicInfo {
		t.Errorf("orphaned attempt moved marker to %s", got.Stage)
	}
}

// interruptingHandler triggers interrupt during its first run and then
// returns a result that must never be stored.
type interruptingHandler struct {
	StageHandler
	once      sync.Once
	interrupt func()
}

func (h *interruptingHandler) Run(ctx context.Context, doc entity.Document) (entity.Update, error) {
	first := false
	h.once.Do(func() { first = true })
	if !first {
		return h.StageHandler.Run(ctx, doc)
	}
	h.interrupt()
	return entity.PrimaryTableUpdate{Table: &entity.SurrenderTable{Years: []entity.SurrenderRow{{PolicyYear: 99}}}}, nil
}

func TestManualRetryWhileStageInFlight(t *testing.T) {
	h := newHarness(t, defaultRules()...)
	ctx := context.Background()
	doc, _ := h.repo.Create(ctx, repository.NewDocument{FileName: "plan.pdf"})
	_ = h.repo.Admit(ctx, doc.ID, repository.Admission{Content: planContent()})

	i := h.runner.workflow.Index(StagePrimaryTable)
	h.runner.workflow[i].Handler = &interruptingHandler{
		StageHandler: h.runner.workflow[i].Handler,
		interrupt: func() {
			if _, err := h.runner.Retry(ctx, doc.ID, RetryBasicInfo); err != nil {
				t.Errorf("retry: %v", err)
			}
		},
	}
	if err := h.runner.Start(ctx, doc.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	got := h.load(t, doc.ID)
	if got.Stage != constants.StageAllCompleted || got.Status != constants.StatusCompleted {
		t.Fatalf("doc = %s/%s (%s)", got.Stage, got.Status, got.ErrorMessage)
	}
	if got.PrimaryTable == nil || len(got.PrimaryTable.Years) != 2 {
		t.Errorf("primary table = %+v, want the retried run's result", got.PrimaryTable)
	}
	if n := h.fake.CallsMatching(matchBasicInfo); n != 2 {
		t.Errorf("basic info calls = %d, want 2", n)
	}
	// the interrupted run does not chain on, so the summary runs once
	if n := h.fake.CallsMatching(matchSummary); n != 1 {
		t.Errorf("summary calls = %d, want 1", n)
	}
}

func TestManualRetryRecoversFailedDocument(t *testing.T) {
	h := newHarness(t, defaultRules()...)
	ctx := context.Background()
	doc, _ := h.repo.Create(ctx, repository.NewDocument{FileName: "plan.pdf"})
	_ = h.repo.Admit(ctx, doc.ID, repository.Admission{Content: planContent()})
	msg := "worker crashed"
	_ = h.repo.Advance(ctx, doc.ID, repository.Transition{Stage: constants.StageError, Status: constants.StatusFailed, ErrorMessage: &msg})

	if _, err := h.runner.Retry(ctx, doc.ID, RetryAll); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got := h.load(t, doc.ID)
	if got.Stage != constants.StageAllCompleted || got.ErrorMessage != "" {
		t.Errorf("doc = %s %q", got.Stage, got.ErrorMessage)
	}
}

func TestManualRetryValidation(t *testing.T) {
	h := newHarness(t, defaultRules()...)
	ctx := context.Background()
	doc, _ := h.repo.Create(ctx, repository.NewDocument{FileName: "plan.pdf"})

	if _, err := h.runner.Retry(ctx, doc.ID, RetrySummary); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("retry without content err = %v", err)
	}
	if _, err := ParseRetryTarget("tables"); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("unknown target err = %v", err)
	}
	if tgt, err := ParseRetryTarget(""); err != nil || tgt != RetryAll {
		t.Errorf("empty target = %q, %v", tgt, err)
	}
	if _, err := h.runner.Retry(ctx, "missing", RetryAll); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("missing doc err = %v", err)
	}
}

func TestResumeContinuesInterruptedChain(t *testing.T) {
	h := newHarness(t, defaultRules()...)
	ctx := context.Background()
	doc, _ := h.repo.Create(ctx, repository.NewDocument{FileName: "plan.pdf"})
	_ = h.repo.Admit(ctx, doc.ID, repository.Admission{Content: planContent()})
	h.walk(t, doc.ID,
		constants.StageExtractingTableSource, constants.StageTableSourceCompleted,
		constants.StageExtractingBasicInfo, constants.StageBasicInfoCompleted,
		constants.StageExtractingTableSummary,
	)

	n, err := h.runner.Resume(ctx, 0)
	if err != nil || n != 1 {
		t.Fatalf("resume = %d, %v", n, err)
	}
	got := h.load(t, doc.ID)
	if got.Stage != constants.StageAllCompleted {
		t.Errorf("stage = %s", got.Stage)
	}
	if h.fake.CallsMatching(matchBasicInfo) != 0 {
		t.Error("resume re-ran a completed stage")
	}
}

func TestDecide(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, OnExhausted: Degrade}
	transient := errors.New("timeout")
	cases := []struct {
		policy  RetryPolicy
		attempt int
		err     error
		want    Action
	}{
		{p, 1, transient, ActionRetry},
		{p, 2, transient, ActionRetry},
		{p, 3, transient, ActionDegrade},
		{p, 1, common.Fatalf("no content"), ActionTerminate},
		{RetryPolicy{MaxAttempts: 2, OnExhausted: Terminate}, 2, transient, ActionTerminate},
		{RetryPolicy{MaxAttempts: 1}, 1, transient, ActionDegrade},
	}
	for _, c := range cases {
		if got := c.policy.Decide(c.attempt, c.err); got != c.want {
			t.Errorf("Decide(%d, %v) = %s, want %s", c.attempt, c.err, got, c.want)
		}
	}
}

func TestWorkflowNavigation(t *testing.T) {
	wf := NewWorkflow(nil, InferencePolicy(3, 0))
	if wf.Predecessor(0) != constants.StagePending || wf.Predecessor(3) != constants.StageTableSummaryCompleted {
		t.Errorf("predecessors = %s %s", wf.Predecessor(0), wf.Predecessor(3))
	}
	cases := map[constants.ProcessingStage]int{
		constants.StagePending:                 0,
		constants.StageExtractingBasicInfo:     1,
		constants.StageTableSummaryCompleted:   3,
		constants.StageSecondaryTableCompleted: 5,
	}
	for marker, want := range cases {
		if got, ok := wf.Resume(marker); !ok || got != want {
			t.Errorf("Resume(%s) = %d,%v want %d", marker, got, ok, want)
		}
	}
	if _, ok := wf.Resume(constants.StageAllCompleted); ok {
		t.Error("completed document should not resume")
	}
}
