package admission

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joseph-ayodele/plan-analyzer/constants"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/metrics"
	"github.com/joseph-ayodele/plan-analyzer/internal/repository"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const table = `<table><tr><td>Policy year</td><td>Surrender value</td></tr><tr><td>1</td><td>1,000</td></tr></table>`

func TestGateCheck(t *testing.T) {
	g := DefaultGate()
	filler := strings.Repeat("x", 1000)
	cases := []struct {
		name    string
		content string
		want    Result
	}{
		{"short", strings.Repeat("a", 500), Result{Reason: ReasonContentTooShort}},
		{"no tables", filler, Result{Reason: ReasonNoTables}},
		{"tiny table", filler + "<table><tr></tr></table>", Result{Reason: ReasonTablesTooShort}},
		{"accepted", filler + table, Result{Accepted: true}},
		{"upper case tag", filler + strings.ToUpper(table), Result{Accepted: true}},
		{"unclosed table", filler + "<table>" + strings.Repeat("1 ", 100), Result{Reason: ReasonNoTables}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := g.Check(c.content); got != c.want {
				t.Errorf("Check = %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestGateCountsCharactersNotBytes(t *testing.T) {
	g := Gate{MinContentLength: 10, MinTableLength: 1}
	// 9 runes, 27 bytes
	if got := g.Check(strings.Repeat("保", 9)); got.Reason != ReasonContentTooShort {
		t.Errorf("Check = %+v", got)
	}
}

func TestTableSourceJoinsRegions(t *testing.T) {
	content := "intro <TABLE border=1>a</TABLE> middle <table>b</table> end"
	got := TableSource(content)
	want := "<TABLE border=1>a</TABLE>\n\n<table>b</table>"
	if got != want {
		t.Errorf("TableSource = %q, want %q", got, want)
	}
	if TableSource("no tables here") != "" {
		t.Error("expected empty table source")
	}
}

type recordStarter struct {
	started []string
	err     error
}

func (r *recordStarter) Start(_ context.Context, id string) error {
	r.started = append(r.started, id)
	return r.err
}

func newService(t *testing.T, starter Starter) (*Service, repository.DocumentRepository, *metrics.Metrics) {
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
	repo := repository.NewDocumentRepository(db, quiet)
	m := metrics.New(prometheus.NewRegistry())
	return NewService(DefaultGate(), repo, starter, m, quiet), repo, m
}

func TestAdmitRejectDeletesDocument(t *testing.T) {
	starter := &recordStarter{}
	svc, repo, m := newService(t, starter)
	ctx := context.Background()
	doc, _ := repo.Create(ctx, repository.NewDocument{FileName: "scan.pdf"})

	res, err := svc.Admit(ctx, doc.ID, strings.Repeat("a", 500), nil)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if res.Accepted || res.Reason != ReasonContentTooShort {
		t.Errorf("result = %+v", res)
	}
	if _, err := repo.GetByID(ctx, doc.ID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("rejected document still present: %v", err)
	}
	if len(starter.started) != 0 {
		t.Error("rejected document was started")
	}
	if got := testutil.ToFloat64(m.AdmissionsTotal.WithLabelValues(string(ReasonContentTooShort))); got != 1 {
		t.Errorf("rejection counter = %v", got)
	}
}

func TestAdmitAcceptStoresContentAndStarts(t *testing.T) {
	starter := &recordStarter{}
	svc, repo, _ := newService(t, starter)
	ctx := context.Background()
	doc, _ := repo.Create(ctx, repository.NewDocument{FileName: "plan.pdf"})
	content := strings.Repeat("Plan text. ", 450) + table

	res, err := svc.Admit(ctx, doc.ID, content, map[string]string{"result_dir": "/out/1"})
	if err != nil || !res.Accepted {
		t.Fatalf("admit = %+v, %v", res, err)
	}
	got, err := repo.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != constants.StagePending || got.Status != constants.StatusProcessing {
		t.Errorf("doc = %s/%s", got.Stage, got.Status)
	}
	if got.Content != content || got.OCRMeta["result_dir"] != "/out/1" {
		t.Errorf("content or meta not stored: %d %v", len(got.Content), got.OCRMeta)
	}
	if len(starter.started) != 1 || starter.started[0] != doc.ID {
		t.Errorf("started = %v", starter.started)
	}
}

func TestAdmitReportsStartFailure(t *testing.T) {
	starter := &recordStarter{err: errors.New("queue closed")}
	svc, repo, _ := newService(t, starter)
	ctx := context.Background()
	doc, _ := repo.Create(ctx, repository.NewDocument{FileName: "plan.pdf"})

	res, err := svc.Admit(ctx, doc.ID, strings.Repeat("z", 1200)+table, nil)
	if err == nil || !res.Accepted {
		t.Errorf("admit = %+v, %v", res, err)
	}
}

func TestAdmitTwiceStartsOnce(t *testing.T) {
	starter := &recordStarter{}
	svc, repo, _ := newService(t, starter)
	ctx := context.Background()
	doc, _ := repo.Create(ctx, repository.NewDocument{FileName: "plan.pdf"})
	content := strings.Repeat("Plan text. ", 450) + table

	if res, err := svc.Admit(ctx, doc.ID, content, nil); err != nil || !res.Accepted {
		t.Fatalf("first admit = %+v, %v", res, err)
	}
	res, err := svc.Admit(ctx, doc.ID, content, nil)
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("second admit = %+v, %v; want ErrConflict", res, err)
	}
	if len(starter.started) != 1 {
		t.Errorf("started = %v, want one start", starter.started)
	}
}
