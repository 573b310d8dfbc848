// Package server exposes the webhook and document endpoints over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/joseph-ayodele/plan-analyzer/internal/admission"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/ocr"
	"github.com/joseph-ayodele/plan-analyzer/internal/pipeline"
	"github.com/joseph-ayodele/plan-analyzer/internal/repository"
)

// Admitter runs the admission gate for a pre-created document.
type Admitter interface {
	Admit(ctx context.Context, docID, content string, meta map[string]string) (admission.Result, error)
}

// Retrier restarts a document's chain at a retry target.
type Retrier interface {
	Retry(ctx context.Context, docID string, target pipeline.RetryTarget) (pipeline.Stage, error)
}

// Exporter renders a document's value tables as a workbook.
type Exporter interface {
	ExportPlanXLSX(ctx context.Context, docID string) ([]byte, error)
}

// Deps are the collaborators behind the HTTP surface. Metrics and Ready are optional.
type Deps struct {
	Documents repository.DocumentRepository
	Admission Admitter
	Fetcher   ocr.Fetcher
	Retrier   Retrier
	Exporter  Exporter
	Metrics   http.Handler
	Ready     func(ctx context.Context) error
}

type Server struct {
	deps   Deps
	logger *slog.Logger
}

func New(deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, logger: logger}
}

// maxBody bounds request bodies; OCR text for a long proposal stays well under it.
const maxBody = 32 << 20

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/ocr/webhook", s.handleWebhook)
		r.Post("/documents", s.handleCreateDocument)
		r.Route("/documents/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetDocument)
			r.Get("/status", s.handleStatus)
			r.Post("/retry", s.handleRetry)
			r.Get("/tables.xlsx", s.handleExport)
		})
	})
	return r
}

// requestLogger carries chi's request id into the context and logs one line
// per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		ctx := common.WithRequestID(r.Context(), reqID)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))
		s.logger.Info("http.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"request_id", reqID,
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("http.health.unready", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
