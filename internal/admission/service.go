package admission

import (
	"context"
	"errors"
	"log/slog"

	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/metrics"
	"github.com/joseph-ayodele/plan-analyzer/internal/repository"
)

// Starter kicks off the analysis chain for an admitted document.
type Starter interface {
	Start(ctx context.Context, docID string) error
}

// Service runs the gate against a pre-created document and either admits it
// and starts the pipeline, or deletes it.
type Service struct {
	gate    Gate
	repo    repository.DocumentRepository
	starter Starter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewService(gate Gate, repo repository.DocumentRepository, starter Starter, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gate: gate, repo: repo, starter: starter, metrics: m, logger: logger}
}

// Admit stores content on the document and schedules the first stage when the
// gate accepts it. A rejected document is deleted. The returned error is only
// set for store or scheduling failures, never for a rejection. A document
// that was already admitted yields an error wrapping common.ErrConflict and is
// not started again.
func (s *Service) Admit(ctx context.Context, docID, content string, meta map[string]string) (Result, error) {
	res := s.gate.Check(content)
	log := s.logger.With("doc_id", docID, "content_len", len(content))
	if !res.Accepted {
		s.metrics.RecordAdmission(string(res.Reason))
		log.Warn("admission.rejected", "reason", res.Reason)
		if err := s.repo.Delete(ctx, docID); err != nil && !errors.Is(err, common.ErrNotFound) {
			return res, err
		}
		return res, nil
	}

	if err := s.repo.Admit(ctx, docID, repository.Admission{Content: content, Meta: meta}); err != nil {
		if errors.Is(err, common.ErrConflict) {
			log.Info("admission.duplicate")
		}
		return Result{}, err
	}
	s.metrics.RecordAdmission("accepted")
	log.Info("admission.accepted")
	if err := s.starter.Start(ctx, docID); err != nil {
		log.Error("admission.start_failed", "error", err)
		return res, err
	}
	return res, nil
}
