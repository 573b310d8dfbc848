package server

import (
	"cmp"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/joseph-ayodele/plan-analyzer/internal/admission"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
)

// webhookRequest accepts both the OCR service's snake_case names and the
// camelCase aliases.
type webhookRequest struct {
	TaskID         string `json:"task_id"`
	DocumentRef    string `json:"documentRef"`
	ResultDir      string `json:"result_dir"`
	ResultLocation string `json:"resultLocation"`
	CompletedAt    string `json:"completed_at,omitempty"`
}

type webhookResponse struct {
	Accepted   bool             `json:"accepted"`
	DocumentID string           `json:"document_id"`
	Reason     admission.Reason `json:"reason,omitempty"`
	Duplicate  bool             `json:"duplicate,omitempty"`
	Error      string           `json:"error,omitempty"`
}

const fetchFailedMessage = "failed to fetch OCR result"

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	docID := strings.TrimSpace(cmp.Or(req.TaskID, req.DocumentRef))
	location := strings.TrimSpace(cmp.Or(req.ResultDir, req.ResultLocation))
	v := common.NewValidator().
		Field("task_id", docID, common.Required, common.UUID).
		Field("result_dir", location, common.Required)
	if err := v.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := common.WithDocumentID(r.Context(), docID)
	log := s.logger.With("doc_id", docID, "result_dir", location, "request_id", common.RequestIDFromContext(ctx))
	received := time.Now().UTC()

	doc, err := s.deps.Documents.GetByID(ctx, docID)
	if err != nil {
		log.Warn("webhook.lookup_failed", "error", err)
		s.writeError(w, r, err)
		return
	}
	if !doc.Stage.BeforeAdmission() {
		log.Info("webhook.duplicate", "stage", doc.Stage)
		writeJSON(w, http.StatusOK, webhookResponse{Accepted: true, DocumentID: docID, Duplicate: true})
		return
	}

	content, err := s.deps.Fetcher.Fetch(ctx, location)
	if err != nil {
		log.Error("webhook.fetch_failed", "error", err)
		if mErr := s.deps.Documents.MarkFailed(ctx, docID, fetchFailedMessage); mErr != nil {
			log.Error("webhook.mark_failed", "error", mErr)
		}
		writeJSON(w, http.StatusBadGateway, webhookResponse{DocumentID: docID, Error: fetchFailedMessage})
		return
	}

	meta := map[string]string{
		"result_dir":          location,
		"webhook_received_at": received.Format(time.RFC3339),
		"ocr_completed_at":    cmp.Or(req.CompletedAt, time.Now().UTC().Format(time.RFC3339)),
	}
	res, err := s.deps.Admission.Admit(ctx, docID, content, meta)
	if errors.Is(err, common.ErrConflict) {
		// a concurrent delivery admitted it first
		log.Info("webhook.duplicate", "error", err)
		writeJSON(w, http.StatusOK, webhookResponse{Accepted: true, DocumentID: docID, Duplicate: true})
		return
	}
	if err != nil {
		log.Error("webhook.admit_failed", "error", err, "accepted", res.Accepted)
		s.writeError(w, r, err)
		return
	}
	if !res.Accepted {
		log.Warn("webhook.rejected", "reason", res.Reason, "content_len", len(content))
		writeJSON(w, http.StatusBadRequest, webhookResponse{DocumentID: docID, Reason: res.Reason})
		return
	}
	log.Info("webhook.accepted", "content_len", len(content))
	writeJSON(w, http.StatusOK, webhookResponse{Accepted: true, DocumentID: docID})
}
