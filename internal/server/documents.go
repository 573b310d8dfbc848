package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/joseph-ayodele/plan-analyzer/constants"
	"github.com/joseph-ayodele/plan-analyzer/internal/admission"
	"github.com/joseph-ayodele/plan-analyzer/internal/common"
	"github.com/joseph-ayodele/plan-analyzer/internal/entity"
	"github.com/joseph-ayodele/plan-analyzer/internal/pipeline"
	"github.com/joseph-ayodele/plan-analyzer/internal/repository"
)

type createDocumentRequest struct {
	FileName string `json:"file_name"`
	UserID   string `json:"user_id"`
	FileRef  string `json:"file_ref"`
	Content  string `json:"content,omitempty"`
}

type createDocumentResponse struct {
	DocumentID string                    `json:"document_id"`
	Stage      constants.ProcessingStage `json:"processing_stage"`
	Status     constants.DocumentStatus  `json:"status"`
	Admission  *admission.Result         `json:"admission,omitempty"`
}

// handleCreateDocument registers a document waiting for OCR. When the caller
// already has the text, admission runs right away.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req createDocumentRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	v := common.NewValidator().
		Field("file_name", req.FileName, common.Required, common.MaxLength(255)).
		Field("user_id", req.UserID, common.MaxLength(64)).
		Field("file_ref", req.FileRef, common.MaxLength(1024))
	if err := v.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx := r.Context()
	doc, err := s.deps.Documents.Create(ctx, repository.NewDocument{
		UserID:   strings.TrimSpace(req.UserID),
		FileName: strings.TrimSpace(req.FileName),
		FileRef:  strings.TrimSpace(req.FileRef),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := createDocumentResponse{DocumentID: doc.ID, Stage: doc.Stage, Status: doc.Status}
	if req.Content == "" {
		writeJSON(w, http.StatusCreated, resp)
		return
	}

	res, err := s.deps.Admission.Admit(ctx, doc.ID, req.Content, map[string]string{"source": "api"})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp.Admission = &res
	if !res.Accepted {
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	resp.Stage, resp.Status = constants.StagePending, constants.StatusProcessing
	writeJSON(w, http.StatusCreated, resp)
}

// documentView is the read surface of a document.
type documentView struct {
	*entity.Document
	ProgressPercentage int `json:"progress_percentage"`
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Documents.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documentView{Document: doc, ProgressPercentage: doc.Stage.Progress()})
}

type statusResponse struct {
	DocumentID         string                    `json:"document_id"`
	Stage              constants.ProcessingStage `json:"processing_stage"`
	ProgressPercentage int                       `json:"progress_percentage"`
	Status             constants.DocumentStatus  `json:"status"`
	ErrorMessage       string                    `json:"error_message"`
	LastProcessedAt    *time.Time                `json:"last_processed_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Documents.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		DocumentID:         doc.ID,
		Stage:              doc.Stage,
		ProgressPercentage: doc.Stage.Progress(),
		Status:             doc.Status,
		ErrorMessage:       doc.ErrorMessage,
		LastProcessedAt:    doc.LastProcessedAt,
	})
}

type retryRequest struct {
	RetryStage string `json:"retry_stage"`
}

type retryResponse struct {
	DocumentID string `json:"document_id"`
	RetryStage string `json:"retry_stage"`
	Stage      string `json:"stage"`
	Message    string `json:"message"`
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	v := common.NewValidator().
		Field("retry_stage", req.RetryStage, common.OneOf(pipeline.RetryTargets()...))
	if err := v.Err(); err != nil {
		s.writeError(w, r, err)
		return
	}
	target, err := pipeline.ParseRetryTarget(req.RetryStage)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	st, err := s.deps.Retrier.Retry(r.Context(), id, target)
	if err != nil {
		s.logger.Warn("http.retry.failed", "doc_id", id, "target", target, "error", err)
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, retryResponse{
		DocumentID: id,
		RetryStage: string(target),
		Stage:      st.Name,
		Message:    fmt.Sprintf("retry scheduled from %s", st.Name),
	})
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	data, err := s.deps.Exporter.ExportPlanXLSX(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
