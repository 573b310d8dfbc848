package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/joseph-ayodele/plan-analyzer/internal/common"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status code. Server-side failures are logged and
// their details are not echoed to the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := common.HTTPStatus(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError && code != http.StatusBadGateway {
		s.logger.Error("http.error", "path", r.URL.Path, "error", err, "request_id", common.RequestIDFromContext(r.Context()))
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorResponse{
		Error:     msg,
		Code:      common.ErrorCode(err, http.StatusText(code)),
		RequestID: common.RequestIDFromContext(r.Context()),
	})
}

// decodeJSON reads a JSON body into v. An empty body is allowed when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return common.NewAppError("INVALID_JSON", "request body is not valid JSON", common.ErrInvalidInput)
	}
	return nil
}
