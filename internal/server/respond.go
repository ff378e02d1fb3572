package server

import (
	"encoding/json"
	"net/http"

	"github.com/scribe-rag/scribe/internal/errors"
	"github.com/scribe-rag/scribe/internal/sanitize"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

// writeFail maps an error kind to an HTTP status and sends the sanitized
// message. Full detail stays in server logs.
func (s *Server) writeFail(w http.ResponseWriter, err error) {
	s.writeError(w, err, statusForKind(errors.KindOf(err)))
}

func (s *Server) writeError(w http.ResponseWriter, err error, status int) {
	if status >= 500 {
		s.logger.Error("request failed", "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "status", status, "error", err)
	}
	s.writeJSON(w, status, errorBody{
		Error: sanitize.Error(err),
		Kind:  string(errors.KindOf(err)),
	})
}

func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindConflict:
		return http.StatusConflict
	case errors.KindTransient:
		return http.StatusServiceUnavailable
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	case errors.KindUpstream:
		return http.StatusBadGateway
	case errors.KindIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
