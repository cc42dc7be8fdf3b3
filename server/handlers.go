package server

import (
	"encoding/json"
	"net/http"

	"github.com/longanisha/Mahidol-Forum-sub000/backend"
	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
)

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// StateHandler returns the current snapshot. The session itself never leaves
// the agent; the host only learns the identity and the profile.
func (s *Server) StateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.facade.Snapshot())
	}
}

func (s *Server) NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, "not_found", "no such route", http.StatusNotFound)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes an error response
func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

type errorResponse struct {
	Error       string               `json:"error"`
	Description string               `json:"error_description"`
	Fields      []backend.FieldError `json:"fields,omitempty"`
}

// writeFailure maps err onto a status and writes it. Backend field errors are
// passed through so the host can show them next to the inputs.
func writeFailure(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	resp := errorResponse{Error: code, Description: err.Error()}
	var callErr *backend.CallError
	if errors.As(err, &callErr) {
		resp.Fields = callErr.Fields
	}
	writeJSON(w, status, resp)
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, errors.ErrProfileFetchFailed):
		return http.StatusBadGateway, "profile_fetch_failed"
	case errors.Is(err, errors.ErrNoSession):
		return http.StatusUnauthorized, "no_session"
	case errors.Is(err, errors.ErrNoProfile):
		return http.StatusConflict, "no_profile"
	case errors.Is(err, errors.ErrUnauthorized), errors.Is(err, errors.ErrProviderRejected):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errors.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, errors.ErrValidation):
		return http.StatusUnprocessableEntity, "validation"
	case errors.Is(err, errors.ErrUnsupported):
		return http.StatusNotImplemented, "unsupported"
	case errors.Is(err, errors.ErrNetworkUnreachable), errors.Is(err, errors.ErrTimeout), errors.Is(err, errors.ErrOther):
		return http.StatusBadGateway, "upstream"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
