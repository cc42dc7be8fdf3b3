package server

import (
	"encoding/json"
	"net/http"

	"github.com/longanisha/Mahidol-Forum-sub000/navigation"
)

type unloadRequest struct {
	Persisted bool              `json:"persisted"`
	Intent    navigation.Intent `json:"intent"`
}

// UnloadHandler is called by the host shell when the page goes away.
func (s *Server) UnloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req unloadRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeJSONError(w, "invalid_request", "malformed unload event: "+err.Error(), http.StatusBadRequest)
			return
		}
		switch req.Intent {
		case "":
			req.Intent = navigation.IntentUnknown
		case navigation.IntentUnknown, navigation.IntentReload, navigation.IntentClose:
		default:
			writeJSONError(w, "invalid_request", "unknown intent "+string(req.Intent), http.StatusBadRequest)
			return
		}

		outcome, err := s.facade.HandleUnload(r.Context(), navigation.UnloadEvent{Persisted: req.Persisted, Intent: req.Intent})
		if err != nil {
			s.logger.Warn().Err(err).Str("outcome", string(outcome)).Msg("unload handling")
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
	}
}
