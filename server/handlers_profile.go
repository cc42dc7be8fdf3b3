package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/longanisha/Mahidol-Forum-sub000/internal/errors"
	"github.com/longanisha/Mahidol-Forum-sub000/profiles"
)

const maxBodyBytes = 64 << 10

// RefreshProfileHandler re-reads the profile; ?force=true skips the cache.
func (s *Server) RefreshProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		force := false
		if raw := r.URL.Query().Get("force"); raw != "" {
			var err error
			if force, err = strconv.ParseBool(raw); err != nil {
				writeJSONError(w, "invalid_request", "force must be a boolean", http.StatusBadRequest)
				return
			}
		}

		profile, err := s.facade.RefreshProfile(r.Context(), force)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

// PatchProfileHandler applies a local optimistic patch without a backend call.
func (s *Server) PatchProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patch, ok := decodePatch(w, r)
		if !ok {
			return
		}
		if !s.facade.PatchProfile(r.Context(), patch) {
			writeFailure(w, errors.ErrNoProfile)
			return
		}
		writeJSON(w, http.StatusOK, s.facade.Snapshot().Profile)
	}
}

// SaveProfileHandler sends the user editable fields to the backend.
func (s *Server) SaveProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patch, ok := decodePatch(w, r)
		if !ok {
			return
		}
		saved, err := s.facade.SaveProfile(r.Context(), patch)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func decodePatch(w http.ResponseWriter, r *http.Request) (profiles.Patch, bool) {
	var patch profiles.Patch
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		writeJSONError(w, "invalid_request", "malformed profile patch: "+err.Error(), http.StatusBadRequest)
		return patch, false
	}
	if patch.Empty() {
		writeJSONError(w, "invalid_request", "empty profile patch", http.StatusBadRequest)
		return patch, false
	}
	return patch, true
}
