package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/longanisha/Mahidol-Forum-sub000/server/authflowrepo"
	"golang.org/x/oauth2"
)

// SignInHandler starts the authorization code flow with PKCE and sends the
// browser to the provider.
func (s *Server) SignInHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := s.nowTime()
		if pruned := s.authState.Prune(now.Add(-s.flowTTL)); pruned > 0 {
			s.logger.Debug().Int("pruned", pruned).Msg("expired sign-in flows")
		}

		state := uuid.NewString()
		flow := &authflowrepo.AuthFlowState{
			CodeVerifier: oauth2.GenerateVerifier(),
			Nonce:        uuid.NewString(),
			ReturnURL:    safeReturnURL(r.URL.Query().Get("return_to")),
			CreatedAt:    now,
		}
		if err := s.authState.Upsert(state, flow); err != nil {
			writeJSONError(w, "server_error", err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, s.signIn.AuthCodeURL(state, flow.CodeVerifier, flow.Nonce), http.StatusFound)
	}
}

// CallbackHandler completes the flow the provider redirected back from. The
// new session reaches the facade as a SIGNED_IN push.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := r.FormValue("state")
		code := r.FormValue("code")

		if errorParam := r.FormValue("error"); errorParam != "" {
			http.Error(w, fmt.Sprintf("Authorization failed: %s - %s", errorParam, r.FormValue("error_description")), http.StatusBadRequest)
			return
		}
		if code == "" || state == "" {
			http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
			return
		}

		flow, err := s.authState.Get(state)
		if err != nil || flow == nil {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}
		// Single use, whatever happens next
		if err := s.authState.Delete(state); err != nil {
			http.Error(w, "Invalid state parameter", http.StatusInternalServerError)
			return
		}
		if flow.Expired(s.nowTime(), s.flowTTL) {
			http.Error(w, "Sign-in flow expired", http.StatusBadRequest)
			return
		}

		session, err := s.signIn.SignIn(r.Context(), code, flow.CodeVerifier, flow.Nonce)
		if err != nil {
			s.logger.Warn().Err(err).Msg("sign-in failed")
			status, _ := statusForError(err)
			http.Error(w, fmt.Sprintf("Sign-in failed: %v", err), status)
			return
		}
		s.logger.Info().Str("identity", session.Identity.String()).Msg("sign-in completed")
		http.Redirect(w, r, flow.ReturnURL, http.StatusFound)
	}
}

func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.facade.SignOut(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
}

// safeReturnURL only allows local paths so the callback cannot be used as an
// open redirect.
func safeReturnURL(returnTo string) string {
	if !strings.HasPrefix(returnTo, "/") || strings.HasPrefix(returnTo, "//") || strings.Contains(returnTo, `\`) {
		return RouteState
	}
	return returnTo
}

