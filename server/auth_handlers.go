package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bionicpro/auth-service/internal/errors"
)

const contentTypeJSON = "application/json; charset=utf-8"

// LoginHandler starts the authorization-code flow: it binds a fresh PKCE
// bundle and redirects the browser to the provider.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authURL, err := s.manager.Login(r.Context())
		if err != nil {
			log.Err(err).Msg("login failed")
			s.writeError(w, err)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// CallbackHandler completes the flow: it exchanges the code for tokens,
// creates the session, sets the cookie, and sends the browser back to the
// frontend.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		state := r.URL.Query().Get("state")
		if code == "" || state == "" {
			http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
			return
		}

		session, err := s.manager.Callback(r.Context(), code, state)
		if err != nil {
			log.Err(err).Msg("callback failed")
			s.writeError(w, err)
			return
		}

		s.SetSessionCookie(w, r, session.ID)
		http.Redirect(w, r, s.config.GetFrontendURL(), http.StatusFound)
	}
}

// LogoutHandler revokes at the provider on a best-effort basis, deletes
// the session, clears the cookie, and redirects to the frontend. It
// succeeds even when the provider is down.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessionID := s.sessionIDFromRequest(r); sessionID != "" {
			if err := s.manager.Logout(r.Context(), sessionID); err != nil {
				log.Err(err).Msg("logout failed")
				s.writeError(w, err)
				return
			}
		}
		s.ClearSessionCookie(w, r)
		http.Redirect(w, r, s.config.GetFrontendURL(), http.StatusFound)
	}
}

// SessionInfoHandler reports session status without exposing tokens, and
// rotates the session identifier on every call.
func (s *Server) SessionInfoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := s.sessionIDFromRequest(r)
		if sessionID == "" {
			s.writeError(w, errors.ErrNoSession)
			return
		}

		info, err := s.manager.SessionInfo(r.Context(), sessionID)
		if err != nil {
			log.Err(err).Msg("session info failed")
			s.writeError(w, err)
			return
		}

		s.SetSessionCookie(w, r, info.SessionID)
		s.writeJSON(w, http.StatusOK, map[string]any{
			"authenticated":       info.Authenticated,
			"session_valid_until": info.ValidUntil.Format(time.RFC3339),
		})
	}
}

// ValidateHandler returns the raw access token for internal services. The
// route must be reachable only from the internal network.
func (s *Server) ValidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := s.sessionIDFromRequest(r)
		if sessionID == "" {
			s.writeError(w, errors.ErrNoSession)
			return
		}

		accessToken, err := s.manager.Validate(r.Context(), sessionID)
		if err != nil {
			log.Err(err).Msg("validate failed")
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]any{"access_token": accessToken})
	}
}

// HealthHandler reports liveness, including store reachability.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Ping(r.Context()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded"})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Err(err).Msg("failed to encode response")
	}
}

// writeError maps error kinds to status codes. A store failure is never
// reported as a missing session.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrNoSession), errors.Is(err, errors.ErrSessionExpired):
		s.writeErrorJSON(w, http.StatusUnauthorized, "not_authenticated")
	case errors.Is(err, errors.ErrInvalidState):
		s.writeErrorJSON(w, http.StatusBadRequest, "invalid_state")
	case errors.Is(err, errors.ErrUpstreamRejected):
		s.writeErrorJSON(w, http.StatusUnauthorized, "provider_rejected")
	case errors.Is(err, errors.ErrUpstreamUnavailable):
		s.writeErrorJSON(w, http.StatusBadGateway, "provider_unavailable")
	case errors.Is(err, errors.ErrStoreUnavailable):
		s.writeErrorJSON(w, http.StatusServiceUnavailable, "store_unavailable")
	default:
		s.writeErrorJSON(w, http.StatusInternalServerError, "internal_error")
	}
}

func (s *Server) writeErrorJSON(w http.ResponseWriter, status int, code string) {
	body := map[string]any{"error": code}
	if status == http.StatusUnauthorized {
		body["authenticated"] = false
	}
	s.writeJSON(w, status, body)
}
