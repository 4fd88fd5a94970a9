package app

import (
	"database/sql"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"sheetdesk/api/internal/auth"
	"sheetdesk/api/internal/authpw"
)

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	switch {
	case err == nil:
		return session, true
	case errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	default:
		s.logger.Error("session lookup failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
	}
	return Session{}, false
}

// handleSession never fails: a missing or stale token reports an anonymous session.
func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	anonymous := map[string]any{"authenticated": false, "userName": nil}
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, anonymous)
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, anonymous)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userName":      session.UserName,
		"userId":        session.UserID,
		"email":         session.Email,
		"role":          session.Role,
	})
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

// handleLogout revokes whatever it is given: the bearer's access token, the refresh token,
// or both. It always answers ok.
func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	var session Session
	if token := bearerToken(r); token != "" {
		if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			session = parsed
		}
	}
	var body refreshBody
	_ = decodeBody(r, &body)
	if err := s.service.Logout(r.Context(), session, body.RefreshToken); err != nil {
		s.logger.Warn("logout incomplete", zap.String("user_id", session.UserID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.Name)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sessionPayload(session))
	case errors.Is(err, authpw.ErrInvalidInput), errors.Is(err, authpw.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	default:
		s.logger.Error("sign in failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "SESSION_FAILED", "Failed to create session", nil)
	}
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"email":        session.Email,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}
