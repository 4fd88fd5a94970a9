package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sheetdesk/api/internal/auth"
	"sheetdesk/api/internal/authpw"
	"sheetdesk/api/internal/autosave"
	"sheetdesk/api/internal/export"
	"sheetdesk/api/internal/rbac"
	sessionstore "sheetdesk/api/internal/session"
	"sheetdesk/api/internal/sheet"
	"sheetdesk/api/internal/verify"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger

	// public holds the routes served without a bearer token, keyed by "METHOD /path".
	public map[string]http.HandlerFunc
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger.Named("http")}
	s.public = map[string]http.HandlerFunc{
		"GET /api/health":           s.handleHealth,
		"HEAD /api/health":          s.handleHealth,
		"GET /api/ready":            s.handleReady,
		"HEAD /api/ready":           s.handleReady,
		"POST /api/auth/signup":     s.handleAuthSignUp,
		"POST /api/auth/signin":     s.handleAuthSignIn,
		"GET /api/session":          s.handleSession,
		"POST /api/session/refresh": s.handleRefresh,
		"POST /api/session/logout":  s.handleLogout,
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.logger.Info("access denied",
		zap.String("request_id", requestID(r.Context())),
		zap.String("user_id", session.UserID),
		zap.String("role", session.Role),
		zap.String("action", string(action)),
	)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}
	if handler, ok := s.public[r.Method+" "+r.URL.Path]; ok {
		handler(w, r)
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch parts[1] {
	case "me":
		if r.Method != http.MethodGet || len(parts) != 2 {
			break
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":    session.UserID,
			"name":  session.UserName,
			"email": session.Email,
			"role":  session.Role,
		})
		return
	case "verify":
		if len(parts) != 2 {
			break
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.handleVerify(w, r, session)
		return
	case "users":
		s.routeUsers(w, r, session, parts[2:])
		return
	case "checklists":
		s.routeChecklists(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleReady reports 503 while the database is unreachable. Search falling back to memory
// does not make the API unready.
func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"search":   map[string]any{"status": "memory"},
	}
	if s.service.SearchHealthy() {
		checks["search"] = map[string]any{"status": "ok"}
	}
	ready := true
	if err := s.service.Ping(ctx); err != nil {
		ready = false
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}

	status, statusCode := "ready", http.StatusOK
	if !ready {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{"ok": ready, "status": status, "checks": checks})
}

func (s *HTTPServer) handleVerify(w http.ResponseWriter, r *http.Request, session Session) {
	if !s.service.Can(session.Role, rbac.ActionVerifyRun) {
		s.forbid(w, r, session, rbac.ActionVerifyRun)
		return
	}
	var body struct {
		Client string `json:"client"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": verify.ErrInvalidClient.Error()})
		return
	}
	result, err := s.service.Verify(r.Context(), session, body.Client)
	if err != nil {
		if errors.Is(err, verify.ErrInvalidClient) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, result.Status, result)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, sessionstore.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, sheet.ErrMalformedUpload):
		return http.StatusUnprocessableEntity, "MALFORMED_UPLOAD", err.Error(), nil
	case errors.Is(err, authpw.ErrEmailTaken):
		return http.StatusConflict, "EMAIL_TAKEN", "Email already exists", nil
	case errors.Is(err, authpw.ErrInvalidInput):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil
	case errors.Is(err, authpw.ErrRoleNotAllowed):
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'xlsx', 'pdf' or 'docx'", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, autosave.ErrClosed):
		return http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
