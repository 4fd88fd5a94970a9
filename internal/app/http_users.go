package app

import (
	"net/http"

	"sheetdesk/api/internal/rbac"
)

// routeUsers serves /api/users and /api/users/{id}. parts excludes the "api/users" prefix.
func (s *HTTPServer) routeUsers(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if !s.service.Can(session.Role, rbac.ActionUsersManage) {
		s.forbid(w, r, session, rbac.ActionUsersManage)
		return
	}

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			s.handleListUsers(w, r)
		case http.MethodPost:
			s.handleCreateUser(w, r, session)
		case http.MethodDelete:
			// Body-addressed delete used by the admin console.
			var body struct {
				ID string `json:"id"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.handleDeleteUser(w, r, session, body.ID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		s.handleDeleteUser(w, r, session, parts[0])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.service.ListUsers(r.Context())
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *HTTPServer) handleCreateUser(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.CreateUser(r.Context(), session, body.Email, body.Name, body.Password, body.Role)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    user,
		"message": "User created successfully",
	})
}

func (s *HTTPServer) handleDeleteUser(w http.ResponseWriter, r *http.Request, session Session, userID string) {
	if err := s.service.DeleteUser(r.Context(), session, userID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "User deleted successfully"})
}
