package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"sheetdesk/api/internal/checklist"
	"sheetdesk/api/internal/rbac"
)

// routeChecklists serves /api/checklists/... parts excludes the "api/checklists" prefix.
func (s *HTTPServer) routeChecklists(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	write := r.Method != http.MethodGet && r.Method != http.MethodHead
	action := rbac.ActionChecklistRead
	if write {
		action = rbac.ActionChecklistWrite
	}
	if !s.service.Can(session.Role, action) {
		s.forbid(w, r, session, action)
		return
	}

	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		s.handleListChecklists(w, r, session)
	case len(parts) == 1 && parts[0] == "upload" && r.Method == http.MethodPost:
		s.handleUpload(w, r, session)
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleLoadChecklist(w, r, session, parts[0])
	case len(parts) == 1 && r.Method == http.MethodPut:
		s.handleSaveChecklist(w, r, session, parts[0])
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.handleDeleteChecklist(w, r, session, parts[0])
	case len(parts) == 2 && parts[1] == "edits" && r.Method == http.MethodPatch:
		s.handleEdits(w, r, session, parts[0])
	case len(parts) == 2 && parts[1] == "export" && r.Method == http.MethodGet:
		s.handleExport(w, r, session, parts[0])
	case len(parts) == 2 && parts[1] == "search" && r.Method == http.MethodGet:
		s.handleSearch(w, r, session, parts[0])
	case len(parts) == 2 && parts[1] == "original" && r.Method == http.MethodGet:
		s.handleOriginal(w, r, session, parts[0])
	case len(parts) <= 2:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleListChecklists(w http.ResponseWriter, r *http.Request, session Session) {
	payload, err := s.service.ListChecklists(r.Context(), session, r.URL.Query().Get("q"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session) {
	limit := s.service.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "Upload exceeds the size limit", map[string]any{"limitBytes": limit})
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form with a 'file' field is required", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form with a 'file' field is required", nil)
		return
	}
	defer file.Close()
	if header.Size > limit {
		writeError(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", "Upload exceeds the size limit", map[string]any{"limitBytes": limit})
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read upload", nil)
		return
	}

	result, err := s.service.Upload(r.Context(), session, r.FormValue("sessionId"), header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleLoadChecklist(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	doc, err := s.service.LoadChecklist(r.Context(), session, sessionID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *HTTPServer) handleSaveChecklist(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	var body struct {
		Filename string          `json:"filename"`
		Data     json.RawMessage `json:"data"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	doc, err := s.service.SaveChecklist(r.Context(), session, sessionID, body.Filename, body.Data)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": true, "sessionId": doc.SessionID, "updatedAt": doc.UpdatedAt})
}

func (s *HTTPServer) handleDeleteChecklist(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	if err := s.service.DeleteChecklist(r.Context(), session, sessionID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true, "sessionId": sessionID})
}

func (s *HTTPServer) handleEdits(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	var body struct {
		Edits []checklist.Edit `json:"edits"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sections, err := s.service.ApplyEdits(r.Context(), session, sessionID, body.Edits)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": sessionID, "sections": sections})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	result, err := s.service.ExportChecklist(r.Context(), session, sessionID, r.URL.Query().Get("format"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeAttachment(w, result.Filename, result.MimeType, result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	resp, err := s.service.SearchChecklist(r.Context(), session, sessionID, r.URL.Query().Get("q"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleOriginal(w http.ResponseWriter, r *http.Request, session Session, sessionID string) {
	obj, err := s.service.Original(r.Context(), session, sessionID)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeAttachment(w, obj.Filename, obj.ContentType, obj.Data)
}

// writeAttachment sends data as a download. The quoted filename is ASCII-safe; filename*
// carries the exact UTF-8 name.
func writeAttachment(w http.ResponseWriter, filename, contentType string, data []byte) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	plain := strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 || r > 0x7e {
			return '_'
		}
		return r
	}, filename)
	w.Header().Set("Content-Disposition", `attachment; filename="`+plain+`"; filename*=UTF-8''`+url.PathEscape(filename))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
