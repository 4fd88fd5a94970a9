package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sheetdesk/api/internal/blob"
	"sheetdesk/api/internal/checklist"
	"sheetdesk/api/internal/export"
	"sheetdesk/api/internal/search"
	"sheetdesk/api/internal/sheet"
	"sheetdesk/api/internal/store"
	"sheetdesk/api/internal/util"
)

const (
	ViewChecklist = "checklist-table"
	ViewRaw       = "raw"
)

// Payload keys the server reads or writes. Any other key a client saves is kept as-is.
const (
	keySheets   = "excelData"
	keySections = "editedGroups"
	keyFilename = "fileName"
	keyViewMode = "viewMode"
)

// UploadResult is returned after a spreadsheet upload.
type UploadResult struct {
	SessionID string              `json:"sessionId"`
	Filename  string              `json:"filename"`
	Sheets    []sheet.Sheet       `json:"sheets"`
	Sections  []checklist.Section `json:"sections"`
	ViewMode  string              `json:"viewMode"`
}

// ChecklistDocument is a saved session as the client sees it.
type ChecklistDocument struct {
	SessionID string          `json:"sessionId"`
	Filename  string          `json:"filename"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// workspace is the server-side copy of one session. Edits lock mu; fields holds the opaque
// payload with sections re-encoded under keySections after every edit.
type workspace struct {
	mu        sync.Mutex
	id        string
	ownerID   string
	filename  string
	fields    map[string]json.RawMessage
	sections  []checklist.Section
	dirty     bool
	deleted   bool
	expiresAt time.Time
}

func newWorkspace(session store.ChecklistSession) *workspace {
	ws := &workspace{
		id:       session.ID,
		ownerID:  session.UserID,
		filename: session.Filename,
		fields:   map[string]json.RawMessage{},
	}
	if err := json.Unmarshal(session.Data, &ws.fields); err != nil || ws.fields == nil {
		ws.fields = map[string]json.RawMessage{}
	}
	if raw, ok := ws.fields[keySections]; ok {
		var sections []checklist.Section
		if err := json.Unmarshal(raw, &sections); err == nil {
			ws.sections = sections
		}
	}
	return ws
}

// payload encodes the workspace for the store. Callers hold ws.mu.
func (ws *workspace) payload() (json.RawMessage, error) {
	sections := ws.sections
	if sections == nil {
		sections = []checklist.Section{}
	}
	raw, err := json.Marshal(sections)
	if err != nil {
		return nil, err
	}
	ws.fields[keySections] = raw
	return json.Marshal(ws.fields)
}

func (s *Service) lookupWorkspace(sessionID string) (*workspace, bool) {
	now := time.Now()
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for key, ws := range s.workspaces {
		if now.After(ws.expiresAt) && ws.mu.TryLock() {
			if !ws.dirty {
				delete(s.workspaces, key)
			}
			ws.mu.Unlock()
		}
	}
	ws, ok := s.workspaces[sessionID]
	if ok {
		ws.expiresAt = now.Add(s.workspaceTTL)
	}
	return ws, ok
}

// replaceWorkspace installs freshly saved state. A cached workspace is updated in place so a
// pending autosave writes the new state rather than the one it captured.
func (s *Service) replaceWorkspace(ws *workspace) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if cached, ok := s.workspaces[ws.id]; ok && cached.ownerID == ws.ownerID {
		cached.mu.Lock()
		cached.filename = ws.filename
		cached.fields = ws.fields
		cached.sections = ws.sections
		cached.dirty = false
		cached.mu.Unlock()
		cached.expiresAt = time.Now().Add(s.workspaceTTL)
		return
	}
	ws.expiresAt = time.Now().Add(s.workspaceTTL)
	s.workspaces[ws.id] = ws
}

// workspaceFor returns the caller's workspace, loading it from the store when it is not
// cached. Sessions of other owners are reported as not found.
func (s *Service) workspaceFor(ctx context.Context, session Session, sessionID string) (*workspace, error) {
	if !util.IsUUID(sessionID) {
		return nil, errSessionNotFound
	}
	if ws, ok := s.lookupWorkspace(sessionID); ok {
		if ws.ownerID != session.UserID {
			return nil, errSessionNotFound
		}
		return ws, nil
	}
	saved, err := s.store.LoadChecklistSession(ctx, sessionID, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errSessionNotFound
		}
		return nil, err
	}

	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	if ws, ok := s.workspaces[sessionID]; ok {
		return ws, nil
	}
	ws := newWorkspace(saved)
	ws.expiresAt = time.Now().Add(s.workspaceTTL)
	s.workspaces[sessionID] = ws
	return ws, nil
}

var errSessionNotFound = notFoundError("Checklist session not found")

// Upload decodes a spreadsheet, normalizes every sheet and rebuilds the checklist from the
// first one. Nothing is stored when decoding fails. An empty sessionID starts a new session.
func (s *Service) Upload(ctx context.Context, session Session, sessionID, filename, contentType string, data []byte) (UploadResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = util.NewID("")
	} else if !util.IsUUID(sessionID) {
		return UploadResult{}, validationError("sessionId must be a UUID", nil)
	}

	raws, err := sheet.Decode(filename, data)
	if err != nil {
		s.logger.Info("upload rejected", zap.String("filename", filename), zap.Error(err))
		return UploadResult{}, err
	}
	sheets := make([]sheet.Sheet, len(raws))
	for i, raw := range raws {
		sheets[i] = sheet.Normalize(raw)
	}
	sections := []checklist.Section{}
	if len(sheets) > 0 {
		sections = checklist.Import(sheets[0], s.cfg.Teams)
	}
	viewMode := ViewChecklist
	if len(sections) == 0 {
		viewMode = ViewRaw
	}

	fields := map[string]json.RawMessage{}
	for key, value := range map[string]any{
		keySheets:   sheets,
		keyFilename: filename,
		keyViewMode: viewMode,
	} {
		raw, err := json.Marshal(value)
		if err != nil {
			return UploadResult{}, err
		}
		fields[key] = raw
	}
	ws := &workspace{id: sessionID, ownerID: session.UserID, filename: filename, fields: fields, sections: sections}
	payload, err := ws.payload()
	if err != nil {
		return UploadResult{}, err
	}

	if _, err := s.store.SaveChecklistSession(ctx, store.ChecklistSession{
		ID: sessionID, UserID: session.UserID, Filename: filename, Data: payload,
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UploadResult{}, errSessionNotFound
		}
		return UploadResult{}, err
	}
	s.replaceWorkspace(ws)
	s.search.IndexSession(sessionID, sections)
	s.archiveOriginal(ctx, sessionID, filename, contentType, data)

	s.logger.Info("checklist uploaded",
		zap.String("session_id", sessionID),
		zap.String("user_id", session.UserID),
		zap.Int("sheets", len(sheets)),
		zap.Int("sections", len(sections)),
		zap.String("view_mode", viewMode),
	)
	return UploadResult{SessionID: sessionID, Filename: filename, Sheets: sheets, Sections: sections, ViewMode: viewMode}, nil
}

func (s *Service) archiveOriginal(ctx context.Context, sessionID, filename, contentType string, data []byte) {
	if !s.archive.Enabled() {
		return
	}
	if err := s.archive.Put(ctx, sessionID, filename, contentType, data); err != nil {
		s.logger.Warn("archive original upload", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// LoadChecklist returns the caller's saved payload.
func (s *Service) LoadChecklist(ctx context.Context, session Session, sessionID string) (ChecklistDocument, error) {
	ws, err := s.workspaceFor(ctx, session, sessionID)
	if err != nil {
		return ChecklistDocument{}, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	payload, err := ws.payload()
	if err != nil {
		return ChecklistDocument{}, err
	}
	return ChecklistDocument{SessionID: ws.id, Filename: ws.filename, Data: payload}, nil
}

// SaveChecklist stores a client payload verbatim and replaces the cached workspace.
func (s *Service) SaveChecklist(ctx context.Context, session Session, sessionID, filename string, data json.RawMessage) (ChecklistDocument, error) {
	if !util.IsUUID(sessionID) {
		return ChecklistDocument{}, validationError("sessionId must be a UUID", nil)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" || !json.Valid(data) {
		return ChecklistDocument{}, domainError(http.StatusBadRequest, "INVALID_BODY", "Missing data", nil)
	}
	if strings.TrimSpace(filename) == "" {
		filename = "unnamed.xlsx"
	}

	saved, err := s.store.SaveChecklistSession(ctx, store.ChecklistSession{
		ID: sessionID, UserID: session.UserID, Filename: filename, Data: data,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChecklistDocument{}, errSessionNotFound
		}
		return ChecklistDocument{}, err
	}

	ws := newWorkspace(saved)
	s.replaceWorkspace(ws)
	s.search.IndexSession(sessionID, ws.sections)
	return ChecklistDocument{SessionID: saved.ID, Filename: saved.Filename, Data: saved.Data, UpdatedAt: saved.UpdatedAt}, nil
}

// ListChecklists returns the caller's sessions, newest first. A non-empty query ranks them
// with full-text search over their payloads.
func (s *Service) ListChecklists(ctx context.Context, session Session, query string) (map[string]any, error) {
	if strings.TrimSpace(query) != "" {
		hits, err := s.search.SearchSessions(ctx, session.UserID, query, 20)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sessions": hits, "query": query}, nil
	}
	items, err := s.store.ListChecklistSessions(ctx, session.UserID, 50)
	if err != nil {
		return nil, err
	}
	sessions := make([]map[string]any, len(items))
	for i, item := range items {
		sessions[i] = map[string]any{"id": item.ID, "filename": item.Filename, "updatedAt": item.UpdatedAt}
	}
	return map[string]any{"sessions": sessions}, nil
}

// ApplyEdits applies edits in order. Either all of them land or none does. The new state is
// persisted through the autosave debouncer.
func (s *Service) ApplyEdits(ctx context.Context, session Session, sessionID string, edits []checklist.Edit) ([]checklist.Section, error) {
	if len(edits) == 0 {
		return nil, validationError("edits are required", nil)
	}
	ws, err := s.workspaceFor(ctx, session, sessionID)
	if err != nil {
		return nil, err
	}

	ws.mu.Lock()
	sections := ws.sections
	for i, edit := range edits {
		sections, err = checklist.Apply(sections, s.cfg.Teams, edit)
		if err != nil {
			ws.mu.Unlock()
			return nil, editError(i, err)
		}
	}
	ws.sections = sections
	ws.dirty = true
	ws.mu.Unlock()

	if err := s.schedulePersist(ws); err != nil {
		return nil, err
	}
	s.search.IndexSession(sessionID, sections)
	return sections, nil
}

func editError(index int, err error) error {
	details := map[string]any{"index": index}
	switch {
	case errors.Is(err, checklist.ErrNotFound):
		return domainError(http.StatusNotFound, "EDIT_TARGET_NOT_FOUND", err.Error(), details)
	case errors.Is(err, checklist.ErrInvalidEdit):
		return validationError(err.Error(), details)
	default:
		return err
	}
}

func (s *Service) schedulePersist(ws *workspace) error {
	return s.autosave.Schedule(ws.id, func(ctx context.Context) error {
		return s.persistWorkspace(ctx, ws)
	})
}

func (s *Service) persistWorkspace(ctx context.Context, ws *workspace) error {
	ws.mu.Lock()
	if ws.deleted {
		ws.mu.Unlock()
		return nil
	}
	payload, err := ws.payload()
	filename := ws.filename
	ws.mu.Unlock()
	if err != nil {
		return err
	}
	if _, err := s.store.SaveChecklistSession(ctx, store.ChecklistSession{
		ID: ws.id, UserID: ws.ownerID, Filename: filename, Data: payload,
	}); err != nil {
		return fmt.Errorf("save checklist session %s: %w", ws.id, err)
	}
	ws.mu.Lock()
	// A later edit may have landed while saving; only clear dirty when the state is unchanged.
	if current, err := ws.payload(); err == nil && string(current) == string(payload) {
		ws.dirty = false
	}
	ws.mu.Unlock()
	return nil
}

func (s *Service) sectionsFor(ctx context.Context, session Session, sessionID string) (*workspace, []checklist.Section, error) {
	ws, err := s.workspaceFor(ctx, session, sessionID)
	if err != nil {
		return nil, nil, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws, ws.sections, nil
}

// ExportChecklist renders the current hierarchy in format.
func (s *Service) ExportChecklist(ctx context.Context, session Session, sessionID, format string) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	ws, sections, err := s.sectionsFor(ctx, session, sessionID)
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, export.Request{
		Filename: ws.filename,
		Sections: sections,
		Teams:    s.cfg.Teams,
		Format:   parsed,
	})
}

// SearchChecklist narrows the hierarchy to items matching query.
func (s *Service) SearchChecklist(ctx context.Context, session Session, sessionID, query string) (search.Response, error) {
	_, sections, err := s.sectionsFor(ctx, session, sessionID)
	if err != nil {
		return search.Response{}, err
	}
	return s.search.Search(search.Query{SessionID: sessionID, Text: query}, sections), nil
}

// Original returns the archived upload of a session.
func (s *Service) Original(ctx context.Context, session Session, sessionID string) (blob.Object, error) {
	if _, err := s.workspaceFor(ctx, session, sessionID); err != nil {
		return blob.Object{}, err
	}
	obj, err := s.archive.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, blob.ErrDisabled) || errors.Is(err, blob.ErrNotFound) {
			return blob.Object{}, notFoundError("Original upload not available")
		}
		return blob.Object{}, err
	}
	return obj, nil
}

// DeleteChecklist removes a session with its index entries and archived upload.
func (s *Service) DeleteChecklist(ctx context.Context, session Session, sessionID string) error {
	if !util.IsUUID(sessionID) {
		return errSessionNotFound
	}
	// The cached workspace is marked first so an in-flight autosave cannot re-create the row.
	s.wsMu.Lock()
	ws, cached := s.workspaces[sessionID]
	cached = cached && ws.ownerID == session.UserID
	var wasDirty bool
	if cached {
		ws.mu.Lock()
		wasDirty = ws.dirty
		ws.deleted = true
		ws.dirty = false
		ws.mu.Unlock()
	}
	s.wsMu.Unlock()
	s.autosave.Cancel(sessionID)

	deleted, err := s.store.DeleteChecklistSession(ctx, sessionID, session.UserID)
	if err == nil && !deleted {
		err = errSessionNotFound
	}
	if err != nil {
		if cached {
			s.restoreWorkspace(ws, wasDirty)
		}
		return err
	}

	s.wsMu.Lock()
	delete(s.workspaces, sessionID)
	s.wsMu.Unlock()

	s.search.DeleteSession(sessionID)
	if err := s.archive.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("delete archived upload", zap.String("session_id", sessionID), zap.Error(err))
	}
	s.logger.Info("checklist deleted", zap.String("session_id", sessionID), zap.String("user_id", session.UserID))
	return nil
}

// restoreWorkspace undoes the delete mark after a failed delete and re-queues the save that
// was cancelled for it.
func (s *Service) restoreWorkspace(ws *workspace, dirty bool) {
	ws.mu.Lock()
	ws.deleted = false
	ws.dirty = ws.dirty || dirty
	ws.mu.Unlock()
	if !dirty {
		return
	}
	if err := s.schedulePersist(ws); err != nil {
		s.logger.Warn("requeue autosave after failed delete", zap.String("session_id", ws.id), zap.Error(err))
	}
}
