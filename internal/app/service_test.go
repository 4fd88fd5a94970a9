package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"sheetdesk/api/internal/checklist"
	"sheetdesk/api/internal/config"
	"sheetdesk/api/internal/export"
	"sheetdesk/api/internal/store"
	"sheetdesk/api/internal/verify"
)

// fakeStore keeps users and checklist sessions in memory. The fn fields override single
// methods.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]store.User
	sessions map[string]store.ChecklistSession
	refresh  map[string]string
	revoked  map[string]bool
	saves    int

	pingFn          func(context.Context) error
	saveChecklistFn func(context.Context, store.ChecklistSession) (store.ChecklistSession, error)
	deleteFn        func(context.Context, string, string) (bool, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    map[string]store.User{},
		sessions: map[string]store.ChecklistSession{},
		refresh:  map[string]string{},
		revoked:  map[string]bool{},
	}
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return store.User{}, store.ErrEmailTaken
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now()
	user.CreatedAt, user.UpdatedAt = now, now
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) ListUsers(_ context.Context, limit int) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]store.User, 0, len(f.users))
	for _, user := range f.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	if len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

func (f *fakeStore) DeleteUser(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[userID]; !ok {
		return false, nil
	}
	delete(f.users, userID)
	return true, nil
}

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = userID
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.refresh[tokenHash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, tokenHash)
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) SaveChecklistSession(ctx context.Context, session store.ChecklistSession) (store.ChecklistSession, error) {
	if f.saveChecklistFn != nil {
		return f.saveChecklistFn(ctx, session)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	if existing, ok := f.sessions[session.ID]; ok {
		if existing.UserID != session.UserID {
			return store.ChecklistSession{}, sql.ErrNoRows
		}
		session.CreatedAt = existing.CreatedAt
	} else {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	session.Data = append(json.RawMessage(nil), session.Data...)
	f.sessions[session.ID] = session
	f.saves++
	return session, nil
}

func (f *fakeStore) LoadChecklistSession(_ context.Context, sessionID, ownerID string) (store.ChecklistSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || session.UserID != ownerID {
		return store.ChecklistSession{}, sql.ErrNoRows
	}
	return session, nil
}

func (f *fakeStore) ListChecklistSessions(_ context.Context, ownerID string, limit int) ([]store.ChecklistSessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := []store.ChecklistSessionSummary{}
	for _, session := range f.sessions {
		if session.UserID == ownerID {
			items = append(items, store.ChecklistSessionSummary{ID: session.ID, Filename: session.Filename, UpdatedAt: session.UpdatedAt})
		}
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeStore) DeleteChecklistSession(ctx context.Context, sessionID, ownerID string) (bool, error) {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, sessionID, ownerID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || session.UserID != ownerID {
		return false, nil
	}
	delete(f.sessions, sessionID)
	return true, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) saved(sessionID string) (store.ChecklistSession, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[sessionID], f.saves
}

type fakeVerifier struct {
	clients []string
}

func (f *fakeVerifier) Run(_ context.Context, client string) (verify.Result, error) {
	if client == "" || client[0] == '-' {
		return verify.Result{}, verify.ErrInvalidClient
	}
	f.clients = append(f.clients, client)
	return verify.Result{OK: true, Data: json.RawMessage(`{"tickets":3}`), Message: "Verification completed for " + client, Status: http.StatusOK}, nil
}

var testTeams = config.DefaultTeams

func newTestService(t *testing.T, fs *fakeStore, deps Deps) *Service {
	t.Helper()
	deps.Store = fs
	svc := New(config.Config{
		JWTSecret:     "test-secret",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		AutosaveDelay: time.Hour,
		Teams:         testTeams,
	}, deps)
	svc.passwords.WithCost(bcrypt.MinCost)
	t.Cleanup(svc.Shutdown)
	return svc
}

// sessionFor creates a user with role and issues it a session.
func sessionFor(t *testing.T, svc *Service, fs *fakeStore, email, role string) Session {
	t.Helper()
	user, err := fs.CreateUser(context.Background(), store.User{Email: email, Name: email, Role: role})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	session, err := svc.issueSession(context.Background(), user)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session
}

func str(v string) *string { return &v }
func intPtr(v int) *int    { return &v }

func sampleSections() []checklist.Section {
	return []checklist.Section{
		{
			ID: 0, Number: "1", Name: "Platform", ProgressIndices: []int{},
			Items: []checklist.Item{
				{
					ID: 0, Name: "1.1 Provision hosts", Description: str("Terraform apply"),
					Teams: []checklist.TeamEntry{{Team: "Delivery", Status: "Done (100%)"}},
				},
				{ID: 1, Name: "1.2 Patch hosts", Teams: []checklist.TeamEntry{}},
			},
		},
		{ID: 1, Number: "2", Name: "Security", ProgressIndices: []int{}, Items: []checklist.Item{}},
	}
}

func sampleWorkbook(t *testing.T) []byte {
	t.Helper()
	data, err := export.WriteXLSX(sampleSections(), testTeams)
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return data
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func doUpload(t *testing.T, handler http.Handler, token, filename string, data []byte, sessionID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if sessionID != "" {
		if err := mw.WriteField("sessionId", sessionID); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/checklists/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
}

func TestServiceRefreshRotatesToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, Deps{})
	first := sessionFor(t, svc, fs, "avery@example.com", "collaborator")

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.UserID != first.UserID || second.Role != "collaborator" {
		t.Fatalf("refreshed session = %+v", second)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("expected a new refresh token")
	}
	if _, err := svc.Refresh(context.Background(), first.RefreshToken); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("reused refresh token error = %v", err)
	}
}

func TestServiceLogoutRevokesAccessToken(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, Deps{})
	session := sessionFor(t, svc, fs, "avery@example.com", "client")

	if _, err := svc.SessionFromToken(context.Background(), session.Token); err != nil {
		t.Fatalf("session from token: %v", err)
	}
	if err := svc.Logout(context.Background(), session, session.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatalf("expected revoked token to be rejected")
	}
}

func TestServiceApplyEditsIsAtomic(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, Deps{})
	session := sessionFor(t, svc, fs, "avery@example.com", "client")

	uploaded, err := svc.Upload(context.Background(), session, "", "plan.xlsx", "", sampleWorkbook(t))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	_, err = svc.ApplyEdits(context.Background(), session, uploaded.SessionID, []checklist.Edit{
		{Kind: checklist.EditSectionName, GID: 0, Value: "Renamed"},
		{Kind: checklist.EditItemName, GID: 0, IID: intPtr(99), Value: "missing"},
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "EDIT_TARGET_NOT_FOUND" {
		t.Fatalf("expected EDIT_TARGET_NOT_FOUND, got %v", err)
	}
	if details, _ := domainErr.Details.(map[string]any); details["index"] != 1 {
		t.Fatalf("expected failing index 1, got %v", domainErr.Details)
	}

	_, sections, err := svc.sectionsFor(context.Background(), session, uploaded.SessionID)
	if err != nil {
		t.Fatalf("sections: %v", err)
	}
	if sections[0].Name != "Platform" {
		t.Fatalf("first edit of a failed batch must not land, got %q", sections[0].Name)
	}
}

func TestServiceAutosaveWritesLatestState(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, Deps{})
	session := sessionFor(t, svc, fs, "avery@example.com", "client")
	ctx := context.Background()

	uploaded, err := svc.Upload(ctx, session, "", "plan.xlsx", "", sampleWorkbook(t))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	for _, value := range []string{"50% (In Progress)", "Done (100%)"} {
		if _, err := svc.ApplyEdits(ctx, session, uploaded.SessionID, []checklist.Edit{
			{Kind: checklist.EditStatus, GID: 0, IID: intPtr(1), TeamIdx: intPtr(2), Value: value},
		}); err != nil {
			t.Fatalf("apply edits: %v", err)
		}
	}
	if _, saves := fs.saved(uploaded.SessionID); saves != 1 {
		t.Fatalf("edits must be debounced, got %d saves", saves)
	}

	svc.autosave.Flush()

	saved, saves := fs.saved(uploaded.SessionID)
	if saves != 2 {
		t.Fatalf("expected one debounced save, got %d saves", saves-1)
	}
	var payload struct {
		EditedGroups []checklist.Section `json:"editedGroups"`
		ViewMode     string              `json:"viewMode"`
	}
	if err := json.Unmarshal(saved.Data, &payload); err != nil {
		t.Fatalf("decode saved payload: %v", err)
	}
	if payload.ViewMode != ViewChecklist {
		t.Fatalf("viewMode = %q", payload.ViewMode)
	}
	entry, ok := payload.EditedGroups[0].Items[1].Team("NSS Operations")
	if !ok || entry.Status != "Done (100%)" {
		t.Fatalf("saved team entry = %+v, %v", entry, ok)
	}
}

func TestServiceAutosaveFailureKeepsWorkspace(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, Deps{})
	session := sessionFor(t, svc, fs, "avery@example.com", "client")
	ctx := context.Background()

	uploaded, err := svc.Upload(ctx, session, "", "plan.xlsx", "", sampleWorkbook(t))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	fs.saveChecklistFn = func(context.Context, store.ChecklistSession) (store.ChecklistSession, error) {
		return store.ChecklistSession{}, errors.New("database unavailable")
	}
	if _, err := svc.ApplyEdits(ctx, session, uploaded.SessionID, []checklist.Edit{
		{Kind: checklist.EditSectionName, GID: 1, Value: "Security and Access"},
	}); err != nil {
		t.Fatalf("apply edits: %v", err)
	}
	svc.autosave.Flush()

	doc, err := svc.LoadChecklist(ctx, session, uploaded.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Contains(doc.Data, []byte("Security and Access")) {
		t.Fatalf("workspace lost the unsaved edit: %s", doc.Data)
	}
}

func TestServiceDeleteChecklistDropsPendingSave(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, Deps{})
	session := sessionFor(t, svc, fs, "avery@example.com", "client")
	ctx := context.Background()

	uploaded, err := svc.Upload(ctx, session, "", "plan.xlsx", "", sampleWorkbook(t))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := svc.ApplyEdits(ctx, session, uploaded.SessionID, []checklist.Edit{
		{Kind: checklist.EditSectionName, GID: 0, Value: "Gone"},
	}); err != nil {
		t.Fatalf("apply edits: %v", err)
	}
	if err := svc.DeleteChecklist(ctx, session, uploaded.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	svc.autosave.Flush()

	if _, err := fs.LoadChecklistSession(ctx, uploaded.SessionID, session.UserID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("deleted session came back: %v", err)
	}
	if _, err := svc.LoadChecklist(ctx, session, uploaded.SessionID); err == nil {
		t.Fatalf("expected not found after delete")
	}
}

func TestServiceFailedDeleteKeepsSavingEdits(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs, Deps{})
	session := sessionFor(t, svc, fs, "avery@example.com", "client")
	ctx := context.Background()

	uploaded, err := svc.Upload(ctx, session, "", "plan.xlsx", "", sampleWorkbook(t))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if _, err := svc.ApplyEdits(ctx, session, uploaded.SessionID, []checklist.Edit{
		{Kind: checklist.EditSectionName, GID: 0, Value: "Pending"},
	}); err != nil {
		t.Fatalf("apply edits: %v", err)
	}

	fs.deleteFn = func(context.Context, string, string) (bool, error) {
		return false, errors.New("connection reset")
	}
	if err := svc.DeleteChecklist(ctx, session, uploaded.SessionID); err == nil {
		t.Fatalf("expected delete to fail")
	}
	svc.autosave.Flush()
	stored, _ := fs.saved(uploaded.SessionID)
	if !strings.Contains(string(stored.Data), "Pending") {
		t.Fatalf("edit pending before the failed delete was not saved: %s", stored.Data)
	}

	if _, err := svc.ApplyEdits(ctx, session, uploaded.SessionID, []checklist.Edit{
		{Kind: checklist.EditSectionName, GID: 0, Value: "Renamed"},
	}); err != nil {
		t.Fatalf("apply edits after failed delete: %v", err)
	}
	svc.autosave.Flush()
	stored, _ = fs.saved(uploaded.SessionID)
	if !strings.Contains(string(stored.Data), "Renamed") {
		t.Fatalf("edit after failed delete was not saved: %s", stored.Data)
	}
}
