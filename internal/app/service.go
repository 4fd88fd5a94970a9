package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"sheetdesk/api/internal/auth"
	"sheetdesk/api/internal/authpw"
	"sheetdesk/api/internal/autosave"
	"sheetdesk/api/internal/blob"
	"sheetdesk/api/internal/config"
	"sheetdesk/api/internal/export"
	"sheetdesk/api/internal/rbac"
	"sheetdesk/api/internal/search"
	"sheetdesk/api/internal/store"
	"sheetdesk/api/internal/util"
	"sheetdesk/api/internal/verify"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	ListUsers(context.Context, int) ([]store.User, error)
	DeleteUser(context.Context, string) (bool, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	SaveChecklistSession(context.Context, store.ChecklistSession) (store.ChecklistSession, error)
	LoadChecklistSession(context.Context, string, string) (store.ChecklistSession, error)
	ListChecklistSessions(context.Context, string, int) ([]store.ChecklistSessionSummary, error)
	DeleteChecklistSession(context.Context, string, string) (bool, error)
	Ping(context.Context) error
}

// refreshStore holds refresh sessions. Lookups may return only the user id; the service
// reloads the user from dataStore.
type refreshStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

type verifier interface {
	Run(context.Context, string) (verify.Result, error)
}

// Deps are the collaborators of a Service. Store is required; Sessions defaults to Store;
// everything else may be nil.
type Deps struct {
	Store    dataStore
	Sessions refreshStore
	Search   *search.Service
	Archive  *blob.Archive
	Exporter exporter
	Verifier verifier
	Autosave *autosave.Debouncer
	Logger   *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	passwords *authpw.Service
	search    *search.Service
	archive   *blob.Archive
	exporter  exporter
	verifier  verifier
	autosave  *autosave.Debouncer
	logger    *zap.Logger

	workspaceTTL time.Duration
	wsMu         sync.Mutex
	workspaces   map[string]*workspace
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = deps.Store
	}
	searchSvc := deps.Search
	if searchSvc == nil {
		searchSvc = search.NewService(nil, nil, logger)
	}
	exp := deps.Exporter
	if exp == nil {
		exp = export.NewService()
	}
	debouncer := deps.Autosave
	if debouncer == nil {
		debouncer = autosave.New(cfg.AutosaveDelay, logger)
	}
	if len(cfg.Teams) == 0 {
		cfg.Teams = config.DefaultTeams
	}
	return &Service{
		cfg:          cfg,
		store:        deps.Store,
		sessions:     sessions,
		passwords:    authpw.NewService(deps.Store),
		search:       searchSvc,
		archive:      deps.Archive,
		exporter:     exp,
		verifier:     deps.Verifier,
		autosave:     debouncer,
		logger:       logger,
		workspaceTTL: 30 * time.Minute,
		workspaces:   make(map[string]*workspace),
	}
}

// Teams is the configured team list, in progress-column order.
func (s *Service) Teams() []string {
	return s.cfg.Teams
}

// MaxUploadBytes caps multipart upload bodies.
func (s *Service) MaxUploadBytes() int64 {
	if s.cfg.MaxUploadBytes <= 0 {
		return 25 << 20
	}
	return s.cfg.MaxUploadBytes
}

func (s *Service) SignUp(ctx context.Context, email, password, name string) (Session, error) {
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, Name: name})
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user signed up", zap.String("user_id", user.ID))
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	ref, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, ref.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")
	role := string(rbac.Normalize(user.Role))

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh, err := util.NewSecret(32)
	if err != nil {
		return Session{}, err
	}
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		Role:         role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		Role:      string(rbac.Normalize(user.Role)),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Logout revokes the access token named by session and the given refresh token. Both are
// attempted even when the first fails.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	var errs []error
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			errs = append(errs, err)
		}
	}
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// ListUsers returns accounts newest first.
func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx, 100)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	formatted := make([]map[string]any, len(users))
	for i, u := range users {
		formatted[i] = userPayload(u)
	}
	return formatted, nil
}

func (s *Service) CreateUser(ctx context.Context, actor Session, email, name, password, role string) (map[string]any, error) {
	if strings.TrimSpace(role) == "" {
		role = string(rbac.RoleClient)
	}
	user, err := s.passwords.CreateUser(ctx, rbac.Normalize(actor.Role), authpw.CreateUserRequest{
		Email:    email,
		Name:     name,
		Password: password,
		Role:     role,
	})
	if err != nil {
		if errors.Is(err, authpw.ErrRoleNotAllowed) {
			return nil, forbiddenError("Only superadmin can create superadmin accounts")
		}
		return nil, err
	}
	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", user.Role), zap.String("actor_id", actor.UserID))
	return userPayload(user), nil
}

func (s *Service) DeleteUser(ctx context.Context, actor Session, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domainError(http.StatusBadRequest, "VALIDATION_ERROR", "User ID required", nil)
	}
	if userID == actor.UserID {
		return forbiddenError("Cannot delete your own account")
	}
	if !util.IsUUID(userID) {
		return notFoundError("User not found")
	}
	deleted, err := s.store.DeleteUser(ctx, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFoundError("User not found")
	}
	if revoker, ok := s.sessions.(interface {
		RevokeUserSessions(context.Context, string) error
	}); ok {
		if err := revoker.RevokeUserSessions(ctx, userID); err != nil {
			s.logger.Warn("revoke sessions of deleted user", zap.String("user_id", userID), zap.Error(err))
		}
	}
	s.logger.Info("user deleted", zap.String("user_id", userID), zap.String("actor_id", actor.UserID))
	return nil
}

func userPayload(u store.User) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"email":     u.Email,
		"name":      u.Name,
		"role":      string(rbac.Normalize(u.Role)),
		"createdAt": u.CreatedAt,
		"updatedAt": u.UpdatedAt,
	}
}

// Verify runs the verification script for client on behalf of session.
func (s *Service) Verify(ctx context.Context, session Session, client string) (verify.Result, error) {
	if s.verifier == nil {
		return verify.Result{}, domainError(http.StatusServiceUnavailable, "VERIFY_UNAVAILABLE", "Verification is not configured", nil)
	}
	s.logger.Info("verification requested",
		zap.String("user_id", session.UserID),
		zap.String("email", session.Email),
		zap.String("client", strings.TrimSpace(client)),
	)
	return s.verifier.Run(ctx, client)
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SearchHealthy reports whether the search index is reachable; false when it is not
// configured.
func (s *Service) SearchHealthy() bool {
	return s.search.IndexHealthy()
}

// Shutdown writes pending autosaves and stops the debouncer.
func (s *Service) Shutdown() {
	s.autosave.Close()
}
