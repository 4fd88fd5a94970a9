// Package authpw provides email/password authentication and admin-driven account creation.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"sheetdesk/api/internal/rbac"
	"sheetdesk/api/internal/store"
)

// PasswordCost is the bcrypt cost for stored password hashes.
const PasswordCost = 12

const minPasswordLength = 8

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = store.ErrEmailTaken
	ErrRoleNotAllowed     = errors.New("role not allowed")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) (store.User, error)
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(store UserStore) *Service {
	return &Service{store: store, cost: PasswordCost}
}

// WithCost overrides the bcrypt cost; tests use bcrypt.MinCost.
func (s *Service) WithCost(cost int) *Service {
	s.cost = cost
	return s
}

type SignUpRequest struct {
	Email    string
	Password string
	Name     string
}

// SignUp registers a self-service account with the client role.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	return s.create(ctx, req.Email, req.Name, req.Password, rbac.RoleClient)
}

type SignInRequest struct {
	Email    string
	Password string
}

func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return store.User{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	user.Role = string(rbac.Normalize(user.Role))
	return user, nil
}

type CreateUserRequest struct {
	Email    string
	Name     string
	Password string
	Role     string
}

// CreateUser is the admin path. Role must be one of rbac.Roles, and only actors allowed to
// manage superadmins may create one.
func (s *Service) CreateUser(ctx context.Context, actor rbac.Role, req CreateUserRequest) (store.User, error) {
	if !rbac.Can(actor, rbac.ActionUsersManage) {
		return store.User{}, ErrRoleNotAllowed
	}
	if !rbac.Valid(req.Role) {
		return store.User{}, fmt.Errorf("%w: role must be one of superadmin, admin, collaborator, client", ErrInvalidInput)
	}
	role := rbac.Role(req.Role)
	if role == rbac.RoleSuperadmin && !rbac.Can(actor, rbac.ActionManageSuperuser) {
		return store.User{}, ErrRoleNotAllowed
	}
	return s.create(ctx, req.Email, req.Name, req.Password, role)
}

func (s *Service) create(ctx context.Context, email, name, password string, role rbac.Role) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if email == "" || name == "" || password == "" {
		return store.User{}, fmt.Errorf("%w: email, name and password are required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if len(password) < minPasswordLength {
		return store.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, store.User{
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         string(role),
	})
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
