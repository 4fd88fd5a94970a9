package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrEmailTaken is returned when a user insert hits the unique email constraint.
var ErrEmailTaken = errors.New("email already registered")

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const userColumns = `id::text, name, email, password_hash, role, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, name, password_hash, role)
		VALUES (LOWER($1), $2, $3, $4)
		RETURNING `+userColumns, strings.TrimSpace(user.Email), user.Name, user.PasswordHash, user.Role)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return User{}, ErrEmailTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, strings.TrimSpace(email)))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id::text = $1`, userID))
}

// ListUsers returns users newest first.
func (s *PostgresStore) ListUsers(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// DeleteUser reports whether a row was removed.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id::text = $1`, userID)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete user rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2::uuid, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id::text, u.name, u.email, u.password_hash, u.role, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash))
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// SaveChecklistSession upserts by id. Saving over another user's session matches no row and
// returns sql.ErrNoRows.
func (s *PostgresStore) SaveChecklistSession(ctx context.Context, session ChecklistSession) (ChecklistSession, error) {
	var saved ChecklistSession
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO checklist_sessions (id, user_id, filename, data)
		VALUES ($1::uuid, $2::uuid, $3, $4::jsonb)
		ON CONFLICT (id) DO UPDATE
			SET filename = EXCLUDED.filename, data = EXCLUDED.data, updated_at = NOW()
			WHERE checklist_sessions.user_id = EXCLUDED.user_id
		RETURNING id::text, user_id::text, filename, data, created_at, updated_at
	`, session.ID, session.UserID, session.Filename, string(session.Data)).Scan(
		&saved.ID, &saved.UserID, &saved.Filename, &data, &saved.CreatedAt, &saved.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChecklistSession{}, err
		}
		return ChecklistSession{}, fmt.Errorf("save checklist session: %w", err)
	}
	saved.Data = data
	return saved, nil
}

// LoadChecklistSession returns sql.ErrNoRows when the session is missing or owned by
// someone else.
func (s *PostgresStore) LoadChecklistSession(ctx context.Context, sessionID, ownerID string) (ChecklistSession, error) {
	var session ChecklistSession
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id::text, user_id::text, filename, data, created_at, updated_at
		FROM checklist_sessions
		WHERE id::text = $1 AND user_id::text = $2
	`, sessionID, ownerID).Scan(&session.ID, &session.UserID, &session.Filename, &data, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return ChecklistSession{}, err
	}
	session.Data = data
	return session, nil
}

func (s *PostgresStore) ListChecklistSessions(ctx context.Context, ownerID string, limit int) ([]ChecklistSessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id::text, filename, updated_at
		FROM checklist_sessions
		WHERE user_id::text = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list checklist sessions: %w", err)
	}
	defer rows.Close()

	items := []ChecklistSessionSummary{}
	for rows.Next() {
		var item ChecklistSessionSummary
		if err := rows.Scan(&item.ID, &item.Filename, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan checklist session: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteChecklistSession removes an owner's session and reports whether a row matched.
func (s *PostgresStore) DeleteChecklistSession(ctx context.Context, sessionID, ownerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM checklist_sessions WHERE id::text = $1 AND user_id::text = $2`, sessionID, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete checklist session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete checklist session rows: %w", err)
	}
	return affected > 0, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
