// Package session provides session storage backends for refresh tokens.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sheetdesk/api/internal/store"
)

// ErrSessionNotFound is returned for unknown, expired or revoked refresh tokens.
var ErrSessionNotFound = errors.New("refresh session not found or expired")

const defaultRefreshTTL = 30 * 24 * time.Hour

type tokenData struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore keeps refresh tokens as expiring keys, plus a per-user set of token hashes so
// every session of a user can be revoked at once.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "sheetdesk:"}
}

func (s *RedisStore) tokenKey(tokenHash string) string {
	return s.prefix + "refresh:" + tokenHash
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "user-refresh:" + userID
}

func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	payload, err := json.Marshal(tokenData{UserID: userID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal token data: %w", err)
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(tokenHash), payload, ttl)
	pipe.SAdd(ctx, s.userKey(userID), tokenHash)
	pipe.Expire(ctx, s.userKey(userID), defaultRefreshTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// LookupRefreshSession returns the owning user with only ID set; callers reload the user so
// role changes apply immediately.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	raw, err := s.client.Get(ctx, s.tokenKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return store.User{}, ErrSessionNotFound
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup refresh token: %w", err)
	}

	var data tokenData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return store.User{}, fmt.Errorf("unmarshal token data: %w", err)
	}
	return store.User{ID: data.UserID}, nil
}

func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	raw, err := s.client.GetDel(ctx, s.tokenKey(tokenHash)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	var data tokenData
	if json.Unmarshal([]byte(raw), &data) == nil && data.UserID != "" {
		_ = s.client.SRem(ctx, s.userKey(data.UserID), tokenHash).Err()
	}
	return nil
}

// RevokeUserSessions drops every refresh token issued to userID.
func (s *RedisStore) RevokeUserSessions(ctx context.Context, userID string) error {
	hashes, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("list user sessions: %w", err)
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, s.tokenKey(hash))
	}
	keys = append(keys, s.userKey(userID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoke user sessions: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
