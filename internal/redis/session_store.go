package redis

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/pscheid92/stresspulse/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "stresspulse:session:"

// SessionStore keeps one key per token holding the user id; Redis expiry
// enforces the session lifetime.
type SessionStore struct {
	rdb *goredis.Client
}

var _ domain.SessionStore = (*SessionStore)(nil)

func NewSessionStore(rdb *goredis.Client) *SessionStore {
	return &SessionStore{rdb: rdb}
}

func sessionKey(token string) string {
	return sessionKeyPrefix + token
}

func (s *SessionStore) Create(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error) {
	token := rand.Text()
	if err := s.rdb.Set(ctx, sessionKey(token), userID.String(), ttl).Err(); err != nil {
		metrics.SessionOpsTotal.WithLabelValues("create", "error").Inc()
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	metrics.SessionOpsTotal.WithLabelValues("create", "success").Inc()
	return token, nil
}

func (s *SessionStore) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	if token == "" {
		return uuid.Nil, domain.ErrSessionNotFound
	}

	raw, err := s.rdb.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, goredis.Nil) {
		metrics.SessionOpsTotal.WithLabelValues("resolve", "miss").Inc()
		return uuid.Nil, domain.ErrSessionNotFound
	}
	if err != nil {
		metrics.SessionOpsTotal.WithLabelValues("resolve", "error").Inc()
		return uuid.Nil, fmt.Errorf("failed to read session: %w", err)
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		metrics.SessionOpsTotal.WithLabelValues("resolve", "error").Inc()
		return uuid.Nil, fmt.Errorf("corrupt session value: %w", err)
	}
	metrics.SessionOpsTotal.WithLabelValues("resolve", "success").Inc()
	return userID, nil
}

func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if err := s.rdb.Del(ctx, sessionKey(token)).Err(); err != nil {
		metrics.SessionOpsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("failed to delete session: %w", err)
	}
	metrics.SessionOpsTotal.WithLabelValues("delete", "success").Inc()
	return nil
}
