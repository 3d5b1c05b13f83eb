package memstore

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stresspulse/internal/domain"
)

var _ domain.SessionStore = (*Sessions)(nil)

type session struct {
	userID    uuid.UUID
	expiresAt time.Time
}

// Sessions expires tokens lazily on lookup.
type Sessions struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	sessions map[string]session
}

func NewSessions(clock clockwork.Clock) *Sessions {
	return &Sessions{clock: clock, sessions: make(map[string]session)}
}

func (s *Sessions) Create(_ context.Context, userID uuid.UUID, ttl time.Duration) (string, error) {
	token := rand.Text()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = session{userID: userID, expiresAt: s.clock.Now().Add(ttl)}
	return token, nil
}

func (s *Sessions) Resolve(_ context.Context, token string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return uuid.Nil, domain.ErrSessionNotFound
	}
	if !s.clock.Now().Before(sess.expiresAt) {
		delete(s.sessions, token)
		return uuid.Nil, domain.ErrSessionNotFound
	}
	return sess.userID, nil
}

func (s *Sessions) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}
