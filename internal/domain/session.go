package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SessionStore maps opaque tokens to user identities.
type SessionStore interface {
	Create(ctx context.Context, userID uuid.UUID, ttl time.Duration) (string, error)
	// Resolve returns ErrSessionNotFound for unknown or expired tokens.
	Resolve(ctx context.Context, token string) (uuid.UUID, error)
	Delete(ctx context.Context, token string) error
}
