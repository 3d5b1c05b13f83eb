package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSessions(clockwork.NewFakeClockAt(epoch))
	userID := uuid.New()

	token, err := s.Create(ctx, userID, time.Hour)
	require.NoError(t, err)

	resolved, err := s.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, userID, resolved)

	require.NoError(t, s.Delete(ctx, token))
	require.NoError(t, s.Delete(ctx, token))

	_, err = s.Resolve(ctx, token)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessions_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(epoch)
	s := NewSessions(clock)

	token, err := s.Create(ctx, uuid.New(), time.Hour)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = s.Resolve(ctx, token)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = s.Resolve(ctx, token)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessions_UnknownToken(t *testing.T) {
	s := NewSessions(clockwork.NewFakeClock())
	_, err := s.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
