package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxUsernameLength = 32

type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

type UserRepository interface {
	GetByID(ctx context.Context, userID uuid.UUID) (*User, error)
	// Upsert returns the existing user for username or creates one.
	Upsert(ctx context.Context, username string) (*User, error)
}

// NormalizeUsername trims whitespace and enforces a length of 1..32 runes.
func NormalizeUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(name)
	if n == 0 || n > maxUsernameLength {
		return "", fmt.Errorf("%w: must be 1-%d characters", ErrInvalidUsername, maxUsernameLength)
	}
	return name, nil
}

// UserStats is the per-user view served to the owner.
type UserStats struct {
	Latest        *Reading    `json:"latest"`
	WindowAverage WindowStats `json:"windowAverage"`
	WindowHours   float64     `json:"windowHours"`
}
