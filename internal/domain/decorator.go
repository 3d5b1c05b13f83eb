package domain

import "context"

// Decorator produces a short best-effort text for an accepted reading.
type Decorator interface {
	Decorate(ctx context.Context, username string, level int, isSuperstress bool) (string, error)
}
