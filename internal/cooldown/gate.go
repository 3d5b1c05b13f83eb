// Package cooldown decides whether a user may submit another reading.
//
// The gate never compares timestamps itself. The store reports the age of the
// latest qualifying reading using its own clock, and Decide is a pure function
// of that age and the configured duration.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/stresspulse/internal/domain"
)

// Lookup is the slice of the reading store the gate reads from.
type Lookup interface {
	MostRecent(ctx context.Context, userID uuid.UUID) (*domain.AgedReading, error)
	MostRecentSuperstress(ctx context.Context, userID uuid.UUID) (*domain.AgedReading, error)
}

type Gate struct {
	store       Lookup
	regular     time.Duration
	superstress time.Duration
}

func NewGate(store Lookup, regular, superstress time.Duration) *Gate {
	return &Gate{store: store, regular: regular, superstress: superstress}
}

func (g *Gate) Cooldown(kind domain.ReadingKind) time.Duration {
	if kind == domain.KindSuperstress {
		return g.superstress
	}
	return g.regular
}

// Check looks up the latest qualifying reading and decides. No side effects.
func (g *Gate) Check(ctx context.Context, kind domain.ReadingKind, userID uuid.UUID) (domain.CooldownDecision, error) {
	var (
		last *domain.AgedReading
		err  error
	)
	if kind == domain.KindSuperstress {
		last, err = g.store.MostRecentSuperstress(ctx, userID)
	} else {
		last, err = g.store.MostRecent(ctx, userID)
	}
	if err != nil {
		return domain.CooldownDecision{}, fmt.Errorf("lookup latest %s reading: %w", kind, err)
	}
	return g.Decide(kind, last), nil
}

// Decide admits when there is no qualifying reading or its age has reached the
// cooldown; otherwise it rejects with the remaining wait.
func (g *Gate) Decide(kind domain.ReadingKind, last *domain.AgedReading) domain.CooldownDecision {
	if last == nil {
		return domain.CooldownDecision{CanSubmit: true}
	}

	reading := last.Reading
	cooldown := g.Cooldown(kind)
	elapsed := max(last.Age, 0)

	if elapsed >= cooldown {
		return domain.CooldownDecision{CanSubmit: true, LastReading: &reading}
	}
	return domain.CooldownDecision{
		CanSubmit:     false,
		TimeRemaining: cooldown - elapsed,
		LastReading:   &reading,
	}
}

// Admit binds Decide to a kind for ReadingStore.InsertGated.
func (g *Gate) Admit(kind domain.ReadingKind) domain.AdmitFunc {
	return func(last *domain.AgedReading) domain.CooldownDecision {
		return g.Decide(kind, last)
	}
}
