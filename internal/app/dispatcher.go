package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/stresspulse/internal/broadcast"
	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/pscheid92/stresspulse/internal/metrics"
)

// Broadcaster is the slice of the connection registry the dispatcher needs.
type Broadcaster interface {
	BroadcastToIdentified(msg broadcast.Outbound, exclude *uuid.UUID) (broadcast.Delivery, error)
	BroadcastToAnonymous(msg broadcast.Outbound) (broadcast.Delivery, error)
}

// Dispatcher pushes the consequences of one accepted reading to subscribers.
type Dispatcher struct {
	registry  Broadcaster
	summaries *Summarizer
}

func NewDispatcher(registry Broadcaster, summaries *Summarizer) *Dispatcher {
	return &Dispatcher{registry: registry, summaries: summaries}
}

// OnReadingAccepted must run after the reading is committed. Delivery problems
// are logged and never reported back to the submitter.
func (d *Dispatcher) OnReadingAccepted(ctx context.Context, reading domain.Reading, user domain.User, decoratorText string) {
	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	update := broadcast.NewStressUpdate(reading, user, decoratorText)

	exclude := user.ID
	if _, err := d.registry.BroadcastToIdentified(update, &exclude); err != nil {
		slog.WarnContext(ctx, "Stress update to identified subscribers failed", "reading_id", reading.ID, "error", err)
	}
	if _, err := d.registry.BroadcastToAnonymous(update); err != nil {
		slog.WarnContext(ctx, "Stress update to anonymous subscribers failed", "reading_id", reading.ID, "error", err)
	}

	summary, err := d.summaries.Compute(ctx)
	if err != nil {
		metrics.SummaryErrorsTotal.Inc()
		slog.ErrorContext(ctx, "Failed to recompute summary after accepted reading", "reading_id", reading.ID, "error", err)
		return
	}
	if _, err := d.registry.BroadcastToAnonymous(broadcast.SummaryUpdate{Data: summary}); err != nil {
		slog.WarnContext(ctx, "Summary update to anonymous subscribers failed", "reading_id", reading.ID, "error", err)
	}
}
