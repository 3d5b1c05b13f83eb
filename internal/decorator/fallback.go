package decorator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/pscheid92/stresspulse/internal/metrics"
)

// Fallback wraps a decorator and substitutes a static text on any failure.
type Fallback struct {
	next   domain.Decorator
	text   string
	budget time.Duration
}

// WithFallback bounds every call to next by budget; zero means no bound
// beyond the caller's context.
func WithFallback(next domain.Decorator, text string, budget time.Duration) *Fallback {
	return &Fallback{next: next, text: text, budget: budget}
}

type decorated struct {
	text string
	err  error
}

// Text never fails and returns within the budget even if next ignores its
// context; an empty fallback text means "no message".
func (f *Fallback) Text(ctx context.Context, username string, level int, isSuperstress bool) string {
	if f.next == nil {
		metrics.DecoratorRequestsTotal.WithLabelValues("disabled").Inc()
		return f.text
	}

	if f.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.budget)
		defer cancel()
	}

	resultCh := make(chan decorated, 1)
	go func() {
		text, err := f.next.Decorate(ctx, username, level, isSuperstress)
		resultCh <- decorated{text: text, err: err}
	}()

	var text string
	var err error
	select {
	case res := <-resultCh:
		text, err = res.text, res.err
	case <-ctx.Done():
		err = ctx.Err()
	}

	switch {
	case err == nil:
		metrics.DecoratorRequestsTotal.WithLabelValues("ok").Inc()
		return text
	case errors.Is(err, domain.ErrDecoratorOff):
		metrics.DecoratorRequestsTotal.WithLabelValues("disabled").Inc()
	default:
		metrics.DecoratorRequestsTotal.WithLabelValues("fallback").Inc()
		slog.DebugContext(ctx, "Decorator unavailable, using fallback", "error", err)
	}
	return f.text
}
