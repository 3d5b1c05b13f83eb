package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pscheid92/stresspulse/internal/cooldown"
	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/pscheid92/stresspulse/internal/metrics"
)

const dispatchTimeout = 10 * time.Second

// TextSource supplies the optional decorator text; it never fails.
type TextSource interface {
	Text(ctx context.Context, username string, level int, isSuperstress bool) string
}

// SubmitResult is either a created reading or a cooldown rejection.
type SubmitResult struct {
	Reading  *domain.Reading
	Decision domain.CooldownDecision
}

func (r SubmitResult) Accepted() bool {
	return r.Reading != nil
}

type Options struct {
	SessionTTL  time.Duration
	StatsWindow time.Duration
}

// Service is the application layer: the only component that references
// multiple domain components.
type Service struct {
	users      domain.UserRepository
	readings   domain.ReadingStore
	sessions   domain.SessionStore
	gate       *cooldown.Gate
	summaries  *Summarizer
	dispatcher *Dispatcher
	text       TextSource
	opts       Options
}

func NewService(
	users domain.UserRepository,
	readings domain.ReadingStore,
	sessions domain.SessionStore,
	gate *cooldown.Gate,
	summaries *Summarizer,
	dispatcher *Dispatcher,
	text TextSource,
	opts Options,
) *Service {
	return &Service{
		users:      users,
		readings:   readings,
		sessions:   sessions,
		gate:       gate,
		summaries:  summaries,
		dispatcher: dispatcher,
		text:       text,
		opts:       opts,
	}
}

// Login upserts the user by name and opens a session for it.
func (s *Service) Login(ctx context.Context, rawUsername string) (*domain.User, string, error) {
	username, err := domain.NormalizeUsername(rawUsername)
	if err != nil {
		return nil, "", err
	}

	user, err := s.users.Upsert(ctx, username)
	if err != nil {
		return nil, "", fmt.Errorf("upsert user: %w", err)
	}

	token, err := s.sessions.Create(ctx, user.ID, s.opts.SessionTTL)
	if err != nil {
		return nil, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// Authenticate resolves a session token to its user. Unknown or expired
// tokens yield domain.ErrSessionNotFound.
func (s *Service) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	userID, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, userID)
}

func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// SubmitRegular validates the 0..100 range before touching the store.
func (s *Service) SubmitRegular(ctx context.Context, userID uuid.UUID, level int) (SubmitResult, error) {
	reading, err := domain.NewRegularReading(userID, level)
	if err != nil {
		return SubmitResult{}, err
	}
	return s.submit(ctx, reading)
}

func (s *Service) SubmitSuperstress(ctx context.Context, userID uuid.UUID) (SubmitResult, error) {
	return s.submit(ctx, domain.NewSuperstressReading(userID))
}

func (s *Service) submit(ctx context.Context, nr domain.NewReading) (SubmitResult, error) {
	kind := nr.Kind()

	user, err := s.users.GetByID(ctx, nr.UserID)
	if err != nil {
		return SubmitResult{}, err
	}

	reading, decision, err := s.readings.InsertGated(ctx, nr, s.gate.Admit(kind))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("insert %s reading: %w", kind, err)
	}
	if reading == nil {
		metrics.CooldownRejectionsTotal.WithLabelValues(kind.String()).Inc()
		slog.DebugContext(ctx, "Reading rejected by cooldown",
			"user_id", user.ID, "kind", kind.String(), "remaining_ms", decision.TimeRemaining.Milliseconds())
		return SubmitResult{Decision: decision}, nil
	}
	metrics.ReadingsAcceptedTotal.WithLabelValues(kind.String()).Inc()

	// The write is committed; a client disconnect must not cut the fan-out short.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	text := s.text.Text(dctx, user.Username, reading.Level, reading.IsSuperstress)
	s.dispatcher.OnReadingAccepted(dctx, *reading, *user, text)

	return SubmitResult{Reading: reading, Decision: decision}, nil
}

// CooldownStatus reports eligibility without side effects.
func (s *Service) CooldownStatus(ctx context.Context, kind domain.ReadingKind, userID uuid.UUID) (domain.CooldownDecision, error) {
	return s.gate.Check(ctx, kind, userID)
}

func (s *Service) Summary(ctx context.Context) (domain.Summary, error) {
	return s.summaries.Get(ctx)
}

// LiveSummary computes a summary for a new live subscriber. It never joins an
// in-flight computation, so the result is at least as new as the call.
func (s *Service) LiveSummary(ctx context.Context) (domain.Summary, error) {
	return s.summaries.Compute(ctx)
}

func (s *Service) UserStats(ctx context.Context, userID uuid.UUID) (domain.UserStats, error) {
	latest, err := s.readings.MostRecent(ctx, userID)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("load latest reading: %w", err)
	}
	avg, err := s.readings.WindowAverage(ctx, userID, s.opts.StatsWindow)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("load window average: %w", err)
	}

	stats := domain.UserStats{WindowAverage: avg, WindowHours: s.opts.StatsWindow.Hours()}
	if latest != nil {
		stats.Latest = &latest.Reading
	}
	return stats, nil
}
