// Package memstore is an in-memory reading store, user repository and session
// store. It backs tests and the server's -memory mode; all state is lost on
// restart.
package memstore

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stresspulse/internal/domain"
)

var (
	_ domain.ReadingStore   = (*Store)(nil)
	_ domain.UserRepository = (*Store)(nil)
)

// Store keeps readings in insertion order. Timestamps and ages come from the
// injected clock only.
type Store struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	nextID    int64
	readings  []domain.Reading
	users     map[uuid.UUID]domain.User
	usernames map[string]uuid.UUID
}

func New(clock clockwork.Clock) *Store {
	return &Store{
		clock:     clock,
		users:     make(map[uuid.UUID]domain.User),
		usernames: make(map[string]uuid.UUID),
	}
}

func (s *Store) Insert(_ context.Context, r domain.NewReading) (*domain.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(r), nil
}

func (s *Store) InsertGated(_ context.Context, r domain.NewReading, admit domain.AdmitFunc) (*domain.Reading, domain.CooldownDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	decision := admit(s.latestLocked(r.UserID, r.IsSuperstress))
	if !decision.CanSubmit {
		return nil, decision, nil
	}
	return s.insertLocked(r), decision, nil
}

func (s *Store) insertLocked(r domain.NewReading) *domain.Reading {
	s.nextID++
	reading := domain.Reading{
		ID:            s.nextID,
		UserID:        r.UserID,
		Level:         r.Level,
		IsSuperstress: r.IsSuperstress,
		CreatedAt:     s.clock.Now(),
	}
	s.readings = append(s.readings, reading)
	return &reading
}

func (s *Store) MostRecent(_ context.Context, userID uuid.UUID) (*domain.AgedReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked(userID, false), nil
}

func (s *Store) MostRecentSuperstress(_ context.Context, userID uuid.UUID) (*domain.AgedReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked(userID, true), nil
}

// latestLocked scans backwards; superstressOnly restricts to flagged readings.
func (s *Store) latestLocked(userID uuid.UUID, superstressOnly bool) *domain.AgedReading {
	for i := len(s.readings) - 1; i >= 0; i-- {
		r := s.readings[i]
		if r.UserID != userID || (superstressOnly && !r.IsSuperstress) {
			continue
		}
		return &domain.AgedReading{Reading: r, Age: s.clock.Since(r.CreatedAt)}
	}
	return nil
}

func (s *Store) WindowAverage(_ context.Context, userID uuid.UUID, window time.Duration) (domain.WindowStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := s.clock.Now().Add(-window)
	var stats domain.WindowStats
	total := 0
	for _, r := range s.readings {
		if r.UserID == userID && !r.CreatedAt.Before(since) {
			total += r.Level
			stats.Count++
		}
	}
	if stats.Count > 0 {
		stats.Average = float64(total) / float64(stats.Count)
	}
	return stats, nil
}

func (s *Store) GlobalLatestPerUser(_ context.Context) ([]domain.UserLatest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]bool)
	latest := make([]domain.UserLatest, 0)
	for i := len(s.readings) - 1; i >= 0; i-- {
		r := s.readings[i]
		if seen[r.UserID] {
			continue
		}
		seen[r.UserID] = true
		latest = append(latest, domain.UserLatest{
			UserID:        r.UserID,
			Username:      s.users[r.UserID].Username,
			StressLevel:   r.Level,
			IsSuperstress: r.IsSuperstress,
			LastUpdated:   r.CreatedAt,
		})
	}

	slices.SortStableFunc(latest, func(a, b domain.UserLatest) int {
		if c := b.LastUpdated.Compare(a.LastUpdated); c != 0 {
			return c
		}
		return cmp.Compare(a.Username, b.Username)
	})
	return latest, nil
}

// TimeBucketedAverages groups readings from the last window into buckets
// aligned to the Unix epoch, oldest first, omitting empty buckets.
func (s *Store) TimeBucketedAverages(_ context.Context, window, bucket time.Duration) ([]domain.BucketAverage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := s.clock.Now().Add(-window)
	type acc struct{ total, count int }
	buckets := make(map[time.Time]*acc)
	for _, r := range s.readings {
		if r.CreatedAt.Before(since) {
			continue
		}
		start := r.CreatedAt.UTC().Truncate(bucket)
		a, ok := buckets[start]
		if !ok {
			a = &acc{}
			buckets[start] = a
		}
		a.total += r.Level
		a.count++
	}

	starts := make([]time.Time, 0, len(buckets))
	for start := range buckets {
		starts = append(starts, start)
	}
	slices.SortFunc(starts, func(a, b time.Time) int { return a.Compare(b) })

	result := make([]domain.BucketAverage, 0, len(starts))
	for _, start := range starts {
		a := buckets[start]
		result = append(result, domain.BucketAverage{
			Bucket:       start.Format(domain.BucketLabelLayout),
			AverageLevel: float64(a.total) / float64(a.count),
			SampleCount:  a.count,
		})
	}
	return result, nil
}

func (s *Store) GetByID(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &u, nil
}

func (s *Store) Upsert(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(username)
	if id, ok := s.usernames[key]; ok {
		u := s.users[id]
		return &u, nil
	}

	u := domain.User{ID: uuid.New(), Username: username, CreatedAt: s.clock.Now()}
	s.users[u.ID] = u
	s.usernames[key] = u.ID
	return &u, nil
}
