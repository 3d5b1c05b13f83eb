package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/pscheid92/stresspulse/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Summarizer builds the aggregate Summary from the reading store.
type Summarizer struct {
	store  domain.ReadingStore
	clock  clockwork.Clock
	window time.Duration
	bucket time.Duration
	group  singleflight.Group
}

func NewSummarizer(store domain.ReadingStore, clock clockwork.Clock, window, bucket time.Duration) *Summarizer {
	return &Summarizer{store: store, clock: clock, window: window, bucket: bucket}
}

// Compute always queries the store. The dispatcher uses it so the summary
// reflects a reading committed just before.
func (s *Summarizer) Compute(ctx context.Context) (domain.Summary, error) {
	start := time.Now()
	defer func() { metrics.SummaryDuration.Observe(time.Since(start).Seconds()) }()

	users, err := s.store.GlobalLatestPerUser(ctx)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("load latest readings: %w", err)
	}
	buckets, err := s.store.TimeBucketedAverages(ctx, s.window, s.bucket)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("load bucketed averages: %w", err)
	}

	if users == nil {
		users = []domain.UserLatest{}
	}
	if buckets == nil {
		buckets = []domain.BucketAverage{}
	}
	return domain.Summary{
		Users:              users,
		AverageStressLevel: domain.AverageOfLatest(users),
		TimeBasedAverages:  buckets,
		LastUpdated:        s.clock.Now().UTC(),
	}, nil
}

// Get collapses concurrent read requests into one computation.
func (s *Summarizer) Get(ctx context.Context) (domain.Summary, error) {
	v, err, _ := s.group.Do("summary", func() (any, error) {
		return s.Compute(context.WithoutCancel(ctx))
	})
	if err != nil {
		return domain.Summary{}, err
	}
	return v.(domain.Summary), nil
}
