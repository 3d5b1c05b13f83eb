package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/stresspulse/internal/domain"
)

type ReadingStore struct {
	pool *pgxpool.Pool
}

var _ domain.ReadingStore = (*ReadingStore)(nil)

func NewReadingStore(pool *pgxpool.Pool) *ReadingStore {
	return &ReadingStore{pool: pool}
}

const insertReadingSQL = `
	INSERT INTO stress_readings (user_id, level, is_superstress)
	VALUES ($1, $2, $3)
	RETURNING id, user_id, level, is_superstress, created_at`

// Ages are returned in microseconds computed by the database clock.
const latestReadingSQL = `
	SELECT id, user_id, level, is_superstress, created_at,
	       (extract(epoch FROM now() - created_at) * 1000000)::bigint AS age_us
	FROM stress_readings
	WHERE user_id = $1 AND ($2::boolean = false OR is_superstress)
	ORDER BY created_at DESC, id DESC
	LIMIT 1`

func (s *ReadingStore) Insert(ctx context.Context, r domain.NewReading) (*domain.Reading, error) {
	reading, err := insertReading(ctx, s.pool, r)
	if err != nil {
		return nil, err
	}
	return reading, nil
}

// InsertGated holds a transaction-scoped advisory lock keyed on the user while
// it re-reads the latest qualifying reading and inserts, so two concurrent
// submissions from one user cannot both pass the cooldown.
func (s *ReadingStore) InsertGated(ctx context.Context, r domain.NewReading, admit domain.AdmitFunc) (*domain.Reading, domain.CooldownDecision, error) {
	var (
		reading  *domain.Reading
		decision domain.CooldownDecision
	)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, r.UserID.String()); err != nil {
			return fmt.Errorf("failed to lock user readings: %w", err)
		}

		last, err := latestReading(ctx, tx, r.UserID, r.IsSuperstress)
		if err != nil {
			return err
		}

		decision = admit(last)
		if !decision.CanSubmit {
			return nil
		}

		reading, err = insertReading(ctx, tx, r)
		return err
	})
	if err != nil {
		return nil, domain.CooldownDecision{}, err
	}
	return reading, decision, nil
}

func (s *ReadingStore) MostRecent(ctx context.Context, userID uuid.UUID) (*domain.AgedReading, error) {
	return latestReading(ctx, s.pool, userID, false)
}

func (s *ReadingStore) MostRecentSuperstress(ctx context.Context, userID uuid.UUID) (*domain.AgedReading, error) {
	return latestReading(ctx, s.pool, userID, true)
}

func (s *ReadingStore) WindowAverage(ctx context.Context, userID uuid.UUID, window time.Duration) (domain.WindowStats, error) {
	var stats domain.WindowStats
	err := s.pool.QueryRow(ctx, `
		SELECT coalesce(avg(level), 0)::float8, count(*)
		FROM stress_readings
		WHERE user_id = $1 AND created_at >= now() - ($2::bigint * interval '1 microsecond')`,
		userID, window.Microseconds(),
	).Scan(&stats.Average, &stats.Count)
	if err != nil {
		return domain.WindowStats{}, fmt.Errorf("failed to compute window average: %w", err)
	}
	return stats, nil
}

func (s *ReadingStore) GlobalLatestPerUser(ctx context.Context) ([]domain.UserLatest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, username, level, is_superstress, created_at
		FROM (
			SELECT DISTINCT ON (r.user_id) r.user_id, u.username, r.level, r.is_superstress, r.created_at
			FROM stress_readings r
			JOIN users u ON u.id = r.user_id
			ORDER BY r.user_id, r.created_at DESC, r.id DESC
		) latest
		ORDER BY created_at DESC, username`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest readings: %w", err)
	}

	latest, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.UserLatest, error) {
		var u domain.UserLatest
		err := row.Scan(&u.UserID, &u.Username, &u.StressLevel, &u.IsSuperstress, &u.LastUpdated)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan latest readings: %w", err)
	}
	if latest == nil {
		latest = []domain.UserLatest{}
	}
	return latest, nil
}

// TimeBucketedAverages bins readings from the last window with date_bin,
// origin at the Unix epoch, oldest bucket first.
func (s *ReadingStore) TimeBucketedAverages(ctx context.Context, window, bucket time.Duration) ([]domain.BucketAverage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT date_bin($2::bigint * interval '1 microsecond', created_at, TIMESTAMPTZ '1970-01-01 00:00:00+00') AS bucket,
		       avg(level)::float8,
		       count(*)
		FROM stress_readings
		WHERE created_at >= now() - ($1::bigint * interval '1 microsecond')
		GROUP BY bucket
		ORDER BY bucket`,
		window.Microseconds(), bucket.Microseconds(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query bucketed averages: %w", err)
	}

	buckets, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BucketAverage, error) {
		var (
			b     domain.BucketAverage
			start time.Time
		)
		err := row.Scan(&start, &b.AverageLevel, &b.SampleCount)
		b.Bucket = start.UTC().Format(domain.BucketLabelLayout)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan bucketed averages: %w", err)
	}
	if buckets == nil {
		buckets = []domain.BucketAverage{}
	}
	return buckets, nil
}

func insertReading(ctx context.Context, q querier, r domain.NewReading) (*domain.Reading, error) {
	var reading domain.Reading
	err := q.QueryRow(ctx, insertReadingSQL, r.UserID, r.Level, r.IsSuperstress).Scan(
		&reading.ID, &reading.UserID, &reading.Level, &reading.IsSuperstress, &reading.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reading: %w", err)
	}
	return &reading, nil
}

func latestReading(ctx context.Context, q querier, userID uuid.UUID, superstressOnly bool) (*domain.AgedReading, error) {
	var (
		aged  domain.AgedReading
		ageUs int64
	)
	err := q.QueryRow(ctx, latestReadingSQL, userID, superstressOnly).Scan(
		&aged.Reading.ID, &aged.Reading.UserID, &aged.Reading.Level, &aged.Reading.IsSuperstress, &aged.Reading.CreatedAt, &ageUs,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}
	aged.Age = time.Duration(ageUs) * time.Microsecond
	return &aged, nil
}
