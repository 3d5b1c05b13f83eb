package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	MinLevel         = 0
	MaxRegularLevel  = 100
	SuperstressLevel = 200
)

// ReadingKind selects which readings count towards a cooldown.
type ReadingKind int

const (
	KindRegular ReadingKind = iota
	KindSuperstress
)

func (k ReadingKind) String() string {
	if k == KindSuperstress {
		return "superstress"
	}
	return "regular"
}

// ParseReadingKind accepts "regular" (or empty) and "superstress".
func ParseReadingKind(s string) (ReadingKind, error) {
	switch s {
	case "", "regular":
		return KindRegular, nil
	case "superstress":
		return KindSuperstress, nil
	default:
		return KindRegular, fmt.Errorf("unknown reading kind %q", s)
	}
}

// Reading is immutable once stored. A superstress reading always has level 200;
// a regular one stays within 0..100.
type Reading struct {
	ID            int64     `json:"id"`
	UserID        uuid.UUID `json:"userId"`
	Level         int       `json:"stressLevel"`
	IsSuperstress bool      `json:"isSuperstress"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (r *Reading) Kind() ReadingKind {
	if r.IsSuperstress {
		return KindSuperstress
	}
	return KindRegular
}

// NewReading is the validated input for an insert.
type NewReading struct {
	UserID        uuid.UUID
	Level         int
	IsSuperstress bool
}

// NewRegularReading validates the externally facing 0..100 range.
func NewRegularReading(userID uuid.UUID, level int) (NewReading, error) {
	if level < MinLevel || level > MaxRegularLevel {
		return NewReading{}, fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidLevel, level, MinLevel, MaxRegularLevel)
	}
	return NewReading{UserID: userID, Level: level}, nil
}

func NewSuperstressReading(userID uuid.UUID) NewReading {
	return NewReading{UserID: userID, Level: SuperstressLevel, IsSuperstress: true}
}

func (n NewReading) Kind() ReadingKind {
	if n.IsSuperstress {
		return KindSuperstress
	}
	return KindRegular
}

// AgedReading pairs a reading with its age as measured by the store's clock at
// query time, so callers never subtract timestamps taken from different clocks.
type AgedReading struct {
	Reading Reading
	Age     time.Duration
}

// AdmitFunc decides whether an insert may proceed given the latest qualifying
// reading (nil when there is none).
type AdmitFunc func(last *AgedReading) CooldownDecision

type ReadingStore interface {
	Insert(ctx context.Context, r NewReading) (*Reading, error)
	// InsertGated serializes per user: it reads the latest reading of the same
	// kind, asks admit, and inserts only when admitted, all atomically.
	InsertGated(ctx context.Context, r NewReading, admit AdmitFunc) (*Reading, CooldownDecision, error)
	MostRecent(ctx context.Context, userID uuid.UUID) (*AgedReading, error)
	MostRecentSuperstress(ctx context.Context, userID uuid.UUID) (*AgedReading, error)
	WindowAverage(ctx context.Context, userID uuid.UUID, window time.Duration) (WindowStats, error)
	GlobalLatestPerUser(ctx context.Context) ([]UserLatest, error)
	TimeBucketedAverages(ctx context.Context, window, bucket time.Duration) ([]BucketAverage, error)
}

type WindowStats struct {
	Average float64 `json:"averageStressLevel"`
	Count   int     `json:"count"`
}
