package domain

import (
	"time"

	"github.com/google/uuid"
)

// Summary is recomputed on demand and never cached past one dispatch.
type Summary struct {
	Users              []UserLatest    `json:"users"`
	AverageStressLevel float64         `json:"averageStressLevel"`
	TimeBasedAverages  []BucketAverage `json:"timeBasedAverages"`
	LastUpdated        time.Time       `json:"lastUpdated"`
}

type UserLatest struct {
	UserID        uuid.UUID `json:"userId"`
	Username      string    `json:"username"`
	StressLevel   int       `json:"stressLevel"`
	IsSuperstress bool      `json:"isSuperstress"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

type BucketAverage struct {
	Bucket       string  `json:"bucket"`
	AverageLevel float64 `json:"averageStressLevel"`
	SampleCount  int     `json:"count"`
}

// BucketLabelLayout formats bucket start times.
const BucketLabelLayout = "2006-01-02T15:04Z07:00"

// AverageOfLatest is the plain mean of every user's latest level, 0 when empty.
func AverageOfLatest(users []UserLatest) float64 {
	if len(users) == 0 {
		return 0
	}
	total := 0
	for _, u := range users {
		total += u.StressLevel
	}
	return float64(total) / float64(len(users))
}
