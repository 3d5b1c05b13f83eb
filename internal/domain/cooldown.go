package domain

import (
	"encoding/json"
	"time"
)

type CooldownDecision struct {
	CanSubmit     bool
	TimeRemaining time.Duration
	LastReading   *Reading
}

// MarshalJSON rounds the remaining time up to whole milliseconds, so a
// rejection never reports zero.
func (d CooldownDecision) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		CanSubmit       bool     `json:"canSubmit"`
		TimeRemainingMs int64    `json:"timeRemainingMs"`
		LastReading     *Reading `json:"lastReading"`
	}{
		CanSubmit:       d.CanSubmit,
		TimeRemainingMs: (d.TimeRemaining + time.Millisecond - 1).Milliseconds(),
		LastReading:     d.LastReading,
	})
}
