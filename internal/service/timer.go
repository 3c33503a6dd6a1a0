package service

import "time"

// TimeInfo is the advisory timer state of a running attempt. It never blocks
// a late submission by itself; clients use it to drive the countdown and
// auto-submit.
type TimeInfo struct {
	RemainingSeconds int64 `json:"remaining_time"`
	TimeSpentSeconds int64 `json:"time_spent"`
	TimeLimitSeconds int64 `json:"time_limit"`
	IsTimeUp         bool  `json:"is_time_up"`
}

// RemainingTime computes elapsed and remaining whole seconds for an attempt
// given its start time and the exam's time limit. Pure in "now" so callers
// and tests control the clock.
func RemainingTime(startTime time.Time, timeLimitMinutes int, now time.Time) TimeInfo {
	timeSpent := int64(now.Sub(startTime) / time.Second)
	timeLimit := int64(timeLimitMinutes) * 60
	remaining := timeLimit - timeSpent

	info := TimeInfo{
		TimeSpentSeconds: timeSpent,
		TimeLimitSeconds: timeLimit,
		IsTimeUp:         remaining <= 0,
	}
	if remaining > 0 {
		info.RemainingSeconds = remaining
	}
	return info
}
