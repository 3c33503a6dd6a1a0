package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptTimerKey returns the cache key for an attempt's timer state,
// stored as "<start unix seconds>:<time limit minutes>".
func (r *CacheKeyStruct) AttemptTimerKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:timer", attemptID)
}

// ExamLeaderboardKey returns the sorted-set key holding an exam's top scores.
func (r *CacheKeyStruct) ExamLeaderboardKey(examID string) string {
	return fmt.Sprintf("exam:%s:leaderboard", examID)
}

var CacheKey = NewCacheKeyStruct()
