package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionTimeSpentKey returns the cache key holding the last confirmed
// time-spent seconds for a session.
func (r *CacheKeyStruct) SessionTimeSpentKey(token string) string {
	return fmt.Sprintf("session:%s:time_spent", token)
}

// QuizDurationKey returns the cache key for a quiz's duration in minutes.
func (r *CacheKeyStruct) QuizDurationKey(quizID string) string {
	return fmt.Sprintf("quiz:%s:duration", quizID)
}

// SessionAnswersKey returns the cache key for a session's autosaved answers.
func (r *CacheKeyStruct) SessionAnswersKey(token string) string {
	return fmt.Sprintf("session:%s:answers", token)
}

// QuizMonitorChannel returns the Redis PubSub channel name for a quiz's
// live monitor feed.
func (r *CacheKeyStruct) QuizMonitorChannel(quizID string) string {
	return fmt.Sprintf("quiz:%s:monitor", quizID)
}

var CacheKey = NewCacheKeyStruct()
