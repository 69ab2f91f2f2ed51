package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionMetaKey holds owner, course, deadline and status of a session.
func (r *CacheKeyStruct) SessionMetaKey(sessionID string) string {
	return fmt.Sprintf("session:%s:meta", sessionID)
}

// SessionViolationsKey is the authoritative violation counter of a session.
func (r *CacheKeyStruct) SessionViolationsKey(sessionID string) string {
	return fmt.Sprintf("session:%s:violations", sessionID)
}

// SessionResultKey stores the result id of the first accepted submission.
func (r *CacheKeyStruct) SessionResultKey(sessionID string) string {
	return fmt.Sprintf("session:%s:result", sessionID)
}

// CourseMonitorChannel returns the Redis PubSub channel proctors subscribe to.
func (r *CacheKeyStruct) CourseMonitorChannel(courseID string) string {
	return fmt.Sprintf("course:%s:monitor", courseID)
}

var CacheKey = NewCacheKeyStruct()
