package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// LatestDraftKey returns the cache key for a student's newest draft of a problem in one language
func (r *CacheKeyStruct) LatestDraftKey(studentID int, problemID, language string) string {
	return fmt.Sprintf("draft:%d:%s:%s:latest", studentID, problemID, language)
}

// StudentExamDeadlineKey returns the cache key for a student's exam session hash (session_id, deadline in unix ms)
func (r *CacheKeyStruct) StudentExamDeadlineKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:deadline", studentID, examID)
}

// StudentExamSubmittedKey returns the cache key marking a student's exam as handed in
func (r *CacheKeyStruct) StudentExamSubmittedKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:submitted", studentID, examID)
}

var CacheKey = NewCacheKeyStruct()
