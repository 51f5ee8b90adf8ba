package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
)

// ExamSession represents a student's exam attempt.
type ExamSession struct {
	ID         uuid.UUID       `json:"id"`
	ExamID     uuid.UUID       `json:"exam_id"`
	StudentID  int             `json:"student_id"`
	StartedAt  time.Time       `json:"started_at"`
	Deadline   time.Time       `json:"deadline"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Status     SessionStatus   `json:"status"`
	Answers    json.RawMessage `json:"answers,omitempty"`
}

// RemainingTime is the countdown a client renders. Deadline is authoritative;
// RemainingSeconds is a convenience computed when the response was built.
type RemainingTime struct {
	RemainingSeconds int       `json:"remaining_seconds"`
	Deadline         time.Time `json:"deadline"`
}

// ExamSessionState is returned by start and state.
type ExamSessionState struct {
	SessionID     uuid.UUID     `json:"session_id"`
	ExamID        uuid.UUID     `json:"exam_id"`
	Status        SessionStatus `json:"status"`
	RemainingTime RemainingTime `json:"remaining_time"`
}

// SubmitExamRequest is the payload for handing in an exam.
type SubmitExamRequest struct {
	Answers json.RawMessage `json:"answers"`
}
