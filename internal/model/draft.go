package model

import (
	"time"

	"github.com/google/uuid"
)

// SaveType says why a draft was saved.
type SaveType string

const (
	SaveTypeAuto       SaveType = "auto_save"
	SaveTypeManual     SaveType = "manual_save"
	SaveTypeSubmission SaveType = "submission"
)

// CodeDraft is one saved version of a student's code for a problem.
type CodeDraft struct {
	ID        uuid.UUID `json:"id"`
	StudentID int       `json:"student_id"`
	ProblemID string    `json:"problem_id"`
	Language  string    `json:"language"`
	Code      string    `json:"code"`
	SaveType  SaveType  `json:"save_type"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveDraftRequest is the payload for saving a draft.
type SaveDraftRequest struct {
	Code     string   `json:"code" binding:"max=262144"`
	Language string   `json:"language" binding:"required,max=32,slug"`
	SaveType SaveType `json:"save_type" binding:"omitempty,oneof=auto_save manual_save submission"`
}

// ProblemURI is the problem path parameter.
type ProblemURI struct {
	ProblemID string `uri:"problem_id" binding:"required,max=64,slug"`
}

// DraftQuery filters the draft read endpoints.
type DraftQuery struct {
	Language string `form:"language" binding:"omitempty,max=32,slug"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=100"`
}
