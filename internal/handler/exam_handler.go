package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/draftsync/internal/middleware"
	"github.com/stemsi/draftsync/internal/model"
	"github.com/stemsi/draftsync/internal/response"
	"github.com/stemsi/draftsync/internal/service"
	"github.com/stemsi/draftsync/internal/validator"
)

// ExamSessionService is the part of service.ExamSessionService the handler uses.
type ExamSessionService interface {
	Start(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSessionState, error)
	State(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSessionState, error)
	Submit(ctx context.Context, examID uuid.UUID, studentID int, answers json.RawMessage) (*model.ExamSession, error)
}

// ExamHandler handles the student's timed exam endpoints.
type ExamHandler struct {
	sessionService ExamSessionService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(sessionService ExamSessionService) *ExamHandler {
	return &ExamHandler{sessionService: sessionService}
}

// Start godoc
// POST /api/v1/student/exams/:exam_id/start
// Creates the student's session (idempotent) and returns its deadline.
func (h *ExamHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.sessionService.Start(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failExam(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// State godoc
// GET /api/v1/student/exams/:exam_id/state
// Returns the authoritative deadline; clients resync their countdown with it.
func (h *ExamHandler) State(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.sessionService.State(c.Request.Context(), examID, claims.UserID)
	if err != nil {
		failExam(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
// Hands the exam in. A second submission is rejected with 409.
func (h *ExamHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SubmitExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload, fields)
		return
	}
	if len(req.Answers) > 0 && !json.Valid(req.Answers) {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	session, err := h.sessionService.Submit(c.Request.Context(), examID, claims.UserID, req.Answers)
	if err != nil {
		failExam(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"session_id":  session.ID,
		"status":      session.Status,
		"finished_at": session.FinishedAt,
	})
}

func failExam(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrExamNotFound)
	case errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
	case errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusBadRequest, response.ErrExamNotAvailable)
	case errors.Is(err, service.ErrAlreadySubmitted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
	default:
		response.Internal(c, err)
	}
}
