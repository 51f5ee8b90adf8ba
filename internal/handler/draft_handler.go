package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/draftsync/internal/middleware"
	"github.com/stemsi/draftsync/internal/model"
	"github.com/stemsi/draftsync/internal/response"
	"github.com/stemsi/draftsync/internal/service"
	"github.com/stemsi/draftsync/internal/validator"
)

// DraftService is the part of service.DraftService the handler uses.
type DraftService interface {
	Save(ctx context.Context, studentID int, problemID string, req *model.SaveDraftRequest) (*model.CodeDraft, error)
	Latest(ctx context.Context, studentID int, problemID, language string) (*model.CodeDraft, error)
	History(ctx context.Context, studentID int, problemID, language string, limit int) ([]model.CodeDraft, error)
}

// DraftHandler handles the student's code draft endpoints.
type DraftHandler struct {
	draftService DraftService
}

// NewDraftHandler creates a new DraftHandler.
func NewDraftHandler(draftService DraftService) *DraftHandler {
	return &DraftHandler{draftService: draftService}
}

// GetLatest godoc
// GET /api/v1/student/problems/:problem_id/drafts/latest?language=
// Returns the newest draft, or null when the student has none.
func (h *DraftHandler) GetLatest(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var uri model.ProblemURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	var q model.DraftQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	d, err := h.draftService.Latest(c.Request.Context(), claims.UserID, uri.ProblemID, q.Language)
	if err != nil {
		if errors.Is(err, service.ErrDraftNotFound) {
			response.Success(c, http.StatusOK, gin.H{"draft": nil})
			return
		}
		response.Internal(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"draft": d})
}

// Save godoc
// POST /api/v1/student/problems/:problem_id/drafts
// Stores a new draft version. The server assigns its id and created_at.
func (h *DraftHandler) Save(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var uri model.ProblemURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}

	var req model.SaveDraftRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	d, err := h.draftService.Save(c.Request.Context(), claims.UserID, uri.ProblemID, &req)
	if err != nil {
		response.Internal(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"draft": d})
}

// History godoc
// GET /api/v1/student/problems/:problem_id/drafts?language=&limit=
// Returns recent persisted drafts, newest first.
func (h *DraftHandler) History(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var uri model.ProblemURI
	if fields := validator.BindURI(c, &uri); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, fields)
		return
	}
	var q model.DraftQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	drafts, err := h.draftService.History(c.Request.Context(), claims.UserID, uri.ProblemID, q.Language, q.Limit)
	if err != nil {
		response.Internal(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"drafts": drafts})
}
