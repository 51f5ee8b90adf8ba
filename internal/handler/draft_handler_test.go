package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/draftsync/internal/model"
	"github.com/stemsi/draftsync/internal/response"
	"github.com/stemsi/draftsync/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDraftService struct {
	latest    *model.CodeDraft
	latestErr error
	saveErr   error

	gotStudent  int
	gotProblem  string
	gotLanguage string
	gotLimit    int
	gotSave     *model.SaveDraftRequest
}

func (f *fakeDraftService) Save(_ context.Context, studentID int, problemID string, req *model.SaveDraftRequest) (*model.CodeDraft, error) {
	f.gotStudent, f.gotProblem, f.gotSave = studentID, problemID, req
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	return &model.CodeDraft{
		ID:        uuid.New(),
		StudentID: studentID,
		ProblemID: problemID,
		Language:  req.Language,
		Code:      req.Code,
		SaveType:  model.SaveTypeManual,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeDraftService) Latest(_ context.Context, studentID int, problemID, language string) (*model.CodeDraft, error) {
	f.gotStudent, f.gotProblem, f.gotLanguage = studentID, problemID, language
	return f.latest, f.latestErr
}

func (f *fakeDraftService) History(_ context.Context, studentID int, problemID, language string, limit int) ([]model.CodeDraft, error) {
	f.gotStudent, f.gotProblem, f.gotLanguage, f.gotLimit = studentID, problemID, language, limit
	return []model.CodeDraft{}, nil
}

func draftRouter(svc DraftService) *gin.Engine {
	h := NewDraftHandler(svc)
	r := gin.New()
	g := r.Group("/problems/:problem_id/drafts", withStudent(7))
	g.GET("/latest", h.GetLatest)
	g.GET("", h.History)
	g.POST("", h.Save)
	return r
}

func TestDraftHandler_LatestNotFoundIsNull(t *testing.T) {
	svc := &fakeDraftService{latestErr: service.ErrDraftNotFound}

	w, env := do(t, draftRouter(svc), http.MethodGet, "/problems/two-sum/drafts/latest?language=go", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, env.Error)
	assert.JSONEq(t, `{"draft":null}`, string(env.Data))
	assert.Equal(t, 7, svc.gotStudent)
	assert.Equal(t, "two-sum", svc.gotProblem)
	assert.Equal(t, "go", svc.gotLanguage)
}

func TestDraftHandler_LatestFound(t *testing.T) {
	svc := &fakeDraftService{latest: &model.CodeDraft{ProblemID: "two-sum", Language: "go", Code: "package main"}}

	w, env := do(t, draftRouter(svc), http.MethodGet, "/problems/two-sum/drafts/latest", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Draft model.CodeDraft `json:"draft"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "package main", data.Draft.Code)
	assert.Empty(t, svc.gotLanguage, "language is optional")
}

func TestDraftHandler_LatestStoreFailure(t *testing.T) {
	svc := &fakeDraftService{latestErr: errors.New("redis down")}

	w, env := do(t, draftRouter(svc), http.MethodGet, "/problems/two-sum/drafts/latest", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrInternal, env.Error.Code)
}

func TestDraftHandler_SaveCreated(t *testing.T) {
	svc := &fakeDraftService{}

	w, env := do(t, draftRouter(svc), http.MethodPost, "/problems/two-sum/drafts", map[string]string{
		"language": "go",
		"code":     "fmt.Println(1)",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	var data struct {
		Draft model.CodeDraft `json:"draft"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "fmt.Println(1)", data.Draft.Code)
	assert.NotEqual(t, uuid.Nil, data.Draft.ID)
	require.NotNil(t, svc.gotSave)
	assert.Equal(t, "go", svc.gotSave.Language)
}

func TestDraftHandler_SaveValidation(t *testing.T) {
	tests := []struct {
		name  string
		path  string
		body  map[string]string
		code  response.ErrCode
		field string
	}{
		{"missing language", "/problems/two-sum/drafts", map[string]string{"code": "x"}, response.ErrValidation, "language"},
		{"bad language", "/problems/two-sum/drafts", map[string]string{"code": "x", "language": "c plus"}, response.ErrValidation, "language"},
		{"bad save type", "/problems/two-sum/drafts", map[string]string{"code": "x", "language": "go", "save_type": "later"}, response.ErrValidation, "save_type"},
		{"bad problem id", "/problems/-x/drafts", map[string]string{"code": "x", "language": "go"}, response.ErrInvalidID, "problem_id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeDraftService{}
			w, env := do(t, draftRouter(svc), http.MethodPost, tc.path, tc.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
			assert.Contains(t, env.Error.Fields, tc.field)
			assert.Nil(t, svc.gotSave, "service must not be called")
		})
	}
}

func TestDraftHandler_HistoryPassesLimit(t *testing.T) {
	svc := &fakeDraftService{}

	w, env := do(t, draftRouter(svc), http.MethodGet, "/problems/two-sum/drafts?language=python&limit=5", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"drafts":[]}`, string(env.Data))
	assert.Equal(t, 5, svc.gotLimit)
	assert.Equal(t, "python", svc.gotLanguage)
}

func TestDraftHandler_HistoryRejectsLimit(t *testing.T) {
	w, env := do(t, draftRouter(&fakeDraftService{}), http.MethodGet, "/problems/two-sum/drafts?limit=500", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "limit")
}

func TestDraftHandler_RequiresClaims(t *testing.T) {
	h := NewDraftHandler(&fakeDraftService{})
	r := gin.New()
	r.GET("/problems/:problem_id/drafts/latest", h.GetLatest)

	w, env := do(t, r, http.MethodGet, "/problems/two-sum/drafts/latest", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrTokenRequired, env.Error.Code)
}
