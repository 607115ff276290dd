package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/staff-portal-api/internal/models"
	"github.com/noah-isme/staff-portal-api/internal/service"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
)

type submissionServiceMock struct {
	kind      models.ResourceKind
	id        string
	statusReq service.ChangeStatusRequest
	listReq   service.ListSubmissionsRequest
	statusErr error
}

func (m *submissionServiceMock) Create(ctx context.Context, kind models.ResourceKind, req service.CreateSubmissionRequest, actor *models.JWTClaims) (*models.Submission, error) {
	m.kind = kind
	return &models.Submission{ID: "s1", Kind: kind, Title: req.Title, AuthorID: actor.UserID}, nil
}

func (m *submissionServiceMock) Get(ctx context.Context, kind models.ResourceKind, id string, actor *models.JWTClaims) (*models.Submission, error) {
	m.kind, m.id = kind, id
	return &models.Submission{ID: id, Kind: kind}, nil
}

func (m *submissionServiceMock) List(ctx context.Context, kind models.ResourceKind, req service.ListSubmissionsRequest, actor *models.JWTClaims) ([]models.Submission, *models.Pagination, error) {
	m.kind = kind
	m.listReq = req
	return []models.Submission{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *submissionServiceMock) ChangeStatus(ctx context.Context, kind models.ResourceKind, id string, req service.ChangeStatusRequest, actor *models.JWTClaims) (*models.Submission, error) {
	m.kind, m.id, m.statusReq = kind, id, req
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	return &models.Submission{ID: id, Kind: kind, Status: models.SubmissionStatus(req.Status)}, nil
}

func TestSubmissionHandlerCreateUsesBoundKind(t *testing.T) {
	mockSvc := &submissionServiceMock{}
	handler := NewSubmissionHandler(models.ResourceProposal, mockSvc)

	c, w := newHandlerContext(http.MethodPost, "/proposals", `{"title":"New laptops","body":"x","budget":1200,"submit":true}`, &models.JWTClaims{UserID: "u1"})
	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.ResourceProposal, mockSvc.kind)
}

func TestSubmissionHandlerListFilters(t *testing.T) {
	mockSvc := &submissionServiceMock{}
	handler := NewSubmissionHandler(models.ResourceReport, mockSvc)

	c, w := newHandlerContext(http.MethodGet, "/reports?status=submitted&mine=true", "", &models.JWTClaims{UserID: "u1"})
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ResourceReport, mockSvc.kind)
	assert.Equal(t, "submitted", mockSvc.listReq.Status)
	assert.True(t, mockSvc.listReq.Mine)
}

func TestSubmissionHandlerChangeStatus(t *testing.T) {
	mockSvc := &submissionServiceMock{}
	handler := NewSubmissionHandler(models.ResourceReport, mockSvc)

	c, w := newHandlerContext(http.MethodPatch, "/reports/r1/status", `{"status":"approved","note":"Looks good"}`, &models.JWTClaims{UserID: "rev", Roles: []string{"reviewer"}})
	c.Params = gin.Params{{Key: "id", Value: "r1"}}
	handler.ChangeStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "r1", mockSvc.id)
	assert.Equal(t, "approved", mockSvc.statusReq.Status)
	require.NotNil(t, mockSvc.statusReq.Note)
	assert.Equal(t, "Looks good", *mockSvc.statusReq.Note)
}

func TestSubmissionHandlerChangeStatusConflict(t *testing.T) {
	handler := NewSubmissionHandler(models.ResourceReport, &submissionServiceMock{statusErr: appErrors.Clone(appErrors.ErrInvalidTransition, "cannot move report")})

	c, w := newHandlerContext(http.MethodPatch, "/reports/r1/status", `{"status":"submitted"}`, &models.JWTClaims{UserID: "u1"})
	handler.ChangeStatus(c)
	assert.Equal(t, http.StatusConflict, w.Code)
}
