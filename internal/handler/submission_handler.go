package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/staff-portal-api/internal/models"
	"github.com/noah-isme/staff-portal-api/internal/service"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
	"github.com/noah-isme/staff-portal-api/pkg/response"
)

type submissionService interface {
	Create(ctx context.Context, kind models.ResourceKind, req service.CreateSubmissionRequest, actor *models.JWTClaims) (*models.Submission, error)
	Get(ctx context.Context, kind models.ResourceKind, id string, actor *models.JWTClaims) (*models.Submission, error)
	List(ctx context.Context, kind models.ResourceKind, req service.ListSubmissionsRequest, actor *models.JWTClaims) ([]models.Submission, *models.Pagination, error)
	ChangeStatus(ctx context.Context, kind models.ResourceKind, id string, req service.ChangeStatusRequest, actor *models.JWTClaims) (*models.Submission, error)
}

// SubmissionHandler exposes one submission kind (reports or proposals).
type SubmissionHandler struct {
	kind    models.ResourceKind
	service submissionService
}

// NewSubmissionHandler constructs a handler bound to kind.
func NewSubmissionHandler(kind models.ResourceKind, service submissionService) *SubmissionHandler {
	return &SubmissionHandler{kind: kind, service: service}
}

// List godoc
// @Summary List reports or proposals
// @Tags Submissions
// @Produce json
// @Param status query string false "Status filter"
// @Param mine query bool false "Only my own"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /reports [get]
// @Router /proposals [get]
func (h *SubmissionHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	page, size := pageParams(c)
	items, pagination, err := h.service.List(c.Request.Context(), h.kind, service.ListSubmissionsRequest{
		Status:   c.Query("status"),
		Mine:     queryBool(c, "mine"),
		Page:     page,
		PageSize: size,
	}, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get a report or proposal
// @Tags Submissions
// @Produce json
// @Param id path string true "ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id} [get]
// @Router /proposals/{id} [get]
func (h *SubmissionHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	item, err := h.service.Get(c.Request.Context(), h.kind, c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}

// Create godoc
// @Summary Create a report or proposal
// @Tags Submissions
// @Accept json
// @Produce json
// @Param payload body service.CreateSubmissionRequest true "Submission"
// @Success 201 {object} response.Envelope
// @Router /reports [post]
// @Router /proposals [post]
func (h *SubmissionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid submission payload"))
		return
	}
	item, err := h.service.Create(c.Request.Context(), h.kind, req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, item)
}

// ChangeStatus godoc
// @Summary Move a report or proposal through the review workflow
// @Tags Submissions
// @Accept json
// @Produce json
// @Param id path string true "ID"
// @Param payload body service.ChangeStatusRequest true "Transition"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /reports/{id}/status [patch]
// @Router /proposals/{id}/status [patch]
func (h *SubmissionHandler) ChangeStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ChangeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload"))
		return
	}
	item, err := h.service.ChangeStatus(c.Request.Context(), h.kind, c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, item, nil)
}
