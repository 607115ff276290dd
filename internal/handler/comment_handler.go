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

type commentService interface {
	Create(ctx context.Context, ref models.ResourceRef, req service.CreateCommentRequest, actor *models.JWTClaims) (*models.Comment, error)
	List(ctx context.Context, ref models.ResourceRef, actor *models.JWTClaims) ([]models.Comment, error)
}

// CommentHandler exposes the comment thread of one resource kind.
type CommentHandler struct {
	kind    models.ResourceKind
	service commentService
}

// NewCommentHandler constructs a handler bound to kind.
func NewCommentHandler(kind models.ResourceKind, service commentService) *CommentHandler {
	return &CommentHandler{kind: kind, service: service}
}

// List godoc
// @Summary List comments on a report or proposal
// @Tags Comments
// @Produce json
// @Param id path string true "Resource ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id}/comments [get]
// @Router /proposals/{id}/comments [get]
func (h *CommentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	comments, err := h.service.List(c.Request.Context(), h.ref(c), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comments, nil)
}

// Create godoc
// @Summary Comment on a report or proposal
// @Tags Comments
// @Accept json
// @Produce json
// @Param id path string true "Resource ID"
// @Param payload body service.CreateCommentRequest true "Comment"
// @Success 201 {object} response.Envelope
// @Router /reports/{id}/comments [post]
// @Router /proposals/{id}/comments [post]
func (h *CommentHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload"))
		return
	}
	comment, err := h.service.Create(c.Request.Context(), h.ref(c), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

func (h *CommentHandler) ref(c *gin.Context) models.ResourceRef {
	return models.ResourceRef{Kind: h.kind, ID: c.Param("id")}
}
