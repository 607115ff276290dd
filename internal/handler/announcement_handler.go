package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/staff-portal-api/internal/dto"
	"github.com/noah-isme/staff-portal-api/internal/models"
	"github.com/noah-isme/staff-portal-api/internal/service"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
	"github.com/noah-isme/staff-portal-api/pkg/export"
	"github.com/noah-isme/staff-portal-api/pkg/response"
)

type announcementService interface {
	Create(ctx context.Context, actorID string, req service.AnnouncementRequest) (*models.Announcement, error)
	Update(ctx context.Context, id string, req service.AnnouncementRequest) (*models.Announcement, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id, viewerID string) (*models.AnnouncementView, error)
	List(ctx context.Context, viewerID string, req service.ListAnnouncementsRequest) ([]models.AnnouncementView, *models.Pagination, error)
	MarkRead(ctx context.Context, id, viewerID string) (time.Time, error)
	ExportReadReceipts(ctx context.Context, id string, format export.Format) (*service.ExportFile, error)
	Share(ctx context.Context, id string) (*service.ShareResult, error)
}

// AnnouncementHandler exposes announcement endpoints.
type AnnouncementHandler struct {
	service announcementService
}

// NewAnnouncementHandler constructs the handler.
func NewAnnouncementHandler(service announcementService) *AnnouncementHandler {
	return &AnnouncementHandler{service: service}
}

// List godoc
// @Summary List announcements visible to the current user
// @Tags Announcements
// @Produce json
// @Param active query bool false "Only currently active"
// @Param unread query bool false "Only unread"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /announcements [get]
func (h *AnnouncementHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	page, size := pageParams(c)
	items, pagination, err := h.service.List(c.Request.Context(), claims.UserID, service.ListAnnouncementsRequest{
		ActiveOnly: queryBool(c, "active"),
		UnreadOnly: queryBool(c, "unread"),
		Page:       page,
		PageSize:   size,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get an announcement
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /announcements/{id} [get]
func (h *AnnouncementHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	view, err := h.service.Get(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, view, nil)
}

// Create godoc
// @Summary Create an announcement
// @Tags Announcements
// @Accept json
// @Produce json
// @Param payload body service.AnnouncementRequest true "Announcement"
// @Success 201 {object} response.Envelope
// @Router /announcements [post]
func (h *AnnouncementHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.AnnouncementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid announcement payload"))
		return
	}
	announcement, err := h.service.Create(c.Request.Context(), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, announcement)
}

// Update godoc
// @Summary Update an announcement
// @Tags Announcements
// @Accept json
// @Produce json
// @Param id path string true "Announcement ID"
// @Param payload body service.AnnouncementRequest true "Announcement"
// @Success 200 {object} response.Envelope
// @Router /announcements/{id} [put]
func (h *AnnouncementHandler) Update(c *gin.Context) {
	var req service.AnnouncementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid announcement payload"))
		return
	}
	announcement, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, announcement, nil)
}

// Delete godoc
// @Summary Delete an announcement
// @Tags Announcements
// @Param id path string true "Announcement ID"
// @Success 204
// @Router /announcements/{id} [delete]
func (h *AnnouncementHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkRead godoc
// @Summary Mark an announcement as read
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Router /announcements/{id}/read [post]
func (h *AnnouncementHandler) MarkRead(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	id := c.Param("id")
	readAt, err := h.service.MarkRead(c.Request.Context(), id, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.AnnouncementReadResponse{AnnouncementID: id, ReadAt: readAt}, nil)
}

// ExportReadReceipts godoc
// @Summary Download read receipts
// @Tags Announcements
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Announcement ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Router /announcements/{id}/read-receipts [get]
func (h *AnnouncementHandler) ExportReadReceipts(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, err.Error()))
		return
	}
	file, err := h.service.ExportReadReceipts(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// Share godoc
// @Summary Send an announcement to the chat channel now
// @Tags Announcements
// @Produce json
// @Param id path string true "Announcement ID"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /announcements/{id}/share [post]
func (h *AnnouncementHandler) Share(c *gin.Context) {
	result, err := h.service.Share(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
