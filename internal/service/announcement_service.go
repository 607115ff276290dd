package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/staff-portal-api/internal/models"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
	"github.com/noah-isme/staff-portal-api/pkg/export"
)

type announcementStore interface {
	Create(ctx context.Context, announcement *models.Announcement) error
	Update(ctx context.Context, announcement *models.Announcement) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	GetByID(ctx context.Context, id string) (*models.Announcement, error)
	ListForViewer(ctx context.Context, viewer *models.User, filter models.AnnouncementFilter, now time.Time) ([]models.AnnouncementListRow, int, error)
	ClaimPublication(ctx context.Context, id string, at time.Time) (bool, error)
	ReleasePublication(ctx context.Context, id string) error
	ReadReceipts(ctx context.Context, announcementID string, userIDs []string) ([]models.ReadReceipt, error)
	LoadTarget(ctx context.Context, announcement *models.Announcement) error
}

type announcementUsers interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindRecipients(ctx context.Context, ids []string) ([]models.Recipient, error)
}

type announcementAudience interface {
	ResolveTargets(ctx context.Context, announcement *models.Announcement) ([]string, error)
	CanView(ctx context.Context, announcement *models.Announcement, user *models.User) (bool, error)
	ReadAt(ctx context.Context, announcementID, userID string) (*time.Time, error)
	MarkRead(ctx context.Context, announcementID, userID string) (time.Time, error)
}

type eventNotifier interface {
	Notify(ctx context.Context, event models.NotificationEvent) ([]models.DispatchResult, error)
}

type chatMessenger interface {
	Enabled() bool
	SendMessage(ctx context.Context, userIdentifier, text string) error
}

// AnnouncementService handles announcement workflows.
type AnnouncementService struct {
	store     announcementStore
	users     announcementUsers
	audience  announcementAudience
	notifier  eventNotifier
	chat      chatMessenger
	exporter  *ExportService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	publicURL string
	now       func() time.Time
}

// AnnouncementDeps groups the collaborators of AnnouncementService.
type AnnouncementDeps struct {
	Store     announcementStore
	Users     announcementUsers
	Audience  announcementAudience
	Notifier  eventNotifier
	Chat      chatMessenger
	Exporter  *ExportService
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
	PublicURL string
}

// NewAnnouncementService constructs the service.
func NewAnnouncementService(deps AnnouncementDeps) *AnnouncementService {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Exporter == nil {
		deps.Exporter = NewExportService(deps.Logger)
	}
	return &AnnouncementService{
		store:     deps.Store,
		users:     deps.Users,
		audience:  deps.Audience,
		notifier:  deps.Notifier,
		chat:      deps.Chat,
		exporter:  deps.Exporter,
		metrics:   deps.Metrics,
		validator: deps.Validator,
		logger:    deps.Logger,
		publicURL: strings.TrimRight(deps.PublicURL, "/"),
		now:       time.Now,
	}
}

// AnnouncementRequest is the create and update payload.
type AnnouncementRequest struct {
	Title     string            `json:"title" validate:"required,max=200"`
	Body      string            `json:"body" validate:"required"`
	Priority  string            `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	IsPinned  bool              `json:"is_pinned"`
	StartsAt  *time.Time        `json:"starts_at"`
	ExpiresAt *time.Time        `json:"expires_at"`
	Target    models.TargetRule `json:"target"`
}

// ListAnnouncementsRequest carries the viewer's listing filters.
type ListAnnouncementsRequest struct {
	ActiveOnly bool
	UnreadOnly bool
	Page       int
	PageSize   int
}

// ShareResult reports a manual chat share.
type ShareResult struct {
	Sent    int      `json:"sent"`
	Skipped int      `json:"skipped"`
	Failed  []string `json:"failed"`
}

// Create registers a new announcement and publishes it when already active.
func (s *AnnouncementService) Create(ctx context.Context, actorID string, req AnnouncementRequest) (*models.Announcement, error) {
	rule, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	announcement := &models.Announcement{
		Title:      strings.TrimSpace(req.Title),
		Body:       req.Body,
		Priority:   priorityOrDefault(req.Priority),
		TargetMode: rule.Mode,
		IsPinned:   req.IsPinned,
		StartsAt:   req.StartsAt,
		ExpiresAt:  req.ExpiresAt,
		CreatedBy:  actorID,
		Target:     rule,
	}
	if err := s.store.Create(ctx, announcement); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create announcement")
	}
	s.logger.Info("announcement created", zap.String("announcement_id", announcement.ID), zap.String("target_mode", string(rule.Mode)))

	if announcement.Status(s.now()) == models.StatusActive {
		s.Publish(ctx, announcement)
	}
	return announcement, nil
}

// Update replaces the content and target rule. Read marks are kept.
func (s *AnnouncementService) Update(ctx context.Context, id string, req AnnouncementRequest) (*models.Announcement, error) {
	rule, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	existing, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	existing.Title = strings.TrimSpace(req.Title)
	existing.Body = req.Body
	existing.Priority = priorityOrDefault(req.Priority)
	existing.TargetMode = rule.Mode
	existing.IsPinned = req.IsPinned
	existing.StartsAt = req.StartsAt
	existing.ExpiresAt = req.ExpiresAt
	existing.Target = rule
	if err := s.store.Update(ctx, existing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update announcement")
	}
	if existing.NotifiedAt == nil && existing.Status(s.now()) == models.StatusActive {
		s.Publish(ctx, existing)
	}
	return existing, nil
}

// Delete soft-deletes an announcement.
func (s *AnnouncementService) Delete(ctx context.Context, id string) error {
	if err := s.store.SoftDelete(ctx, id, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete announcement")
	}
	return nil
}

// Get returns the announcement as seen by the viewer.
func (s *AnnouncementService) Get(ctx context.Context, id, viewerID string) (*models.AnnouncementView, error) {
	viewer, err := s.viewer(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	announcement, err := s.visible(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	readAt, err := s.audience.ReadAt(ctx, announcement.ID, viewer.ID)
	if err != nil {
		return nil, err
	}
	view := s.view(*announcement, readAt)
	return &view, nil
}

// List returns the announcements visible to the viewer, pinned first, then by
// priority and recency.
func (s *AnnouncementService) List(ctx context.Context, viewerID string, req ListAnnouncementsRequest) ([]models.AnnouncementView, *models.Pagination, error) {
	viewer, err := s.viewer(ctx, viewerID)
	if err != nil {
		return nil, nil, err
	}
	filter := models.AnnouncementFilter{
		ActiveOnly: req.ActiveOnly,
		UnreadOnly: req.UnreadOnly,
		Page:       req.Page,
		PageSize:   req.PageSize,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	rows, total, err := s.store.ListForViewer(ctx, viewer, filter, s.now().UTC())
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list announcements")
	}
	views := make([]models.AnnouncementView, 0, len(rows))
	for _, row := range rows {
		views = append(views, s.view(row.Announcement, row.ReadAt))
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return views, pagination, nil
}

// MarkRead records that the viewer has read the announcement and returns the
// first read time.
func (s *AnnouncementService) MarkRead(ctx context.Context, id, viewerID string) (time.Time, error) {
	viewer, err := s.viewer(ctx, viewerID)
	if err != nil {
		return time.Time{}, err
	}
	if _, err := s.visible(ctx, id, viewer); err != nil {
		return time.Time{}, err
	}
	return s.audience.MarkRead(ctx, id, viewer.ID)
}

// ExportReadReceipts renders the read state of every targeted user.
func (s *AnnouncementService) ExportReadReceipts(ctx context.Context, id string, format export.Format) (*ExportFile, error) {
	announcement, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := s.audience.ResolveTargets(ctx, announcement)
	if err != nil {
		return nil, err
	}
	receipts, err := s.store.ReadReceipts(ctx, announcement.ID, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load read receipts")
	}
	return s.exporter.ReadReceipts(announcement, receipts, format)
}

// Share pushes the announcement to the chat accounts of its audience right
// away. Delivery errors are returned to the caller.
func (s *AnnouncementService) Share(ctx context.Context, id string) (*ShareResult, error) {
	if s.chat == nil || !s.chat.Enabled() {
		return nil, appErrors.Clone(appErrors.ErrChannelUnavailable, "chat channel is not configured")
	}
	announcement, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := s.audience.ResolveTargets(ctx, announcement)
	if err != nil {
		return nil, err
	}
	recipients, err := s.users.FindRecipients(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recipients")
	}

	content := announcementContent(announcement)
	text := content.chatText(s.actionURL(content.Path))
	result := &ShareResult{Failed: []string{}, Skipped: len(ids) - len(recipients)}
	var lastErr error
	for _, r := range recipients {
		if r.ChatUserID == nil || *r.ChatUserID == "" {
			result.Skipped++
			continue
		}
		started := s.now()
		if err := s.chat.SendMessage(ctx, *r.ChatUserID, text); err != nil {
			s.logger.Warn("chat share failed", zap.String("announcement_id", id), zap.String("user_id", r.ID), zap.Error(err))
			s.metrics.RecordDeliveryFailure(ChannelChat)
			result.Failed = append(result.Failed, r.ID)
			lastErr = err
			continue
		}
		s.metrics.ObserveDelivery(ChannelChat, s.now().Sub(started))
		result.Sent++
	}
	if result.Sent == 0 && lastErr != nil {
		return result, appErrors.Wrap(lastErr, appErrors.ErrDeliveryFailed.Code, appErrors.ErrDeliveryFailed.Status, "chat share failed")
	}
	return result, nil
}

// Publish notifies the audience once. The claim on notified_at is released
// again when the audience cannot be resolved so a later run retries.
func (s *AnnouncementService) Publish(ctx context.Context, announcement *models.Announcement) bool {
	at := s.now().UTC()
	claimed, err := s.store.ClaimPublication(ctx, announcement.ID, at)
	if err != nil {
		s.logger.Error("failed to claim announcement publication", zap.String("announcement_id", announcement.ID), zap.Error(err))
		return false
	}
	if !claimed {
		return false
	}
	if announcement.Target.Mode == "" {
		if err := s.store.LoadTarget(ctx, announcement); err != nil {
			s.logger.Error("failed to load announcement target", zap.String("announcement_id", announcement.ID), zap.Error(err))
			s.release(ctx, announcement.ID)
			return false
		}
	}
	results, err := s.notifier.Notify(ctx, models.NotificationEvent{
		Kind:         models.EventAnnouncementPublished,
		ActorID:      announcement.CreatedBy,
		Announcement: announcement,
	})
	if err != nil {
		s.logger.Error("failed to publish announcement", zap.String("announcement_id", announcement.ID), zap.Error(err))
		s.release(ctx, announcement.ID)
		return false
	}
	announcement.NotifiedAt = &at
	s.metrics.RecordPublication()
	s.logger.Info("announcement published", zap.String("announcement_id", announcement.ID), zap.Int("recipients", len(results)))
	return true
}

func (s *AnnouncementService) release(ctx context.Context, id string) {
	if err := s.store.ReleasePublication(ctx, id); err != nil {
		s.logger.Error("failed to release announcement publication", zap.String("announcement_id", id), zap.Error(err))
	}
}

func (s *AnnouncementService) validate(req AnnouncementRequest) (models.TargetRule, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.TargetRule{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	rule := req.Target.Normalized()
	rule.DepartmentIDs = lo.Uniq(lo.Compact(rule.DepartmentIDs))
	rule.UserIDs = lo.Uniq(lo.Compact(rule.UserIDs))
	// role tags match users.roles exactly, so only surrounding space is dropped
	rule.RoleNames = lo.Uniq(lo.Compact(lo.Map(rule.RoleNames, func(r string, _ int) string {
		return strings.TrimSpace(r)
	})))
	if err := rule.Validate(); err != nil {
		return models.TargetRule{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if req.StartsAt != nil && req.ExpiresAt != nil && !req.ExpiresAt.After(*req.StartsAt) {
		return models.TargetRule{}, appErrors.Clone(appErrors.ErrValidation, "expires_at must be after starts_at")
	}
	return rule, nil
}

func (s *AnnouncementService) load(ctx context.Context, id string) (*models.Announcement, error) {
	announcement, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "announcement not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get announcement")
	}
	return announcement, nil
}

func (s *AnnouncementService) visible(ctx context.Context, id string, viewer *models.User) (*models.Announcement, error) {
	announcement, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.audience.CanView(ctx, announcement, viewer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "announcement is not addressed to you")
	}
	return announcement, nil
}

func (s *AnnouncementService) viewer(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "unknown user")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInactiveAccount, "account is inactive")
	}
	return user, nil
}

func (s *AnnouncementService) view(announcement models.Announcement, readAt *time.Time) models.AnnouncementView {
	status := announcement.Status(s.now())
	return models.AnnouncementView{
		Announcement: announcement,
		Status:       status,
		IsExpired:    status == models.StatusExpired,
		IsScheduled:  status == models.StatusScheduled,
		IsRead:       readAt != nil,
		ReadAt:       readAt,
	}
}

func (s *AnnouncementService) actionURL(path string) string {
	if s.publicURL == "" {
		return ""
	}
	return s.publicURL + path
}

func priorityOrDefault(raw string) models.AnnouncementPriority {
	if raw == "" {
		return models.PriorityMedium
	}
	return models.AnnouncementPriority(strings.ToLower(raw))
}
