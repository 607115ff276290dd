package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/staff-portal-api/internal/models"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
)

type inboxStore interface {
	GetByID(ctx context.Context, id string) (*models.Notification, error)
	ListByUser(ctx context.Context, userID string, filter models.NotificationFilter) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	Delete(ctx context.Context, id, userID string) error
}

type preferenceStore interface {
	Get(ctx context.Context, userID string) (*models.NotificationPreference, error)
	Upsert(ctx context.Context, pref *models.NotificationPreference) error
}

// NotificationService serves the user's inbox and channel preferences.
type NotificationService struct {
	inbox     inboxStore
	prefs     preferenceStore
	notifier  eventNotifier
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewNotificationService constructs the service.
func NewNotificationService(inbox inboxStore, prefs preferenceStore, notifier eventNotifier, validate *validator.Validate, logger *zap.Logger) *NotificationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{inbox: inbox, prefs: prefs, notifier: notifier, validator: validate, logger: logger, now: time.Now}
}

// ListNotificationsRequest carries inbox filters.
type ListNotificationsRequest struct {
	UnreadOnly bool
	Type       string
	Page       int
	PageSize   int
}

// UpdatePreferencesRequest changes the fields that are present.
type UpdatePreferencesRequest struct {
	EmailEnabled *bool           `json:"email_enabled"`
	Types        map[string]bool `json:"types"`
}

// SystemMessageRequest is an administrative broadcast.
type SystemMessageRequest struct {
	Title   string   `json:"title" validate:"required,max=200"`
	Message string   `json:"message" validate:"required,max=2000"`
	UserIDs []string `json:"user_ids" validate:"omitempty,dive,required"`
}

// List returns a page of the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, req ListNotificationsRequest) ([]models.Notification, *models.Pagination, error) {
	filter := models.NotificationFilter{UnreadOnly: req.UnreadOnly, Page: req.Page, PageSize: req.PageSize}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	if req.Type != "" {
		t := models.NotificationType(req.Type)
		if !t.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown notification type %q", req.Type))
		}
		filter.Type = &t
	}
	items, total, err := s.inbox.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	pagination := &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}
	return items, pagination, nil
}

// UnreadCount returns the number of unread notifications.
func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.inbox.CountUnread(ctx, userID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count notifications")
	}
	return count, nil
}

// MarkRead marks one of the user's notifications read and returns it.
func (s *NotificationService) MarkRead(ctx context.Context, id, userID string) (*models.Notification, error) {
	if err := s.inbox.MarkRead(ctx, id, userID, s.now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	notification, err := s.inbox.GetByID(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification")
	}
	return notification, nil
}

// MarkAllRead marks every unread notification of the user.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	updated, err := s.inbox.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return updated, nil
}

// Delete removes one of the user's notifications.
func (s *NotificationService) Delete(ctx context.Context, id, userID string) error {
	if err := s.inbox.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete notification")
	}
	return nil
}

// GetPreferences returns the stored preferences or the defaults.
func (s *NotificationService) GetPreferences(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	pref, err := s.prefs.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			defaults := models.DefaultPreference(userID)
			return &defaults, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preferences")
	}
	pref.Types = pref.Types.Complete()
	return pref, nil
}

// UpdatePreferences merges the request onto the current preferences.
func (s *NotificationService) UpdatePreferences(ctx context.Context, userID string, req UpdatePreferencesRequest) (*models.NotificationPreference, error) {
	for key := range req.Types {
		if !models.NotificationType(key).Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown notification type %q", key))
		}
	}
	pref, err := s.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if req.EmailEnabled != nil {
		pref.EmailEnabled = *req.EmailEnabled
	}
	for key, enabled := range req.Types {
		pref.Types[models.NotificationType(key)] = enabled
	}
	if err := s.prefs.Upsert(ctx, pref); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save preferences")
	}
	return pref, nil
}

// SendSystem broadcasts an administrative message.
func (s *NotificationService) SendSystem(ctx context.Context, req SystemMessageRequest, actor *models.JWTClaims) ([]models.DispatchResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	var actorID string
	if actor != nil {
		actorID = actor.UserID
	}
	results, err := s.notifier.Notify(ctx, models.NotificationEvent{
		Kind:    models.EventSystemMessage,
		ActorID: actorID,
		System:  &models.SystemMessage{Title: req.Title, Message: req.Message, UserIDs: req.UserIDs},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("system message sent", zap.String("actor_id", actorID), zap.Int("recipients", len(results)))
	return results, nil
}
