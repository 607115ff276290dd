package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/noah-isme/staff-portal-api/internal/models"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
	"github.com/noah-isme/staff-portal-api/pkg/jobs"
)

// Queue job types for asynchronous channels.
const (
	JobTypeEmail = "notification.email"
	JobTypeChat  = "notification.chat"
)

type audienceResolver interface {
	ResolveTargets(ctx context.Context, announcement *models.Announcement) ([]string, error)
}

type recipientDirectory interface {
	ListActiveIDs(ctx context.Context) ([]string, error)
	FindRecipients(ctx context.Context, ids []string) ([]models.Recipient, error)
}

type notificationWriter interface {
	Create(ctx context.Context, n *models.Notification) error
}

type preferenceLoader interface {
	GetMany(ctx context.Context, userIDs []string) (map[string]models.NotificationPreference, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// DispatcherConfig toggles the asynchronous channels.
type DispatcherConfig struct {
	EmailEnabled bool
	ChatEnabled  bool
	PublicURL    string
}

// NotificationDispatcher turns domain events into in-app notifications and
// queued email and chat deliveries.
type NotificationDispatcher struct {
	targets       audienceResolver
	users         recipientDirectory
	notifications notificationWriter
	preferences   preferenceLoader
	queue         jobEnqueuer
	metrics       *MetricsService
	cfg           DispatcherConfig
	logger        *zap.Logger
}

// NewNotificationDispatcher wires the dispatcher. A nil queue disables the
// asynchronous channels.
func NewNotificationDispatcher(targets audienceResolver, users recipientDirectory, notifications notificationWriter, preferences preferenceLoader, queue jobEnqueuer, metrics *MetricsService, cfg DispatcherConfig, logger *zap.Logger) *NotificationDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")
	return &NotificationDispatcher{
		targets:       targets,
		users:         users,
		notifications: notifications,
		preferences:   preferences,
		queue:         queue,
		metrics:       metrics,
		cfg:           cfg,
		logger:        logger,
	}
}

// Notify fans an event out to its recipients. It fails only when the
// recipients cannot be determined; per-recipient and per-channel problems are
// reported in the results.
func (d *NotificationDispatcher) Notify(ctx context.Context, event models.NotificationEvent) ([]models.DispatchResult, error) {
	recipientIDs, content, err := d.plan(ctx, event)
	if err != nil {
		return nil, err
	}
	if len(recipientIDs) == 0 {
		return []models.DispatchResult{}, nil
	}

	recipients, err := d.users.FindRecipients(ctx, recipientIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification recipients")
	}
	byID := lo.KeyBy(recipients, func(r models.Recipient) string { return r.ID })

	prefs, err := d.preferences.GetMany(ctx, recipientIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load notification preferences")
	}

	results := make([]models.DispatchResult, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		recipient, ok := byID[id]
		if !ok {
			results = append(results, models.DispatchResult{UserID: id, SkippedReason: models.SkipUnknownRecipient})
			continue
		}
		pref, ok := prefs[id]
		if !ok {
			pref = models.DefaultPreference(id)
		}
		results = append(results, d.deliver(ctx, event.Kind, content, recipient, pref))
	}

	d.logger.Info("notification dispatched",
		zap.String("event", string(event.Kind)),
		zap.Int("recipients", len(recipientIDs)),
	)
	return results, nil
}

func (d *NotificationDispatcher) deliver(ctx context.Context, kind models.EventKind, content notificationContent, recipient models.Recipient, pref models.NotificationPreference) models.DispatchResult {
	result := models.DispatchResult{UserID: recipient.ID}
	typeEnabled := pref.Allows(content.Type)

	if !typeEnabled && content.Type != models.NotificationSystem {
		result.SkippedReason = models.SkipTypeDisabled
		return result
	}

	notification := &models.Notification{
		ID:      uuid.NewString(),
		UserID:  recipient.ID,
		Type:    content.Type,
		Title:   content.Title,
		Message: content.Message,
		Data:    content.Data,
	}
	if content.SubjectType != "" {
		notification.SubjectType = &content.SubjectType
		notification.SubjectID = &content.SubjectID
	}
	if err := d.notifications.Create(ctx, notification); err != nil {
		d.logger.Error("failed to create in-app notification", zap.String("event", string(kind)), zap.String("user_id", recipient.ID), zap.Error(err))
		result.SkippedReason = models.SkipInAppFailed
		result.Err = err
		return result
	}
	result.NotificationID = notification.ID
	result.InApp = true
	d.metrics.RecordDispatch(ChannelInApp, string(content.Type))

	if !typeEnabled {
		return result
	}
	actionURL := d.actionURL(content.Path)

	if d.cfg.EmailEnabled && d.queue != nil && pref.EmailEnabled && recipient.Email != "" {
		payload := models.EmailDelivery{
			NotificationID: notification.ID,
			UserID:         recipient.ID,
			Email:          recipient.Email,
			Name:           recipient.FullName,
			Type:           content.Type,
			Subject:        content.subject(),
			Title:          content.Title,
			Message:        content.Message,
			Excerpt:        content.Excerpt,
			Note:           content.Note,
			ActionURL:      actionURL,
		}
		result.EmailQueued = d.enqueue(JobTypeEmail, payload, recipient.ID)
	}

	if d.cfg.ChatEnabled && d.queue != nil && recipient.ChatUserID != nil && *recipient.ChatUserID != "" {
		payload := models.ChatDelivery{
			NotificationID: notification.ID,
			UserID:         recipient.ID,
			ChatUserID:     *recipient.ChatUserID,
			Type:           content.Type,
			Text:           content.chatText(actionURL),
		}
		result.ChatQueued = d.enqueue(JobTypeChat, payload, recipient.ID)
	}
	return result
}

func (d *NotificationDispatcher) enqueue(jobType string, payload interface{}, userID string) bool {
	channel := ChannelEmail
	if jobType == JobTypeChat {
		channel = ChannelChat
	}
	job := jobs.Job{ID: uuid.NewString(), Type: jobType, Payload: payload, Enqueued: time.Now().UTC()}
	if err := d.queue.Enqueue(job); err != nil {
		d.logger.Warn("failed to queue notification delivery", zap.String("channel", channel), zap.String("user_id", userID), zap.Error(err))
		d.metrics.RecordDeliveryFailure(channel)
		return false
	}
	d.metrics.RecordDispatch(channel, jobType)
	return true
}

func (d *NotificationDispatcher) actionURL(path string) string {
	if path == "" || d.cfg.PublicURL == "" {
		return ""
	}
	return d.cfg.PublicURL + path
}

// plan resolves the recipients and the shared content of an event.
func (d *NotificationDispatcher) plan(ctx context.Context, event models.NotificationEvent) ([]string, notificationContent, error) {
	switch event.Kind {
	case models.EventAnnouncementPublished:
		if event.Announcement == nil {
			return nil, notificationContent{}, invalidEvent(event.Kind, "announcement")
		}
		ids, err := d.targets.ResolveTargets(ctx, event.Announcement)
		if err != nil {
			return nil, notificationContent{}, err
		}
		return ids, announcementContent(event.Announcement), nil

	case models.EventNewComment:
		if event.Comment == nil || event.Submission == nil {
			return nil, notificationContent{}, invalidEvent(event.Kind, "comment and resource")
		}
		return commentRecipients(event), commentContent(event.Comment, event.Submission), nil

	case models.EventReportStatusChanged, models.EventProposalStatusChanged:
		if event.Submission == nil {
			return nil, notificationContent{}, invalidEvent(event.Kind, "submission")
		}
		var ids []string
		if event.Submission.AuthorID != "" && event.Submission.AuthorID != event.ActorID {
			ids = []string{event.Submission.AuthorID}
		}
		return ids, statusContent(event.Submission, event.PreviousStatus), nil

	case models.EventSystemMessage:
		if event.System == nil {
			return nil, notificationContent{}, invalidEvent(event.Kind, "message")
		}
		ids := event.System.UserIDs
		if len(ids) == 0 {
			var err error
			if ids, err = d.users.ListActiveIDs(ctx); err != nil {
				return nil, notificationContent{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve system message audience")
			}
		}
		return normalizeIDs(ids), systemContent(event.System), nil
	}
	return nil, notificationContent{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported event kind %q", event.Kind))
}

// commentRecipients notifies the resource owner and the author of the parent
// comment, never the commenter, each at most once.
func commentRecipients(event models.NotificationEvent) []string {
	commenter := event.Comment.AuthorID
	owner := event.Submission.AuthorID
	var ids []string
	if owner != "" && owner != commenter {
		ids = append(ids, owner)
	}
	if event.ParentComment != nil {
		parentAuthor := event.ParentComment.AuthorID
		if parentAuthor != "" && parentAuthor != commenter && parentAuthor != owner {
			ids = append(ids, parentAuthor)
		}
	}
	return ids
}

func invalidEvent(kind models.EventKind, missing string) error {
	return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s event requires %s", kind, missing))
}
