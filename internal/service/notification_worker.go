package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/staff-portal-api/internal/models"
	"github.com/noah-isme/staff-portal-api/pkg/chat"
	"github.com/noah-isme/staff-portal-api/pkg/jobs"
	"github.com/noah-isme/staff-portal-api/pkg/mailer"
)

type emailSender interface {
	Send(ctx context.Context, kind string, to mailer.Recipient, msg mailer.Message) error
}

type chatSender interface {
	SendMessage(ctx context.Context, userIdentifier, text string) error
}

// NotificationWorker delivers queued email and chat notifications.
type NotificationWorker struct {
	mail    emailSender
	chat    chatSender
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewNotificationWorker constructs the worker. A nil sender drops jobs for
// that channel.
func NewNotificationWorker(mail emailSender, chat chatSender, metrics *MetricsService, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationWorker{mail: mail, chat: chat, metrics: metrics, logger: logger, now: time.Now}
}

// Handle processes one job. Email failures are returned so the queue retries
// them; chat failures are logged and dropped.
func (w *NotificationWorker) Handle(ctx context.Context, job jobs.Job) error {
	switch job.Type {
	case JobTypeEmail:
		return w.deliverEmail(ctx, job)
	case JobTypeChat:
		w.deliverChat(ctx, job)
		return nil
	}
	w.logger.Warn("dropping job of unknown type", zap.String("job_id", job.ID), zap.String("type", job.Type))
	return nil
}

func (w *NotificationWorker) deliverEmail(ctx context.Context, job jobs.Job) error {
	var delivery models.EmailDelivery
	if err := job.Decode(&delivery); err != nil {
		w.logger.Error("malformed email job", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	if w.mail == nil {
		return nil
	}
	started := w.now()
	err := w.mail.Send(ctx, string(delivery.Type), mailer.Recipient{Email: delivery.Email, Name: delivery.Name}, mailer.Message{
		Subject:   delivery.Subject,
		Title:     delivery.Title,
		Message:   delivery.Message,
		Excerpt:   delivery.Excerpt,
		Note:      delivery.Note,
		ActionURL: delivery.ActionURL,
	})
	if errors.Is(err, mailer.ErrDisabled) {
		w.logger.Debug("mail disabled, dropping email job", zap.String("job_id", job.ID))
		return nil
	}
	if err != nil {
		w.metrics.RecordDeliveryFailure(ChannelEmail)
		w.logger.Warn("email delivery failed",
			zap.String("notification_id", delivery.NotificationID),
			zap.String("user_id", delivery.UserID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		return fmt.Errorf("deliver email for notification %s: %w", delivery.NotificationID, err)
	}
	w.metrics.ObserveDelivery(ChannelEmail, w.now().Sub(started))
	return nil
}

func (w *NotificationWorker) deliverChat(ctx context.Context, job jobs.Job) {
	var delivery models.ChatDelivery
	if err := job.Decode(&delivery); err != nil {
		w.logger.Error("malformed chat job", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if w.chat == nil {
		return
	}
	started := w.now()
	if err := w.chat.SendMessage(ctx, delivery.ChatUserID, delivery.Text); err != nil {
		w.metrics.RecordDeliveryFailure(ChannelChat)
		w.logger.Warn("chat delivery failed",
			zap.String("notification_id", delivery.NotificationID),
			zap.String("user_id", delivery.UserID),
			zap.Int("status", chat.StatusCode(err)),
			zap.Error(err),
		)
		return
	}
	w.metrics.ObserveDelivery(ChannelChat, w.now().Sub(started))
}
