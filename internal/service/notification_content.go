package service

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/noah-isme/staff-portal-api/internal/models"
	"github.com/noah-isme/staff-portal-api/pkg/chat"
)

const excerptLength = 200

// notificationContent is what every recipient of one event receives.
type notificationContent struct {
	Type        models.NotificationType
	Title       string
	Message     string
	Excerpt     string
	Note        string
	Data        models.JSONMap
	SubjectType string
	SubjectID   string
	Path        string
}

func (c notificationContent) subject() string {
	return c.Title
}

func (c notificationContent) chatText(actionURL string) string {
	var b strings.Builder
	b.WriteString("**")
	b.WriteString(c.Title)
	b.WriteString("**\n\n")
	b.WriteString(c.Message)
	if c.Excerpt != "" && c.Excerpt != c.Message {
		b.WriteString("\n\n")
		b.WriteString(c.Excerpt)
	}
	if actionURL != "" {
		b.WriteString("\n\n")
		b.WriteString(actionURL)
	}
	return b.String()
}

func excerpt(html string) string {
	text := chat.PlainText(html)
	if utf8.RuneCountInString(text) <= excerptLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:excerptLength])) + "…"
}

func resourceLabel(kind models.ResourceKind) string {
	switch kind {
	case models.ResourceProposal:
		return "proposal"
	default:
		return "report"
	}
}

func resourcePath(kind models.ResourceKind, id string) string {
	return fmt.Sprintf("/%ss/%s", resourceLabel(kind), id)
}

func statusLabel(status models.SubmissionStatus) string {
	return strings.ReplaceAll(string(status), "_", " ")
}

func announcementContent(a *models.Announcement) notificationContent {
	body := excerpt(a.Body)
	return notificationContent{
		Type:        models.NotificationAnnouncement,
		Title:       a.Title,
		Message:     body,
		Excerpt:     body,
		Data:        models.JSONMap{"announcement_id": a.ID, "priority": string(a.Priority)},
		SubjectType: "announcement",
		SubjectID:   a.ID,
		Path:        "/announcements/" + a.ID,
	}
}

func commentContent(c *models.Comment, resource *models.Submission) notificationContent {
	author := c.AuthorName
	if author == "" {
		author = "Someone"
	}
	label := resourceLabel(resource.Kind)
	return notificationContent{
		Type:    models.NotificationComment,
		Title:   fmt.Sprintf("New comment on %s %q", label, resource.Title),
		Message: fmt.Sprintf("%s commented on the %s %q.", author, label, resource.Title),
		Excerpt: excerpt(c.Body),
		Data: models.JSONMap{
			"comment_id":    c.ID,
			"resource_kind": string(resource.Kind),
			"resource_id":   resource.ID,
		},
		SubjectType: string(resource.Kind),
		SubjectID:   resource.ID,
		Path:        resourcePath(resource.Kind, resource.ID),
	}
}

func statusContent(s *models.Submission, previous models.SubmissionStatus) notificationContent {
	label := resourceLabel(s.Kind)
	typ, title := models.NotificationReportStatus, "Report status updated"
	if s.Kind == models.ResourceProposal {
		typ, title = models.NotificationProposalStatus, "Proposal status updated"
	}
	content := notificationContent{
		Type:    typ,
		Title:   title,
		Message: fmt.Sprintf("Your %s %q is now %s.", label, s.Title, statusLabel(s.Status)),
		Data: models.JSONMap{
			"resource_kind":   string(s.Kind),
			"resource_id":     s.ID,
			"status":          string(s.Status),
			"previous_status": string(previous),
		},
		SubjectType: string(s.Kind),
		SubjectID:   s.ID,
		Path:        resourcePath(s.Kind, s.ID),
	}
	if s.ReviewNote != nil {
		content.Note = *s.ReviewNote
	}
	return content
}

func systemContent(msg *models.SystemMessage) notificationContent {
	return notificationContent{
		Type:    models.NotificationSystem,
		Title:   msg.Title,
		Message: msg.Message,
		Data:    models.JSONMap{},
	}
}
