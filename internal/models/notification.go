package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType tags a notification and keys the preference flags.
type NotificationType string

const (
	NotificationComment        NotificationType = "comment"
	NotificationAnnouncement   NotificationType = "announcement"
	NotificationReportStatus   NotificationType = "report_status"
	NotificationProposalStatus NotificationType = "proposal_status"
	NotificationSystem         NotificationType = "system"
)

// NotificationTypes lists every known type tag.
func NotificationTypes() []NotificationType {
	return []NotificationType{
		NotificationComment,
		NotificationAnnouncement,
		NotificationReportStatus,
		NotificationProposalStatus,
		NotificationSystem,
	}
}

// Valid reports whether t is a known tag.
func (t NotificationType) Valid() bool {
	for _, known := range NotificationTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// JSONMap is a free-form jsonb payload.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src interface{}) error {
	return scanJSON(src, m)
}

// Notification is an in-app notification row.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	UserID      string           `db:"user_id" json:"user_id"`
	Type        NotificationType `db:"type" json:"type"`
	Title       string           `db:"title" json:"title"`
	Message     string           `db:"message" json:"message"`
	Data        JSONMap          `db:"data" json:"data"`
	SubjectType *string          `db:"subject_type" json:"subject_type,omitempty"`
	SubjectID   *string          `db:"subject_id" json:"subject_id,omitempty"`
	ReadAt      *time.Time       `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}

// NotificationFilter narrows a user's inbox listing.
type NotificationFilter struct {
	UnreadOnly bool
	Type       *NotificationType
	Page       int
	PageSize   int
}

// TypeFlags maps type tags to on/off. Absent keys count as enabled.
type TypeFlags map[NotificationType]bool

// Enabled reports the flag for t, defaulting to true.
func (f TypeFlags) Enabled(t NotificationType) bool {
	if f == nil {
		return true
	}
	v, ok := f[t]
	if !ok {
		return true
	}
	return v
}

// Complete returns a copy with every known type present.
func (f TypeFlags) Complete() TypeFlags {
	out := make(TypeFlags, len(NotificationTypes()))
	for _, t := range NotificationTypes() {
		out[t] = f.Enabled(t)
	}
	return out
}

func (f TypeFlags) Value() (driver.Value, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f)
}

func (f *TypeFlags) Scan(src interface{}) error {
	return scanJSON(src, f)
}

// NotificationPreference is the per-user channel configuration.
type NotificationPreference struct {
	UserID       string    `db:"user_id" json:"user_id"`
	EmailEnabled bool      `db:"email_enabled" json:"email_enabled"`
	Types        TypeFlags `db:"types" json:"types"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// DefaultPreference is used when a user has no stored row.
func DefaultPreference(userID string) NotificationPreference {
	return NotificationPreference{UserID: userID, EmailEnabled: true, Types: TypeFlags{}.Complete()}
}

// Allows reports whether the type is enabled for this user.
func (p NotificationPreference) Allows(t NotificationType) bool {
	return p.Types.Enabled(t)
}

// EventKind names a domain event handed to the dispatcher.
type EventKind string

const (
	EventNewComment            EventKind = "new_comment"
	EventAnnouncementPublished EventKind = "announcement_published"
	EventReportStatusChanged   EventKind = "report_status_changed"
	EventProposalStatusChanged EventKind = "proposal_status_changed"
	EventSystemMessage         EventKind = "system_message"
)

// NotificationType maps the event to the tag its notifications carry.
func (k EventKind) NotificationType() NotificationType {
	switch k {
	case EventNewComment:
		return NotificationComment
	case EventAnnouncementPublished:
		return NotificationAnnouncement
	case EventReportStatusChanged:
		return NotificationReportStatus
	case EventProposalStatusChanged:
		return NotificationProposalStatus
	}
	return NotificationSystem
}

// SystemMessage is an administrative broadcast. An empty UserIDs list means
// every active user.
type SystemMessage struct {
	Title   string   `json:"title"`
	Message string   `json:"message"`
	UserIDs []string `json:"user_ids,omitempty"`
}

// NotificationEvent carries one domain event. Exactly one of the payload
// pointers matching Kind is set.
type NotificationEvent struct {
	Kind    EventKind
	ActorID string

	Announcement   *Announcement
	Comment        *Comment
	ParentComment  *Comment
	Submission     *Submission
	PreviousStatus SubmissionStatus
	System         *SystemMessage
}

// Skip reasons reported in DispatchResult.
const (
	SkipTypeDisabled     = "type_disabled"
	SkipInAppFailed      = "in_app_failed"
	SkipUnknownRecipient = "unknown_recipient"
)

// DispatchResult reports what happened for one recipient.
type DispatchResult struct {
	UserID         string `json:"user_id"`
	NotificationID string `json:"notification_id,omitempty"`
	InApp          bool   `json:"in_app"`
	EmailQueued    bool   `json:"email_queued"`
	ChatQueued     bool   `json:"chat_queued"`
	SkippedReason  string `json:"skipped_reason,omitempty"`
	Err            error  `json:"-"`
}

// Recipient is the slice of a user the dispatcher needs.
type Recipient struct {
	ID         string  `db:"id"`
	Email      string  `db:"email"`
	FullName   string  `db:"full_name"`
	ChatUserID *string `db:"chat_user_id"`
}

// EmailDelivery is the queued payload for an email job.
type EmailDelivery struct {
	NotificationID string           `json:"notification_id"`
	UserID         string           `json:"user_id"`
	Email          string           `json:"email"`
	Name           string           `json:"name"`
	Type           NotificationType `json:"type"`
	Subject        string           `json:"subject"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	Excerpt        string           `json:"excerpt,omitempty"`
	Note           string           `json:"note,omitempty"`
	ActionURL      string           `json:"action_url,omitempty"`
}

// ChatDelivery is the queued payload for a chat job.
type ChatDelivery struct {
	NotificationID string           `json:"notification_id"`
	UserID         string           `json:"user_id"`
	ChatUserID     string           `json:"chat_user_id"`
	Type           NotificationType `json:"type"`
	Text           string           `json:"text"`
}

func scanJSON(src interface{}, dst interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported json source %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
