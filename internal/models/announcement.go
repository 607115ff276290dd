package models

import (
	"errors"
	"time"
)

// TargetMode selects how an announcement's audience is resolved.
type TargetMode string

const (
	TargetAll         TargetMode = "all"
	TargetDepartments TargetMode = "departments"
	TargetUsers       TargetMode = "users"
	TargetRoles       TargetMode = "roles"
)

// Valid reports whether the mode is known.
func (m TargetMode) Valid() bool {
	switch m {
	case TargetAll, TargetDepartments, TargetUsers, TargetRoles:
		return true
	}
	return false
}

// AnnouncementPriority defines ordering for announcements.
type AnnouncementPriority string

const (
	PriorityLow    AnnouncementPriority = "low"
	PriorityMedium AnnouncementPriority = "medium"
	PriorityHigh   AnnouncementPriority = "high"
	PriorityUrgent AnnouncementPriority = "urgent"
)

// Rank orders priorities; higher is more important.
func (p AnnouncementPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// AnnouncementStatus is derived from the activation window, never stored.
type AnnouncementStatus string

const (
	StatusActive    AnnouncementStatus = "active"
	StatusScheduled AnnouncementStatus = "scheduled"
	StatusExpired   AnnouncementStatus = "expired"
)

var (
	ErrTargetDepartmentsRequired = errors.New("departments target requires at least one department")
	ErrTargetUsersRequired       = errors.New("users target requires at least one user")
	ErrTargetRolesRequired       = errors.New("roles target requires at least one role")
	ErrTargetModeInvalid         = errors.New("unknown target mode")
)

// TargetRule is the audience of an announcement. Only the list matching Mode
// is meaningful.
type TargetRule struct {
	Mode          TargetMode `json:"mode"`
	DepartmentIDs []string   `json:"department_ids,omitempty"`
	UserIDs       []string   `json:"user_ids,omitempty"`
	RoleNames     []string   `json:"role_names,omitempty"`
}

// Validate checks that the list required by the mode is present.
func (r TargetRule) Validate() error {
	switch r.Mode {
	case TargetAll:
		return nil
	case TargetDepartments:
		if len(r.DepartmentIDs) == 0 {
			return ErrTargetDepartmentsRequired
		}
	case TargetUsers:
		if len(r.UserIDs) == 0 {
			return ErrTargetUsersRequired
		}
	case TargetRoles:
		if len(r.RoleNames) == 0 {
			return ErrTargetRolesRequired
		}
	default:
		return ErrTargetModeInvalid
	}
	return nil
}

// Normalized drops the lists that do not belong to the mode.
func (r TargetRule) Normalized() TargetRule {
	out := TargetRule{Mode: r.Mode}
	switch r.Mode {
	case TargetDepartments:
		out.DepartmentIDs = r.DepartmentIDs
	case TargetUsers:
		out.UserIDs = r.UserIDs
	case TargetRoles:
		out.RoleNames = r.RoleNames
	}
	return out
}

// Announcement represents a persisted announcement row.
type Announcement struct {
	ID         string               `db:"id" json:"id"`
	Title      string               `db:"title" json:"title"`
	Body       string               `db:"body" json:"body"`
	Priority   AnnouncementPriority `db:"priority" json:"priority"`
	TargetMode TargetMode           `db:"target_mode" json:"target_mode"`
	IsPinned   bool                 `db:"is_pinned" json:"is_pinned"`
	StartsAt   *time.Time           `db:"starts_at" json:"starts_at,omitempty"`
	ExpiresAt  *time.Time           `db:"expires_at" json:"expires_at,omitempty"`
	CreatedBy  string               `db:"created_by" json:"created_by"`
	NotifiedAt *time.Time           `db:"notified_at" json:"notified_at,omitempty"`
	DeletedAt  *time.Time           `db:"deleted_at" json:"-"`
	CreatedAt  time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time            `db:"updated_at" json:"updated_at"`

	Target TargetRule `db:"-" json:"target"`
}

// Status derives the lifecycle state at now. A future start wins over a past expiry.
func (a *Announcement) Status(now time.Time) AnnouncementStatus {
	if a.StartsAt != nil && a.StartsAt.After(now) {
		return StatusScheduled
	}
	if a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
		return StatusExpired
	}
	return StatusActive
}

// AnnouncementView is an announcement as seen by a particular user.
type AnnouncementView struct {
	Announcement
	Status      AnnouncementStatus `json:"status"`
	IsExpired   bool               `json:"is_expired"`
	IsScheduled bool               `json:"is_scheduled"`
	IsRead      bool               `json:"is_read"`
	ReadAt      *time.Time         `json:"read_at,omitempty"`
}

// AnnouncementListRow is a listing row joined with the viewer's read mark.
type AnnouncementListRow struct {
	Announcement
	ReadAt *time.Time `db:"read_at"`
}

// AnnouncementFilter narrows the viewer's announcement list.
type AnnouncementFilter struct {
	ActiveOnly bool
	UnreadOnly bool
	Page       int
	PageSize   int
}

// ReadReceipt reports whether a targeted user has read an announcement.
type ReadReceipt struct {
	UserID         string     `db:"user_id" json:"user_id"`
	FullName       string     `db:"full_name" json:"full_name"`
	Email          string     `db:"email" json:"email"`
	DepartmentName *string    `db:"department_name" json:"department_name,omitempty"`
	ReadAt         *time.Time `db:"read_at" json:"read_at,omitempty"`
}
