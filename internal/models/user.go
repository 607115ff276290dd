package models

import (
	"time"

	"github.com/lib/pq"
)

// UserRole represents a role tag held by a user. Users may hold several.
type UserRole string

const (
	RoleSuperAdmin UserRole = "super_admin"
	RoleAdmin      UserRole = "admin"
	RoleReviewer   UserRole = "reviewer"
	RoleStaff      UserRole = "staff"
)

// AdminRoles are the admin-class roles that bypass announcement targeting.
var AdminRoles = []UserRole{RoleSuperAdmin, RoleAdmin}

// IsAdminRole reports whether role is admin-class.
func IsAdminRole(role string) bool {
	for _, r := range AdminRoles {
		if string(r) == role {
			return true
		}
	}
	return false
}

// User represents an application user stored in the users table.
type User struct {
	ID           string         `db:"id" json:"id"`
	Email        string         `db:"email" json:"email"`
	PasswordHash string         `db:"password_hash" json:"-"`
	FullName     string         `db:"full_name" json:"full_name"`
	Roles        pq.StringArray `db:"roles" json:"roles"`
	DepartmentID *string        `db:"department_id" json:"department_id,omitempty"`
	ChatUserID   *string        `db:"chat_user_id" json:"chat_user_id,omitempty"`
	Active       bool           `db:"active" json:"active"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// HasRole reports whether the user holds any of the given roles.
func (u *User) HasRole(roles ...UserRole) bool {
	if u == nil {
		return false
	}
	return hasAnyRole(u.Roles, roles)
}

// IsAdmin reports whether the user holds an admin-class role.
func (u *User) IsAdmin() bool {
	return u.HasRole(AdminRoles...)
}

func hasAnyRole(held []string, wanted []UserRole) bool {
	for _, h := range held {
		for _, w := range wanted {
			if h == string(w) {
				return true
			}
		}
	}
	return false
}

// Department groups users for announcement targeting.
type Department struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Code      string    `db:"code" json:"code"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
