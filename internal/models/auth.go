package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued access token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	FullName     string   `json:"full_name"`
	Roles        []string `json:"roles"`
	DepartmentID *string  `json:"department_id,omitempty"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID       string   `json:"user_id"`
	Roles        []string `json:"roles"`
	DepartmentID *string  `json:"department_id,omitempty"`
	Email        string   `json:"email"`
	FullName     string   `json:"full_name"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token carries any of the given roles.
func (c *JWTClaims) HasRole(roles ...UserRole) bool {
	if c == nil {
		return false
	}
	return hasAnyRole(c.Roles, roles)
}

// IsAdmin reports whether the token carries an admin-class role.
func (c *JWTClaims) IsAdmin() bool {
	return c.HasRole(AdminRoles...)
}
