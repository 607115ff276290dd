package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/staff-portal-api/internal/models"
	appErrors "github.com/noah-isme/staff-portal-api/pkg/errors"
)

type authServiceMock struct {
	loginReq models.LoginRequest
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	m.loginReq = req
	if req.Password != "password" {
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	return &models.LoginResponse{AccessToken: "token", ExpiresIn: 3600}, nil
}

func (m *authServiceMock) Me(ctx context.Context, userID string) (*models.UserInfo, error) {
	return &models.UserInfo{ID: userID}, nil
}

func TestAuthHandlerLogin(t *testing.T) {
	mockSvc := &authServiceMock{}
	handler := NewAuthHandler(mockSvc)

	c, w := newHandlerContext(http.MethodPost, "/auth/login", `{"email":"user@example.com","password":"password"}`, nil)
	handler.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user@example.com", mockSvc.loginReq.Email)
	assert.Contains(t, w.Body.String(), `"access_token":"token"`)

	c, w = newHandlerContext(http.MethodPost, "/auth/login", `{"email":"user@example.com","password":"nope"}`, nil)
	handler.Login(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	c, w = newHandlerContext(http.MethodPost, "/auth/login", `not json`, nil)
	handler.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	handler := NewAuthHandler(&authServiceMock{})

	c, w := newHandlerContext(http.MethodGet, "/auth/me", "", &models.JWTClaims{UserID: "u1"})
	handler.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"u1"`)

	c, w = newHandlerContext(http.MethodGet, "/auth/me", "", nil)
	handler.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
